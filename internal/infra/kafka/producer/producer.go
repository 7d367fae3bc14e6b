package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/story-publisher/internal/config"
	"github.com/aliskhannn/story-publisher/internal/model"
)

// Producer publishes story publish requests to Kafka.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer for the configured topic.
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)

	return &Producer{
		Client:   producer,
		cfg:      cfg,
		strategy: s,
	}
}

// Enqueue sends a publish request for storyID. The story ID is the message
// key, so requests for one story stay on one partition in order.
func (p *Producer) Enqueue(ctx context.Context, storyID int64) error {
	data, err := json.Marshal(model.PublishRequest{StoryID: storyID})
	if err != nil {
		return fmt.Errorf("marshal publish request: %w", err)
	}

	key := []byte(strconv.FormatInt(storyID, 10))

	if err := p.Client.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("send publish request: %w", err)
	}

	return nil
}
