package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/story-publisher/internal/config"
)

// fetchBackoff is the pause after a fetch that failed all its retries.
const fetchBackoff = 500 * time.Millisecond

type publishHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer reads publish requests from Kafka and hands them to the handler.
type Consumer struct {
	Client   *wbfkafka.Consumer
	handler  publishHandler
	cfg      *config.Kafka
	strategy retry.Strategy
}

// New creates a new Consumer in the configured consumer group.
func New(cfg *config.Kafka, s retry.Strategy, h publishHandler) *Consumer {
	consumer := wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID)

	return &Consumer{
		Client:   consumer,
		handler:  h,
		cfg:      cfg,
		strategy: s,
	}
}

// Consume fetches messages until ctx is canceled. A message is committed
// once the handler accepts it. A rejected message is logged and not
// committed, but the reader still moves past it: it comes back only after
// a rebalance or a restart resumes from the committed offset. Publication
// retries happen inside the handler, not here.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.cfg.Topic).
		Str("group_id", c.cfg.GroupID).
		Msg("starting consumer")

	for {
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Err(err).Msg("failed to fetch message")
			time.Sleep(fetchBackoff)
			continue
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Str("message", string(msg.Value)).
				Msg("failed to handle publish request")
			continue
		}

		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Debug().
			Int64("offset", msg.Offset).
			Int("partition", msg.Partition).
			Msg("message committed")
	}
}
