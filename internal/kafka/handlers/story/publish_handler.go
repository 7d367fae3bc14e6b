package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/story-publisher/internal/model"
	"github.com/aliskhannn/story-publisher/internal/pipeline"
)

// ErrInvalidRequest is returned for messages that do not name a story.
var ErrInvalidRequest = errors.New("invalid publish request")

type publisher interface {
	Run(ctx context.Context, storyID int64) pipeline.Result
}

// PublishHandler runs the publication pipeline for Kafka publish requests.
// Failures that may pass on their own are retried with the given strategy.
type PublishHandler struct {
	publisher publisher
	strategy  retry.Strategy
}

// NewPublishHandler creates a new handler with the given publisher.
func NewPublishHandler(p publisher, s retry.Strategy) *PublishHandler {
	return &PublishHandler{publisher: p, strategy: s}
}

// Handle decodes a publish request and runs the pipeline for it. It returns
// nil once the story is published or has failed for a reason a retry cannot
// fix; the message is then safe to commit.
func (h *PublishHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var req model.PublishRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("unmarshal publish request: %w", err)
	}
	if req.StoryID <= 0 {
		return fmt.Errorf("%w: story_id %d", ErrInvalidRequest, req.StoryID)
	}

	var res pipeline.Result
	err := retry.Do(func() error {
		res = h.publisher.Run(ctx, req.StoryID)
		if res.OK || !Retryable(res.Kind()) || ctx.Err() != nil {
			return nil
		}
		return res.Err
	}, h.strategy)

	switch {
	case res.OK:
		zlog.Logger.Info().
			Int64("story_id", req.StoryID).
			Str("link", res.Link).
			Bool("already_published", res.AlreadyPublished).
			Msg("publish request handled")
		return nil
	case err != nil || Retryable(res.Kind()):
		return fmt.Errorf("publish story %d: %w", req.StoryID, res.Err)
	default:
		zlog.Logger.Warn().
			Int64("story_id", req.StoryID).
			Str("kind", string(res.Kind())).
			Err(res.Err).
			Msg("publish request dropped")
		return nil
	}
}

// Retryable reports whether a run that failed with kind may succeed when repeated.
func Retryable(kind pipeline.Kind) bool {
	switch kind {
	case pipeline.KindFetch, pipeline.KindUpload, pipeline.KindInternal:
		return true
	default:
		return false
	}
}
