package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/story-publisher/internal/model"
)

const sweepTag = "pending-stories-sweep"

type pendingLister interface {
	ListPending(ctx context.Context, limit uint64) ([]model.Story, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, storyID int64) error
}

// Scheduler periodically enqueues unpublished stories for publication.
type Scheduler struct {
	scheduler *gocron.Scheduler
	stories   pendingLister
	queue     enqueuer
	batchSize uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler that enqueues up to batchSize stories per sweep.
func New(stories pendingLister, queue enqueuer, batchSize uint64) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		stories:   stories,
		queue:     queue,
		batchSize: batchSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Schedule registers the sweep under a cron expression.
func (s *Scheduler) Schedule(cronExpr string) error {
	_, err := s.scheduler.Cron(cronExpr).Tag(sweepTag).Do(func() {
		if _, err := s.Sweep(s.ctx); err != nil {
			zlog.Logger.Error().Err(err).Msg("pending stories sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", cronExpr, err)
	}

	return nil
}

// Start runs the scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and cancels a running sweep.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.cancel()
}

// Sweep enqueues every pending story of one batch and returns how many were
// enqueued. An enqueue failure is logged and does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	stories, err := s.stories.ListPending(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending stories: %w", err)
	}

	enqueued := 0
	for _, story := range stories {
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}

		if err := s.queue.Enqueue(ctx, story.ID); err != nil {
			zlog.Logger.Error().Err(err).Int64("story_id", story.ID).Msg("failed to enqueue story")
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		zlog.Logger.Info().Int("enqueued", enqueued).Msg("pending stories enqueued")
	}

	return enqueued, nil
}
