package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	storyapi "github.com/aliskhannn/story-publisher/internal/api/handlers/story"
	"github.com/aliskhannn/story-publisher/internal/api/router"
	"github.com/aliskhannn/story-publisher/internal/api/server"
	"github.com/aliskhannn/story-publisher/internal/infra/kafka/consumer"
	"github.com/aliskhannn/story-publisher/internal/infra/kafka/producer"
	storymsg "github.com/aliskhannn/story-publisher/internal/kafka/handlers/story"
	"github.com/aliskhannn/story-publisher/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, the Kafka publish consumer and the pending-story sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, rootOpts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg

	var (
		wg sync.WaitGroup
		p  *producer.Producer
		c  *consumer.Consumer
		q  storyapi.Enqueuer
	)

	if len(cfg.Kafka.Brokers) > 0 {
		p = producer.New(&cfg.Kafka, a.strategy)
		q = p

		publishHandler := storymsg.NewPublishHandler(a.pipeline, a.strategy)
		c = consumer.New(&cfg.Kafka, a.strategy, publishHandler)

		wg.Add(1)
		go c.Consume(ctx, &wg)
	} else {
		zlog.Logger.Warn().Msg("kafka brokers not configured, publish queue disabled")
	}

	if cfg.Scheduler.Enabled && p != nil {
		sched := scheduler.New(a.repo, p, cfg.Scheduler.BatchSize)
		if err := sched.Schedule(cfg.Scheduler.Cron); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		zlog.Logger.Info().Str("cron", cfg.Scheduler.Cron).Msg("pending stories sweep scheduled")
	}

	h := storyapi.NewHandler(a.repo, a.pipeline, q)
	s := server.New(cfg.Server.HTTPPort, router.Setup(h))

	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	wg.Wait()

	if p != nil {
		if err := p.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if c != nil {
		if err := c.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}

	return nil
}
