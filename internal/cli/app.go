package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/story-publisher/internal/config"
	"github.com/aliskhannn/story-publisher/internal/media"
	"github.com/aliskhannn/story-publisher/internal/pipeline"
	"github.com/aliskhannn/story-publisher/internal/platform/vk"
	"github.com/aliskhannn/story-publisher/internal/processor"
	storyrepo "github.com/aliskhannn/story-publisher/internal/repository/story"
	"github.com/aliskhannn/story-publisher/internal/storage/file"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	repo     *storyrepo.Repository
	vk       *vk.Client
	pipeline *pipeline.Pipeline
	strategy retry.Strategy

	closers []func() error
}

// newApp loads the configuration and wires the publication pipeline.
func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		strategy: retry.Strategy{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay,
			Backoff:  cfg.Retry.Backoff,
		},
	}

	db, dialect, err := a.openDatabase()
	if err != nil {
		return nil, err
	}
	a.repo = storyrepo.NewRepository(db, dialect)

	source, err := newMediaSource(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.vk = vk.New(vk.Options{
		APIURL:         cfg.VK.APIURL,
		Version:        cfg.VK.APIVersion,
		AccessToken:    cfg.VK.AccessToken,
		GroupID:        cfg.VK.GroupID,
		Timeout:        cfg.VK.Timeout,
		RequestsPerSec: cfg.VK.RequestsPerSec,
		Burst:          cfg.VK.Burst,
	})

	a.pipeline = pipeline.New(pipeline.Deps{
		Stories: a.repo,
		Media:   source,
		Renderer: processor.New(processor.Options{
			FontPaths:   cfg.Render.FontPaths,
			FontSize:    cfg.Render.FontSize,
			JPEGQuality: cfg.Render.JPEGQuality,
		}),
		Uploader: a.vk,
		Verifier: a.vk,
	})

	return a, nil
}

func (a *app) openDatabase() (*sql.DB, storyrepo.Dialect, error) {
	switch a.cfg.Database.Driver {
	case "sqlite":
		db, err := storyrepo.OpenSQLite(a.cfg.Database.SQLitePath)
		if err != nil {
			return nil, 0, err
		}
		a.closers = append(a.closers, db.Close)

		return db, storyrepo.SQLite, nil

	case "postgres", "":
		opts := &dbpg.Options{
			MaxOpenConns:    a.cfg.Database.MaxOpenConns,
			MaxIdleConns:    a.cfg.Database.MaxIdleConns,
			ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
		}

		slaveDSNs := make([]string, 0, len(a.cfg.Database.Slaves))
		for _, s := range a.cfg.Database.Slaves {
			slaveDSNs = append(slaveDSNs, s.DSN())
		}

		db, err := dbpg.New(a.cfg.Database.Master.DSN(), slaveDSNs, opts)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to connect to database: %w", err)
		}

		a.closers = append(a.closers, db.Master.Close)
		for _, s := range db.Slaves {
			a.closers = append(a.closers, s.Close)
		}

		return db.Master, storyrepo.Postgres, nil

	default:
		return nil, 0, fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
}

type mediaSource interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

func newMediaSource(ctx context.Context, cfg *config.Config) (mediaSource, error) {
	switch cfg.Media.Source {
	case "minio":
		storage, err := file.NewStorage(
			ctx,
			cfg.Storage.Endpoint,
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			cfg.Storage.BucketName,
			cfg.Media.Prefix,
			cfg.Storage.UseSSL,
			cfg.Media.MaxSize,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to storage: %w", err)
		}

		return storage, nil

	case "http", "":
		if cfg.Media.BaseURL == "" {
			return nil, errors.New("media.base_url is required for the http media source")
		}

		return media.NewFetcher(cfg.Media.BaseURL, cfg.Media.Timeout, cfg.Media.MaxSize), nil

	default:
		return nil, fmt.Errorf("unknown media source %q", cfg.Media.Source)
	}
}

// close releases the database connections in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close resource")
		}
	}
	a.closers = nil
}
