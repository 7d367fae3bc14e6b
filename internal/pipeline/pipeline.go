package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aliskhannn/story-publisher/internal/model"
	storyrepo "github.com/aliskhannn/story-publisher/internal/repository/story"
)

// recordTimeout bounds the recording step, which ignores the caller's cancellation.
const recordTimeout = 15 * time.Second

var tracer = otel.Tracer("github.com/aliskhannn/story-publisher/internal/pipeline")

type storyStore interface {
	GetStory(ctx context.Context, id int64) (model.Story, error)
	RecordSuccess(ctx context.Context, storyID int64, link string, publishedAt time.Time) error
	RecordFailure(ctx context.Context, storyID int64, message string) error
}

type mediaFetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

type renderer interface {
	RenderStory(data []byte, name, price string) ([]byte, error)
}

type uploader interface {
	PublishStory(ctx context.Context, image []byte) (model.StoryRef, error)
}

type verifier interface {
	CountStories(ctx context.Context, ownerID int64) (int, error)
}

// Deps wires the collaborators of the pipeline.
type Deps struct {
	Stories  storyStore
	Media    mediaFetcher
	Renderer renderer
	Uploader uploader
	Verifier verifier
	Now      func() time.Time // defaults to time.Now in UTC
}

// Pipeline publishes stored stories to the platform's story feed.
// Runs for different stories are independent and may execute concurrently.
type Pipeline struct {
	stories  storyStore
	media    mediaFetcher
	renderer renderer
	uploader uploader
	verifier verifier
	now      func() time.Time
}

// New creates a Pipeline from deps.
func New(deps Deps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Pipeline{
		stories:  deps.Stories,
		media:    deps.Media,
		renderer: deps.Renderer,
		uploader: deps.Uploader,
		verifier: deps.Verifier,
		now:      now,
	}
}

// Result describes one finished run.
type Result struct {
	RunID   uuid.UUID
	StoryID int64
	OK      bool
	// AlreadyPublished is set when the run short-circuited on a published story.
	AlreadyPublished bool
	Link             string
	Err              error
}

// Kind returns the failure kind of the run, or "" on success.
func (r Result) Kind() Kind {
	return KindOf(r.Err)
}

// Publish runs the pipeline for storyID and reports whether the story is published.
func (p *Pipeline) Publish(ctx context.Context, storyID int64) bool {
	return p.Run(ctx, storyID).OK
}

// Run loads the story, fetches and renders its image, uploads it, verifies
// the upload and records the outcome. It never panics and never retries.
// Once the story is loaded, exactly one log entry is written, except when
// the story is already published.
func (p *Pipeline) Run(ctx context.Context, storyID int64) (res Result) {
	res = Result{RunID: uuid.New(), StoryID: storyID}

	log := zlog.Logger.With().
		Str("run_id", res.RunID.String()).
		Int64("story_id", storyID).
		Logger()

	ctx, span := tracer.Start(ctx, "story.publish")
	span.SetAttributes(
		attribute.Int64("story.id", storyID),
		attribute.String("run.id", res.RunID.String()),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Err = &StageError{Kind: KindInternal, Err: fmt.Errorf("panic: %v", r)}
			log.Error().Err(res.Err).Msg("publication run aborted")
		}

		span.SetAttributes(attribute.Bool("publish.ok", res.OK))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}()

	var story model.Story
	err := p.stage(ctx, KindInternal, func(ctx context.Context) error {
		var err error
		story, err = p.stories.GetStory(ctx, storyID)
		return err
	})
	if err != nil {
		if errors.Is(err, storyrepo.ErrStoryNotFound) {
			res.Err = &StageError{Kind: KindNotFound, Err: ErrNotFound}
			log.Error().Msg("story not found")
			return res
		}

		res.Err = err
		log.Error().Err(err).Msg("failed to load story")
		return res
	}

	if story.IsPublished {
		log.Info().Str("link", story.PostLink).Msg("story already published")
		res.OK, res.AlreadyPublished, res.Link = true, true, story.PostLink
		return res
	}

	if !story.HasMedia() {
		p.record(ctx, log, &res, model.StoryRef{}, &StageError{Kind: KindMissingMedia, Err: ErrMissingMedia})
		return res
	}

	ref, err := p.publish(ctx, log, story)
	p.record(ctx, log, &res, ref, err)

	return res
}

// publish runs the fetch, render, upload and verify stages.
func (p *Pipeline) publish(ctx context.Context, log zerolog.Logger, story model.Story) (model.StoryRef, error) {
	var media []byte
	err := p.stage(ctx, KindFetch, func(ctx context.Context) error {
		log.Info().Str("media_file_id", story.MediaFileID).Msg("downloading media")

		var err error
		media, err = p.media.Fetch(ctx, story.MediaFileID)
		return err
	})
	if err != nil {
		return model.StoryRef{}, err
	}

	var image []byte
	err = p.stage(ctx, KindRender, func(context.Context) error {
		log.Info().Int("media_bytes", len(media)).Msg("rendering story image")

		var err error
		image, err = p.renderer.RenderStory(media, story.ModelName, story.Price)
		return err
	})
	if err != nil {
		return model.StoryRef{}, err
	}

	var ref model.StoryRef
	err = p.stage(ctx, KindUpload, func(ctx context.Context) error {
		log.Info().Int("image_bytes", len(image)).Msg("uploading story")

		var err error
		ref, err = p.uploader.PublishStory(ctx, image)
		return err
	})
	if err != nil {
		return model.StoryRef{}, err
	}

	p.verify(ctx, log, ref)

	return ref, nil
}

// verify checks that the owner's stories are listed. The outcome is only logged.
func (p *Pipeline) verify(ctx context.Context, log zerolog.Logger, ref model.StoryRef) {
	if p.verifier == nil {
		return
	}

	err := p.stage(ctx, "verify", func(ctx context.Context) error {
		n, err := p.verifier.CountStories(ctx, ref.OwnerID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no stories found for owner %d", ref.OwnerID)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Int64("owner_id", ref.OwnerID).Msg("could not verify story publication")
		return
	}

	log.Debug().Int64("owner_id", ref.OwnerID).Msg("story publication verified")
}

// record persists the outcome of the run. It runs on a context detached from
// the caller's cancellation so that every run leaves its log entry.
func (p *Pipeline) record(ctx context.Context, log zerolog.Logger, res *Result, ref model.StoryRef, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if runErr == nil {
		link := ref.Link()

		err := p.stage(ctx, KindRecord, func(ctx context.Context) error {
			return p.stories.RecordSuccess(ctx, res.StoryID, link, p.now())
		})
		if err == nil {
			res.OK, res.Link = true, link
			log.Info().Str("link", link).Msg("story published")
			return
		}

		// The story row was not updated, so the run still owes a log entry.
		runErr = err
	}

	res.Err = runErr
	log.Error().Err(runErr).Str("kind", string(KindOf(runErr))).Msg("story publication failed")

	err := p.stage(ctx, KindRecord, func(ctx context.Context) error {
		return p.stories.RecordFailure(ctx, res.StoryID, runErr.Error())
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to record publication failure")
	}
}

// stage runs fn inside a span, turning errors and panics into *StageError.
func (p *Pipeline) stage(ctx context.Context, kind Kind, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "story."+string(kind))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Kind: KindInternal, Err: fmt.Errorf("panic in %s stage: %v", kind, r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := fn(ctx); err != nil {
		return &StageError{Kind: kind, Err: err}
	}

	return nil
}
