package story

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/story-publisher/internal/api/respond"
	"github.com/aliskhannn/story-publisher/internal/model"
	"github.com/aliskhannn/story-publisher/internal/pipeline"
	storyrepo "github.com/aliskhannn/story-publisher/internal/repository/story"
)

type storyReader interface {
	GetStory(ctx context.Context, id int64) (model.Story, error)
	ListLogs(ctx context.Context, storyID int64) ([]model.PublicationLog, error)
}

type publisher interface {
	Run(ctx context.Context, storyID int64) pipeline.Result
}

// Enqueuer puts a publish request on the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, storyID int64) error
}

// Handler provides HTTP handlers for story endpoints.
type Handler struct {
	stories   storyReader
	publisher publisher
	queue     Enqueuer // nil when Kafka is disabled
}

// NewHandler creates a new Handler. queue may be nil.
func NewHandler(stories storyReader, p publisher, queue Enqueuer) *Handler {
	return &Handler{stories: stories, publisher: p, queue: queue}
}

// PublishResponse is returned by a synchronous publication.
type PublishResponse struct {
	StoryID          int64  `json:"story_id"`
	RunID            string `json:"run_id"`
	Published        bool   `json:"published"`
	AlreadyPublished bool   `json:"already_published"`
	Link             string `json:"link,omitempty"`
}

// Get returns the stored state of a story.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := storyID(c)
	if !ok {
		return
	}

	s, err := h.stories.GetStory(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storyrepo.ErrStoryNotFound) {
			respond.Fail(c, http.StatusNotFound, storyrepo.ErrStoryNotFound)
			return
		}

		zlog.Logger.Err(err).Int64("story_id", id).Msg("failed to get story")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get story"))
		return
	}

	respond.OK(c, s)
}

// Logs returns the publication log of a story.
func (h *Handler) Logs(c *ginext.Context) {
	id, ok := storyID(c)
	if !ok {
		return
	}

	logs, err := h.stories.ListLogs(c.Request.Context(), id)
	if err != nil {
		zlog.Logger.Err(err).Int64("story_id", id).Msg("failed to list publication logs")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to list publication logs"))
		return
	}
	if logs == nil {
		logs = []model.PublicationLog{}
	}

	respond.OK(c, logs)
}

// Publish runs the pipeline for a story and reports the outcome. With
// ?async=true the request is put on the publish queue instead.
func (h *Handler) Publish(c *ginext.Context) {
	id, ok := storyID(c)
	if !ok {
		return
	}

	if c.Query("async") == "true" {
		h.enqueue(c, id)
		return
	}

	res := h.publisher.Run(c.Request.Context(), id)
	if !res.OK {
		respond.FailKind(c, statusFor(res.Kind()), string(res.Kind()), res.Err)
		return
	}

	respond.OK(c, PublishResponse{
		StoryID:          id,
		RunID:            res.RunID.String(),
		Published:        true,
		AlreadyPublished: res.AlreadyPublished,
		Link:             res.Link,
	})
}

func (h *Handler) enqueue(c *ginext.Context, id int64) {
	if h.queue == nil {
		respond.Fail(c, http.StatusServiceUnavailable, fmt.Errorf("publish queue is not configured"))
		return
	}

	if err := h.queue.Enqueue(c.Request.Context(), id); err != nil {
		zlog.Logger.Err(err).Int64("story_id", id).Msg("failed to enqueue story")
		respond.Fail(c, http.StatusBadGateway, fmt.Errorf("failed to enqueue story"))
		return
	}

	respond.Accepted(c, model.PublishRequest{StoryID: id})
}

func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindMissingMedia:
		return http.StatusUnprocessableEntity
	case pipeline.KindFetch, pipeline.KindUpload:
		return http.StatusBadGateway
	case pipeline.KindRecord:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func storyID(c *ginext.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid story id %q", c.Param("id")))
		return 0, false
	}

	return id, true
}
