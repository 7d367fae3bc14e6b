package story_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/story-publisher/internal/api/handlers/story"
	"github.com/aliskhannn/story-publisher/internal/api/router"
	"github.com/aliskhannn/story-publisher/internal/model"
	"github.com/aliskhannn/story-publisher/internal/pipeline"
	storyrepo "github.com/aliskhannn/story-publisher/internal/repository/story"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStories struct {
	stories map[int64]model.Story
	logs    map[int64][]model.PublicationLog
}

func (f *fakeStories) GetStory(_ context.Context, id int64) (model.Story, error) {
	s, ok := f.stories[id]
	if !ok {
		return model.Story{}, storyrepo.ErrStoryNotFound
	}
	return s, nil
}

func (f *fakeStories) ListLogs(_ context.Context, id int64) ([]model.PublicationLog, error) {
	return f.logs[id], nil
}

type fakePublisher map[int64]pipeline.Result

func (f fakePublisher) Run(_ context.Context, id int64) pipeline.Result {
	return f[id]
}

type fakeQueue struct {
	ids []int64
	err error
}

func (f *fakeQueue) Enqueue(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	return nil
}

func serve(t *testing.T, h *story.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	router.Setup(h).ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())

	return rec, body
}

func TestPublish_Sync(t *testing.T) {
	runID := uuid.New()
	pub := fakePublisher{
		42: {RunID: runID, StoryID: 42, OK: true, Link: "https://vk.com/stories100_999"},
		43: {StoryID: 43, Err: &pipeline.StageError{Kind: pipeline.KindFetch, Err: errors.New("unexpected status 404")}},
		44: {StoryID: 44, Err: &pipeline.StageError{Kind: pipeline.KindNotFound, Err: pipeline.ErrNotFound}},
	}
	h := story.NewHandler(&fakeStories{}, pub, nil)

	rec, body := serve(t, h, http.MethodPost, "/api/stories/42/publish")
	assert.Equal(t, http.StatusOK, rec.Code)
	result := body["result"].(map[string]any)
	assert.Equal(t, true, result["published"])
	assert.Equal(t, "https://vk.com/stories100_999", result["link"])
	assert.Equal(t, runID.String(), result["run_id"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, body = serve(t, h, http.MethodPost, "/api/stories/43/publish")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "fetch", body["kind"])
	assert.Contains(t, body["message"], "fetch error")

	rec, _ = serve(t, h, http.MethodPost, "/api/stories/44/publish")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublish_Async(t *testing.T) {
	queue := &fakeQueue{}
	h := story.NewHandler(&fakeStories{}, fakePublisher{}, queue)

	rec, _ := serve(t, h, http.MethodPost, "/api/stories/7/publish?async=true")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{7}, queue.ids)

	queue.err = errors.New("broker down")
	rec, _ = serve(t, h, http.MethodPost, "/api/stories/8/publish?async=true")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPublish_AsyncWithoutQueue(t *testing.T) {
	h := story.NewHandler(&fakeStories{}, fakePublisher{}, nil)

	rec, _ := serve(t, h, http.MethodPost, "/api/stories/7/publish?async=true")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGet(t *testing.T) {
	stories := &fakeStories{stories: map[int64]model.Story{
		5: {ID: 5, MediaFileID: "f", ModelName: "Model X", IsPublished: true, PostLink: "https://vk.com/stories1_2"},
	}}
	h := story.NewHandler(stories, fakePublisher{}, nil)

	rec, body := serve(t, h, http.MethodGet, "/api/stories/5")
	assert.Equal(t, http.StatusOK, rec.Code)
	result := body["result"].(map[string]any)
	assert.Equal(t, true, result["is_published"])
	assert.Equal(t, "https://vk.com/stories1_2", result["post_link"])

	rec, _ = serve(t, h, http.MethodGet, "/api/stories/6")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, h, http.MethodGet, "/api/stories/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogs(t *testing.T) {
	stories := &fakeStories{logs: map[int64][]model.PublicationLog{
		5: {{ID: 1, StoryID: 5, Status: model.StatusError, Message: "fetch error: timeout"}},
	}}
	h := story.NewHandler(stories, fakePublisher{}, nil)

	rec, body := serve(t, h, http.MethodGet, "/api/stories/5/logs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["result"], 1)

	rec, body = serve(t, h, http.MethodGet, "/api/stories/6/logs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["result"])
}

func TestHealthz(t *testing.T) {
	h := story.NewHandler(&fakeStories{}, fakePublisher{}, nil)

	rec, body := serve(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
