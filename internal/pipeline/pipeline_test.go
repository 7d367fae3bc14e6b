package pipeline_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/story-publisher/internal/media"
	"github.com/aliskhannn/story-publisher/internal/model"
	"github.com/aliskhannn/story-publisher/internal/pipeline"
	"github.com/aliskhannn/story-publisher/internal/platform/vk"
	"github.com/aliskhannn/story-publisher/internal/platform/vk/vktest"
	"github.com/aliskhannn/story-publisher/internal/processor"
	storyrepo "github.com/aliskhannn/story-publisher/internal/repository/story"
)

var fixedNow = time.Date(2025, 5, 20, 10, 30, 0, 0, time.UTC)

type env struct {
	repo     *storyrepo.Repository
	vk       *vktest.Server
	media    *httptest.Server
	hits     *atomic.Int32
	pipeline *pipeline.Pipeline
}

func newEnv(t *testing.T, mediaHandler http.HandlerFunc) *env {
	t.Helper()

	return newEnvWithLimit(t, mediaHandler, 0)
}

// newEnvWithLimit is newEnv with a custom media size limit.
func newEnvWithLimit(t *testing.T, mediaHandler http.HandlerFunc, maxMediaSize int64) *env {
	t.Helper()

	db, err := storyrepo.OpenSQLite(filepath.Join(t.TempDir(), "stories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hits := new(atomic.Int32)
	mediaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		mediaHandler(w, r)
	}))
	t.Cleanup(mediaSrv.Close)

	vkSrv := vktest.NewServer()
	t.Cleanup(vkSrv.Close)

	repo := storyrepo.NewRepository(db, storyrepo.SQLite)
	client := vk.New(vk.Options{APIURL: vkSrv.APIURL(), AccessToken: "token", GroupID: 100})

	p := pipeline.New(pipeline.Deps{
		Stories:  repo,
		Media:    media.NewFetcher(mediaSrv.URL, 5*time.Second, maxMediaSize),
		Renderer: processor.New(processor.Options{}),
		Uploader: client,
		Verifier: client,
		Now:      func() time.Time { return fixedNow },
	})

	return &env{repo: repo, vk: vkSrv, media: mediaSrv, hits: hits, pipeline: p}
}

func servePNG(t *testing.T) http.HandlerFunc {
	t.Helper()

	img := imaging.New(320, 480, color.NRGBA{R: 90, G: 120, B: 200, A: 255})
	buf := new(bytes.Buffer)
	require.NoError(t, imaging.Encode(buf, img, imaging.PNG))
	data := buf.Bytes()

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}
}

func (e *env) createStory(t *testing.T, s model.Story) int64 {
	t.Helper()

	id, err := e.repo.CreateStory(context.Background(), s)
	require.NoError(t, err)

	return id
}

func (e *env) logs(t *testing.T, id int64) []model.PublicationLog {
	t.Helper()

	logs, err := e.repo.ListLogs(context.Background(), id)
	require.NoError(t, err)

	return logs
}

func TestPublish_Success(t *testing.T) {
	e := newEnv(t, servePNG(t))
	id := e.createStory(t, model.Story{MediaFileID: "AgAD-file", ModelName: "Model X", Price: "10000"})

	res := e.pipeline.Run(context.Background(), id)
	require.True(t, res.OK, "err: %v", res.Err)
	assert.NoError(t, res.Err)
	assert.False(t, res.AlreadyPublished)
	assert.Equal(t, "https://vk.com/stories100_999", res.Link)

	s, err := e.repo.GetStory(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, s.IsPublished)
	assert.Equal(t, "https://vk.com/stories100_999", s.PostLink)
	require.NotNil(t, s.PublishedAt)
	assert.True(t, fixedNow.Equal(*s.PublishedAt))

	logs := e.logs(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, model.StatusSuccess, logs[0].Status)
	assert.Contains(t, logs[0].Message, "https://vk.com/stories100_999")

	uploads := e.vk.Uploads()
	require.Len(t, uploads, 1)
	img, err := imaging.Decode(bytes.NewReader(uploads[0]))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(processor.StoryWidth, processor.StoryHeight), img.Bounds().Size())

	assert.Equal(t,
		[]string{"stories.getPhotoUploadServer", "upload", "stories.save", "stories.get"},
		e.vk.Calls())
}

func TestPublish_Idempotent(t *testing.T) {
	e := newEnv(t, servePNG(t))
	id := e.createStory(t, model.Story{MediaFileID: "f", ModelName: "Model X"})

	require.True(t, e.pipeline.Publish(context.Background(), id))
	calls := len(e.vk.Calls())

	res := e.pipeline.Run(context.Background(), id)
	assert.True(t, res.OK)
	assert.True(t, res.AlreadyPublished)
	assert.Equal(t, "https://vk.com/stories100_999", res.Link)

	assert.Len(t, e.vk.Calls(), calls, "second run must not touch vk")
	assert.Len(t, e.vk.Uploads(), 1)
	assert.EqualValues(t, 1, e.hits.Load())
	assert.Len(t, e.logs(t, id), 1)
}

func TestPublish_FetchFailure(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	id := e.createStory(t, model.Story{MediaFileID: "gone", ModelName: "Model X", Price: "10000"})

	res := e.pipeline.Run(context.Background(), id)
	assert.False(t, res.OK)
	assert.Equal(t, pipeline.KindFetch, res.Kind())

	logs := e.logs(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, model.StatusError, logs[0].Status)
	assert.Contains(t, logs[0].Message, "fetch error")

	assert.Empty(t, e.vk.Calls())

	s, err := e.repo.GetStory(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, s.IsPublished)
}

func TestPublish_OversizeMedia(t *testing.T) {
	e := newEnvWithLimit(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{0xff}, 2048))
	}, 1024)
	id := e.createStory(t, model.Story{MediaFileID: "huge", ModelName: "Model X"})

	res := e.pipeline.Run(context.Background(), id)
	assert.False(t, res.OK)
	assert.Equal(t, pipeline.KindFetch, res.Kind())
	assert.ErrorIs(t, res.Err, media.ErrMediaTooLarge)

	logs := e.logs(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, model.StatusError, logs[0].Status)
	assert.Contains(t, logs[0].Message, "fetch error")

	assert.Empty(t, e.vk.Calls())
}

func TestPublish_MissingUploadResult(t *testing.T) {
	e := newEnv(t, servePNG(t))
	e.vk.Configure(func(s *vktest.Server) {
		s.UploadBody = `{"something_else": 1}`
	})
	id := e.createStory(t, model.Story{MediaFileID: "f"})

	res := e.pipeline.Run(context.Background(), id)
	assert.False(t, res.OK)
	assert.Equal(t, pipeline.KindUpload, res.Kind())
	assert.ErrorIs(t, res.Err, vk.ErrNoUploadResult)

	logs := e.logs(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, model.StatusError, logs[0].Status)
	assert.Contains(t, logs[0].Message, "upload error")

	s, err := e.repo.GetStory(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, s.IsPublished)
	assert.Empty(t, s.PostLink)

	assert.NotContains(t, e.vk.Calls(), "stories.save")
}

func TestPublish_SaveAPIError(t *testing.T) {
	e := newEnv(t, servePNG(t))
	e.vk.Configure(func(s *vktest.Server) {
		s.Errors["stories.save"] = "Access denied"
	})
	id := e.createStory(t, model.Story{MediaFileID: "f"})

	res := e.pipeline.Run(context.Background(), id)
	assert.False(t, res.OK)
	assert.Equal(t, pipeline.KindUpload, res.Kind())

	var apiErr *vk.APIError
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, "Access denied", apiErr.Message)

	logs := e.logs(t, id)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "Access denied")
}

func TestPublish_RenderFailure(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not an image</html>"))
	})
	id := e.createStory(t, model.Story{MediaFileID: "f"})

	res := e.pipeline.Run(context.Background(), id)
	assert.False(t, res.OK)
	assert.Equal(t, pipeline.KindRender, res.Kind())

	logs := e.logs(t, id)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "render error")
	assert.Empty(t, e.vk.Calls())
}

func TestPublish_MissingMedia(t *testing.T) {
	e := newEnv(t, servePNG(t))
	id := e.createStory(t, model.Story{ModelName: "Model X"})

	res := e.pipeline.Run(context.Background(), id)
	assert.False(t, res.OK)
	assert.Equal(t, pipeline.KindMissingMedia, res.Kind())
	assert.ErrorIs(t, res.Err, pipeline.ErrMissingMedia)

	logs := e.logs(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, model.StatusError, logs[0].Status)

	assert.Zero(t, e.hits.Load())
	assert.Empty(t, e.vk.Calls())
}

func TestPublish_StoryNotFound(t *testing.T) {
	e := newEnv(t, servePNG(t))

	res := e.pipeline.Run(context.Background(), 4040)
	assert.False(t, res.OK)
	assert.Equal(t, pipeline.KindNotFound, res.Kind())
	assert.ErrorIs(t, res.Err, pipeline.ErrNotFound)

	assert.Empty(t, e.logs(t, 4040))
	assert.Zero(t, e.hits.Load())
	assert.Empty(t, e.vk.Calls())
}

func TestPublish_VerificationDoesNotAffectOutcome(t *testing.T) {
	tests := []struct {
		name      string
		configure func(s *vktest.Server)
	}{
		{"api error", func(s *vktest.Server) { s.Errors["stories.get"] = "Internal server error" }},
		{"empty feed", func(s *vktest.Server) { s.Stories = `{"count": 0, "items": []}` }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, servePNG(t))
			e.vk.Configure(tt.configure)
			id := e.createStory(t, model.Story{MediaFileID: "f"})

			res := e.pipeline.Run(context.Background(), id)
			assert.True(t, res.OK, "err: %v", res.Err)

			logs := e.logs(t, id)
			require.Len(t, logs, 1)
			assert.Equal(t, model.StatusSuccess, logs[0].Status)
		})
	}
}

func TestPublish_FailedRunCanBeRetried(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	ok := servePNG(t)
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		ok(w, r)
	})
	id := e.createStory(t, model.Story{MediaFileID: "f"})

	assert.False(t, e.pipeline.Publish(context.Background(), id))

	fail.Store(false)
	assert.True(t, e.pipeline.Publish(context.Background(), id))

	logs := e.logs(t, id)
	require.Len(t, logs, 2)
	assert.Equal(t, model.StatusError, logs[0].Status)
	assert.Equal(t, model.StatusSuccess, logs[1].Status)
}
