package router

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aliskhannn/story-publisher/internal/api/handlers/story"
)

const requestIDHeader = "X-Request-ID"

// Setup builds the admin API router.
func Setup(h *story.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())
	r.Use(requestID())

	r.GET("/healthz", func(c *ginext.Context) {
		c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/stories/:id", h.Get)              // story state
	api.GET("/stories/:id/logs", h.Logs)        // publication log
	api.POST("/stories/:id/publish", h.Publish) // run or enqueue a publication

	return r
}

// requestID propagates or assigns a request ID and tags the active span with it.
func requestID() func(c *ginext.Context) {
	return func(c *ginext.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		trace.SpanFromContext(c.Request.Context()).
			SetAttributes(attribute.String("http.request_id", id))

		c.Next()
	}
}
