package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// New creates the HTTP server. The write timeout covers a synchronous
// publication, which includes the media download and the VK upload.
func New(addr string, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
