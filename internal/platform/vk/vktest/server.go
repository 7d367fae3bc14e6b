// Package vktest provides an in-process fake of the VK API story methods
// and upload server.
package vktest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Server is a fake VK API. Response fields hold raw JSON; change them
// through Configure.
type Server struct {
	*httptest.Server

	// UploadServer is the "response" of stories.getPhotoUploadServer.
	// "{{upload}}" is replaced with the fake upload URL.
	UploadServer string
	// UploadStatus and UploadBody answer the multipart transfer.
	UploadStatus int
	UploadBody   string
	// SaveResult is the "response" of stories.save.
	SaveResult string
	// Stories is the "response" of stories.get.
	Stories string
	// Group is the "response" of groups.getById.
	Group string
	// Errors makes a method answer with a VK error object.
	Errors map[string]string

	mu       sync.Mutex
	calls    []string
	uploads  [][]byte
	tokens   []string
	lastForm map[string]map[string]string
}

// NewServer starts a fake that accepts a story for owner 100 with id 999.
func NewServer() *Server {
	s := &Server{
		UploadServer: `{"upload_url": "{{upload}}"}`,
		UploadStatus: http.StatusOK,
		UploadBody:   `{"upload_result": "token-abc"}`,
		SaveResult:   `{"count": 1, "items": [{"id": 999, "owner_id": 100}]}`,
		Stories:      `{"count": 1, "items": [{"type": "stories"}]}`,
		Group:        `[{"id": 100, "name": "Shop", "screen_name": "shop"}]`,
		Errors:       map[string]string{},
		lastForm:     map[string]map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/method/", s.handleMethod)
	mux.HandleFunc("/upload", s.handleUpload)
	s.mu.Lock()
	s.Server = httptest.NewServer(mux)
	s.mu.Unlock()

	return s
}

// Configure changes the canned responses under the server lock.
func (s *Server) Configure(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s)
}

// APIURL is the base URL to pass to the VK client.
func (s *Server) APIURL() string {
	return s.URL + "/method"
}

// Calls returns the methods invoked so far, with "upload" for transfers.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

// Uploads returns the transferred file payloads.
func (s *Server) Uploads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]byte(nil), s.uploads...)
}

// SavedTokens returns the upload_results passed to stories.save.
func (s *Server) SavedTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.tokens...)
}

// Form returns the last form values sent to method.
func (s *Server) Form(method string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastForm[method]
}

func (s *Server) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *Server) handleMethod(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/method/")
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	s.mu.Lock()
	s.calls = append(s.calls, method)
	s.lastForm[method] = form
	if method == "stories.save" {
		s.tokens = append(s.tokens, form["upload_results"])
	}
	msg, failed := s.Errors[method]
	uploadServer, saveResult, stories, group := s.UploadServer, s.SaveResult, s.Stories, s.Group
	base := s.URL
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if failed {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"error_code": 100, "error_msg": msg},
		})
		return
	}

	var response string
	switch method {
	case "stories.getPhotoUploadServer":
		response = strings.ReplaceAll(uploadServer, "{{upload}}", base+"/upload")
	case "stories.save":
		response = saveResult
	case "stories.get":
		response = stories
	case "groups.getById":
		response = group
	default:
		http.NotFound(w, r)
		return
	}

	_, _ = fmt.Fprintf(w, `{"response": %s}`, response)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.record("upload")

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, data)
	status, body := s.UploadStatus, s.UploadBody
	s.mu.Unlock()

	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
