package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxSize caps the size of a media file when no limit is configured.
const DefaultMaxSize = 50 << 20

var (
	// ErrEmptyFileID is returned when no file identifier was given.
	ErrEmptyFileID = errors.New("empty media file id")

	// ErrMediaTooLarge is returned when a media file exceeds the size limit.
	ErrMediaTooLarge = errors.New("media file too large")
)

// Fetcher downloads story media from the internal media service over HTTP.
// It never retries; the caller owns the retry policy.
type Fetcher struct {
	baseURL string
	http    *http.Client
	maxSize int64
}

// NewFetcher creates a Fetcher for the given base URL, e.g.
// http://api:8000/api/telegram/file. A zero timeout disables the client timeout;
// a non-positive maxSize selects DefaultMaxSize.
func NewFetcher(baseURL string, timeout time.Duration, maxSize int64) *Fetcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		maxSize: maxSize,
	}
}

// Fetch returns the raw bytes of the media identified by fileID.
// Any status other than 200 is reported as an error.
func (f *Fetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	if fileID == "" {
		return nil, ErrEmptyFileID
	}

	endpoint := f.baseURL + "/" + url.PathEscape(fileID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %s", fileID, resp.Status)
	}

	data, err := ReadLimited(resp.Body, f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileID, err)
	}

	return data, nil
}

// ReadLimited reads r to the end. It fails with ErrMediaTooLarge instead of
// returning a truncated body when r holds more than limit bytes.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrMediaTooLarge, limit)
	}

	return data, nil
}
