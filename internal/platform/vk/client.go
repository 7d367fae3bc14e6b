package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL  = "https://api.vk.com/method"
	DefaultVersion = "5.131"
)

// ErrUnavailable is returned while the circuit breaker rejects calls.
var ErrUnavailable = errors.New("vk api unavailable")

// APIError is an error object returned by the VK API.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// Options configures a Client.
type Options struct {
	APIURL         string
	Version        string
	AccessToken    string
	GroupID        int64 // community ID; the sign is ignored
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	HTTPClient     *http.Client
}

// Client is a VK API client bound to one community. It is built once per
// process and shared by all pipeline runs; it holds no per-run state.
type Client struct {
	apiURL  string
	version string
	token   string
	groupID int64

	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client from opts, filling in defaults.
func New(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	groupID := opts.GroupID
	if groupID < 0 {
		groupID = -groupID
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vk-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A VK error object means the API answered; only transport failures count.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || errors.As(err, &apiErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zlog.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Client{
		apiURL:  strings.TrimRight(opts.APIURL, "/"),
		version: opts.Version,
		token:   opts.AccessToken,
		groupID: groupID,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, opts.Burst),
		breaker: breaker,
	}
}

// GroupID returns the community ID (positive).
func (c *Client) GroupID() int64 {
	return c.groupID
}

// OwnerID returns the owner ID of the community's content (negative group ID).
func (c *Client) OwnerID() int64 {
	return -c.groupID
}

// call invokes an API method and decodes the "response" field into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", method, err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, params, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", method, ErrUnavailable)
	}

	return err
}

func (c *Client) do(ctx context.Context, method string, params url.Values, out any) error {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("access_token", c.token)
	form.Set("v", c.version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: new request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", method, resp.Status)
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}

	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}

	return nil
}

// Group is the subset of community info used by the pre-flight check.
type Group struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

// GetGroup returns the configured community. It doubles as a token check.
func (c *Client) GetGroup(ctx context.Context) (Group, error) {
	params := url.Values{"group_id": {strconv.FormatInt(c.groupID, 10)}}

	var raw json.RawMessage
	if err := c.call(ctx, "groups.getById", params, &raw); err != nil {
		return Group{}, err
	}

	// Older versions return a bare list, newer ones wrap it in {"groups": [...]}.
	var groups []Group
	if err := json.Unmarshal(raw, &groups); err != nil {
		var wrapped struct {
			Groups []Group `json:"groups"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return Group{}, fmt.Errorf("groups.getById: decode result: %w", err)
		}
		groups = wrapped.Groups
	}

	if len(groups) == 0 {
		return Group{}, fmt.Errorf("groups.getById: group %d not found", c.groupID)
	}

	return groups[0], nil
}
