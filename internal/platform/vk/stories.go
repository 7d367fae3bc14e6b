package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/story-publisher/internal/model"
)

const storyFilename = "story.jpg"

var (
	// ErrNoUploadURL is returned when the upload server response lacks upload_url.
	ErrNoUploadURL = errors.New("upload server response has no upload_url")

	// ErrNothingSaved is returned when stories.save returns no items.
	ErrNothingSaved = errors.New("stories.save returned no items")
)

// SavedStory is one item of the stories.save result.
type SavedStory struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`
}

// PublishStory runs the three-step story upload: it negotiates an upload
// server, transfers the image and saves the story. Each step must succeed;
// nothing is rolled back when a later step fails.
func (c *Client) PublishStory(ctx context.Context, image []byte) (model.StoryRef, error) {
	uploadURL, err := c.GetUploadServer(ctx)
	if err != nil {
		return model.StoryRef{}, fmt.Errorf("negotiate: %w", err)
	}

	body, err := c.Transfer(ctx, uploadURL, image)
	if err != nil {
		return model.StoryRef{}, fmt.Errorf("transfer: %w", err)
	}

	token, err := extractUploadResult(body)
	if err != nil {
		return model.StoryRef{}, fmt.Errorf("finalize: %w", err)
	}

	ref, err := c.Save(ctx, token)
	if err != nil {
		return model.StoryRef{}, fmt.Errorf("finalize: %w", err)
	}

	zlog.Logger.Info().
		Int64("owner_id", ref.OwnerID).
		Int64("vk_story_id", ref.StoryID).
		Str("link", ref.Link()).
		Msg("story saved to vk")

	return ref, nil
}

// GetUploadServer asks VK for a story photo upload URL.
func (c *Client) GetUploadServer(ctx context.Context) (string, error) {
	params := url.Values{
		"add_to_news": {"1"},
		"group_id":    {strconv.FormatInt(c.groupID, 10)},
	}

	var res struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.call(ctx, "stories.getPhotoUploadServer", params, &res); err != nil {
		return "", err
	}

	if res.UploadURL == "" {
		return "", ErrNoUploadURL
	}

	return res.UploadURL, nil
}

// Transfer posts the image as multipart field "file" to uploadURL and
// returns the decoded JSON body.
func (c *Client) Transfer(ctx context.Context, uploadURL string, image []byte) (map[string]json.RawMessage, error) {
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)

	part, err := w.CreateFormFile("file", storyFilename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, buf)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, snippet)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return body, nil
}

// Save materializes the uploaded story and returns its reference.
func (c *Client) Save(ctx context.Context, uploadResult string) (model.StoryRef, error) {
	params := url.Values{
		"upload_results": {uploadResult},
		"group_id":       {strconv.FormatInt(c.groupID, 10)},
	}

	var raw json.RawMessage
	if err := c.call(ctx, "stories.save", params, &raw); err != nil {
		return model.StoryRef{}, err
	}

	items, err := decodeItems[SavedStory](raw)
	if err != nil {
		return model.StoryRef{}, fmt.Errorf("stories.save: decode result: %w", err)
	}
	if len(items) == 0 {
		return model.StoryRef{}, ErrNothingSaved
	}

	item := items[0]
	if item.ID == 0 {
		return model.StoryRef{}, errors.New("stories.save: item has no id")
	}
	if item.OwnerID == 0 {
		item.OwnerID = c.OwnerID()
	}

	return model.StoryRef{OwnerID: item.OwnerID, StoryID: item.ID}, nil
}

// CountStories returns the number of story feed items visible for ownerID.
func (c *Client) CountStories(ctx context.Context, ownerID int64) (int, error) {
	params := url.Values{"owner_id": {strconv.FormatInt(ownerID, 10)}}

	var raw json.RawMessage
	if err := c.call(ctx, "stories.get", params, &raw); err != nil {
		return 0, err
	}

	items, err := decodeItems[json.RawMessage](raw)
	if err != nil {
		return 0, fmt.Errorf("stories.get: decode result: %w", err)
	}

	return len(items), nil
}
