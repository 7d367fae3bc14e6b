package model

import (
	"fmt"
	"time"
)

// Story represents a short-lived image post waiting to be published
// to the platform's stories feed.
type Story struct {
	ID          int64      `json:"id"`
	MediaFileID string     `json:"media_file_id"` // opaque handle of the source image
	ModelName   string     `json:"model_name"`
	Price       string     `json:"price"`
	IsPublished bool       `json:"is_published"`
	PublishedAt *time.Time `json:"published_at"`
	PostLink    string     `json:"post_link"` // set only once the story is published
}

// HasMedia reports whether the story references a source image.
func (s Story) HasMedia() bool {
	return s.MediaFileID != ""
}

// StoryRef identifies a story created on the platform.
type StoryRef struct {
	OwnerID int64 `json:"owner_id"`
	StoryID int64 `json:"story_id"`
}

// Link returns the public URL of the story.
func (r StoryRef) Link() string {
	return fmt.Sprintf("https://vk.com/stories%d_%d", r.OwnerID, r.StoryID)
}
