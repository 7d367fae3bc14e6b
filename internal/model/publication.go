package model

import "time"

// Publication log statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PublicationLog is an append-only record of one publish attempt.
type PublicationLog struct {
	ID        int64     `json:"id"`
	StoryID   int64     `json:"story_id"`
	Status    string    `json:"status"` // success / error
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// PublishRequest is the message that asks a worker to publish a story.
type PublishRequest struct {
	StoryID int64 `json:"story_id"`
}
