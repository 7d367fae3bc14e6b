package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliskhannn/story-publisher/internal/platform/vk"
	storyrepo "github.com/aliskhannn/story-publisher/internal/repository/story"
)

type platformProbe interface {
	GetGroup(ctx context.Context) (vk.Group, error)
	GetUploadServer(ctx context.Context) (string, error)
}

// CheckReport is the outcome of a dry run.
type CheckReport struct {
	StoryID    int64  `json:"story_id"`
	GroupName  string `json:"group_name"`
	MediaBytes int    `json:"media_bytes"`
	ImageBytes int    `json:"image_bytes"`
	UploadURL  string `json:"upload_url"`
}

// Check runs every step of a publication except the transfer and the save.
// Nothing is written to the store and no story is created on the platform.
func (p *Pipeline) Check(ctx context.Context, probe platformProbe, storyID int64) (CheckReport, error) {
	report := CheckReport{StoryID: storyID}

	group, err := probe.GetGroup(ctx)
	if err != nil {
		return report, &StageError{Kind: KindUpload, Err: fmt.Errorf("token check: %w", err)}
	}
	report.GroupName = group.Name

	story, err := p.stories.GetStory(ctx, storyID)
	if err != nil {
		if errors.Is(err, storyrepo.ErrStoryNotFound) {
			return report, &StageError{Kind: KindNotFound, Err: ErrNotFound}
		}
		return report, &StageError{Kind: KindInternal, Err: err}
	}

	if !story.HasMedia() {
		return report, &StageError{Kind: KindMissingMedia, Err: ErrMissingMedia}
	}

	media, err := p.media.Fetch(ctx, story.MediaFileID)
	if err != nil {
		return report, &StageError{Kind: KindFetch, Err: err}
	}
	report.MediaBytes = len(media)

	image, err := p.renderer.RenderStory(media, story.ModelName, story.Price)
	if err != nil {
		return report, &StageError{Kind: KindRender, Err: err}
	}
	report.ImageBytes = len(image)

	uploadURL, err := probe.GetUploadServer(ctx)
	if err != nil {
		return report, &StageError{Kind: KindUpload, Err: fmt.Errorf("negotiate: %w", err)}
	}
	report.UploadURL = uploadURL

	return report, nil
}
