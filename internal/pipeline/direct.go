package pipeline

import (
	"context"
	"errors"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/story-publisher/internal/model"
)

var errEmptyImage = errors.New("empty source image")

// PublishImage re-frames a local source image to the story size, captions
// it and publishes it. No story is loaded and nothing is recorded.
func (p *Pipeline) PublishImage(ctx context.Context, source []byte, name, price string) (model.StoryRef, error) {
	if len(source) == 0 {
		return model.StoryRef{}, &StageError{Kind: KindFetch, Err: errEmptyImage}
	}

	var image []byte
	err := p.stage(ctx, KindRender, func(context.Context) error {
		var err error
		image, err = p.renderer.RenderStory(source, name, price)
		return err
	})
	if err != nil {
		return model.StoryRef{}, err
	}

	var ref model.StoryRef
	err = p.stage(ctx, KindUpload, func(ctx context.Context) error {
		var err error
		ref, err = p.uploader.PublishStory(ctx, image)
		return err
	})
	if err != nil {
		return model.StoryRef{}, err
	}

	p.verify(ctx, zlog.Logger.With().Str("source", "direct").Logger(), ref)

	return ref, nil
}
