package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/wb-go/wbf/zlog"
	_ "golang.org/x/image/webp" // Telegram stickers and some uploads arrive as webp
)

// Canonical story frame.
const (
	StoryWidth  = 1080
	StoryHeight = 1920

	// captionBaseline is the distance from the bottom edge to the caption baseline.
	captionBaseline = 120
	outlineOffset   = 2

	defaultFontSize = 80
	defaultQuality  = 95
)

// ErrEmptyImage is returned when there are no bytes to render.
var ErrEmptyImage = errors.New("empty image data")

var outlineOffsets = [4][2]float64{
	{-outlineOffset, -outlineOffset},
	{-outlineOffset, outlineOffset},
	{outlineOffset, -outlineOffset},
	{outlineOffset, outlineOffset},
}

// Options configures a Processor.
type Options struct {
	FontPaths   []string // candidate font files, most preferred first
	FontSize    float64
	JPEGQuality int
}

// Processor renders story frames: it crops the source image to 9:16,
// scales it to the canonical resolution and draws the price caption.
// A Processor is safe for concurrent use.
type Processor struct {
	fonts    *fontSet
	fontSize float64
	quality  int
}

// New creates a Processor. Font candidates are probed lazily, once.
func New(opts Options) *Processor {
	if opts.FontSize <= 0 {
		opts.FontSize = defaultFontSize
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultQuality
	}

	return &Processor{
		fonts:    newFontSet(DefaultFontSources(opts.FontPaths)...),
		fontSize: opts.FontSize,
		quality:  opts.JPEGQuality,
	}
}

// Caption composes the overlay text for a story.
// It returns an empty string when neither field is set.
func Caption(name, price string) string {
	switch {
	case name != "" && price != "":
		return name + " - " + price
	case name != "":
		return name
	case price != "":
		return "Цена: " + price
	default:
		return ""
	}
}

// CropRect returns the largest 9:16 rectangle centered inside bounds.
func CropRect(bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	cw, ch := w, h

	switch {
	case w*16 > h*9: // too wide
		cw = h * 9 / 16
	case w*16 < h*9: // too tall
		ch = w * 16 / 9
	}

	x := bounds.Min.X + (w-cw)/2
	y := bounds.Min.Y + (h-ch)/2

	return image.Rect(x, y, x+cw, y+ch)
}

// RenderStory turns raw image bytes into a JPEG story frame with the
// caption built from name and price.
func (p *Processor) RenderStory(data []byte, name, price string) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	rect := CropRect(src.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("image too small to crop: %v", src.Bounds().Size())
	}

	frame := imaging.Resize(imaging.Crop(src, rect), StoryWidth, StoryHeight, imaging.Lanczos)

	var out image.Image = frame
	if text := Caption(name, price); text != "" {
		out = p.drawCaption(frame, text)
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, out, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode story image: %w", err)
	}

	return buf.Bytes(), nil
}

// drawCaption draws text centered horizontally with its baseline
// captionBaseline pixels above the bottom edge, outlined in black.
func (p *Processor) drawCaption(img image.Image, text string) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(p.fonts.Face(p.fontSize))

	x := float64(dc.Width()) / 2
	y := float64(dc.Height() - captionBaseline)

	dc.SetColor(color.Black)
	for _, off := range outlineOffsets {
		dc.DrawStringAnchored(text, x+off[0], y+off[1], 0.5, 0)
	}

	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x, y, 0.5, 0)

	zlog.Logger.Debug().Str("text", text).Str("font", p.fonts.Name()).Msg("caption drawn")

	return dc.Image()
}
