package processor

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/basicfont"
)

var (
	red   = color.NRGBA{R: 220, A: 255}
	green = color.NRGBA{G: 200, A: 255}
	blue  = color.NRGBA{B: 220, A: 255}
	gray  = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
)

func encodePNG(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}

	buf := new(bytes.Buffer)
	require.NoError(t, imaging.Encode(buf, img, imaging.PNG))

	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	return img
}

func isGreen(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return g>>8 > 150 && r>>8 < 60 && b>>8 < 60
}

func countBright(img image.Image, rect image.Rectangle) int {
	n := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r>>8 > 230 && g>>8 > 230 && b>>8 > 230 {
				n++
			}
		}
	}

	return n
}

func TestCaption(t *testing.T) {
	tests := []struct {
		name, model, price, want string
	}{
		{"both", "Model X", "10000", "Model X - 10000"},
		{"name only", "Model X", "", "Model X"},
		{"price only", "", "10000", "Цена: 10000"},
		{"neither", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Caption(tt.model, tt.price))
		})
	}
}

func TestCropRect_WideIsCenteredHorizontally(t *testing.T) {
	sizes := [][2]int{{1920, 1080}, {1601, 900}, {4000, 1000}, {1000, 1000}, {1081, 1920}}

	for _, s := range sizes {
		w, h := s[0], s[1]
		r := CropRect(image.Rect(0, 0, w, h))

		assert.Equal(t, 0, r.Min.Y, "%dx%d", w, h)
		assert.Equal(t, h, r.Dy(), "%dx%d", w, h)
		assert.Equal(t, h*9/16, r.Dx(), "%dx%d", w, h)

		left, right := r.Min.X, w-r.Max.X
		assert.LessOrEqual(t, abs(left-right), 1, "%dx%d: left=%d right=%d", w, h, left, right)
	}
}

func TestCropRect_TallIsCenteredVertically(t *testing.T) {
	sizes := [][2]int{{900, 2400}, {1000, 5000}, {9, 17}, {1080, 1921}}

	for _, s := range sizes {
		w, h := s[0], s[1]
		r := CropRect(image.Rect(0, 0, w, h))

		assert.Equal(t, 0, r.Min.X, "%dx%d", w, h)
		assert.Equal(t, w, r.Dx(), "%dx%d", w, h)
		assert.Equal(t, w*16/9, r.Dy(), "%dx%d", w, h)

		top, bottom := r.Min.Y, h-r.Max.Y
		assert.LessOrEqual(t, abs(top-bottom), 1, "%dx%d: top=%d bottom=%d", w, h, top, bottom)
	}
}

func TestCropRect_ExactRatioUntouched(t *testing.T) {
	b := image.Rect(0, 0, 900, 1600)
	assert.Equal(t, b, CropRect(b))
}

func TestRenderStory_WideSource(t *testing.T) {
	// Only the green middle band survives a centered 9:16 crop.
	src := encodePNG(t, 1600, 900, func(x, _ int) color.Color {
		switch {
		case x < 400:
			return red
		case x >= 1200:
			return blue
		default:
			return green
		}
	})

	p := New(Options{})
	out, err := p.RenderStory(src, "", "")
	require.NoError(t, err)

	img := decode(t, out)
	require.Equal(t, image.Pt(StoryWidth, StoryHeight), img.Bounds().Size())

	for _, pt := range []image.Point{{5, 5}, {StoryWidth - 6, 5}, {5, StoryHeight - 6}, {StoryWidth - 6, StoryHeight - 6}} {
		assert.True(t, isGreen(img.At(pt.X, pt.Y)), "pixel %v is %v", pt, img.At(pt.X, pt.Y))
	}
}

func TestRenderStory_TallSource(t *testing.T) {
	src := encodePNG(t, 900, 2400, func(_, y int) color.Color {
		switch {
		case y < 300:
			return red
		case y >= 2100:
			return blue
		default:
			return green
		}
	})

	p := New(Options{})
	out, err := p.RenderStory(src, "", "")
	require.NoError(t, err)

	img := decode(t, out)
	require.Equal(t, image.Pt(StoryWidth, StoryHeight), img.Bounds().Size())
	assert.True(t, isGreen(img.At(StoryWidth/2, 3)))
	assert.True(t, isGreen(img.At(StoryWidth/2, StoryHeight-4)))
}

func TestRenderStory_CaptionOverlay(t *testing.T) {
	src := encodePNG(t, 540, 960, func(_, _ int) color.Color { return gray })
	band := image.Rect(0, StoryHeight-captionBaseline-100, StoryWidth, StoryHeight-captionBaseline+10)

	p := New(Options{})

	plain, err := p.RenderStory(src, "", "")
	require.NoError(t, err)
	plainImg := decode(t, plain)
	assert.Equal(t, image.Pt(StoryWidth, StoryHeight), plainImg.Bounds().Size())
	assert.Zero(t, countBright(plainImg, band))

	captioned, err := p.RenderStory(src, "Model X", "10000")
	require.NoError(t, err)
	captionedImg := decode(t, captioned)
	assert.Equal(t, image.Pt(StoryWidth, StoryHeight), captionedImg.Bounds().Size())
	assert.Greater(t, countBright(captionedImg, band), 500)

	// Nothing is drawn far above the caption.
	top := image.Rect(0, 0, StoryWidth, StoryHeight/2)
	assert.Zero(t, countBright(captionedImg, top))
}

func TestRenderStory_BitmapFallback(t *testing.T) {
	p := New(Options{})
	p.fonts = newFontSet(FileFont("/definitely/missing/font.ttf"))

	src := encodePNG(t, 90, 160, func(_, _ int) color.Color { return gray })

	out, err := p.RenderStory(src, "Model X", "10000")
	require.NoError(t, err)
	assert.Equal(t, image.Pt(StoryWidth, StoryHeight), decode(t, out).Bounds().Size())
	assert.Equal(t, "basicfont", p.fonts.Name())
}

func TestRenderStory_InvalidInput(t *testing.T) {
	p := New(Options{})

	_, err := p.RenderStory(nil, "a", "b")
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = p.RenderStory([]byte("not an image"), "a", "b")
	assert.Error(t, err)

	tiny := encodePNG(t, 1, 1, func(_, _ int) color.Color { return gray })
	_, err = p.RenderStory(tiny, "", "")
	assert.Error(t, err)
}

func TestFontSet_ResolvesFirstLoadable(t *testing.T) {
	fs := newFontSet(FileFont("/missing-1.ttf"), GoRegular, FileFont("/missing-2.ttf"))
	assert.Equal(t, "goregular", fs.Name())
	assert.NotEqual(t, basicfont.Face7x13, fs.Face(20))
}

func TestFontSet_FallsBackToBitmap(t *testing.T) {
	fs := newFontSet(FileFont("/missing.ttf"))
	assert.Equal(t, "basicfont", fs.Name())
	assert.Equal(t, basicfont.Face7x13, fs.Face(80))
}

func TestDefaultFontSources_EndsWithEmbedded(t *testing.T) {
	sources := DefaultFontSources([]string{"a.ttf", "b.ttf"})
	require.Len(t, sources, 3)
	assert.Equal(t, "a.ttf", sources[0].Name())
	assert.Equal(t, "goregular", sources[2].Name())
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
