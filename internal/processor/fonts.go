package processor

import (
	"os"
	"sync"

	"github.com/golang/freetype/truetype"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
)

// FontSource is a candidate TrueType font.
type FontSource interface {
	Name() string
	Load() (*truetype.Font, error)
}

// FileFont loads a TrueType font from the filesystem.
type FileFont string

func (f FileFont) Name() string { return string(f) }

func (f FileFont) Load() (*truetype.Font, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, err
	}

	return truetype.Parse(data)
}

// EmbeddedFont is a TrueType font compiled into the binary.
type EmbeddedFont struct {
	Label string
	Data  []byte
}

func (f EmbeddedFont) Name() string { return f.Label }

func (f EmbeddedFont) Load() (*truetype.Font, error) {
	return truetype.Parse(f.Data)
}

// GoRegular is the Go project's sans-serif font.
var GoRegular = EmbeddedFont{Label: "goregular", Data: goregular.TTF}

// DefaultFontSources returns the files in paths followed by GoRegular.
func DefaultFontSources(paths []string) []FontSource {
	sources := make([]FontSource, 0, len(paths)+1)
	for _, p := range paths {
		sources = append(sources, FileFont(p))
	}

	return append(sources, GoRegular)
}

// fontSet resolves the first loadable source once and hands out faces.
// When no source loads, the 7x13 bitmap face is used.
type fontSet struct {
	sources []FontSource

	once sync.Once
	font *truetype.Font
	name string
}

func newFontSet(sources ...FontSource) *fontSet {
	return &fontSet{sources: sources}
}

func (s *fontSet) resolve() {
	s.once.Do(func() {
		for _, src := range s.sources {
			f, err := src.Load()
			if err != nil {
				zlog.Logger.Debug().Err(err).Str("font", src.Name()).Msg("font unavailable")
				continue
			}

			s.font, s.name = f, src.Name()
			zlog.Logger.Info().Str("font", s.name).Msg("using font")
			return
		}

		s.name = "basicfont"
		zlog.Logger.Warn().Msg("no font available, falling back to bitmap font")
	})
}

// Name returns the resolved font name.
func (s *fontSet) Name() string {
	s.resolve()
	return s.name
}

// Face returns a new face of the given size. Truetype faces cache glyphs
// and are not safe for concurrent use, so each render gets its own.
func (s *fontSet) Face(points float64) font.Face {
	s.resolve()

	if s.font == nil {
		return basicfont.Face7x13
	}

	return truetype.NewFace(s.font, &truetype.Options{Size: points})
}

