package imaging

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	HeaderHeight = 80
	ImageOffsetY = 60

	MaxCaptionLength = 50

	captionX        = 10
	captionY        = 10
	captionFontSize = 24
)

var ErrEmptyImageSet = errors.New("no images to compose")

var (
	fallbackFont     *truetype.Font
	fallbackFontErr  error
	fallbackFontOnce sync.Once
)

// Renderer lays thumbnails side by side under a caption band.
type Renderer struct {
	fontPath string
	fontSize float64
}

func NewRenderer(fontPath string) *Renderer {
	return &Renderer{fontPath: fontPath, fontSize: captionFontSize}
}

// TruncateCaption shortens text to MaxCaptionLength runes, marking the cut with an ellipsis.
func TruncateCaption(text string) string {
	if utf8.RuneCountInString(text) <= MaxCaptionLength {
		return text
	}
	return string([]rune(text)[:MaxCaptionLength]) + "..."
}

// Compose builds the composite in memory. Images are pasted left to right in
// the given order at ImageOffsetY; the canvas is as wide as all of them and
// HeaderHeight taller than the tallest.
func (r *Renderer) Compose(images []image.Image, caption string) (image.Image, error) {
	if len(images) == 0 {
		return nil, ErrEmptyImageSet
	}

	width, height := 0, 0
	for _, img := range images {
		b := img.Bounds()
		width += b.Dx()
		height = max(height, b.Dy())
	}
	height += HeaderHeight

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	x := 0
	for _, img := range images {
		b := img.Bounds()
		dc.DrawImage(img, x-b.Min.X, ImageOffsetY-b.Min.Y)
		x += b.Dx()
	}

	face, err := r.face()
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(TruncateCaption(caption), captionX, captionY, 0, 1)

	return dc.Image(), nil
}

// Render loads the images at paths, composes them and writes a JPEG to output.
// Nothing is written unless every input decodes.
func (r *Renderer) Render(paths []string, caption, output string) (image.Rectangle, error) {
	if len(paths) == 0 {
		return image.Rectangle{}, ErrEmptyImageSet
	}
	images := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := Load(p)
		if err != nil {
			return image.Rectangle{}, err
		}
		images = append(images, img)
	}

	composite, err := r.Compose(images, caption)
	if err != nil {
		return image.Rectangle{}, err
	}
	if err := Save(output, composite); err != nil {
		return image.Rectangle{}, err
	}
	slog.Debug("rendered composite", "images", len(images), "output", output)
	return composite.Bounds(), nil
}

func (r *Renderer) face() (font.Face, error) {
	if r.fontPath != "" {
		face, err := gg.LoadFontFace(r.fontPath, r.fontSize)
		if err == nil {
			return face, nil
		}
		slog.Debug("preferred font unavailable, using default", "path", r.fontPath, "error", err)
	}

	fallbackFontOnce.Do(func() {
		fallbackFont, fallbackFontErr = truetype.Parse(goregular.TTF)
	})
	if fallbackFontErr != nil {
		return nil, fmt.Errorf("parse font: %w", fallbackFontErr)
	}
	return truetype.NewFace(fallbackFont, &truetype.Options{Size: r.fontSize}), nil
}
