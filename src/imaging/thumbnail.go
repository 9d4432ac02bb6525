package imaging

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

const (
	ThumbnailWidth  = 128
	ThumbnailHeight = 128

	jpegQuality = 90
)

// Fit returns the largest size not exceeding maxW x maxH that keeps the
// aspect ratio of w x h. Images already inside the box are never enlarged.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return max(nw, 1), max(nh, 1)
}

// Thumbnail scales img down to fit the thumbnail box.
func Thumbnail(img image.Image) image.Image {
	b := img.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), ThumbnailWidth, ThumbnailHeight)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// MakeThumbnail reads the image at src and writes its thumbnail to dst,
// encoded after dst's extension.
func MakeThumbnail(src, dst string) (image.Rectangle, error) {
	img, err := Load(src)
	if err != nil {
		return image.Rectangle{}, err
	}
	thumb := Thumbnail(img)
	if err := Save(dst, thumb); err != nil {
		return image.Rectangle{}, err
	}
	return thumb.Bounds(), nil
}

// Load decodes a png, jpeg or gif file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Save encodes img after the extension of path. The file is written next to
// its destination first and renamed into place.
func Save(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		err = png.Encode(tmp, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(tmp, img, &jpeg.Options{Quality: jpegQuality})
	case ".gif":
		err = gif.Encode(tmp, img, nil)
	default:
		err = fmt.Errorf("unsupported format %q", ext)
	}
	if err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move output file: %w", err)
	}
	return nil
}
