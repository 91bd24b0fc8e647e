package imaging

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"idmark/internal/fileutil"
	"idmark/internal/services"
)

const (
	// DefaultMargin is the watermark offset from the left and bottom edges.
	DefaultMargin = 10
	jpegQuality   = 95
)

// ErrUnsupportedFormat reports a still the in-process encoder cannot write.
var ErrUnsupportedFormat = errors.New("format not supported by native compositor")

var nativeFormats = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".bmp":  "bmp",
	".tif":  "tiff",
	".tiff": "tiff",
}

// CanRender reports whether path can be decoded and re-encoded in process.
func CanRender(path string) bool {
	_, ok := nativeFormats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Compositor stamps a watermark onto images.
type Compositor struct {
	Margin int
}

// NewCompositor returns a compositor with the given margin; negative values
// use DefaultMargin.
func NewCompositor(margin int) Compositor {
	if margin < 0 {
		margin = DefaultMargin
	}
	return Compositor{Margin: margin}
}

// Composite returns a copy of base with watermark blended bottom-left. The
// watermark is shrunk, keeping its aspect ratio, only when it is wider or
// taller than a third of base.
func (c Compositor) Composite(base, watermark image.Image) *image.RGBA {
	bounds := base.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, base, bounds.Min, draw.Src)
	if watermark == nil {
		return dst
	}

	mark := fitWatermark(watermark, bounds.Dx()/3, bounds.Dy()/3)
	mb := mark.Bounds()
	origin := image.Pt(bounds.Min.X+c.Margin, bounds.Max.Y-mb.Dy()-c.Margin)
	target := image.Rectangle{Min: origin, Max: origin.Add(mb.Size())}
	draw.Draw(dst, target, mark, mb.Min, draw.Over)
	return dst
}

func fitWatermark(mark image.Image, maxW, maxH int) image.Image {
	if maxW <= 0 || maxH <= 0 {
		return mark
	}
	b := mark.Bounds()
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return mark
	}
	return resize.Thumbnail(uint(maxW), uint(maxH), mark, resize.Lanczos3)
}

// WatermarkFile decodes src, composites watermark, and writes dst in the
// same format as src.
func (c Compositor) WatermarkFile(src, dst string, watermark image.Image) error {
	format, ok := nativeFormats[strings.ToLower(filepath.Ext(src))]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(src))
	}
	base, err := Decode(src)
	if err != nil {
		return err
	}
	return Encode(dst, c.Composite(base, watermark), format)
}

// Decode reads any registered image format.
func Decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrPrecondition, "", "decode", path, err)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(bufio.NewReader(file))
	if err != nil {
		return nil, services.Wrap(services.ErrMetadata, "", "decode", path, err)
	}
	return img, nil
}

// LoadWatermark decodes the watermark asset. Any failure is a precondition
// failure for the whole run.
func LoadWatermark(path string) (image.Image, error) {
	img, err := Decode(path)
	if err != nil {
		return nil, services.Wrap(services.ErrPrecondition, "", "load watermark", path, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, services.Wrap(services.ErrPrecondition, "", "load watermark", "empty image "+path, nil)
	}
	return img, nil
}

// Encode writes img to path in format (jpeg, png, bmp, tiff). The file is
// written beside path and renamed into place so readers never see a partial
// image.
func Encode(path string, img image.Image, format string) error {
	err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		switch format {
		case "jpeg":
			return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
		case "png":
			return png.Encode(w, img)
		case "bmp":
			return bmp.Encode(w, img)
		case "tiff":
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
		}
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

// FrameCount returns the number of frames in a GIF.
func FrameCount(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, services.Wrap(services.ErrMetadata, "", "frame count", path, err)
	}
	defer file.Close()

	anim, err := gif.DecodeAll(bufio.NewReader(file))
	if err != nil {
		return 0, services.Wrap(services.ErrMetadata, "", "frame count", path, err)
	}
	return len(anim.Image), nil
}
