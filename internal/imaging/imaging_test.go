package imaging

import (
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"idmark/internal/services"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func sameColor(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

var (
	white = color.RGBA{255, 255, 255, 255}
	red   = color.RGBA{255, 0, 0, 255}
)

func TestCompositePlacesWatermarkBottomLeft(t *testing.T) {
	base := solid(300, 300, white)
	mark := solid(30, 20, red)

	out := NewCompositor(10).Composite(base, mark)

	if !sameColor(out.At(10, 300-10-20), red) {
		t.Fatal("expected watermark top-left corner at (10, 270)")
	}
	if !sameColor(out.At(39, 289), red) {
		t.Fatal("expected watermark bottom-right corner at (39, 289)")
	}
	for _, pt := range []image.Point{{9, 280}, {40, 280}, {20, 269}, {20, 290}, {150, 150}} {
		if !sameColor(out.At(pt.X, pt.Y), white) {
			t.Fatalf("pixel %v should be untouched", pt)
		}
	}
	if !sameColor(base.At(20, 280), white) {
		t.Fatal("Composite must not modify the base image")
	}
}

func TestCompositeShrinksOversizedWatermark(t *testing.T) {
	base := solid(300, 300, white)
	mark := solid(600, 300, red)

	out := NewCompositor(0).Composite(base, mark)

	// 600x300 bounded by 100x100 keeps its 2:1 aspect: 100x50.
	if r, g, _, _ := out.At(50, 275).RGBA(); r < 0xf000 || g > 0x1000 {
		t.Fatal("expected resized watermark inside the bottom-left 100x50 box")
	}
	if !sameColor(out.At(120, 290), white) || !sameColor(out.At(50, 240), white) {
		t.Fatal("resized watermark exceeds a third of the base")
	}
}

func TestCompositeBlendsTransparency(t *testing.T) {
	base := solid(90, 90, white)
	mark := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	out := NewCompositor(0).Composite(base, mark)
	if !sameColor(out.At(5, 85), white) {
		t.Fatal("fully transparent watermark should leave the base visible")
	}
}

func TestWatermarkFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.png")
	writePNG(t, src, solid(120, 90, white))
	dst := filepath.Join(dir, "out", "photo.png")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := NewCompositor(DefaultMargin).WatermarkFile(src, dst, solid(12, 12, red)); err != nil {
		t.Fatalf("WatermarkFile returned error: %v", err)
	}
	got, err := Decode(dst)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got.Bounds().Dx() != 120 || got.Bounds().Dy() != 90 {
		t.Fatalf("output size changed: %v", got.Bounds())
	}
	if !sameColor(got.At(15, 72), red) {
		t.Fatal("expected watermark in output file")
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "out", ".photo.png.*"))
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestWatermarkFileRejectsForeignFormats(t *testing.T) {
	err := NewCompositor(0).WatermarkFile("/drop/IMG_1.HEIC", "/tmp/out.heic", solid(1, 1, red))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestCanRender(t *testing.T) {
	for path, want := range map[string]bool{
		"a.JPG": true, "a.jpeg": true, "a.png": true, "a.bmp": true, "a.tif": true,
		"a.webp": false, "a.heic": false, "a.cr2": false, "a.svg": false,
	} {
		if got := CanRender(path); got != want {
			t.Fatalf("CanRender(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLoadWatermarkMissingIsPrecondition(t *testing.T) {
	_, err := LoadWatermark(filepath.Join(t.TempDir(), "watermark.png"))
	if !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition failure, got %v", err)
	}

	junk := filepath.Join(t.TempDir(), "watermark.png")
	if err := os.WriteFile(junk, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadWatermark(junk); !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition failure for undecodable asset, got %v", err)
	}
}

func TestFrameCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.gif")
	anim := &gif.GIF{}
	for i := 0; i < 3; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 4, 4), palette.Plan9)
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 10)
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := gif.EncodeAll(file, anim); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	file.Close()

	n, err := FrameCount(path)
	if err != nil || n != 3 {
		t.Fatalf("FrameCount = %d, %v; want 3", n, err)
	}
	if _, err := FrameCount(filepath.Join(t.TempDir(), "missing.gif")); !errors.Is(err, services.ErrMetadata) {
		t.Fatalf("expected metadata error, got %v", err)
	}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}
