package transcode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"
)

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func buildAnimatedGIF(t *testing.T, frames int) []byte {
	t.Helper()

	palette := color.Palette{color.White, color.Black}
	animation := &gif.GIF{}
	for i := 0; i < frames; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 8), palette)
		frame.SetColorIndex(i%8, i%8, 1)
		animation.Image = append(animation.Image, frame)
		animation.Delay = append(animation.Delay, 10)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, animation); err != nil {
		t.Fatalf("encode test gif: %v", err)
	}
	return buf.Bytes()
}

func TestStdlibOpenDetectsAnimation(t *testing.T) {
	transformer := stdlibTransformer{}

	src, err := transformer.Open(buildAnimatedGIF(t, 3))
	if err != nil {
		t.Fatalf("open animated gif: %v", err)
	}
	defer src.Close()
	if !src.Animated() {
		t.Fatal("expected multi-frame gif to report animated")
	}

	still, err := transformer.Open(buildTestPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer still.Close()
	if still.Animated() {
		t.Fatal("expected single-frame png to report not animated")
	}
}

func TestStdlibPreprocessResizesDownOnly(t *testing.T) {
	transformer := stdlibTransformer{}

	src, err := transformer.Open(buildTestPNG(t, 200, 100))
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer src.Close()

	if err := src.Preprocess(80); err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if src.Width() != 80 {
		t.Fatalf("expected width 80 after resize, got %d", src.Width())
	}
	if src.Height() != 40 {
		t.Fatalf("expected aspect-preserving height 40, got %d", src.Height())
	}

	small, err := transformer.Open(buildTestPNG(t, 50, 25))
	if err != nil {
		t.Fatalf("open small png: %v", err)
	}
	defer small.Close()

	if err := small.Preprocess(80); err != nil {
		t.Fatalf("preprocess small: %v", err)
	}
	if small.Width() != 50 {
		t.Fatalf("expected no upscale, got width %d", small.Width())
	}
}

func TestTrimUniformBorders(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	white := color.RGBA{255, 255, 255, 255}
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, white)
		}
	}
	// 8x8 content block offset inside a white frame.
	for y := 6; y < 14; y++ {
		for x := 6; x < 14; x++ {
			img.Set(x, y, color.RGBA{10, 20, 30, 255})
		}
	}

	trimmed := trimUniformBorders(img)
	if trimmed.Bounds().Dx() != 8 || trimmed.Bounds().Dy() != 8 {
		t.Fatalf("expected 8x8 after trim, got %dx%d", trimmed.Bounds().Dx(), trimmed.Bounds().Dy())
	}
}

func TestTrimUniformBordersKeepsNonUniformImage(t *testing.T) {
	src := buildTestPNG(t, 16, 16)
	transformer := stdlibTransformer{}
	opened, err := transformer.Open(src)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer opened.Close()

	if err := opened.Preprocess(100); err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if opened.Width() != 16 || opened.Height() != 16 {
		t.Fatalf("expected gradient image untouched, got %dx%d", opened.Width(), opened.Height())
	}
}

func TestStdlibEncoderCodecSupport(t *testing.T) {
	transformer := stdlibTransformer{}
	src, err := transformer.Open(buildTestPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer src.Close()

	enc, err := src.Encoder("jpeg")
	if err != nil {
		t.Fatalf("jpeg encoder: %v", err)
	}
	candidate, err := enc(context.Background(), 80)
	if err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	if candidate.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", candidate.ContentType)
	}
	if len(candidate.Data) == 0 {
		t.Fatal("expected non-empty jpeg output")
	}

	if _, err := src.Encoder("webp"); err == nil {
		t.Fatal("expected webp encoder to require the govips build")
	}
	if _, err := src.Encoder("bmp"); err == nil {
		t.Fatal("expected error for unsupported codec")
	}
}
