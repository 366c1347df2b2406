package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	_ "golang.org/x/image/webp"
)

// stdlibTransformer is the portable backend used when the govips build
// tag is absent. It covers the stdlib codecs; avif and webp encoding
// require the govips build.
type stdlibTransformer struct{}

func (stdlibTransformer) Open(input []byte) (Source, error) {
	decoded, format, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	frames := 1
	if format == "gif" {
		if animation, err := gif.DecodeAll(bytes.NewReader(input)); err == nil {
			frames = len(animation.Image)
		}
	}

	return &stdlibSource{
		img:    decoded,
		format: format,
		frames: frames,
	}, nil
}

type stdlibSource struct {
	img    image.Image
	format string
	frames int
}

func (s *stdlibSource) Format() string { return s.format }

func (s *stdlibSource) Width() int { return s.img.Bounds().Dx() }

func (s *stdlibSource) Height() int { return s.img.Bounds().Dy() }

func (s *stdlibSource) Animated() bool { return s.frames > 1 }

func (s *stdlibSource) Preprocess(maxWidth int) error {
	if maxWidth <= 0 {
		return fmt.Errorf("max width must be positive, got %d", maxWidth)
	}

	trimmed := trimUniformBorders(s.img)
	if trimmed.Bounds().Dx() == 0 || trimmed.Bounds().Dy() == 0 {
		return errors.New("image is empty after border trim")
	}
	s.img = trimmed

	if s.img.Bounds().Dx() > maxWidth {
		resized, err := resizeToWidth(s.img, maxWidth)
		if err != nil {
			return err
		}
		s.img = resized
	}
	return nil
}

func (s *stdlibSource) Encoder(codec string) (EncodeFunc, error) {
	codec = strings.ToLower(strings.TrimSpace(codec))
	switch codec {
	case "jpeg", "jpg", "png":
	case "avif", "webp":
		return nil, fmt.Errorf("%s export requires govips build tag", codec)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", codec)
	}

	// image.Image is read-only, so a shallow reference is an
	// independent input for concurrent encodes.
	img := s.img
	contentType := contentTypeForCodec(codec)

	return func(ctx context.Context, quality int) (Candidate, error) {
		select {
		case <-ctx.Done():
			return Candidate{}, ctx.Err()
		default:
		}

		var buf bytes.Buffer
		switch codec {
		case "jpeg", "jpg":
			if quality <= 0 || quality > 100 {
				quality = defaultQuality
			}
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
				return Candidate{}, fmt.Errorf("encode jpeg: %w", err)
			}
		case "png":
			encoder := png.Encoder{CompressionLevel: png.BestCompression}
			if err := encoder.Encode(&buf, img); err != nil {
				return Candidate{}, fmt.Errorf("encode png: %w", err)
			}
		}
		return Candidate{Data: buf.Bytes(), ContentType: contentType}, nil
	}, nil
}

func (s *stdlibSource) Close() {}

// trimUniformBorders crops rows and columns whose pixels all match the
// top-left corner color.
func trimUniformBorders(src image.Image) image.Image {
	bounds := src.Bounds()
	if bounds.Dx() < 3 || bounds.Dy() < 3 {
		return src
	}

	border := src.At(bounds.Min.X, bounds.Min.Y)

	top := bounds.Min.Y
	for top < bounds.Max.Y-1 && rowUniform(src, top, border) {
		top++
	}
	bottom := bounds.Max.Y
	for bottom > top+1 && rowUniform(src, bottom-1, border) {
		bottom--
	}
	left := bounds.Min.X
	for left < bounds.Max.X-1 && colUniform(src, left, top, bottom, border) {
		left++
	}
	right := bounds.Max.X
	for right > left+1 && colUniform(src, right-1, top, bottom, border) {
		right--
	}

	if top == bounds.Min.Y && bottom == bounds.Max.Y && left == bounds.Min.X && right == bounds.Max.X {
		return src
	}

	cropped := image.NewRGBA(image.Rect(0, 0, right-left, bottom-top))
	draw.Draw(cropped, cropped.Bounds(), src, image.Pt(left, top), draw.Src)
	return cropped
}

func rowUniform(src image.Image, y int, want color.Color) bool {
	bounds := src.Bounds()
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		if !sameColor(src.At(x, y), want) {
			return false
		}
	}
	return true
}

func colUniform(src image.Image, x, top, bottom int, want color.Color) bool {
	for y := top; y < bottom; y++ {
		if !sameColor(src.At(x, y), want) {
			return false
		}
	}
	return true
}

func sameColor(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}

func resizeToWidth(src image.Image, width int) (image.Image, error) {
	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, errors.New("source image has invalid dimensions")
	}

	scale := float64(width) / float64(srcW)
	height := int(math.Round(float64(srcH) * scale))
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := srcBounds.Min.Y + (y*srcH)/height
		for x := 0; x < width; x++ {
			srcX := srcBounds.Min.X + (x*srcW)/width
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst, nil
}
