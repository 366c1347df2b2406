//go:build govips && cgo

package transcode

import (
	"context"
	"fmt"
	"strings"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsTransformer struct{}

func newTransformer() (Transformer, error) {
	return govipsTransformer{}, nil
}

func (govipsTransformer) Open(input []byte) (Source, error) {
	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return &govipsSource{img: img}, nil
}

type govipsSource struct {
	img    *vips.ImageRef
	clones []*vips.ImageRef
}

func (s *govipsSource) Format() string {
	switch s.img.Format() {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypeGIF:
		return "gif"
	case vips.ImageTypeAVIF:
		return "avif"
	case vips.ImageTypePNG:
		return "png"
	default:
		return strings.ToLower(vips.ImageTypes[s.img.Format()])
	}
}

func (s *govipsSource) Width() int { return s.img.Width() }

func (s *govipsSource) Height() int { return s.img.Height() }

func (s *govipsSource) Animated() bool {
	return s.img.Pages() > 1
}

func (s *govipsSource) Preprocess(maxWidth int) error {
	if maxWidth <= 0 {
		return fmt.Errorf("max width must be positive, got %d", maxWidth)
	}

	// Uniform border trim. FindTrim returning the full frame or an
	// empty box means there is nothing to crop.
	left, top, width, height, err := s.img.FindTrim(10, nil)
	if err == nil && width > 0 && height > 0 &&
		(width < s.img.Width() || height < s.img.Height()) {
		if err := s.img.ExtractArea(left, top, width, height); err != nil {
			return fmt.Errorf("trim borders: %w", err)
		}
	}

	if s.img.Width() > maxWidth {
		scale := float64(maxWidth) / float64(s.img.Width())
		if err := s.img.Resize(scale, vips.KernelLanczos3); err != nil {
			return fmt.Errorf("resize to width=%d: %w", maxWidth, err)
		}
	}
	return nil
}

func (s *govipsSource) Encoder(codec string) (EncodeFunc, error) {
	// Each encoder gets its own copy so the race policy can run two
	// encodes concurrently without sharing libvips state.
	clone, err := s.img.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy pixel buffer: %w", err)
	}
	s.clones = append(s.clones, clone)

	codec = strings.ToLower(strings.TrimSpace(codec))
	contentType := contentTypeForCodec(codec)

	return func(ctx context.Context, quality int) (Candidate, error) {
		select {
		case <-ctx.Done():
			return Candidate{}, ctx.Err()
		default:
		}

		data, err := exportImage(clone, codec, quality)
		if err != nil {
			return Candidate{}, err
		}
		return Candidate{Data: data, ContentType: contentType}, nil
	}, nil
}

func (s *govipsSource) Close() {
	for _, clone := range s.clones {
		clone.Close()
	}
	s.clones = nil
	s.img.Close()
}

func exportImage(img *vips.ImageRef, codec string, quality int) ([]byte, error) {
	switch codec {
	case "avif":
		params := vips.NewAvifExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportAvif(params)
		if err != nil {
			return nil, fmt.Errorf("encode avif: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case "jpeg", "jpg":
		params := vips.NewJpegExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "png":
		params := vips.NewPngExportParams()
		params.Palette = true
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported codec: %s", codec)
	}
}
