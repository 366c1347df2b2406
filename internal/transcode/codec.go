package transcode

import (
	"context"
	"strings"
)

// Candidate is one encoded rendition produced by a codec backend.
type Candidate struct {
	Data        []byte
	ContentType string
}

// EncodeFunc produces a rendition of a fixed pixel buffer at the given
// quality. Implementations must be safe to call concurrently with other
// EncodeFuncs built from the same source: each one owns an independent
// copy of the pixels.
type EncodeFunc func(ctx context.Context, quality int) (Candidate, error)

// Transformer decodes raw image bytes into a Source the policies can
// preprocess and encode. The govips build supplies the real backend;
// the portable build covers the stdlib-codec subset.
type Transformer interface {
	Open(input []byte) (Source, error)
}

// Source is a decoded single owner of pixel data. Not safe for
// concurrent use; Encoder hands out independent copies for that.
type Source interface {
	Format() string
	Width() int
	Height() int
	Animated() bool

	// Preprocess trims uniform-color borders and resizes down-only to
	// at most maxWidth, preserving aspect ratio. Never upscales.
	Preprocess(maxWidth int) error

	// Encoder returns an EncodeFunc for the codec, bound to an
	// independent copy of the current pixel buffer.
	Encoder(codec string) (EncodeFunc, error)

	Close()
}

func contentTypeForCodec(codec string) string {
	switch strings.ToLower(strings.TrimSpace(codec)) {
	case "avif":
		return "image/avif"
	case "webp":
		return "image/webp"
	case "jpeg", "jpg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// ExtensionForContentType maps a winning content-type back to a file
// extension for stored outputs.
func ExtensionForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/avif":
		return "avif"
	case "image/webp":
		return "webp"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
