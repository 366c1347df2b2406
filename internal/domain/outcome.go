package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	PolicySingle     = "single"
	PolicyRace       = "race"
	PolicyTargetSize = "target_size"

	CodecAVIF = "avif"
	CodecWebP = "webp"
	CodecJPEG = "jpeg"
	CodecPNG  = "png"

	FallbackRedirect    = "redirect"
	FallbackPlaceholder = "placeholder"

	DecisionOptimized   = "optimized"
	DecisionPassthrough = "passthrough"
)

// TranscodeOptions parameterizes one pipeline invocation. Every knob the
// pipeline reads lives here so behavior can be varied per deployment or
// per test without rebuilding.
type TranscodeOptions struct {
	MaxInputBytes int64
	FetchTimeout  time.Duration
	MaxWidth      int
	Policy        string
	Codec         string
	Quality       int
	TargetBytes   int
}

func (o TranscodeOptions) Validate() error {
	if o.MaxInputBytes <= 0 {
		return errors.New("max input bytes must be positive")
	}
	if o.FetchTimeout <= 0 {
		return errors.New("fetch timeout must be positive")
	}
	if o.MaxWidth <= 0 {
		return errors.New("max width must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(o.Policy)) {
	case PolicySingle:
		switch strings.ToLower(strings.TrimSpace(o.Codec)) {
		case CodecAVIF, CodecWebP, CodecJPEG, CodecPNG:
		default:
			return fmt.Errorf("unsupported codec: %s", o.Codec)
		}
		if o.Quality < 1 || o.Quality > 100 {
			return fmt.Errorf("quality must be in [1,100], got %d", o.Quality)
		}
	case PolicyRace:
		if o.Quality < 1 || o.Quality > 100 {
			return fmt.Errorf("quality must be in [1,100], got %d", o.Quality)
		}
	case PolicyTargetSize:
		if o.TargetBytes <= 0 {
			return errors.New("target bytes must be positive for target_size policy")
		}
	default:
		return fmt.Errorf("unsupported policy: %s", o.Policy)
	}
	return nil
}

// Outcome is the result of a successful pipeline run: either an optimized
// rendition or the original bytes passed through unchanged. The optimized
// decision is only valid when OptimizedSize < OriginalSize.
type Outcome struct {
	Decision      string
	Bytes         []byte
	ContentType   string
	OriginalSize  int
	OptimizedSize int
	SourceFormat  string
	Width         int
	Height        int
	Elapsed       time.Duration
}

func (o Outcome) Optimized() bool {
	return o.Decision == DecisionOptimized
}
