package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/fetch"
	"github.com/dunamismax/pixelpress/internal/transcode"
)

// Fetcher retrieves the source image. The pipeline bounds the call with
// the configured fetch timeout.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Result, error)
}

// Pipeline is the transcode decision pipeline: fetch, guard, transcode,
// compare. Each invocation is independent; nothing is shared or cached
// between calls.
type Pipeline struct {
	fetcher     Fetcher
	transformer transcode.Transformer
}

func New(fetcher Fetcher, transformer transcode.Transformer) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if transformer == nil {
		return nil, errors.New("transformer is required")
	}
	return &Pipeline{fetcher: fetcher, transformer: transformer}, nil
}

// Process runs one decision: fetch the source, skip animations, produce
// candidate encodings per the configured policy, and return the smaller
// of {original, recompressed}. Every error it returns is a
// *domain.Failure; partial work is discarded, never served.
func (p *Pipeline) Process(ctx context.Context, rawURL string, opts domain.TranscodeOptions) (domain.Outcome, error) {
	start := time.Now()

	if err := opts.Validate(); err != nil {
		return domain.Outcome{}, domain.NewFailure(domain.FailureEncode, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, opts.FetchTimeout)
	defer cancel()

	fetched, err := p.fetcher.Fetch(fetchCtx, rawURL)
	if err != nil {
		return domain.Outcome{}, err
	}

	src, err := p.transformer.Open(fetched.Body)
	if err != nil {
		return domain.Outcome{}, domain.NewFailure(domain.FailureDecode, err)
	}
	defer src.Close()

	outcome := domain.Outcome{
		Decision:     domain.DecisionPassthrough,
		Bytes:        fetched.Body,
		ContentType:  fetched.ContentType,
		OriginalSize: len(fetched.Body),
		SourceFormat: src.Format(),
		Width:        src.Width(),
		Height:       src.Height(),
	}

	// Animations pass through untouched: recompressing frame by frame
	// is out of scope and risks corrupting the animation.
	if src.Animated() {
		outcome.Elapsed = time.Since(start)
		return outcome, nil
	}

	if err := src.Preprocess(opts.MaxWidth); err != nil {
		return domain.Outcome{}, domain.NewFailure(domain.FailureDecode, err)
	}

	candidate, err := p.encode(ctx, src, opts)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Outcome{}, domain.NewFailure(domain.FailureTimeout, ctx.Err())
		}
		return domain.Outcome{}, domain.NewFailure(domain.FailureEncode, err)
	}

	// The recompressed rendition only wins when it is strictly smaller.
	if len(candidate.Data) < len(fetched.Body) {
		outcome.Decision = domain.DecisionOptimized
		outcome.Bytes = candidate.Data
		outcome.ContentType = candidate.ContentType
		outcome.OptimizedSize = len(candidate.Data)
	}

	outcome.Elapsed = time.Since(start)
	return outcome, nil
}

func (p *Pipeline) encode(ctx context.Context, src transcode.Source, opts domain.TranscodeOptions) (transcode.Candidate, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Policy)) {
	case domain.PolicySingle:
		enc, err := src.Encoder(opts.Codec)
		if err != nil {
			return transcode.Candidate{}, err
		}
		return transcode.EncodeSingle(ctx, enc, opts.Quality)

	case domain.PolicyRace:
		avif, err := src.Encoder(domain.CodecAVIF)
		if err != nil {
			return transcode.Candidate{}, err
		}
		webp, err := src.Encoder(domain.CodecWebP)
		if err != nil {
			return transcode.Candidate{}, err
		}
		return transcode.EncodeRace(ctx, avif, webp, opts.Quality)

	case domain.PolicyTargetSize:
		codec := opts.Codec
		if codec == "" {
			codec = domain.CodecWebP
		}
		enc, err := src.Encoder(codec)
		if err != nil {
			return transcode.Candidate{}, err
		}
		return transcode.EncodeToTarget(ctx, enc, opts.TargetBytes)

	default:
		return transcode.Candidate{}, errors.New("unsupported policy: " + opts.Policy)
	}
}
