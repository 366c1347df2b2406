package transcode

import (
	"context"
	"errors"
	"fmt"
)

const (
	minSearchQuality = 5
	maxSearchQuality = 100
	maxSearchProbes  = 8
	defaultQuality   = 75
)

// EncodeSingle runs one deterministic encode at a fixed quality.
func EncodeSingle(ctx context.Context, enc EncodeFunc, quality int) (Candidate, error) {
	if enc == nil {
		return Candidate{}, errors.New("encoder is required")
	}
	if quality < 1 || quality > 100 {
		quality = defaultQuality
	}
	return enc(ctx, quality)
}

// EncodeRace runs both encoders concurrently at the same quality and
// returns the smaller output. Both encodes are joined before the
// comparison; ties go to the first encoder so repeat invocations stay
// deterministic.
func EncodeRace(ctx context.Context, first, second EncodeFunc, quality int) (Candidate, error) {
	if first == nil || second == nil {
		return Candidate{}, errors.New("both encoders are required")
	}
	if quality < 1 || quality > 100 {
		quality = defaultQuality
	}

	type encodeResult struct {
		candidate Candidate
		err       error
	}

	secondCh := make(chan encodeResult, 1)
	go func() {
		candidate, err := second(ctx, quality)
		secondCh <- encodeResult{candidate: candidate, err: err}
	}()

	firstOut, firstErr := first(ctx, quality)
	secondOut := <-secondCh

	if firstErr != nil {
		return Candidate{}, fmt.Errorf("first encoder: %w", firstErr)
	}
	if secondOut.err != nil {
		return Candidate{}, fmt.Errorf("second encoder: %w", secondOut.err)
	}

	if len(secondOut.candidate.Data) < len(firstOut.Data) {
		return secondOut.candidate, nil
	}
	return firstOut, nil
}

// EncodeToTarget binary-searches quality in [5,100] for the highest
// quality whose encoded size fits targetBytes, capped at 8 probes. When
// even the minimum quality misses the budget the minimum-quality result
// is returned as a best effort rather than an error.
func EncodeToTarget(ctx context.Context, enc EncodeFunc, targetBytes int) (Candidate, error) {
	if enc == nil {
		return Candidate{}, errors.New("encoder is required")
	}
	if targetBytes <= 0 {
		return Candidate{}, fmt.Errorf("target bytes must be positive, got %d", targetBytes)
	}

	var (
		best     Candidate
		haveBest bool
		smallest Candidate
		haveMin  bool
	)

	lo, hi := minSearchQuality, maxSearchQuality
	for probe := 0; probe < maxSearchProbes && lo <= hi; probe++ {
		quality := (lo + hi) / 2

		candidate, err := enc(ctx, quality)
		if err != nil {
			return Candidate{}, fmt.Errorf("encode at quality=%d: %w", quality, err)
		}

		if len(candidate.Data) <= targetBytes {
			// Fits: remember it and look for a higher quality that
			// still fits.
			best = candidate
			haveBest = true
			lo = quality + 1
		} else {
			if !haveMin || len(candidate.Data) < len(smallest.Data) {
				smallest = candidate
				haveMin = true
			}
			hi = quality - 1
		}
	}

	if haveBest {
		return best, nil
	}
	if haveMin {
		return smallest, nil
	}
	return Candidate{}, errors.New("target size search produced no candidates")
}
