package transcode

import (
	"context"
	"sync/atomic"
	"testing"
)

// syntheticEncoder builds an EncodeFunc whose output length is derived
// from the quality by sizeFor.
func syntheticEncoder(contentType string, probes *int32, sizeFor func(quality int) int) EncodeFunc {
	return func(_ context.Context, quality int) (Candidate, error) {
		if probes != nil {
			atomic.AddInt32(probes, 1)
		}
		return Candidate{
			Data:        make([]byte, sizeFor(quality)),
			ContentType: contentType,
		}, nil
	}
}

func TestEncodeRacePicksSmaller(t *testing.T) {
	avif := syntheticEncoder("image/avif", nil, func(int) int { return 100 })
	webp := syntheticEncoder("image/webp", nil, func(int) int { return 120 })

	winner, err := EncodeRace(context.Background(), avif, webp, 75)
	if err != nil {
		t.Fatalf("race returned error: %v", err)
	}
	if len(winner.Data) != 100 {
		t.Fatalf("expected 100-byte winner, got %d", len(winner.Data))
	}
	if winner.ContentType != "image/avif" {
		t.Fatalf("expected image/avif winner, got %s", winner.ContentType)
	}
}

func TestEncodeRaceTieGoesToFirst(t *testing.T) {
	avif := syntheticEncoder("image/avif", nil, func(int) int { return 100 })
	webp := syntheticEncoder("image/webp", nil, func(int) int { return 100 })

	winner, err := EncodeRace(context.Background(), avif, webp, 75)
	if err != nil {
		t.Fatalf("race returned error: %v", err)
	}
	if winner.ContentType != "image/avif" {
		t.Fatalf("expected deterministic tie-break on first encoder, got %s", winner.ContentType)
	}
}

func TestEncodeToTargetFindsHighestFittingQuality(t *testing.T) {
	// Size strictly decreases as quality drops: quality*10 bytes.
	var probes int32
	enc := syntheticEncoder("image/webp", &probes, func(quality int) int { return quality * 10 })

	candidate, err := EncodeToTarget(context.Background(), enc, 600)
	if err != nil {
		t.Fatalf("target search returned error: %v", err)
	}
	if len(candidate.Data) != 600 {
		t.Fatalf("expected the quality-60 rendition (600 bytes), got %d", len(candidate.Data))
	}
	if probes > 8 {
		t.Fatalf("expected at most 8 probes, got %d", probes)
	}
}

func TestEncodeToTargetReturnsMinimumQualityBestEffort(t *testing.T) {
	// Even quality 5 produces 5000 bytes, well over a 100-byte target.
	var probes int32
	enc := syntheticEncoder("image/webp", &probes, func(quality int) int { return quality * 1000 })

	candidate, err := EncodeToTarget(context.Background(), enc, 100)
	if err != nil {
		t.Fatalf("expected best-effort result, got error: %v", err)
	}
	if len(candidate.Data) != 5*1000 {
		t.Fatalf("expected the minimum-quality rendition, got %d bytes", len(candidate.Data))
	}
	if probes > 8 {
		t.Fatalf("expected at most 8 probes, got %d", probes)
	}
}

func TestEncodeSingleClampsQuality(t *testing.T) {
	var gotQuality int
	enc := func(_ context.Context, quality int) (Candidate, error) {
		gotQuality = quality
		return Candidate{Data: []byte{1}, ContentType: "image/webp"}, nil
	}

	if _, err := EncodeSingle(context.Background(), enc, 0); err != nil {
		t.Fatalf("single encode returned error: %v", err)
	}
	if gotQuality != defaultQuality {
		t.Fatalf("expected default quality %d for out-of-range input, got %d", defaultQuality, gotQuality)
	}
}
