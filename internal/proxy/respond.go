package proxy

import (
	"net/http"
	"strconv"

	"github.com/dunamismax/pixelpress/internal/domain"
)

const (
	headerStatus        = "X-Pixelpress-Status"
	headerOriginalSize  = "X-Pixelpress-Original-Size"
	headerOptimizedSize = "X-Pixelpress-Optimized-Size"

	// Long-lived shared caching with background revalidation; the
	// decision is deterministic for a given source, so stale serves are
	// harmless.
	successCacheControl = "public, max-age=31536000, stale-while-revalidate=86400"
)

func writeImage(w http.ResponseWriter, outcome domain.Outcome) {
	w.Header().Set("Content-Type", outcome.ContentType)
	w.Header().Set("Cache-Control", successCacheControl)
	w.Header().Set(headerStatus, outcome.Decision)
	w.Header().Set(headerOriginalSize, strconv.Itoa(outcome.OriginalSize))
	if outcome.Optimized() {
		w.Header().Set(headerOptimizedSize, strconv.Itoa(outcome.OptimizedSize))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(outcome.Bytes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(outcome.Bytes)
}

// writeFallback degrades per the configured policy: redirect to the
// source, or serve the embedded placeholder with a 200 so client-side
// image elements still render something.
func (s *Server) writeFallback(w http.ResponseWriter, r *http.Request, sourceURL string, kind domain.FailureKind) {
	switch s.fallbackPolicy {
	case domain.FallbackPlaceholder:
		w.Header().Set("Content-Type", placeholderContentType)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set(headerStatus, string(kind))
		w.Header().Set("Content-Length", strconv.Itoa(len(placeholderPNG)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(placeholderPNG)
	default:
		w.Header().Set(headerStatus, string(kind))
		http.Redirect(w, r, sourceURL, http.StatusFound)
	}
}

type debugReport struct {
	Decision      string `json:"decision"`
	SourceURL     string `json:"source_url"`
	ContentType   string `json:"content_type,omitempty"`
	OriginalSize  int    `json:"original_size,omitempty"`
	OptimizedSize int    `json:"optimized_size,omitempty"`
	SourceFormat  string `json:"source_format,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	ElapsedMS     int64  `json:"elapsed_ms"`
	Failure       string `json:"failure,omitempty"`
}

func (s *Server) writeDebugOutcome(w http.ResponseWriter, sourceURL string, outcome domain.Outcome) {
	writeJSON(w, http.StatusOK, debugReport{
		Decision:      outcome.Decision,
		SourceURL:     sourceURL,
		ContentType:   outcome.ContentType,
		OriginalSize:  outcome.OriginalSize,
		OptimizedSize: outcome.OptimizedSize,
		SourceFormat:  outcome.SourceFormat,
		Width:         outcome.Width,
		Height:        outcome.Height,
		ElapsedMS:     outcome.Elapsed.Milliseconds(),
	})
}

func (s *Server) writeDebugFailure(w http.ResponseWriter, sourceURL string, kind domain.FailureKind) {
	writeJSON(w, http.StatusOK, debugReport{
		Decision:  "fallback",
		SourceURL: sourceURL,
		Failure:   string(kind),
	})
}
