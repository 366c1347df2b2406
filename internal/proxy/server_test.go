package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/hibiken/asynq"
)

type fakeOptimizer struct {
	outcome domain.Outcome
	err     error
	lastURL string
}

func (f *fakeOptimizer) Process(_ context.Context, rawURL string, _ domain.TranscodeOptions) (domain.Outcome, error) {
	f.lastURL = rawURL
	if f.err != nil {
		return domain.Outcome{}, f.err
	}
	return f.outcome, nil
}

type fakeEnqueuer struct {
	payloads []queue.OptimizeURLPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueOptimizeURL(_ context.Context, payload queue.OptimizeURLPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{}, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testOptions() domain.TranscodeOptions {
	return domain.TranscodeOptions{
		MaxInputBytes: 1 << 20,
		FetchTimeout:  5 * time.Second,
		MaxWidth:      1600,
		Policy:        domain.PolicySingle,
		Codec:         domain.CodecWebP,
		Quality:       75,
	}
}

func TestHandleImageRequiresURL(t *testing.T) {
	s := NewServer(testLogger(), &fakeOptimizer{}, testOptions(), domain.FallbackRedirect, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "url") {
		t.Fatalf("expected error naming the url parameter, got %s", rec.Body.String())
	}
}

func TestHandleImageServesOptimizedRendition(t *testing.T) {
	payload := []byte("webp-bytes")
	optimizer := &fakeOptimizer{outcome: domain.Outcome{
		Decision:      domain.DecisionOptimized,
		Bytes:         payload,
		ContentType:   "image/webp",
		OriginalSize:  1000,
		OptimizedSize: len(payload),
	}}
	s := NewServer(testLogger(), optimizer, testOptions(), domain.FallbackRedirect, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image?url=https://example.com/a.jpg", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/webp" {
		t.Fatalf("expected image/webp, got %s", got)
	}
	if got := rec.Header().Get(headerStatus); got != domain.DecisionOptimized {
		t.Fatalf("expected optimized status header, got %s", got)
	}
	if got := rec.Header().Get(headerOriginalSize); got != "1000" {
		t.Fatalf("expected original size header 1000, got %s", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != successCacheControl {
		t.Fatalf("unexpected cache-control: %s", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Fatal("expected the rendition bytes in the body")
	}
	if optimizer.lastURL != "https://example.com/a.jpg" {
		t.Fatalf("expected source url to reach the optimizer, got %s", optimizer.lastURL)
	}
}

func TestHandleImageRedirectFallback(t *testing.T) {
	optimizer := &fakeOptimizer{err: domain.Failuref(domain.FailureUpstream, "origin returned 502")}
	s := NewServer(testLogger(), optimizer, testOptions(), domain.FallbackRedirect, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image?url=https://example.com/a.jpg", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://example.com/a.jpg" {
		t.Fatalf("expected redirect to the source, got %s", got)
	}
	if got := rec.Header().Get(headerStatus); got != string(domain.FailureUpstream) {
		t.Fatalf("expected failure kind in status header, got %s", got)
	}
}

func TestHandleImagePlaceholderFallback(t *testing.T) {
	optimizer := &fakeOptimizer{err: domain.Failuref(domain.FailureDecode, "unknown image format")}
	s := NewServer(testLogger(), optimizer, testOptions(), domain.FallbackPlaceholder, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image?url=https://example.com/a.jpg", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 placeholder, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != placeholderContentType {
		t.Fatalf("expected %s, got %s", placeholderContentType, got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store on fallback, got %s", got)
	}
	if got := rec.Header().Get(headerStatus); got != string(domain.FailureDecode) {
		t.Fatalf("expected failure kind in status header, got %s", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), placeholderPNG) {
		t.Fatal("expected the embedded placeholder bytes")
	}
}

func TestHandleImageDebugReportsFailure(t *testing.T) {
	optimizer := &fakeOptimizer{err: domain.Failuref(domain.FailureTooLarge, "declared length exceeds cap")}
	s := NewServer(testLogger(), optimizer, testOptions(), domain.FallbackRedirect, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image?url=https://example.com/a.jpg&debug=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 debug report, got %d", rec.Code)
	}
	var report debugReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode debug report: %v", err)
	}
	if report.Decision != "fallback" {
		t.Fatalf("expected fallback decision, got %s", report.Decision)
	}
	if report.Failure != string(domain.FailureTooLarge) {
		t.Fatalf("expected too_large failure, got %s", report.Failure)
	}
}

func TestHandleImageRejectsUnknownPolicyOverride(t *testing.T) {
	s := NewServer(testLogger(), &fakeOptimizer{}, testOptions(), domain.FallbackRedirect, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image?url=https://example.com/a.jpg&policy=mystery", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown policy, got %d", rec.Code)
	}
}

func TestHandleCreateBatch(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	batchStore := store.NewMemoryBatchStore()
	s := NewServer(testLogger(), &fakeOptimizer{}, testOptions(), domain.FallbackRedirect, enqueuer, batchStore)

	body := `{"source_urls":["https://example.com/a.jpg","https://example.com/b.png"],"webhook_url":"https://example.com/hook"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batch", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(enqueuer.payloads) != 2 {
		t.Fatalf("expected 2 enqueued tasks, got %d", len(enqueuer.payloads))
	}

	var resp struct {
		BatchID   string `json:"batch_id"`
		Status    string `json:"status"`
		ItemCount int    `json:"item_count"`
		StatusURL string `json:"status_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.BatchStatusQueued {
		t.Fatalf("expected queued status, got %s", resp.Status)
	}
	if resp.ItemCount != 2 {
		t.Fatalf("expected item count 2, got %d", resp.ItemCount)
	}

	job, ok, err := batchStore.Get(context.Background(), resp.BatchID)
	if err != nil || !ok {
		t.Fatalf("expected stored batch, ok=%v err=%v", ok, err)
	}
	if job.Status != domain.BatchStatusQueued {
		t.Fatalf("expected stored status queued, got %s", job.Status)
	}

	getRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, resp.StatusURL, nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from status url, got %d", getRec.Code)
	}
}

func TestHandleCreateBatchRejectsInvalidBody(t *testing.T) {
	s := NewServer(testLogger(), &fakeOptimizer{}, testOptions(), domain.FallbackRedirect, &fakeEnqueuer{}, store.NewMemoryBatchStore())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batch", strings.NewReader(`{"source_urls":[]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batch", strings.NewReader(`{"bogus":true}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestHandleCreateBatchUnconfigured(t *testing.T) {
	s := NewServer(testLogger(), &fakeOptimizer{}, testOptions(), domain.FallbackRedirect, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batch", strings.NewReader(`{"source_urls":["https://example.com/a.jpg"]}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when batch processing is unconfigured, got %d", rec.Code)
	}
}

func TestHandleGetBatchNotFound(t *testing.T) {
	s := NewServer(testLogger(), &fakeOptimizer{}, testOptions(), domain.FallbackRedirect, &fakeEnqueuer{}, store.NewMemoryBatchStore())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batch/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExtractBatchIDFromPath(t *testing.T) {
	id, err := extractBatchIDFromPath("/v1/batch/abc123")
	if err != nil || id != "abc123" {
		t.Fatalf("expected abc123, got %q err=%v", id, err)
	}

	if _, err := extractBatchIDFromPath("/v1/batch/"); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := extractBatchIDFromPath("/v1/batch/a/b"); err == nil {
		t.Fatal("expected error for nested path")
	}
}

func TestHealthz(t *testing.T) {
	s := NewServer(testLogger(), &fakeOptimizer{}, testOptions(), domain.FallbackRedirect, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
