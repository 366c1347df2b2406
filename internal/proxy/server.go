package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/id"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	optimizer             imageOptimizer
	baseOpts              domain.TranscodeOptions
	fallbackPolicy        string
	queueClient           queueEnqueuer
	batchStore            store.BatchStore
	metrics               *metrics
	tracer                trace.Tracer
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	mux                   *http.ServeMux
}

type imageOptimizer interface {
	Process(ctx context.Context, rawURL string, opts domain.TranscodeOptions) (domain.Outcome, error)
}

type queueEnqueuer interface {
	EnqueueOptimizeURL(ctx context.Context, payload queue.OptimizeURLPayload) (*asynq.TaskInfo, error)
}

func NewServer(
	logger *log.Logger,
	optimizer imageOptimizer,
	baseOpts domain.TranscodeOptions,
	fallbackPolicy string,
	queueClient queueEnqueuer,
	batchStore store.BatchStore,
) *Server {
	if fallbackPolicy != domain.FallbackPlaceholder {
		fallbackPolicy = domain.FallbackRedirect
	}

	s := &Server{
		logger:         logger,
		optimizer:      optimizer,
		baseOpts:       baseOpts,
		fallbackPolicy: fallbackPolicy,
		queueClient:    queueClient,
		batchStore:     batchStore,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("pixelpress/proxy"),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// SetRateLimiter enables request throttling on the proxy and batch
// routes. Subjects are read from userIDHeader, falling back to
// anonymous.
func (s *Server) SetRateLimiter(limiter RateLimiter, userIDHeader string) {
	s.rateLimiter = limiter
	s.rateLimitUserIDHeader = userIDHeader
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /image", s.handleImage)
	s.mux.HandleFunc("POST /v1/batch", s.handleCreateBatch)
	s.mux.HandleFunc("GET /v1/batch/", s.handleGetBatch)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	sourceURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if sourceURL == "" {
		// The one failure that is a client error, not a fallback.
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "missing required query parameter: url",
			"failure": string(domain.FailureMissingParameter),
		})
		return
	}

	debug := isTruthy(r.URL.Query().Get("debug"))

	opts, err := s.requestOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	outcome, err := s.optimizer.Process(r.Context(), sourceURL, opts)
	if err != nil {
		kind := domain.KindOf(err)
		s.logger.Printf("pipeline failed url=%s kind=%s err=%v", sourceURL, kind, err)
		s.metrics.outcomesTotal.WithLabelValues("fallback", string(kind)).Inc()
		if debug {
			s.writeDebugFailure(w, sourceURL, kind)
			return
		}
		s.writeFallback(w, r, sourceURL, kind)
		return
	}

	s.metrics.outcomesTotal.WithLabelValues(outcome.Decision, "").Inc()
	if outcome.Optimized() {
		s.metrics.bytesSavedTotal.Add(float64(outcome.OriginalSize - outcome.OptimizedSize))
	}

	if debug {
		s.writeDebugOutcome(w, sourceURL, outcome)
		return
	}
	writeImage(w, outcome)
}

// requestOptions applies per-request overrides on top of the deployment
// defaults. Only the policy is overridable from the outside.
func (s *Server) requestOptions(r *http.Request) (domain.TranscodeOptions, error) {
	opts := s.baseOpts

	policy := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("policy")))
	switch policy {
	case "":
	case domain.PolicySingle, domain.PolicyRace, domain.PolicyTargetSize:
		opts.Policy = policy
	default:
		return domain.TranscodeOptions{}, fmt.Errorf("unsupported policy: %s", policy)
	}
	return opts, nil
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil || s.batchStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "batch processing is not configured"})
		return
	}

	var req domain.CreateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	job := domain.BatchJob{
		ID:         id.New(),
		Status:     domain.BatchStatusCreated,
		WebhookURL: req.WebhookURL,
		Items:      make([]domain.BatchItem, 0, len(req.SourceURLs)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, rawURL := range req.SourceURLs {
		job.Items = append(job.Items, domain.BatchItem{
			Index:     i,
			SourceURL: strings.TrimSpace(rawURL),
			Status:    domain.ItemStatusPending,
		})
	}

	if err := s.batchStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create batch failed batch_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create batch"})
		return
	}

	for _, item := range job.Items {
		payload := queue.OptimizeURLPayload{
			BatchID:     job.ID,
			Index:       item.Index,
			SourceURL:   item.SourceURL,
			WebhookURL:  job.WebhookURL,
			RequestedAt: now,
		}
		if _, err := s.queueClient.EnqueueOptimizeURL(r.Context(), payload); err != nil {
			s.logger.Printf("enqueue failed batch_id=%s index=%d err=%v", job.ID, item.Index, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue batch"})
			return
		}
	}

	if _, err := s.batchStore.UpdateStatus(r.Context(), job.ID, domain.BatchStatusQueued); err != nil {
		s.logger.Printf("batch status update failed batch_id=%s err=%v", job.ID, err)
	}

	s.metrics.batchesEnqueued.Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":   job.ID,
		"status":     domain.BatchStatusQueued,
		"item_count": len(job.Items),
		"status_url": fmt.Sprintf("/v1/batch/%s", job.ID),
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.batchStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "batch processing is not configured"})
		return
	}

	batchID, err := extractBatchIDFromPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, ok, err := s.batchStore.Get(r.Context(), batchID)
	if err != nil {
		s.logger.Printf("fetch batch failed batch_id=%s err=%v", batchID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load batch"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":   job.ID,
		"status":     job.Status,
		"items":      job.Items,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
}

func extractBatchIDFromPath(path string) (string, error) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/v1/batch/"), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", errors.New("expected path format /v1/batch/{id}")
	}
	return trimmed, nil
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
