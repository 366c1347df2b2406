package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/pixelpress/internal/config"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dunamismax/pixelpress/internal/transcode"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server consumes batch optimization tasks, runs the same decision
// pipeline as the proxy, and stores winning renditions in object
// storage.
type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	optimizer     imageOptimizer
	opts          domain.TranscodeOptions
	outputStore   outputStorage
	outputPrefix  string
	batchStore    store.BatchStore
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

type imageOptimizer interface {
	Process(ctx context.Context, rawURL string, opts domain.TranscodeOptions) (domain.Outcome, error)
}

type outputStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	optimizer imageOptimizer,
	opts domain.TranscodeOptions,
	outputStore outputStorage,
	batchStore store.BatchStore,
	webhookClient webhookSender,
) (*Server, error) {
	if optimizer == nil {
		return nil, errors.New("optimizer is required")
	}
	if outputStore == nil {
		return nil, errors.New("output storage is required")
	}
	if batchStore == nil {
		return nil, errors.New("batch store is required")
	}

	outputPrefix := workerCfg.OutputPrefix
	if outputPrefix == "" {
		outputPrefix = "optimized"
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		optimizer:     optimizer,
		opts:          opts,
		outputStore:   outputStore,
		outputPrefix:  outputPrefix,
		batchStore:    batchStore,
		webhookClient: webhookClient,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelpress/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeOptimizeURL, s.handleOptimizeURL)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleOptimizeURL(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()

	payload, err := queue.ParseOptimizeURLPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.optimize_url", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("batch.id", payload.BatchID),
		attribute.Int("batch.index", payload.Index),
		attribute.String("source.url", payload.SourceURL),
	)
	defer span.End()

	s.sem <- struct{}{}
	s.metrics.activeItems.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeItems.Dec()
	}()

	s.logger.Printf("Working... batch_id=%s index=%d url=%s", payload.BatchID, payload.Index, payload.SourceURL)

	item := domain.BatchItem{
		Index:     payload.Index,
		SourceURL: payload.SourceURL,
	}

	outcome, err := s.optimizer.Process(ctx, payload.SourceURL, s.opts)
	if err != nil {
		// Pipeline failures are recorded per item, mirroring the
		// proxy's fallback contract; the task itself succeeds.
		kind := domain.KindOf(err)
		s.logger.Printf("item failed batch_id=%s index=%d kind=%s err=%v", payload.BatchID, payload.Index, kind, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")

		item.Status = domain.ItemStatusFailed
		item.FailureKind = kind
		s.finishItem(ctx, payload, item, startedAt)
		return nil
	}

	item.ContentType = outcome.ContentType
	item.OriginalSize = outcome.OriginalSize
	if outcome.Optimized() {
		item.Status = domain.ItemStatusOptimized
		item.OptimizedSize = outcome.OptimizedSize
		item.ObjectKey = fmt.Sprintf(
			"%s/%s/%d.%s",
			s.outputPrefix,
			payload.BatchID,
			payload.Index,
			transcode.ExtensionForContentType(outcome.ContentType),
		)
		if err := s.outputStore.WriteObject(ctx, item.ObjectKey, outcome.Bytes, outcome.ContentType); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store output failed")
			return fmt.Errorf("store output: %w", err)
		}
		s.metrics.bytesSavedTotal.Add(float64(outcome.OriginalSize - outcome.OptimizedSize))
	} else {
		item.Status = domain.ItemStatusPassthrough
	}

	s.finishItem(ctx, payload, item, startedAt)
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// finishItem persists the item result, updates metrics, and fires the
// completion webhook once the final item of a batch lands.
func (s *Server) finishItem(ctx context.Context, payload queue.OptimizeURLPayload, item domain.BatchItem, startedAt time.Time) {
	s.metrics.itemsTotal.WithLabelValues(item.Status).Inc()
	s.metrics.itemDuration.WithLabelValues(item.Status).Observe(time.Since(startedAt).Seconds())

	job, err := s.batchStore.UpdateItem(ctx, payload.BatchID, item)
	if err != nil {
		s.logger.Printf("batch item update failed batch_id=%s index=%d err=%v", payload.BatchID, item.Index, err)
		return
	}

	if job.Status != domain.BatchStatusCompleted {
		return
	}
	s.metrics.batchesFinished.Inc()

	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, "batch.completed", map[string]any{
		"batch_id":     job.ID,
		"status":       job.Status,
		"items":        job.Items,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	}); err != nil {
		s.logger.Printf("webhook delivery failed batch_id=%s err=%v", job.ID, err)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
