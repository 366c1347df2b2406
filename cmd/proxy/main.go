package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelpress/internal/config"
	"github.com/dunamismax/pixelpress/internal/fetch"
	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/dunamismax/pixelpress/internal/proxy"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/ratelimit"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dunamismax/pixelpress/internal/telemetry"
	"github.com/dunamismax/pixelpress/internal/transcode"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[proxy] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "pixelpress-proxy",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
		SampleRatio:  cfg.Trace.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := transcode.Startup(); err != nil {
		logger.Fatalf("codec runtime startup failed: %v", err)
	}
	defer transcode.Shutdown()

	fetcher, err := fetch.NewClient(fetch.Config{
		Headers: fetch.HeaderProfile{
			UserAgent: cfg.Fetch.UserAgent,
			Accept:    cfg.Fetch.Accept,
		},
		MaxInputBytes: cfg.Fetch.MaxInputBytes,
		Precheck:      cfg.Fetch.Precheck,
	})
	if err != nil {
		logger.Fatalf("fetch client setup failed: %v", err)
	}

	transformer, err := transcode.NewTransformer()
	if err != nil {
		logger.Fatalf("transformer setup failed: %v", err)
	}

	optimizer, err := pipeline.New(fetcher, transformer)
	if err != nil {
		logger.Fatalf("pipeline setup failed: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	batchStore := newBatchStore(cfg, logger)

	app := proxy.NewServer(logger, optimizer, cfg.Options(), cfg.Proxy.FallbackPolicy, queueClient, batchStore)

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		app.SetRateLimiter(limiter, cfg.RateLimit.UserIDHeader)
	}

	httpServer := &http.Server{
		Addr:         cfg.Proxy.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s fallback=%s policy=%s", cfg.Proxy.Addr, cfg.Proxy.FallbackPolicy, cfg.Transcode.Policy)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

// newBatchStore prefers Postgres and falls back to the in-memory store
// so the proxy still serves images when the database is unavailable.
func newBatchStore(cfg config.Config, logger *log.Logger) store.BatchStore {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pg, err := store.NewPostgresBatchStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Printf("postgres batch store unavailable, using memory store: %v", err)
		return store.NewMemoryBatchStore()
	}
	return pg
}
