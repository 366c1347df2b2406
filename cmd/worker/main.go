package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixelpress/internal/config"
	"github.com/dunamismax/pixelpress/internal/fetch"
	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/dunamismax/pixelpress/internal/storage"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dunamismax/pixelpress/internal/telemetry"
	"github.com/dunamismax/pixelpress/internal/transcode"
	"github.com/dunamismax/pixelpress/internal/webhook"
	"github.com/dunamismax/pixelpress/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "pixelpress-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
		SampleRatio:  cfg.Trace.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

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

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client setup failed: %v", err)
	}
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("ensure bucket failed: %v", err)
		}
		cancel()
	}

	batchStore, err := newBatchStore(cfg)
	if err != nil {
		logger.Fatalf("batch store setup failed: %v", err)
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: os.Getenv("PIXELPRESS_WEBHOOK_SECRET"),
		MaxAttempts:   3,
	})

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		optimizer,
		cfg.Options(),
		storageClient,
		batchStore,
		webhookClient,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		metricsAddr := os.Getenv("WORKER_METRICS_ADDR")
		if metricsAddr == "" {
			metricsAddr = ":9090"
		}
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		logger.Printf("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func newBatchStore(cfg config.Config) (store.BatchStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.NewPostgresBatchStore(ctx, cfg.Database.DSN)
}
