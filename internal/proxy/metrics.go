package proxy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	outcomesTotal     *prometheus.CounterVec
	bytesSavedTotal   prometheus.Counter
	batchesEnqueued   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_proxy_requests_total",
			Help: "Total HTTP requests handled by the proxy.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpress_proxy_request_duration_seconds",
			Help:    "Proxy request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_proxy_rate_limit_rejections_total",
			Help: "Total proxy requests rejected by rate limiting.",
		}, []string{"route"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_proxy_outcomes_total",
			Help: "Pipeline outcomes by decision and failure kind.",
		}, []string{"decision", "failure_kind"}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpress_proxy_bytes_saved_total",
			Help: "Total bytes saved by serving optimized renditions.",
		}),
		batchesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpress_proxy_batches_enqueued_total",
			Help: "Total batch jobs enqueued for background optimization.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.outcomesTotal,
		m.bytesSavedTotal,
		m.batchesEnqueued,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/batch/"):
		return "/v1/batch/{id}"
	case strings.HasPrefix(path, "/v1/batch"):
		return "/v1/batch"
	case strings.HasPrefix(path, "/image"):
		return "/image"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
