package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	itemsTotal      *prometheus.CounterVec
	itemDuration    *prometheus.HistogramVec
	activeItems     prometheus.Gauge
	bytesSavedTotal prometheus.Counter
	batchesFinished prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpress_worker_items_total",
			Help: "Total batch items processed by final status.",
		}, []string{"status"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpress_worker_item_duration_seconds",
			Help:    "Processing duration per batch item.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelpress_worker_active_items",
			Help: "Batch items currently being processed.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpress_worker_bytes_saved_total",
			Help: "Total bytes saved across optimized batch items.",
		}),
		batchesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpress_worker_batches_finished_total",
			Help: "Batches whose final item has been processed.",
		}),
	}

	registry.MustRegister(
		m.itemsTotal,
		m.itemDuration,
		m.activeItems,
		m.bytesSavedTotal,
		m.batchesFinished,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
