package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	ingestDuration  prometheus.Histogram
	searchDuration  prometheus.Histogram
	deleteDuration  prometheus.Histogram
	rebuildDuration prometheus.Histogram

	itemsTotal      prometheus.Gauge
	writeQueueDepth prometheus.Gauge

	initAttemptsTotal *prometheus.CounterVec
	purgedItemsTotal  prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			ingestDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_ingest_duration_seconds",
					Help:    "Ingest duration in seconds (durable append plus indexing).",
					Buckets: prometheus.DefBuckets,
				},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Hybrid search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			deleteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_delete_duration_seconds",
					Help:    "Delete duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			rebuildDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_rebuild_duration_seconds",
					Help:    "Startup index rebuild duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			itemsTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_items_total",
					Help: "Items currently held in the durable store.",
				},
			),
			writeQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_write_queue_depth",
					Help: "Mutations waiting in the single-writer queue.",
				},
			),
			initAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_init_attempts_total",
					Help: "Initialization attempts by outcome.",
				},
				[]string{"status"},
			),
			purgedItemsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_purged_items_total",
					Help: "Items removed by retention sweeps.",
				},
			),
		}

		prometheus.MustRegister(
			m.ingestDuration,
			m.searchDuration,
			m.deleteDuration,
			m.rebuildDuration,
			m.itemsTotal,
			m.writeQueueDepth,
			m.initAttemptsTotal,
			m.purgedItemsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler exposes the registry over HTTP for scraping.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordIngest(duration time.Duration) {
	getMetrics().ingestDuration.Observe(duration.Seconds())
}

func RecordSearch(duration time.Duration) {
	getMetrics().searchDuration.Observe(duration.Seconds())
}

func RecordDelete(duration time.Duration) {
	getMetrics().deleteDuration.Observe(duration.Seconds())
}

func RecordRebuild(duration time.Duration) {
	getMetrics().rebuildDuration.Observe(duration.Seconds())
}

func SetItemsTotal(count int) {
	getMetrics().itemsTotal.Set(float64(count))
}

func SetWriteQueueDepth(depth int) {
	getMetrics().writeQueueDepth.Set(float64(depth))
}

func RecordInitAttempt(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().initAttemptsTotal.WithLabelValues(status).Inc()
}

func RecordPurged(count int) {
	getMetrics().purgedItemsTotal.Add(float64(count))
}
