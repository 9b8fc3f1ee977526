// Package metrics exposes Prometheus collectors for the warehouse service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal          *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	stageFailuresTotal         *prometheus.CounterVec
	recordsLoadedTotal         *prometheus.CounterVec
	recordsSkippedTotal        *prometheus.CounterVec
	scraperMessagesTotal       *prometheus.CounterVec
	detectorFailuresTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total number of pipeline runs, labeled by final status.",
			},
			[]string{"status"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage"},
		)

		stageFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_failures_total",
				Help: "Total number of stage failures, labeled by stage.",
			},
			[]string{"stage"},
		)

		recordsLoadedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_records_loaded_total",
				Help: "Total records written to the raw store, labeled by table.",
			},
			[]string{"table"},
		)

		recordsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_records_skipped_total",
				Help: "Total malformed records dropped before loading, labeled by table.",
			},
			[]string{"table"},
		)

		scraperMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_messages_total",
				Help: "Total messages scraped, labeled by channel.",
			},
			[]string{"channel"},
		)

		detectorFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "detector_failures_total",
				Help: "Total per-image detector failures skipped during enrichment.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the run counter for the given final status.
func ObserveRun(status string) {
	pipelineRunsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records a stage's duration and, on failure, its failure count.
func ObserveStage(stage string, duration time.Duration, failed bool) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	if failed {
		stageFailuresTotal.WithLabelValues(stage).Inc()
	}
}

// ObserveLoad records loaded and skipped record counts for a table.
func ObserveLoad(table string, loaded, skipped int) {
	if loaded > 0 {
		recordsLoadedTotal.WithLabelValues(table).Add(float64(loaded))
	}
	if skipped > 0 {
		recordsSkippedTotal.WithLabelValues(table).Add(float64(skipped))
	}
}

// ObserveScrape increments the per-channel scraped message counter.
func ObserveScrape(channel string, messages int) {
	if messages > 0 {
		scraperMessagesTotal.WithLabelValues(channel).Add(float64(messages))
	}
}

// ObserveDetectorFailure increments the skipped-image counter.
func ObserveDetectorFailure() {
	detectorFailuresTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
