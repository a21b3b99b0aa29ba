// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal *prometheus.CounterVec
	fetchRetriesTotal  prometheus.Counter
	recordsTotal       *prometheus.CounterVec
	jobsTotal          *prometheus.CounterVec
	activeWorkers      prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total fetch retries across all sites.",
			},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_records_total",
				Help: "Records moving through the pipeline, labeled by site and stage.",
			},
			[]string{"site", "stage"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of worker slots currently executing a pipeline.",
			},
		)
	})
}

// RecordFetch counts one fetch attempt outcome ("ok", "transient", "permanent").
func RecordFetch(site, outcome string) {
	if fetchAttemptsTotal != nil {
		fetchAttemptsTotal.WithLabelValues(site, outcome).Inc()
	}
}

// RecordRetry counts one retry sleep.
func RecordRetry() {
	if fetchRetriesTotal != nil {
		fetchRetriesTotal.Inc()
	}
}

// RecordRecords counts records at a pipeline stage ("found", "transformed", "stored").
func RecordRecords(site, stage string, n int) {
	if recordsTotal != nil && n > 0 {
		recordsTotal.WithLabelValues(site, stage).Add(float64(n))
	}
}

// RecordJob counts one terminal job status.
func RecordJob(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
