package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts backend calls per backend and attempt result
	// (success, retryable, terminal, canceled).
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_attempts_total",
			Help: "Total number of backend retrieval attempts",
		},
		[]string{"backend", "result"},
	)

	// FetchOutcomes counts completed fetch calls per backend and outcome
	// (stream, spooled, or a failure kind).
	FetchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_outcomes_total",
			Help: "Total number of fetch calls by outcome",
		},
		[]string{"backend", "outcome"},
	)

	// FetchDuration tracks wall time of whole fetch calls, backoff included.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetcher_fetch_duration_seconds",
			Help:    "Fetch call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"backend"},
	)

	// BackoffSeconds accumulates time spent sleeping between attempts.
	BackoffSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_backoff_seconds_total",
			Help: "Total seconds spent waiting between retry attempts",
		},
		[]string{"backend"},
	)

	// SpooledBytes counts bytes written to temp files.
	SpooledBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_spooled_bytes_total",
			Help: "Total bytes spooled to temporary files",
		},
		[]string{"backend"},
	)
)
