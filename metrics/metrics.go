package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry by promauto and served
// by the API under /metrics.

var (
	// ComputationsTotal counts finished computations by outcome: ok,
	// malformed or failed.
	ComputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoclusters_computations_total",
			Help: "Total number of computations processed by the worker",
		},
		[]string{"status"},
	)

	BuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "geoclusters_build_duration_seconds",
			Help: "Time spent building one cluster tree",
			// from a handful of markers up to a few hundred thousand
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	MarkersPerRequest = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geoclusters_request_markers",
			Help:    "Number of markers per computation request",
			Buckets: prometheus.ExponentialBuckets(10, 4, 9),
		},
	)

	// InboxDepth is the number of requests waiting for the worker.
	InboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoclusters_inbox_depth",
			Help: "Requests queued for the computation worker",
		},
	)

	RegistryResults = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoclusters_registry_results",
			Help: "Completed results held in memory",
		},
	)

	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoclusters_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)
)

const (
	StatusOK        = "ok"
	StatusMalformed = "malformed"
	StatusFailed    = "failed"
)
