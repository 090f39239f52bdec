package memory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts backend calls by operation and result (success, error).
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "augmentd",
			Subsystem: "memory",
			Name:      "requests_total",
			Help:      "Total number of memory backend requests",
		},
		[]string{"operation", "result"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "augmentd",
			Subsystem: "memory",
			Name:      "request_duration_seconds",
			Help:      "Memory backend request latency",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 1.5, 2.5, 5},
		},
		[]string{"operation"},
	)

	// SearchFallbacks counts searches that fell back to the list call, by
	// the fallback's result.
	SearchFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "augmentd",
			Subsystem: "memory",
			Name:      "search_fallbacks_total",
			Help:      "Total number of searches that used the fallback list call",
		},
		[]string{"result"},
	)
)

func observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	Requests.WithLabelValues(op, result).Inc()
	RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
