package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: provider, operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "augmentd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"provider", "operation", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "augmentd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// StaleVectorsSkipped counts stored vectors ignored by search because
	// their dimension differs from the current model's.
	StaleVectorsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "augmentd",
			Subsystem: "vectorstore",
			Name:      "stale_vectors_skipped_total",
			Help:      "Stored vectors skipped by search due to a dimension mismatch",
		},
		[]string{"provider"},
	)
)

// observe records the outcome of one operation.
func observe(provider, operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationsTotal.WithLabelValues(provider, operation, "error").Inc()
		return
	}
	OperationsTotal.WithLabelValues(provider, operation, "success").Inc()
}
