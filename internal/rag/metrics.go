package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsIndexed counts index requests by result (success, partial, error).
	DocumentsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "augmentd",
			Subsystem: "rag",
			Name:      "documents_indexed_total",
			Help:      "Total number of index requests by result",
		},
		[]string{"result"},
	)

	// ChunksStored counts chunks written to the vector store.
	ChunksStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "augmentd",
			Subsystem: "rag",
			Name:      "chunks_stored_total",
			Help:      "Total number of chunks stored",
		},
	)

	// Retrievals counts retrieval calls by result (hit, empty, error, disabled).
	Retrievals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "augmentd",
			Subsystem: "rag",
			Name:      "retrievals_total",
			Help:      "Total number of retrieval calls by result",
		},
		[]string{"result"},
	)
)
