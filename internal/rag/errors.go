package rag

import "errors"

var (
	// ErrDisabled is returned by document operations when the pipeline is
	// not enabled. Indexing and retrieval use nil and empty results instead.
	ErrDisabled = errors.New("rag pipeline disabled")

	// ErrEmptyText is returned when there is nothing to index.
	ErrEmptyText = errors.New("text cannot be empty")
)
