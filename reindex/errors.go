package reindex

import "errors"

var (
	// ErrPublisherRequired is returned when no Publisher is supplied.
	ErrPublisherRequired = errors.New("publisher is required")

	// ErrEmbeddingMismatch is returned when the embedder returns a different
	// number of vectors than texts submitted.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")
)
