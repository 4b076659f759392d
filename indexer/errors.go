package indexer

import "errors"

var (
	// ErrLocalStoreRequired is returned when the local cache tier is not provided.
	ErrLocalStoreRequired = errors.New("local store required")

	// ErrBlobStoreRequired is returned when the durable blob tier is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrIndexRequired is returned when the vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrProcessorRequired is returned when a content processor is not provided.
	ErrProcessorRequired = errors.New("content processor required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmbeddingMismatch is returned when the embedding service answers a
	// batch with the wrong number of vectors.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")
)
