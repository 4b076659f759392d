package reindex

import (
	"context"
	"log/slog"

	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

const (
	// DefaultBatchSize is the default number of chunk records read per batch.
	DefaultBatchSize = 100
)

// ChunkIterator walks the chunk records of one content type in key order.
type ChunkIterator struct {
	store     storage.BlobStore
	batchSize int
	logger    *slog.Logger
}

// NewChunkIterator creates a new chunk iterator.
func NewChunkIterator(store storage.BlobStore, batchSize int, logger *slog.Logger) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkIterator{
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Keys lists the chunk record keys of type t.
func (it *ChunkIterator) Keys(ctx context.Context, t core.ContentType) ([]string, error) {
	found, err := it.store.List(ctx, storage.ChunksDir(t)+"/")
	if err != nil {
		return nil, err
	}
	keys := found[:0]
	for _, k := range found {
		if storage.IsChunkKey(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// ForEach calls fn with successive batches of the chunks of type t.
// Unreadable records and records of another type are logged and skipped.
// Iteration stops on the first error from fn. Context cancellation is
// checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, t core.ContentType, fn func([]*core.Chunk) error) error {
	keys, err := it.Keys(ctx, t)
	if err != nil {
		return err
	}

	for i := 0; i < len(keys); i += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := make([]*core.Chunk, 0, it.batchSize)
		for _, key := range keys[i:min(i+it.batchSize, len(keys))] {
			data, err := it.store.Get(ctx, key)
			if err != nil {
				return err
			}
			chunk, err := storage.UnmarshalChunk(data)
			if err != nil || chunk.ContentType != t {
				it.logger.Warn("skipping unusable chunk record", "key", key, "err", err)
				continue
			}
			batch = append(batch, chunk)
		}
		if len(batch) == 0 {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}
