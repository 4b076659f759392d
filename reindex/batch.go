package reindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage/badger"
)

// BatchProcessor embeds batches of chunks and writes them to the index.
type BatchProcessor struct {
	index          *badger.Index
	embedder       ai.Embedder
	maxChars       int
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts per embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(index *badger.Index, embedder ai.Embedder, maxChars, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		index:          index,
		embedder:       embedder,
		maxChars:       maxChars,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds chunks and upserts them into the index.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = truncate(c.Text, bp.maxChars)
	}

	var embeddings [][]float32
	err := ai.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		if !errors.Is(err, core.ErrExternalService) {
			err = core.ExternalService("embedding", err)
		}
		return err
	}

	if len(embeddings) != len(chunks) {
		return core.ExternalService("embedding",
			fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingMismatch, len(chunks), len(embeddings)))
	}

	entries := make([]*badger.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = &badger.Entry{Chunk: c, Vector: embeddings[i]}
	}
	return bp.index.Upsert(ctx, entries...)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}
