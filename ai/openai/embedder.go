package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder  embeddings.Embedder
	guard     *ai.Guard
	batchSize int
	maxChars  int
	logger    *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config, guard *ai.Guard) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(token(config)),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(config.EmbedBatchSize),
	)
	if err != nil {
		return nil, err
	}

	if guard == nil {
		guard = ai.NewGuard(config)
	}

	return &Embedder{
		embedder:  embedder,
		guard:     guard,
		batchSize: config.EmbedBatchSize,
		maxChars:  config.MaxEmbedChars,
		logger:    slog.Default().With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config, nil)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, core.ExternalService("embedding", fmt.Errorf("empty response"))
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple texts. Texts longer
// than the configured limit are truncated and requests are split into
// batches.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := make([]string, end-start)
		for i, text := range texts[start:end] {
			batch[i] = truncateRunes(text, e.maxChars)
		}

		var vectors [][]float32
		err := e.guard.Do(ctx, func(ctx context.Context) error {
			var err error
			vectors, err = e.embedder.EmbedDocuments(ctx, batch)
			return err
		})
		if err != nil {
			e.logger.Error("failed to generate embeddings", "count", len(batch), "err", err)
			return nil, core.ExternalService("embedding", err)
		}
		if len(vectors) != len(batch) {
			return nil, core.ExternalService("embedding",
				fmt.Errorf("expected %d vectors, got %d", len(batch), len(vectors)))
		}
		out = append(out, vectors...)
	}

	return out, nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
