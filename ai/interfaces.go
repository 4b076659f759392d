package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// OCR extracts printed or handwritten text from raster images.
// It is best-effort: callers treat an error or an empty string as
// "no text found" and carry on.
type OCR interface {
	// ExtractText returns the text visible in image. mimeType describes the
	// encoding of image, for example "image/png".
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Transcriber converts recorded speech to text.
// It is best-effort: callers degrade gracefully when it fails.
type Transcriber interface {
	// Transcribe returns the transcript of audio. filename carries the
	// container format. prompt biases recognition toward a vocabulary and
	// may be empty.
	Transcribe(ctx context.Context, audio []byte, filename, prompt string) (string, error)
}

// Provider aggregates the external AI services for convenient initialization
// and lifecycle management.
type Provider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// OCR returns the image text extraction service.
	OCR() OCR

	// Transcriber returns the speech recognition service.
	Transcriber() Transcriber

	// Close releases resources held by the provider and its services.
	Close() error
}
