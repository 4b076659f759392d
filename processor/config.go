package processor

import (
	"errors"
	"fmt"
)

// Chunk size units.
const (
	UnitChars  = "chars"
	UnitTokens = "tokens"
)

// DefaultDomainHint biases transcription toward clinical vocabulary.
const DefaultDomainHint = "This is a medical recording made by a clinician in a hospital. " +
	"The recording contains medical terminology, patient notes, clinical observations, " +
	"diagnoses, treatment plans, and medical procedures. " +
	"Common terms include medication names, anatomical terms, lab values, and medical abbreviations."

// Config holds chunking and media settings.
type Config struct {
	// PageWindow is the number of document pages per chunk.
	// Default: 5
	PageWindow int `yaml:"page_window"`

	// ChunkBudget is the maximum size of a note chunk, in ChunkUnit.
	// Default: 500
	ChunkBudget int `yaml:"chunk_budget"`

	// ChunkUnit is "chars" or "tokens".
	ChunkUnit string `yaml:"chunk_unit"`

	// TokenEncoding is the tiktoken encoding used when ChunkUnit is "tokens".
	TokenEncoding string `yaml:"token_encoding"`

	// PreviewLength is the maximum preview length in characters.
	// Default: 120
	PreviewLength int `yaml:"preview_length"`

	// MaxReferences caps the table and figure references kept per window.
	// Default: 10
	MaxReferences int `yaml:"max_references"`

	// DomainHint is passed to the transcription service.
	DomainHint string `yaml:"domain_hint"`

	// FFmpegPath locates the ffmpeg binary. Empty disables transcoding.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// OCRDrawings runs OCR on drawings as well as images.
	OCRDrawings bool `yaml:"ocr_drawings"`
}

// DefaultConfig returns the default processor settings.
func DefaultConfig() *Config {
	return &Config{
		PageWindow:    5,
		ChunkBudget:   500,
		ChunkUnit:     UnitChars,
		TokenEncoding: "cl100k_base",
		PreviewLength: 120,
		MaxReferences: 10,
		DomainHint:    DefaultDomainHint,
		FFmpegPath:    "ffmpeg",
		OCRDrawings:   true,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.PageWindow < 1 {
		return errors.New("processor config: PageWindow must be at least 1")
	}
	if c.ChunkBudget < 10 {
		return errors.New("processor config: ChunkBudget must be at least 10")
	}
	if c.ChunkUnit != UnitChars && c.ChunkUnit != UnitTokens {
		return fmt.Errorf("processor config: unknown ChunkUnit %q", c.ChunkUnit)
	}
	if c.ChunkUnit == UnitTokens && c.TokenEncoding == "" {
		return errors.New("processor config: TokenEncoding is required for token budgets")
	}
	if c.PreviewLength < 10 {
		return errors.New("processor config: PreviewLength must be at least 10")
	}
	if c.MaxReferences < 0 {
		return errors.New("processor config: MaxReferences must not be negative")
	}
	return nil
}
