// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"errors"
	"strings"
	"time"
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string `yaml:"embedding_host"`

	// EmbeddingModel is the model identifier to use for text embeddings.
	EmbeddingModel string `yaml:"embedding_model"`

	// VisionHost is the base URL for the vision model used as OCR.
	VisionHost string `yaml:"vision_host"`

	// VisionModel is the multimodal chat model used to read text from images.
	VisionModel string `yaml:"vision_model"`

	// TranscriptionHost is the base URL for the speech-to-text API.
	TranscriptionHost string `yaml:"transcription_host"`

	// TranscriptionModel is the speech-to-text model, for example "whisper-1".
	TranscriptionModel string `yaml:"transcription_model"`

	// APIKey authenticates against hosted services. Local servers accept any value.
	APIKey string `yaml:"api_key"`

	// EmbedBatchSize caps the number of texts sent in one embedding request.
	// Default: 100
	EmbedBatchSize int `yaml:"embed_batch_size"`

	// MaxEmbedChars truncates texts before embedding.
	// Default: 8000
	MaxEmbedChars int `yaml:"max_embed_chars"`

	// RequestsPerSecond and Burst rate-limit calls to every service.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// MaxRetries is the number of attempts per external call.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Timeout bounds a single transcription request.
	Timeout time.Duration `yaml:"timeout"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithHost points every service at the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.VisionHost = host
		c.TranscriptionHost = host
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithVisionModel sets the model used for OCR.
func WithVisionModel(model string) ConfigOption {
	return func(c *Config) {
		c.VisionModel = model
	}
}

// WithTranscriptionModel sets the speech-to-text model.
func WithTranscriptionModel(model string) ConfigOption {
	return func(c *Config) {
		c.TranscriptionModel = model
	}
}

// WithAPIKey sets the API key shared by all services.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithRetries sets the retry policy for external calls.
func WithRetries(attempts int, delay time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = attempts
		c.RetryDelay = delay
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:      defaultHost,
		EmbeddingModel:     "embeddinggemma",
		VisionHost:         defaultHost,
		VisionModel:        "llava",
		TranscriptionHost:  defaultHost,
		TranscriptionModel: "whisper-1",
		EmbedBatchSize:     100,
		MaxEmbedChars:      8000,
		RequestsPerSecond:  5,
		Burst:              10,
		MaxRetries:         3,
		RetryDelay:         time.Second,
		Timeout:            2 * time.Minute,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.VisionHost = normalizeHost(c.VisionHost)
	c.TranscriptionHost = normalizeHost(c.TranscriptionHost)
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 100
	}
	if c.MaxEmbedChars <= 0 {
		c.MaxEmbedChars = 8000
	}
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.VisionHost != "" && c.VisionModel == "" {
		return errors.New("ai config: VisionModel is required when VisionHost is set")
	}
	if c.TranscriptionHost != "" && c.TranscriptionModel == "" {
		return errors.New("ai config: TranscriptionModel is required when TranscriptionHost is set")
	}
	if c.MaxRetries < 1 {
		return errors.New("ai config: MaxRetries must be at least 1")
	}
	if c.RequestsPerSecond < 0 || c.Burst < 0 {
		return errors.New("ai config: rate limits cannot be negative")
	}
	return nil
}
