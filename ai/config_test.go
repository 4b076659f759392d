package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "embeddinggemma", cfg.EmbeddingModel)
	assert.Equal(t, 100, cfg.EmbedBatchSize)
	assert.Equal(t, 8000, cfg.MaxEmbedChars)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()
		assert.Equal(t, "http://localhost:11434/v1", cfg.VisionHost)
		assert.Equal(t, "whisper-1", cfg.TranscriptionModel)
	})

	t.Run("with shared host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://gpu:8080/v1"))

		assert.Equal(t, "http://gpu:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://gpu:8080/v1", cfg.VisionHost)
		assert.Equal(t, "http://gpu:8080/v1", cfg.TranscriptionHost)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithEmbeddingModel("text-embedding-3-small"),
			WithVisionModel("gpt-4o-mini"),
			WithTranscriptionModel("whisper-large"),
			WithAPIKey("sk-test"),
			WithRetries(5, 2*time.Second),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "gpt-4o-mini", cfg.VisionModel)
		assert.Equal(t, "whisper-large", cfg.TranscriptionModel)
		assert.Equal(t, "sk-test", cfg.APIKey)
		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{"already has /v1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"missing /v1", "http://localhost:11434", "http://localhost:11434/v1"},
		{"has trailing slash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"empty host", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host, VisionHost: tt.host, TranscriptionHost: tt.host}

			cfg.Normalize()

			assert.Equal(t, tt.expected, cfg.EmbeddingHost)
			assert.Equal(t, tt.expected, cfg.VisionHost)
			assert.Equal(t, tt.expected, cfg.TranscriptionHost)
			assert.Equal(t, 100, cfg.EmbedBatchSize)
			assert.Equal(t, 8000, cfg.MaxEmbedChars)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EmbeddingHost = "http://localhost:11434"

		require.NoError(t, cfg.Validate())
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing embedding host", func(c *Config) { c.EmbeddingHost = "" }, "EmbeddingHost"},
		{"missing embedding model", func(c *Config) { c.EmbeddingModel = "" }, "EmbeddingModel"},
		{"vision host without model", func(c *Config) { c.VisionModel = "" }, "VisionModel"},
		{"transcription host without model", func(c *Config) { c.TranscriptionModel = "" }, "TranscriptionModel"},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }, "MaxRetries"},
		{"negative rate", func(c *Config) { c.RequestsPerSecond = -1 }, "rate limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
