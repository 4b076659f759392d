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

package openai

import (
	"log/slog"

	"github.com/poiesic/recall/ai"
)

// Provider implements ai.Provider using OpenAI-compatible services.
// All services share one Guard so the rate limit applies across them.
type Provider struct {
	config      *ai.Config
	embedder    *Embedder
	ocr         *OCR
	transcriber *Transcriber
	logger      *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use. OCR and transcription
// are optional: leaving their host empty disables them and the
// corresponding accessor returns nil.
//
// Returns ai.Provider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	guard := ai.NewGuard(config)

	embedder, err := newEmbedder(config, guard)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		config:   config,
		embedder: embedder,
		logger:   slog.Default().With("component", "openai-provider"),
	}

	if config.VisionHost != "" {
		if p.ocr, err = newOCR(config, guard); err != nil {
			return nil, err
		}
	}

	if config.TranscriptionHost != "" {
		if p.transcriber, err = newTranscriber(config, guard); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// OCR returns the image text extraction service, or nil when disabled.
func (p *Provider) OCR() ai.OCR {
	if p.ocr == nil {
		return nil
	}
	return p.ocr
}

// Transcriber returns the speech recognition service, or nil when disabled.
func (p *Provider) Transcriber() ai.Transcriber {
	if p.transcriber == nil {
		return nil
	}
	return p.transcriber
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	return nil
}

func token(config *ai.Config) string {
	// Local OpenAI-compatible services accept any token.
	if config.APIKey == "" {
		return "none"
	}
	return config.APIKey
}
