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

package mock

import "github.com/poiesic/recall/ai"

// MockProvider is a test double for ai.Provider.
// It aggregates mock embedder, OCR and transcriber instances.
type MockProvider struct {
	embedder    *MockEmbedder
	ocr         *MockOCR
	transcriber *MockTranscriber
}

// NewMockProvider creates a new mock provider with default mock services.
// Returns the concrete type so tests can reach the individual mocks.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedder:    NewMockEmbedder(),
		ocr:         NewMockOCR(),
		transcriber: NewMockTranscriber(),
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// OCR returns the mock OCR.
func (p *MockProvider) OCR() ai.OCR {
	return p.ocr
}

// Transcriber returns the mock transcriber.
func (p *MockProvider) Transcriber() ai.Transcriber {
	return p.transcriber
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockOCR returns the underlying mock OCR for test assertions.
func (p *MockProvider) GetMockOCR() *MockOCR {
	return p.ocr
}

// GetMockTranscriber returns the underlying mock transcriber for test assertions.
func (p *MockProvider) GetMockTranscriber() *MockTranscriber {
	return p.transcriber
}

var _ ai.Provider = (*MockProvider)(nil)
