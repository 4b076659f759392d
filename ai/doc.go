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

// Package ai provides abstractions for the external services Recall depends on.
//
// The package defines three black-box services with text-in/text-out contracts:
//
//   - Embedder: turns text into vectors. Failure aborts indexing.
//   - OCR: reads text out of images. Best effort.
//   - Transcriber: turns speech into text. Best effort.
//
// Provider aggregates the three so callers can initialize and close them together.
//
// # Implementation Packages
//
//   - ai/openai: production implementation using OpenAI-compatible APIs
//   - ai/mock: test doubles for unit testing without external dependencies
//
// Public constructors in ai/openai return interface types. Constructors in
// ai/mock return concrete types so tests can inject behavior and assert on
// call counts.
//
// # Resilience
//
// Guard combines a token-bucket rate limiter with RetryWithBackoff. The
// openai implementations run every request through a Guard; errors that
// retrying cannot fix are wrapped with Permanent.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434/v1"))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "blood cultures")
package ai
