// Package mock provides test double implementations of AI service interfaces.
//
// The mocks let tests run without external services and make failures easy
// to inject. Each mock exposes a function field per method, a CallCount and
// a Reset.
//
// # Usage in Tests
//
//	provider := mock.NewMockProvider()
//
//	// Force transcription to fail
//	provider.GetMockTranscriber().TranscribeFunc = func(ctx context.Context, audio []byte, name, prompt string) (string, error) {
//	    return "", errors.New("service unavailable")
//	}
//
//	count := provider.GetMockEmbedder().CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: hashed bag-of-words vectors, so shared words mean nearby vectors
//   - MockOCR: returns the Text field (empty by default)
//   - MockTranscriber: returns the Transcript field (empty by default)
package mock
