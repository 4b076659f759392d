package mock

import (
	"context"
	"sync/atomic"
)

// MockOCR is a test double for ai.OCR.
type MockOCR struct {
	// ExtractTextFunc is called by ExtractText if set.
	// If nil, Text is returned.
	ExtractTextFunc func(ctx context.Context, image []byte, mimeType string) (string, error)

	// Text is the default result.
	Text string

	callCount atomic.Int64
}

// NewMockOCR creates a mock OCR that finds no text.
func NewMockOCR() *MockOCR {
	return &MockOCR{}
}

// ExtractText returns the injected result.
func (m *MockOCR) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	m.callCount.Add(1)
	if m.ExtractTextFunc != nil {
		return m.ExtractTextFunc(ctx, image, mimeType)
	}
	return m.Text, nil
}

// CallCount returns the number of ExtractText calls.
func (m *MockOCR) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and injected behavior.
func (m *MockOCR) Reset() {
	m.callCount.Store(0)
	m.ExtractTextFunc = nil
	m.Text = ""
}

// MockTranscriber is a test double for ai.Transcriber.
type MockTranscriber struct {
	// TranscribeFunc is called by Transcribe if set.
	// If nil, Transcript is returned.
	TranscribeFunc func(ctx context.Context, audio []byte, filename, prompt string) (string, error)

	// Transcript is the default result.
	Transcript string

	// LastPrompt records the prompt of the most recent call.
	LastPrompt string

	callCount atomic.Int64
}

// NewMockTranscriber creates a mock transcriber returning an empty transcript.
func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{}
}

// Transcribe returns the injected result.
func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, filename, prompt string) (string, error) {
	m.callCount.Add(1)
	m.LastPrompt = prompt
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, filename, prompt)
	}
	return m.Transcript, nil
}

// CallCount returns the number of Transcribe calls.
func (m *MockTranscriber) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and injected behavior.
func (m *MockTranscriber) Reset() {
	m.callCount.Store(0)
	m.TranscribeFunc = nil
	m.Transcript = ""
	m.LastPrompt = ""
}
