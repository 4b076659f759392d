package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
)

// Transcriber implements ai.Transcriber against the OpenAI-compatible
// /audio/transcriptions endpoint.
type Transcriber struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	guard    *ai.Guard
	logger   *slog.Logger
}

func newTranscriber(config *ai.Config, guard *ai.Guard) (*Transcriber, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.TranscriptionHost == "" {
		return nil, fmt.Errorf("ai config: TranscriptionHost is required for transcription")
	}
	if guard == nil {
		guard = ai.NewGuard(config)
	}
	return &Transcriber{
		endpoint: strings.TrimSuffix(config.TranscriptionHost, "/") + "/audio/transcriptions",
		model:    config.TranscriptionModel,
		apiKey:   token(config),
		client:   &http.Client{Timeout: config.Timeout},
		guard:    guard,
		logger:   slog.Default().With("component", "openai-transcriber"),
	}, nil
}

// NewTranscriber creates a speech-to-text client.
//
// Returns ai.Transcriber interface to enforce abstraction.
func NewTranscriber(config *ai.Config) (ai.Transcriber, error) {
	return newTranscriber(config, nil)
}

// Transcribe uploads audio and returns the plain-text transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename, prompt string) (string, error) {
	body, contentType, err := t.encode(audio, filename, prompt)
	if err != nil {
		return "", core.ExternalService("transcription", err)
	}

	var transcript string
	err = t.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
		if err != nil {
			return ai.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+t.apiKey)

		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("transcription returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return ai.Permanent(statusErr)
			}
			return statusErr
		}
		transcript = strings.TrimSpace(string(payload))
		return nil
	})
	if err != nil {
		t.logger.Warn("transcription failed", "file", filename, "err", err)
		return "", core.ExternalService("transcription", err)
	}

	t.logger.Debug("transcribed audio", "file", filename, "chars", len(transcript))
	return transcript, nil
}

func (t *Transcriber) encode(audio []byte, filename, prompt string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"model":           t.model,
		"response_format": "text",
	}
	if prompt != "" {
		fields["prompt"] = prompt
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
