package openai

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// noTextMarker is what the model is told to answer when an image has no text.
const noTextMarker = "NO_TEXT"

const ocrPrompt = `Transcribe every piece of printed or handwritten text visible in this image.
Return only the text, preserving line breaks. Do not describe the image.
If there is no readable text, answer exactly ` + noTextMarker + `.`

// OCR implements ai.OCR by asking a multimodal chat model to transcribe an image.
type OCR struct {
	client llms.Model
	guard  *ai.Guard
	logger *slog.Logger
}

func newOCR(config *ai.Config, guard *ai.Guard) (*OCR, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.VisionHost),
		openai.WithToken(token(config)),
		openai.WithModel(config.VisionModel),
	)
	if err != nil {
		return nil, err
	}

	if guard == nil {
		guard = ai.NewGuard(config)
	}

	return &OCR{
		client: client,
		guard:  guard,
		logger: slog.Default().With("component", "openai-ocr"),
	}, nil
}

// NewOCR creates a vision-model OCR client.
//
// Returns ai.OCR interface to enforce abstraction.
func NewOCR(config *ai.Config) (ai.OCR, error) {
	return newOCR(config, nil)
}

// ExtractText returns the text found in image, or an empty string when the
// model reports none.
func (o *OCR) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(ocrPrompt),
				llms.ImageURLPart(dataURL),
			},
		},
	}

	var text string
	err := o.guard.Do(ctx, func(ctx context.Context) error {
		response, err := o.client.GenerateContent(ctx, content, llms.WithTemperature(0.0))
		if err != nil {
			return err
		}
		if len(response.Choices) > 0 {
			text = response.Choices[0].Content
		}
		return nil
	})
	if err != nil {
		o.logger.Warn("ocr request failed", "err", err)
		return "", core.ExternalService("ocr", err)
	}

	text = strings.TrimSpace(text)
	if strings.EqualFold(text, noTextMarker) {
		return "", nil
	}
	return text, nil
}
