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

package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
)

// Degradation flags recorded when a best-effort service does not deliver.
const (
	DegradedOCRUnavailable           = "ocr_unavailable"
	DegradedOCRFailed                = "ocr_failed"
	DegradedTranscriptionUnavailable = "transcription_unavailable"
	DegradedTranscriptionFailed      = "transcription_failed"
	DegradedTranscodeFailed          = "transcode_failed"
)

// Original is the raw payload to store next to the chunks.
type Original struct {
	Data []byte
	Ext  string
}

// Result is one processed submission.
type Result struct {
	Content      *core.Content
	Chunks       []*core.Chunk
	Original     Original
	Degradations []string
}

// Processor turns raw submissions into Content plus ordered Chunks. It
// performs no storage writes.
type Processor struct {
	cfg         *Config
	splitter    *Splitter
	pages       PageExtractor
	ocr         ai.OCR
	transcriber ai.Transcriber
	transcoder  Transcoder
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor) error

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(p *Processor) error {
		if cfg == nil {
			return fmt.Errorf("processor config must not be nil")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		p.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithOCR sets the OCR service for images and drawings.
func WithOCR(ocr ai.OCR) Option {
	return func(p *Processor) error {
		p.ocr = ocr
		return nil
	}
}

// WithTranscriber sets the speech-to-text service for audio.
func WithTranscriber(t ai.Transcriber) Option {
	return func(p *Processor) error {
		p.transcriber = t
		return nil
	}
}

// WithPageExtractor replaces the PDF page extractor.
func WithPageExtractor(pe PageExtractor) Option {
	return func(p *Processor) error {
		p.pages = pe
		return nil
	}
}

// WithTranscoder replaces the ffmpeg transcoder.
func WithTranscoder(t Transcoder) Option {
	return func(p *Processor) error {
		p.transcoder = t
		return nil
	}
}

// WithClock replaces the wall clock used for created_at and IDs.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) error {
		p.now = now
		return nil
	}
}

// New creates a Processor. Without WithOCR or WithTranscriber the
// corresponding content is still accepted but flagged as degraded.
func New(opts ...Option) (*Processor, error) {
	p := &Processor{
		cfg:    DefaultConfig(),
		pages:  PDFExtractor{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.transcoder == nil {
		p.transcoder = FFmpeg{Path: p.cfg.FFmpegPath}
	}
	splitter, err := NewSplitter(p.cfg)
	if err != nil {
		return nil, err
	}
	p.splitter = splitter
	p.logger = p.logger.With("component", "processor")
	return p, nil
}

// Config returns the active configuration.
func (p *Processor) Config() *Config {
	return p.cfg
}

// Process validates sub and converts it. Validation failures are returned
// before any external service is called.
func (p *Processor) Process(ctx context.Context, sub core.Submission) (*Result, error) {
	if err := core.ValidateSubmission(&sub); err != nil {
		return nil, err
	}

	now := p.now().UTC()
	contentID := sub.ContentID
	if contentID == "" {
		contentID = core.NewContentID(sub.Type, now)
	}
	content := &core.Content{
		ID:        contentID,
		Type:      sub.Type,
		CreatedAt: now,
		Tags:      normalizeTags(sub.Tags),
	}

	var (
		res *Result
		err error
	)
	switch sub.Type {
	case core.ContentTypeDocument:
		res, err = p.processDocument(ctx, &sub, content)
	case core.ContentTypeNote:
		res, err = p.processNote(&sub, content)
	case core.ContentTypeImage, core.ContentTypeDrawing:
		res, err = p.processImage(ctx, &sub, content)
	case core.ContentTypeAudio:
		res, err = p.processAudio(ctx, &sub, content)
	default:
		return nil, core.Validationf("unsupported content type %q", sub.Type)
	}
	if err != nil {
		return nil, err
	}

	content.Filename = contentID + "." + res.Original.Ext
	content.FileSize = int64(len(res.Original.Data))
	content.Chunks = len(res.Chunks)
	for _, c := range res.Chunks {
		c.Metadata.Filename = content.Filename
		c.Metadata.FileSize = content.FileSize
	}

	p.logger.Debug("processed submission",
		"content_id", contentID,
		"content_type", sub.Type,
		"chunks", len(res.Chunks),
		"degraded", res.Degradations)
	return res, nil
}

func (p *Processor) processNote(sub *core.Submission, content *core.Content) (*Result, error) {
	content.Title = firstNonEmpty(sub.Title, "Untitled Note")
	content.Metadata.IsMarkdown = sub.IsMarkdown
	content.Metadata.WordCount = WordCount(sub.Text)

	ext := "txt"
	if sub.IsMarkdown {
		ext = "md"
	}
	return &Result{
		Content:  content,
		Chunks:   p.chunkAsNote(content, sub.Title, sub.Text),
		Original: Original{Data: []byte(sub.Text), Ext: ext},
	}, nil
}

func (p *Processor) processImage(ctx context.Context, sub *core.Submission, content *core.Content) (*Result, error) {
	ext := core.Extension(sub.Filename)
	if ext == "" {
		ext = "png"
	}
	kind := "Image"
	runOCR := true
	if sub.Type == core.ContentTypeDrawing {
		kind = "Drawing"
		runOCR = p.cfg.OCRDrawings
		content.Title = firstNonEmpty(sub.Title, sub.Caption, "Drawing")
	} else {
		content.Title = firstNonEmpty(sub.Title, sub.Caption, sub.Filename)
	}
	content.Metadata.Description = sub.Caption
	content.Metadata.OriginalFormat = ext

	var degraded []string
	ocrText := ""
	if runOCR {
		switch {
		case p.ocr == nil:
			degraded = append(degraded, DegradedOCRUnavailable)
		default:
			text, err := p.ocr.ExtractText(ctx, sub.Data, mimeType(ext))
			if err != nil {
				p.logger.Warn("ocr failed, continuing without image text", "err", err)
				degraded = append(degraded, DegradedOCRFailed)
			}
			ocrText = strings.TrimSpace(text)
		}
	}
	content.Metadata.OCRText = ocrText
	content.Metadata.HasOCR = ocrText != ""

	text := joinNonEmpty(sub.Caption, ocrText)
	if text == "" {
		if sub.Type == core.ContentTypeDrawing {
			text = kind + ": " + content.Title
		} else {
			text = kind + ": " + firstNonEmpty(sub.Filename, content.Title)
		}
	}
	content.Metadata.WordCount = WordCount(text)

	return &Result{
		Content:      content,
		Chunks:       p.chunkAsNote(content, "", text),
		Original:     Original{Data: sub.Data, Ext: ext},
		Degradations: degraded,
	}, nil
}

func (p *Processor) processAudio(ctx context.Context, sub *core.Submission, content *core.Content) (*Result, error) {
	ext := core.Extension(sub.Filename)
	content.Title = firstNonEmpty(sub.Title, sub.Filename)
	content.Metadata.Description = sub.Caption
	content.Metadata.OriginalFormat = ext

	var degraded []string
	original := Original{Data: sub.Data, Ext: ext}
	if ext != CanonicalAudioFormat {
		mp3, err := p.transcoder.ToMP3(ctx, sub.Data, ext)
		if err != nil {
			p.logger.Warn("transcode failed, keeping original format", "format", ext, "err", err)
			degraded = append(degraded, DegradedTranscodeFailed)
		} else {
			original = Original{Data: mp3, Ext: CanonicalAudioFormat}
		}
	}

	transcript := ""
	if p.transcriber == nil {
		degraded = append(degraded, DegradedTranscriptionUnavailable)
	} else {
		text, err := p.transcriber.Transcribe(ctx, sub.Data, sub.Filename, p.cfg.DomainHint)
		if err != nil {
			p.logger.Warn("transcription failed, indexing title and description only", "err", err)
			degraded = append(degraded, DegradedTranscriptionFailed)
		}
		transcript = strings.TrimSpace(text)
	}
	content.Metadata.Transcript = transcript
	content.Metadata.TranscriptAbsent = transcript == ""

	text := joinNonEmpty(sub.Caption, transcript)
	title := sub.Title
	if text == "" && title == "" {
		text = "Audio: " + sub.Filename
	}
	content.Metadata.WordCount = WordCount(joinNonEmpty(title, text))

	return &Result{
		Content:      content,
		Chunks:       p.chunkAsNote(content, title, text),
		Original:     original,
		Degradations: degraded,
	}, nil
}

func (p *Processor) processDocument(ctx context.Context, sub *core.Submission, content *core.Content) (*Result, error) {
	pages, err := p.pages.Pages(ctx, sub.Data, sub.PageRange)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, core.Validationf("document has no pages in range")
	}

	content.Title = firstNonEmpty(sub.Title, sub.Filename, "Document")
	content.Metadata.Hierarchy = sub.Hierarchy
	content.Metadata.OriginalFormat = "pdf"
	content.Metadata.PageRange = &core.PageRange{Start: pages[0].Number, End: pages[len(pages)-1].Number}

	var chunks []*core.Chunk
	words := 0
	for start := 0; start < len(pages); start += p.cfg.PageWindow {
		window := pages[start:min(start+p.cfg.PageWindow, len(pages))]
		texts := make([]string, 0, len(window))
		for _, pg := range window {
			if t := strings.TrimSpace(pg.Text); t != "" {
				texts = append(texts, t)
			}
		}
		text := strings.Join(texts, "\n\n")
		pr := &core.PageRange{Start: window[0].Number, End: window[len(window)-1].Number}
		if text == "" {
			text = fmt.Sprintf("%s, pages %s", content.Title, pr)
		}
		words += WordCount(text)

		tables, figures := References(text, p.cfg.MaxReferences)
		content.Metadata.Tables = mergeSorted(content.Metadata.Tables, tables)
		content.Metadata.Figures = mergeSorted(content.Metadata.Figures, figures)

		chunk := p.newChunk(content, len(chunks)+1, text)
		chunk.PageRange = pr
		chunk.Metadata.Tables = tables
		chunk.Metadata.Figures = figures
		chunks = append(chunks, chunk)
	}
	content.Metadata.WordCount = words

	return &Result{
		Content:  content,
		Chunks:   chunks,
		Original: Original{Data: sub.Data, Ext: "pdf"},
	}, nil
}

// chunkAsNote splits body under the size budget and prepends title to the
// first chunk only.
func (p *Processor) chunkAsNote(content *core.Content, title, body string) []*core.Chunk {
	texts := p.splitter.Chunks(body)
	if len(texts) == 0 {
		texts = []string{""}
	}
	if title = strings.TrimSpace(title); title != "" {
		texts[0] = strings.TrimSpace(title + "\n\n" + texts[0])
	}
	chunks := make([]*core.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, p.newChunk(content, i+1, t))
	}
	return chunks
}

func (p *Processor) newChunk(content *core.Content, n int, text string) *core.Chunk {
	return &core.Chunk{
		ID:          core.ChunkID(content.Type, content.ID, n),
		ContentID:   content.ID,
		ContentType: content.Type,
		Ordinal:     n,
		Text:        text,
		Preview:     Preview(text, p.cfg.PreviewLength),
		Checksum:    core.Checksum(text),
		Metadata: core.ChunkMetadata{
			Title:            content.Title,
			Tags:             content.Tags,
			CreatedAt:        content.CreatedAt,
			Hierarchy:        content.Metadata.Hierarchy,
			HasOCR:           content.Metadata.HasOCR,
			TranscriptAbsent: content.Metadata.TranscriptAbsent,
		},
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func mimeType(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "":
		return "image/png"
	default:
		return "image/" + ext
	}
}
