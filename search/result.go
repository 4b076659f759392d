package search

import (
	"math"
	"strings"

	"github.com/poiesic/recall/core"
)

// Request is one search query.
type Request struct {
	Query string `json:"query"`
	// MaxResults defaults to the configured value when zero.
	MaxResults int `json:"max_results,omitempty"`
	// Types restricts results to the listed content types. Empty means all.
	Types []core.ContentType `json:"types,omitempty"`
}

// Response is the answer to a Request.
type Response struct {
	Query        string    `json:"query"`
	Results      []*Result `json:"results"`
	TotalResults int       `json:"total_results"`
	SearchTimeMS float64   `json:"search_time_ms"`
}

// Result is one ranked chunk, shaped by its content type.
type Result struct {
	ChunkID     string           `json:"chunk_id"`
	ContentID   string           `json:"content_id"`
	ContentType core.ContentType `json:"content_type"`
	Title       string           `json:"title"`
	Text        string           `json:"text"`
	Preview     string           `json:"preview"`
	Relevance   float64          `json:"relevance"`
	// PageRange is nil for everything but documents.
	PageRange        *core.PageRange `json:"page_range"`
	Hierarchy        string          `json:"hierarchy,omitempty"`
	TypeLabel        string          `json:"type_label"`
	Icon             string          `json:"icon"`
	Tags             []string        `json:"tags"`
	Filename         string          `json:"filename"`
	Tables           []string        `json:"tables,omitempty"`
	Figures          []string        `json:"figures,omitempty"`
	HasOCR           bool            `json:"has_ocr,omitempty"`
	TranscriptAbsent bool            `json:"transcript_absent,omitempty"`
}

var typeLabels = map[core.ContentType]struct{ label, icon string }{
	core.ContentTypeDocument: {"Document", "📄"},
	core.ContentTypeNote:     {"Note", "📝"},
	core.ContentTypeImage:    {"Image", "📷"},
	core.ContentTypeDrawing:  {"Drawing", "✏️"},
	core.ContentTypeAudio:    {"Audio", "🎤"},
}

// Label returns the display label and icon for t.
func Label(t core.ContentType) (string, string) {
	l, ok := typeLabels[t]
	if !ok {
		return "Content", "📁"
	}
	return l.label, l.icon
}

// Relevance converts a squared L2 distance between unit vectors into a
// score in [0, 1] rounded to three decimals. For unit vectors this is the
// cosine similarity clamped at zero.
func Relevance(squaredDistance float32) float64 {
	r := 1 - float64(squaredDistance)/2
	r = math.Max(0, math.Min(1, r))
	return math.Round(r*1000) / 1000
}

func shape(chunk *core.Chunk, relevance float64) *Result {
	label, icon := Label(chunk.ContentType)
	tags := chunk.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	r := &Result{
		ChunkID:          chunk.ID,
		ContentID:        chunk.ContentID,
		ContentType:      chunk.ContentType,
		Title:            chunk.Metadata.Title,
		Text:             chunk.Text,
		Preview:          chunk.Preview,
		Relevance:        relevance,
		TypeLabel:        label,
		Icon:             icon,
		Tags:             tags,
		Filename:         chunk.Metadata.Filename,
		HasOCR:           chunk.Metadata.HasOCR,
		TranscriptAbsent: chunk.Metadata.TranscriptAbsent,
	}
	if chunk.ContentType == core.ContentTypeDocument {
		r.PageRange = chunk.PageRange
		r.Hierarchy = hierarchyPath(chunk.Metadata.Hierarchy, chunk.PageRange)
		r.Tables = chunk.Metadata.Tables
		r.Figures = chunk.Metadata.Figures
	}
	return r
}

func hierarchyPath(levels []string, pages *core.PageRange) string {
	parts := make([]string, 0, len(levels)+1)
	for _, l := range levels {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	if pages != nil {
		if pages.Start == pages.End {
			parts = append(parts, "Page "+pages.String())
		} else {
			parts = append(parts, "Pages "+pages.String())
		}
	}
	return strings.Join(parts, " > ")
}
