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

package core

import (
	"fmt"
	"time"
)

// ContentType partitions content into independent namespaces.
type ContentType string

const (
	// ContentTypeDocument is a page range taken from an uploaded document.
	ContentTypeDocument ContentType = "document"
	// ContentTypeNote is free text entered by a user.
	ContentTypeNote ContentType = "note"
	// ContentTypeImage is a raster image with optional caption.
	ContentTypeImage ContentType = "image"
	// ContentTypeDrawing is a hand-drawn sketch.
	ContentTypeDrawing ContentType = "drawing"
	// ContentTypeAudio is a recorded audio clip.
	ContentTypeAudio ContentType = "audio"
)

// ContentTypes lists every supported content type in display order.
var ContentTypes = []ContentType{
	ContentTypeDocument,
	ContentTypeNote,
	ContentTypeImage,
	ContentTypeDrawing,
	ContentTypeAudio,
}

// Valid reports whether t is one of the supported content types.
func (t ContentType) Valid() bool {
	for _, ct := range ContentTypes {
		if ct == t {
			return true
		}
	}
	return false
}

func (t ContentType) String() string {
	return string(t)
}

// ParseContentType converts a string to a ContentType.
func ParseContentType(s string) (ContentType, error) {
	t := ContentType(s)
	if !t.Valid() {
		return "", Validationf("unsupported content type %q", s)
	}
	return t, nil
}

// PageRange is an inclusive, 1-based page interval.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of pages covered by the range.
func (r PageRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r PageRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Metadata holds the type-specific attributes of a Content unit.
type Metadata struct {
	Description      string     `json:"description,omitempty"`
	PageRange        *PageRange `json:"page_range,omitempty"`
	Hierarchy        []string   `json:"hierarchy,omitempty"`
	OCRText          string     `json:"ocr_text,omitempty"`
	HasOCR           bool       `json:"has_ocr,omitempty"`
	Transcript       string     `json:"transcript,omitempty"`
	TranscriptAbsent bool       `json:"transcript_absent,omitempty"`
	IsMarkdown       bool       `json:"is_markdown,omitempty"`
	WordCount        int        `json:"word_count,omitempty"`
	Tables           []string   `json:"tables,omitempty"`
	Figures          []string   `json:"figures,omitempty"`
	OriginalFormat   string     `json:"original_format,omitempty"`
}

// Content is one logical searchable unit. It is replaced wholesale on
// re-ingestion and never patched in place.
type Content struct {
	ID        string      `json:"content_id"`
	Type      ContentType `json:"content_type"`
	Title     string      `json:"title"`
	Filename  string      `json:"filename"`
	CreatedAt time.Time   `json:"created_at"`
	Tags      []string    `json:"tags"`
	FileSize  int64       `json:"file_size"`
	Chunks    int         `json:"chunks"`
	Metadata  Metadata    `json:"metadata"`
}

// ChunkMetadata is the subset of Content attributes copied onto every chunk
// so search results can be rebuilt from a single index entry.
type ChunkMetadata struct {
	Title            string    `json:"title"`
	Filename         string    `json:"filename"`
	Tags             []string  `json:"tags,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	Hierarchy        []string  `json:"hierarchy,omitempty"`
	Tables           []string  `json:"tables,omitempty"`
	Figures          []string  `json:"figures,omitempty"`
	HasOCR           bool      `json:"has_ocr,omitempty"`
	TranscriptAbsent bool      `json:"transcript_absent,omitempty"`
	FileSize         int64     `json:"file_size,omitempty"`
}

// Chunk is a bounded text span derived from a Content unit. It is the unit
// of embedding and retrieval.
type Chunk struct {
	ID          string        `json:"chunk_id"`
	ContentID   string        `json:"content_id"`
	ContentType ContentType   `json:"content_type"`
	Ordinal     int           `json:"ordinal"`
	Text        string        `json:"text"`
	Preview     string        `json:"preview"`
	Checksum    string        `json:"checksum"`
	PageRange   *PageRange    `json:"page_range,omitempty"`
	Metadata    ChunkMetadata `json:"metadata"`
}

// Submission is a raw upload as received from the upload boundary.
type Submission struct {
	Type ContentType `json:"content_type" validate:"required"`
	// ContentID forces a specific identifier, used when re-adding existing
	// content. Generated when empty.
	ContentID  string     `json:"content_id,omitempty" validate:"omitempty,max=128"`
	Title      string     `json:"title,omitempty" validate:"max=300"`
	Text       string     `json:"text,omitempty"`
	Data       []byte     `json:"-"`
	Filename   string     `json:"filename,omitempty" validate:"max=255"`
	Caption    string     `json:"caption,omitempty" validate:"max=4000"`
	Tags       []string   `json:"tags,omitempty" validate:"max=32,dive,min=1,max=64"`
	PageRange  *PageRange `json:"page_range,omitempty"`
	Hierarchy  []string   `json:"hierarchy,omitempty" validate:"max=8,dive,max=200"`
	IsMarkdown bool       `json:"is_markdown,omitempty"`
}

// IndexStatus distinguishes the outcomes of a mutating call.
type IndexStatus string

const (
	// StatusIndexed means the content is stored and searchable.
	StatusIndexed IndexStatus = "indexed"
	// StatusPartial means the content was saved but is not yet searchable.
	StatusPartial IndexStatus = "partial"
	// StatusRejected means the submission was refused before any write.
	StatusRejected IndexStatus = "rejected"
	// StatusDeleted means the content is absent from every tier.
	StatusDeleted IndexStatus = "deleted"
)

// AddResult is returned from the upload boundary.
type AddResult struct {
	Status        IndexStatus `json:"status"`
	ContentID     string      `json:"content_id,omitempty"`
	ChunksCreated int         `json:"chunks_created"`
	Indexed       bool        `json:"indexed"`
	Message       string      `json:"message"`
	Degraded      []string    `json:"degraded,omitempty"`
}

// DeleteResult is returned from the delete boundary.
type DeleteResult struct {
	Status        IndexStatus `json:"status"`
	ContentID     string      `json:"content_id"`
	ChunksRemoved int         `json:"chunks_removed"`
	Message       string      `json:"message"`
}
