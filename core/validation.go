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
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Accepted upload formats, by lowercase extension without the dot.
var (
	ImageFormats    = []string{"png", "jpg", "jpeg", "gif", "webp", "bmp", "heic"}
	AudioFormats    = []string{"mp3", "wav", "m4a", "ogg", "webm", "flac", "aac", "mp4"}
	DocumentFormats = []string{"pdf"}
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Extension returns the lowercase extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// ValidateSubmission checks a submission before any storage is touched.
//
// Validation rules:
//   - struct constraints (lengths, tag counts)
//   - the content type must be supported
//   - notes need non-blank text; every other type needs payload bytes
//   - file extensions must be an accepted format for the type
//   - page ranges must be 1-based and ordered
//   - an explicit content ID must carry the submission's type prefix
func ValidateSubmission(sub *Submission) error {
	if sub == nil {
		return Validationf("submission is nil")
	}

	if err := structValidator().Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" failed "+fe.Tag())
			}
			return Validationf("%s", strings.Join(fields, "; "))
		}
		return Validationf("%v", err)
	}

	if !sub.Type.Valid() {
		return Validationf("unsupported content type %q", sub.Type)
	}

	switch sub.Type {
	case ContentTypeNote:
		if strings.TrimSpace(sub.Text) == "" {
			return Validationf("note text cannot be empty")
		}
	case ContentTypeDocument:
		if len(sub.Data) == 0 {
			return Validationf("document payload is empty")
		}
		if err := checkFormat(sub.Filename, DocumentFormats, false); err != nil {
			return err
		}
	case ContentTypeImage:
		if len(sub.Data) == 0 {
			return Validationf("image payload is empty")
		}
		if err := checkFormat(sub.Filename, ImageFormats, true); err != nil {
			return err
		}
	case ContentTypeDrawing:
		if len(sub.Data) == 0 {
			return Validationf("drawing payload is empty")
		}
		if err := checkFormat(sub.Filename, ImageFormats, false); err != nil {
			return err
		}
	case ContentTypeAudio:
		if len(sub.Data) == 0 {
			return Validationf("audio payload is empty")
		}
		if err := checkFormat(sub.Filename, AudioFormats, true); err != nil {
			return err
		}
	}

	if sub.PageRange != nil {
		if sub.Type != ContentTypeDocument {
			return Validationf("page range is only valid for documents")
		}
		if sub.PageRange.Start < 1 || sub.PageRange.End < sub.PageRange.Start {
			return Validationf("invalid page range %d-%d", sub.PageRange.Start, sub.PageRange.End)
		}
	}

	if sub.ContentID != "" {
		t, err := ParseContentID(sub.ContentID)
		if err != nil {
			return err
		}
		if t != sub.Type {
			return Validationf("content id %q does not belong to type %s", sub.ContentID, sub.Type)
		}
	}

	return nil
}

func checkFormat(filename string, accepted []string, required bool) error {
	if filename == "" {
		if required {
			return Validationf("filename is required to determine the format")
		}
		return nil
	}
	ext := Extension(filename)
	if !slices.Contains(accepted, ext) {
		return Validationf("unsupported format %q (accepted: %s)", ext, strings.Join(accepted, ", "))
	}
	return nil
}
