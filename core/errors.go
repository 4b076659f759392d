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
	"fmt"
)

// Error taxonomy. Every error crossing a package boundary wraps exactly one
// of these so callers can classify it with errors.Is.
var (
	// ErrValidation indicates bad or unsupported input. Nothing was written.
	ErrValidation = errors.New("validation error")

	// ErrExternalService indicates an embedding, OCR or transcription call failed.
	ErrExternalService = errors.New("external service error")

	// ErrStorageConsistency indicates a tier write failed after an earlier
	// tier had already been updated.
	ErrStorageConsistency = errors.New("storage consistency error")

	// ErrNotFound indicates an unknown content or chunk identifier.
	ErrNotFound = errors.New("not found")
)

// Validationf returns an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ExternalService wraps err as an ErrExternalService for the named service.
func ExternalService(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalService, service, err)
}

// StorageConsistency wraps err as an ErrStorageConsistency for the named step.
func StorageConsistency(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageConsistency, step, err)
}

// NotFoundf returns an ErrNotFound with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
