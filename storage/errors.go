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

package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/recall/core"
)

var (
	// ErrObjectNotFound indicates that the requested object does not exist.
	// It wraps core.ErrNotFound.
	ErrObjectNotFound = fmt.Errorf("object %w", core.ErrNotFound)

	// ErrConflict indicates a conditional write lost a race and should be retried.
	ErrConflict = errors.New("concurrent modification")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrReadOnly indicates a write against a store opened read-only.
	ErrReadOnly = errors.New("storage is read-only")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the vectors already indexed.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidKey indicates a key that escapes the store or is empty.
	ErrInvalidKey = errors.New("invalid object key")
)
