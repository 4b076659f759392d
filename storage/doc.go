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


// Package storage provides the storage abstraction layer for Recall.
//
// Content lives in three tiers that fail independently:
//
//   - LocalCache: process-local staging area (storage/local)
//   - the durable store: system of record across restarts (storage/gcs or storage/local)
//   - VectorIndex: embeddings plus nearest-neighbor data (storage/badger)
//
// The first two share the BlobStore interface and the key scheme in
// layout.go, so a key written to one tier can be copied verbatim to the
// other. Mirror copies and removes keys between tiers with a worker pool.
//
// # Key Scheme
//
//	<type>/<content_id>.<ext>                       original upload
//	<type>/<content_id>.meta.json                   content record
//	<type>_chunks/<type>_<content_id>_chunk<n>.json chunk record
//	<type>_chunks/summary.json                      SummaryCatalog manifest
//	vector_index/snapshot.bak                       VectorIndex backup
//	version.txt                                     VersionMarker
//
// # Thread Safety
//
// All BlobStore implementations must be thread-safe. Put is atomic per key;
// Update serializes read-modify-write cycles on a single key.
//
// # Context Support
//
// All store methods accept context.Context for cancellation
// and timeout support.
package storage
