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

// Package search answers semantic queries across every content type.
//
// The Engine embeds the query, looks up nearest chunks in an in-memory HNSW
// handle built from the vector index, converts squared L2 distance to a
// relevance in [0, 1] and shapes one result per chunk by content type.
//
// The handle is built lazily on first use and replaced wholesale:
//   - Invalidate drops it after an in-process add or delete
//   - Reload pulls the index snapshot from the blob store first
//   - a search that finds the version marker ahead of the handle reloads
//
// Results are ordered by relevance, then by nearest-neighbour rank, then
// by chunk ID, so identical queries against the same handle return
// identical lists.
package search
