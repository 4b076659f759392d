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

// Package catalog maintains the per-content-type SummaryCatalog manifest
// (summary.json), which lists indexed content without scanning chunks.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

var (
	// ErrCorrupt indicates a manifest that cannot be parsed or migrated.
	ErrCorrupt = errors.New("corrupt catalog manifest")

	// ErrUnsupportedVersion indicates a manifest written by a newer schema.
	ErrUnsupportedVersion = errors.New("unsupported catalog schema version")
)

// Item is one catalog row.
type Item struct {
	ContentID string    `json:"content_id"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	Chunks    int       `json:"chunks"`
	FileSize  int64     `json:"file_size"`
	Tags      []string  `json:"tags"`
}

// ItemFromContent builds the catalog row for c.
func ItemFromContent(c *core.Content) Item {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return Item{
		ContentID: c.ID,
		Title:     c.Title,
		Filename:  c.Filename,
		CreatedAt: c.CreatedAt,
		Chunks:    c.Chunks,
		FileSize:  c.FileSize,
		Tags:      tags,
	}
}

// Summary is the manifest for one content type.
type Summary struct {
	SchemaVersion int              `json:"schema_version"`
	ContentType   core.ContentType `json:"content_type"`
	TotalItems    int              `json:"total_items"`
	TotalChunks   int              `json:"total_chunks"`
	Items         []Item           `json:"items"`
}

func newSummary(t core.ContentType) *Summary {
	return &Summary{SchemaVersion: SchemaVersion, ContentType: t, Items: []Item{}}
}

func (s *Summary) recount() {
	if s.Items == nil {
		s.Items = []Item{}
	}
	s.TotalItems = len(s.Items)
	s.TotalChunks = 0
	for _, it := range s.Items {
		s.TotalChunks += it.Chunks
	}
}

// ContentIDs returns the content IDs listed in the manifest, sorted.
func (s *Summary) ContentIDs() []string {
	ids := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		ids = append(ids, it.ContentID)
	}
	sort.Strings(ids)
	return ids
}

// Find returns the row for contentID.
func (s *Summary) Find(contentID string) (Item, bool) {
	for _, it := range s.Items {
		if it.ContentID == contentID {
			return it, true
		}
	}
	return Item{}, false
}

func encode(s *Summary) ([]byte, error) {
	s.SchemaVersion = SchemaVersion
	s.recount()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return data, nil
}

// Catalog reads and writes manifests in a BlobStore.
type Catalog struct {
	store  storage.BlobStore
	logger *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog) error

// WithLogger sets the logger for the catalog.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a Catalog over store.
func New(store storage.BlobStore, opts ...Option) (*Catalog, error) {
	c := &Catalog{store: store, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "catalog")
	return c, nil
}

// Load returns the manifest for t, migrated to the current schema. A
// missing manifest yields an empty one.
func (c *Catalog) Load(ctx context.Context, t core.ContentType) (*Summary, error) {
	data, err := c.store.Get(ctx, storage.SummaryKey(t))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return newSummary(t), nil
	}
	if err != nil {
		return nil, err
	}
	s, migrated, err := decode(data, t)
	if err != nil {
		return nil, err
	}
	if migrated {
		c.logger.Info("migrated legacy manifest on read", "content_type", t)
	}
	return s, nil
}

// mutate runs a migrating read-modify-write of the manifest for t.
func (c *Catalog) mutate(ctx context.Context, t core.ContentType, fn func(*Summary) error) (*Summary, error) {
	var result *Summary
	err := c.store.Update(ctx, storage.SummaryKey(t), func(current []byte, exists bool) ([]byte, error) {
		s := newSummary(t)
		if exists {
			decoded, migrated, err := decode(current, t)
			if err != nil {
				return nil, err
			}
			if migrated {
				c.logger.Info("migrating legacy manifest", "content_type", t)
			}
			s = decoded
		}
		if err := fn(s); err != nil {
			return nil, err
		}
		result = s
		return encode(s)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert records item in the manifest for t. An existing row with the same
// content ID is replaced in place; otherwise the row is appended.
func (c *Catalog) Upsert(ctx context.Context, t core.ContentType, item Item) (*Summary, error) {
	if item.ContentID == "" {
		return nil, core.Validationf("catalog item without content id")
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return c.mutate(ctx, t, func(s *Summary) error {
		idx := slices.IndexFunc(s.Items, func(it Item) bool { return it.ContentID == item.ContentID })
		if idx >= 0 {
			s.Items[idx] = item
		} else {
			s.Items = append(s.Items, item)
		}
		return nil
	})
}

// Remove drops the row for contentID. It reports whether a row existed;
// removing an absent row is not an error.
func (c *Catalog) Remove(ctx context.Context, t core.ContentType, contentID string) (bool, error) {
	found := false
	_, err := c.mutate(ctx, t, func(s *Summary) error {
		n := len(s.Items)
		s.Items = slices.DeleteFunc(s.Items, func(it Item) bool { return it.ContentID == contentID })
		found = len(s.Items) != n
		return nil
	})
	return found, err
}

// Rebuild derives the manifest for t from the chunk records and content
// records in the store and overwrites it. Running it twice yields the same
// manifest.
func (c *Catalog) Rebuild(ctx context.Context, t core.ContentType) (*Summary, error) {
	keys, err := c.store.List(ctx, storage.ChunksDir(t)+"/")
	if err != nil {
		return nil, err
	}

	byContent := make(map[string]*Item)
	var order []string
	for _, key := range keys {
		if !storage.IsChunkKey(key) {
			continue
		}
		data, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		chunk, err := storage.UnmarshalChunk(data)
		if err != nil {
			c.logger.Warn("skipping unreadable chunk record", "key", key, "err", err)
			continue
		}
		item, ok := byContent[chunk.ContentID]
		if !ok {
			item = &Item{
				ContentID: chunk.ContentID,
				Title:     chunk.Metadata.Title,
				Filename:  chunk.Metadata.Filename,
				CreatedAt: chunk.Metadata.CreatedAt,
				FileSize:  chunk.Metadata.FileSize,
				Tags:      chunk.Metadata.Tags,
			}
			byContent[chunk.ContentID] = item
			order = append(order, chunk.ContentID)
		}
		item.Chunks++
	}

	s := newSummary(t)
	for _, id := range order {
		item := byContent[id]
		// Prefer the content record where one exists.
		if data, err := c.store.Get(ctx, storage.ContentRecordKey(t, id)); err == nil {
			if content, err := storage.UnmarshalContent(data); err == nil {
				chunks := item.Chunks
				*item = ItemFromContent(content)
				item.Chunks = chunks
			}
		}
		if item.Tags == nil {
			item.Tags = []string{}
		}
		s.Items = append(s.Items, *item)
	}
	slices.SortStableFunc(s.Items, func(a, b Item) int {
		if cmp := a.CreatedAt.Compare(b.CreatedAt); cmp != 0 {
			return cmp
		}
		if a.ContentID < b.ContentID {
			return -1
		}
		if a.ContentID > b.ContentID {
			return 1
		}
		return 0
	})

	data, err := encode(s)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, storage.SummaryKey(t), data); err != nil {
		return nil, err
	}
	c.logger.Info("rebuilt manifest", "content_type", t, "items", s.TotalItems, "chunks", s.TotalChunks)
	return s, nil
}
