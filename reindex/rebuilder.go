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

package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/catalog"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/indexer"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
)

// Config holds configuration for a rebuild.
type Config struct {
	// BatchSize is the number of chunks embedded per call.
	BatchSize int `yaml:"batch_size"`

	// MaxChars truncates chunk text before embedding.
	MaxChars int `yaml:"max_chars"`

	// ReportInterval is how often to report progress, in chunks.
	ReportInterval int `yaml:"report_interval"`

	// MaxRetries is the maximum number of attempts per embedding call.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Types restricts the rebuild. Empty means every content type.
	Types []core.ContentType `yaml:"types"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		MaxChars:       8000,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Publisher snapshots the index and announces the change.
type Publisher interface {
	Publish(ctx context.Context) (int64, error)
}

// TypeReport summarizes the rebuild of one content type.
type TypeReport struct {
	Type     core.ContentType `json:"content_type"`
	Contents int              `json:"contents"`
	Chunks   int              `json:"chunks"`
	Embedded int              `json:"embedded"`
	Skipped  int              `json:"skipped"`
	Removed  int              `json:"removed"`
}

// Report summarizes a rebuild.
type Report struct {
	Types     []TypeReport `json:"types"`
	Synced    int          `json:"synced"`
	Published bool         `json:"published"`
	Version   int64        `json:"version,omitempty"`
}

// Rebuilder regenerates catalogs and the vector index from chunk records.
type Rebuilder struct {
	local     storage.BlobStore
	blob      storage.BlobStore
	index     *badger.Index
	catalog   *catalog.Catalog
	mirror    *storage.Mirror
	iterator  *ChunkIterator
	processor *BatchProcessor
	publisher Publisher
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
}

// Option configures a Rebuilder.
type Option func(*Rebuilder) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rebuilder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(r *Rebuilder) error {
		if config != nil {
			r.config = config
		}
		return nil
	}
}

// WithProgress writes progress lines to w, typically os.Stderr.
func WithProgress(w io.Writer) Option {
	return func(r *Rebuilder) error {
		r.progress = w
		return nil
	}
}

// New creates a Rebuilder over the given tiers. publisher is normally the
// Indexer owning the same tiers.
func New(tiers indexer.Tiers, embedder ai.Embedder, publisher Publisher, opts ...Option) (*Rebuilder, error) {
	switch {
	case tiers.Local == nil:
		return nil, indexer.ErrLocalStoreRequired
	case tiers.Blob == nil:
		return nil, indexer.ErrBlobStoreRequired
	case tiers.Index == nil:
		return nil, indexer.ErrIndexRequired
	case embedder == nil:
		return nil, indexer.ErrEmbedderRequired
	case publisher == nil:
		return nil, ErrPublisherRequired
	}

	r := &Rebuilder{
		local:     tiers.Local,
		blob:      tiers.Blob,
		index:     tiers.Index,
		publisher: publisher,
		config:    DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "reindex")

	var err error
	if r.catalog, err = catalog.New(r.local, catalog.WithLogger(r.logger)); err != nil {
		return nil, err
	}
	if r.mirror, err = storage.NewMirror(0, r.logger); err != nil {
		return nil, err
	}
	r.iterator = NewChunkIterator(r.local, r.config.BatchSize, r.logger)
	r.processor = NewBatchProcessor(r.index, embedder, r.config.MaxChars, r.config.MaxRetries, r.config.RetryDelay)
	return r, nil
}

// Release stops the worker pool.
func (r *Rebuilder) Release() {
	r.mirror.Release()
}

// Run rebuilds every configured content type. The local cache is first
// refreshed from the blob store. When force is set every chunk is
// re-embedded; otherwise only chunks whose checksum differs from the
// indexed one are.
func (r *Rebuilder) Run(ctx context.Context, force bool) (*Report, error) {
	types := r.config.Types
	if len(types) == 0 {
		types = core.ContentTypes
	}

	report := &Report{}
	prefixes := make([]string, 0, len(types))
	for _, t := range types {
		prefixes = append(prefixes, storage.ContentDir(t)+"/", storage.ChunksDir(t)+"/")
	}
	synced, err := r.mirror.SyncDown(ctx, r.blob, r.local, prefixes...)
	if err != nil {
		return nil, core.StorageConsistency("sync local cache", err)
	}
	report.Synced = synced

	if r.index.ReadOnly() || r.index.IsClosed() {
		if err := r.index.PrepareForWrite(ctx); err != nil {
			return nil, core.StorageConsistency("prepare index", err)
		}
	}

	changed := force
	for _, t := range types {
		tr, err := r.rebuildType(ctx, t, force)
		if err != nil {
			return report, err
		}
		report.Types = append(report.Types, *tr)
		if tr.Embedded > 0 || tr.Removed > 0 {
			changed = true
		}
	}

	if changed {
		v, err := r.publisher.Publish(ctx)
		if err != nil {
			return report, err
		}
		report.Published = true
		report.Version = v
	}
	r.logger.Info("rebuild complete", "force", force, "published", report.Published, "version", report.Version)
	return report, nil
}

func (r *Rebuilder) rebuildType(ctx context.Context, t core.ContentType, force bool) (*TypeReport, error) {
	tr := &TypeReport{Type: t}

	summary, err := r.catalog.Rebuild(ctx, t)
	if err != nil {
		return nil, core.StorageConsistency("rebuild catalog", err)
	}
	tr.Contents = summary.TotalItems
	if err := r.mirror.Copy(ctx, r.local, r.blob, []string{storage.SummaryKey(t)}); err != nil {
		return nil, core.StorageConsistency("mirror catalog", err)
	}

	indexed, err := r.index.Checksums(ctx, t)
	if err != nil {
		return nil, core.StorageConsistency("read index", err)
	}

	// Chunks on disk, and the subset that needs an embedding.
	present := make(map[string]*core.Chunk)
	pending := make(map[string]*core.Chunk)
	err = r.iterator.ForEach(ctx, t, func(batch []*core.Chunk) error {
		for _, c := range batch {
			present[c.ID] = c
			if sum, ok := indexed[c.ID]; force || !ok || sum != c.Checksum {
				pending[c.ID] = c
			}
		}
		return nil
	})
	if err != nil {
		return nil, core.StorageConsistency("read chunk records", err)
	}
	tr.Chunks = len(present)

	// Index entries without a chunk record. Each affected content unit is
	// cleared and its surviving chunks re-embedded.
	var orphans []string
	for id := range indexed {
		if _, ok := present[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		removed, requeue, err := r.dropOrphans(ctx, t, orphans, present)
		if err != nil {
			return nil, err
		}
		tr.Removed = removed
		for _, c := range requeue {
			pending[c.ID] = c
		}
	}

	ids := slices.Sorted(maps.Keys(pending))
	tr.Embedded = len(ids)
	tr.Skipped = tr.Chunks - tr.Embedded
	if len(ids) == 0 {
		r.logger.Info("content type up to date", "content_type", t, "chunks", tr.Chunks, "removed", tr.Removed)
		return tr, nil
	}

	tracker := NewProgressTracker(r.progress, string(t), len(ids), r.config.ReportInterval)
	tracker.Start()
	for start := 0; start < len(ids); start += r.config.BatchSize {
		batch := make([]*core.Chunk, 0, r.config.BatchSize)
		for _, id := range ids[start:min(start+r.config.BatchSize, len(ids))] {
			batch = append(batch, pending[id])
		}
		if err := r.processor.Process(ctx, batch); err != nil {
			return nil, fmt.Errorf("rebuild %s: %w", t, err)
		}
		tracker.Increment(len(batch))
	}
	tracker.Finish()

	r.logger.Info("content type rebuilt",
		"content_type", t,
		"chunks", tr.Chunks,
		"embedded", tr.Embedded,
		"removed", tr.Removed,
		"elapsed", tracker.Elapsed().Round(time.Millisecond))
	return tr, nil
}

// dropOrphans clears the content units owning orphans from the index and
// returns how many orphan entries went away and which surviving chunks need
// re-embedding.
func (r *Rebuilder) dropOrphans(ctx context.Context, t core.ContentType, orphans []string, present map[string]*core.Chunk) (int, []*core.Chunk, error) {
	entries, err := r.index.Get(ctx, orphans...)
	if err != nil {
		return 0, nil, core.StorageConsistency("read index", err)
	}
	contents := make(map[string]bool)
	for _, e := range entries {
		if e != nil {
			contents[e.Chunk.ContentID] = true
		}
	}

	var errs []error
	for contentID := range contents {
		if _, err := r.index.DeleteByContent(ctx, t, contentID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return 0, nil, core.StorageConsistency("delete orphaned entries", err)
	}

	var requeue []*core.Chunk
	for _, c := range present {
		if contents[c.ContentID] {
			requeue = append(requeue, c)
		}
	}
	r.logger.Info("dropped orphaned index entries", "content_type", t, "entries", len(orphans), "contents", len(contents))
	return len(orphans), requeue, nil
}
