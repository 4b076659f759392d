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

package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/catalog"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/metrics"
	"github.com/poiesic/recall/processor"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
	"github.com/poiesic/recall/version"
)

const (
	defaultBatchSize = 100
	defaultMaxChars  = 8000
)

// Tiers groups the storage surfaces the Indexer keeps in step.
type Tiers struct {
	// Local is the process-local cache. Catalogs are read and written here.
	Local storage.BlobStore
	// Blob is the durable system of record.
	Blob storage.BlobStore
	// Index holds chunk embeddings.
	Index *badger.Index
}

// Reloader is told about every published change.
type Reloader interface {
	// Invalidate drops the current search handle. version is the marker
	// value written for the change.
	Invalidate(version int64)
}

// Indexer orchestrates add and delete across the storage tiers.
type Indexer struct {
	local     storage.BlobStore
	blob      storage.BlobStore
	index     *badger.Index
	processor *processor.Processor
	embedder  ai.Embedder
	catalog   *catalog.Catalog
	tracker   *version.Tracker
	mirror    *storage.Mirror
	reloader  Reloader
	metrics   *metrics.Metrics
	poolSize  int
	batchSize int
	maxChars  int
	logger    *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
		return nil
	}
}

// WithPoolSize sets the number of concurrent blob mirroring workers.
// Default is runtime.NumCPU().
func WithPoolSize(size int) Option {
	return func(ix *Indexer) error {
		if size < 1 {
			size = 1
		}
		ix.poolSize = size
		return nil
	}
}

// WithReloader registers the search engine to notify after each change.
func WithReloader(r Reloader) Option {
	return func(ix *Indexer) error {
		ix.reloader = r
		return nil
	}
}

// WithTracker shares a Tracker with the search engine so restores and
// writes against the index are serialized. By default the Indexer creates
// its own.
func WithTracker(t *version.Tracker) Option {
	return func(ix *Indexer) error {
		ix.tracker = t
		return nil
	}
}

// WithMetrics records add and delete outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) error {
		ix.metrics = m
		return nil
	}
}

// WithEmbedLimits sets the embedding batch size and per-text truncation.
// Values below 1 keep the defaults of 100 texts and 8000 characters.
func WithEmbedLimits(batchSize, maxChars int) Option {
	return func(ix *Indexer) error {
		if batchSize > 0 {
			ix.batchSize = batchSize
		}
		if maxChars > 0 {
			ix.maxChars = maxChars
		}
		return nil
	}
}

// New creates an Indexer. The vector index is prepared for write before
// New returns, so a snapshot restored read-only accepts the first add.
func New(tiers Tiers, proc *processor.Processor, embedder ai.Embedder, opts ...Option) (*Indexer, error) {
	switch {
	case tiers.Local == nil:
		return nil, ErrLocalStoreRequired
	case tiers.Blob == nil:
		return nil, ErrBlobStoreRequired
	case tiers.Index == nil:
		return nil, ErrIndexRequired
	case proc == nil:
		return nil, ErrProcessorRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	}

	ix := &Indexer{
		local:     tiers.Local,
		blob:      tiers.Blob,
		index:     tiers.Index,
		processor: proc,
		embedder:  embedder,
		poolSize:  runtime.NumCPU(),
		batchSize: defaultBatchSize,
		maxChars:  defaultMaxChars,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	ix.logger = ix.logger.With("component", "indexer")

	var err error
	if ix.catalog, err = catalog.New(ix.local, catalog.WithLogger(ix.logger)); err != nil {
		return nil, err
	}
	if ix.tracker == nil {
		ix.tracker, err = version.NewTracker(ix.blob, ix.index,
			version.WithCache(ix.local),
			version.WithTrackerLogger(ix.logger))
		if err != nil {
			return nil, err
		}
	}
	if ix.reloader != nil {
		ix.tracker.OnChange(ix.reloader.Invalidate)
	}
	if ix.mirror, err = storage.NewMirror(ix.poolSize, ix.logger); err != nil {
		return nil, err
	}
	if err := ix.index.PrepareForWrite(context.Background()); err != nil {
		ix.mirror.Release()
		return nil, core.StorageConsistency("prepare index", err)
	}
	return ix, nil
}

// Release stops the mirroring workers. The Indexer must not be used after.
func (ix *Indexer) Release() {
	if ix.mirror != nil {
		ix.mirror.Release()
	}
}

// Catalog returns the catalog kept on the local tier.
func (ix *Indexer) Catalog() *catalog.Catalog {
	return ix.catalog
}

// Marker returns the version marker kept on the blob tier.
func (ix *Indexer) Marker() *version.Marker {
	return ix.tracker.Marker()
}

// ensureWritable reopens the index read-write if a restore left it read-only.
func (ix *Indexer) ensureWritable(ctx context.Context) error {
	if !ix.index.ReadOnly() && !ix.index.IsClosed() {
		return nil
	}
	ix.logger.Warn("vector index is read-only, preparing for write")
	return ix.index.PrepareForWrite(ctx)
}

// Publish snapshots the index as it stands to the blob tier, bumps the
// version marker and notifies the reloader. Unlike Add and Delete it does
// not catch up with other writers first; a full rebuild is authoritative.
func (ix *Indexer) Publish(ctx context.Context) (int64, error) {
	return ix.tracker.Publish(ctx)
}

// embed returns one vector per chunk, batching and truncating texts.
func (ix *Indexer) embed(ctx context.Context, chunks []*core.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = truncate(c.Text, ix.maxChars)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ix.batchSize {
		batch := texts[start:min(start+ix.batchSize, len(texts))]
		vecs, err := ix.embedder.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, wrapEmbedding(err)
		}
		if len(vecs) != len(batch) {
			return nil, wrapEmbedding(fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingMismatch, len(vecs), len(batch)))
		}
		vectors = append(vectors, vecs...)
	}
	return vectors, nil
}

func wrapEmbedding(err error) error {
	if errors.Is(err, core.ErrExternalService) {
		return err
	}
	return core.ExternalService("embedding", err)
}

func truncate(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}
