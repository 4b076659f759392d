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

// Package recall wires the storage tiers, the content processor, the
// indexer and the search engine into one handle.
package recall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/ai/openai"
	"github.com/poiesic/recall/catalog"
	"github.com/poiesic/recall/config"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/indexer"
	"github.com/poiesic/recall/metrics"
	"github.com/poiesic/recall/processor"
	"github.com/poiesic/recall/reindex"
	"github.com/poiesic/recall/search"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
	"github.com/poiesic/recall/storage/gcs"
	"github.com/poiesic/recall/storage/local"
	"github.com/poiesic/recall/version"
	"google.golang.org/api/option"
)

// ErrWatchUnsupported is returned by Watch when the blob tier cannot
// report changes.
var ErrWatchUnsupported = errors.New("blob backend does not support watching")

// Recall is an open content store.
type Recall struct {
	cfg       *config.Config
	provider  ai.Provider
	ownsAI    bool
	local     *local.Store
	blob      storage.BlobStore
	index     *badger.Index
	tracker   *version.Tracker
	processor *processor.Processor
	indexer   *indexer.Indexer
	engine    *search.Engine
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	provider ai.Provider
	blob     storage.BlobStore
	metrics  *metrics.Metrics
	logger   *slog.Logger
	procOpts []processor.Option
}

// WithProvider supplies the AI services instead of building them from the
// ai section of the configuration. The caller keeps ownership.
func WithProvider(p ai.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithBlobStore supplies the durable tier instead of building it from the
// storage section of the configuration.
func WithBlobStore(b storage.BlobStore) Option {
	return func(o *options) {
		o.blob = b
	}
}

// WithMetrics records operations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProcessorOptions passes extra options to the content processor.
func WithProcessorOptions(opts ...processor.Option) Option {
	return func(o *options) {
		o.procOpts = append(o.procOpts, opts...)
	}
}

// Open brings up every tier. Catalogs and chunk records are synced down
// from the blob tier into the local cache, the latest index snapshot is
// restored and prepared for write, and the search engine starts at the
// current version marker.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Recall, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	r := &Recall{
		cfg:      cfg,
		provider: o.provider,
		blob:     o.blob,
		metrics:  o.metrics,
		logger:   o.logger.With("component", "recall"),
	}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	var err error
	if r.provider == nil {
		if r.provider, err = openai.NewProvider(cfg.AI); err != nil {
			return nil, err
		}
		r.ownsAI = true
	}
	if r.local, err = local.New(cfg.Storage.CacheDir, local.WithLogger(o.logger)); err != nil {
		return nil, err
	}
	if r.blob == nil {
		if r.blob, err = newBlobStore(ctx, cfg.Storage, o.logger); err != nil {
			return nil, err
		}
	}

	if err := r.syncDown(ctx); err != nil {
		return nil, err
	}

	if r.index, err = badger.OpenIndex(cfg.Storage.IndexDir, badger.WithLogger(o.logger)); err != nil {
		return nil, err
	}
	r.tracker, err = version.NewTracker(r.blob, r.index,
		version.WithCache(r.local),
		version.WithLeaseTTL(cfg.Storage.LeaseTTL),
		version.WithTrackerLogger(o.logger))
	if err != nil {
		return nil, err
	}
	synced, _, err := r.tracker.Sync(ctx, true)
	if err != nil {
		return nil, err
	}

	procOpts := append([]processor.Option{
		processor.WithConfig(cfg.Processor),
		processor.WithLogger(o.logger),
		processor.WithOCR(r.provider.OCR()),
		processor.WithTranscriber(r.provider.Transcriber()),
	}, o.procOpts...)
	if r.processor, err = processor.New(procOpts...); err != nil {
		return nil, err
	}

	embedder := r.provider.Embedder()
	r.engine, err = search.New(r.index, embedder,
		search.WithConfig(cfg.Search),
		search.WithTracker(r.tracker),
		search.WithMetrics(r.metrics),
		search.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	tiers := indexer.Tiers{Local: r.local, Blob: r.blob, Index: r.index}
	r.indexer, err = indexer.New(tiers, r.processor, embedder,
		indexer.WithTracker(r.tracker),
		indexer.WithReloader(r.engine),
		indexer.WithMetrics(r.metrics),
		indexer.WithPoolSize(cfg.Storage.MirrorWorkers),
		indexer.WithEmbedLimits(cfg.AI.EmbedBatchSize, cfg.AI.MaxEmbedChars),
		indexer.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	ok = true
	r.logger.Info("opened", "blob", cfg.Storage.Blob, "cache", cfg.Storage.CacheDir, "index", cfg.Storage.IndexDir, "version", synced)
	return r, nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.BlobStore, error) {
	switch cfg.Blob {
	case config.BlobGCS:
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
		}
		return gcs.New(ctx, cfg.Bucket, cfg.Prefix, logger, opts...)
	default:
		return local.New(cfg.BlobDir, local.WithLogger(logger))
	}
}

// syncDown repopulates the local cache with catalogs and chunk records.
func (r *Recall) syncDown(ctx context.Context) error {
	mirror, err := storage.NewMirror(r.cfg.Storage.MirrorWorkers, r.logger)
	if err != nil {
		return err
	}
	defer mirror.Release()

	prefixes := make([]string, 0, len(core.ContentTypes))
	for _, t := range core.ContentTypes {
		prefixes = append(prefixes, storage.ChunksDir(t)+"/")
	}
	n, err := mirror.SyncDown(ctx, r.blob, r.local, prefixes...)
	if err != nil {
		return core.StorageConsistency("sync local cache", err)
	}
	r.logger.Debug("local cache synced", "objects", n)
	return nil
}

// Close releases every tier. It is safe to call on a partially opened
// Recall.
func (r *Recall) Close() error {
	var errs []error
	if r.indexer != nil {
		r.indexer.Release()
	}
	if r.index != nil {
		if err := r.index.Close(); err != nil {
			r.logger.Error("error closing vector index", "err", err)
			errs = append(errs, err)
		}
	}
	if r.provider != nil && r.ownsAI {
		if err := r.provider.Close(); err != nil {
			r.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add ingests one submission.
func (r *Recall) Add(ctx context.Context, sub core.Submission) (*core.AddResult, error) {
	return r.indexer.Add(ctx, sub)
}

// Delete removes every trace of contentID.
func (r *Recall) Delete(ctx context.Context, contentID string) (*core.DeleteResult, error) {
	return r.indexer.Delete(ctx, contentID)
}

// Get returns a content record and the key of its original payload.
func (r *Recall) Get(ctx context.Context, contentID string) (*core.Content, string, error) {
	return r.indexer.Get(ctx, contentID)
}

// Original returns the raw payload of contentID.
func (r *Recall) Original(ctx context.Context, contentID string) ([]byte, error) {
	return r.indexer.Original(ctx, contentID)
}

// Chunks returns the chunk records of type t matching pattern.
func (r *Recall) Chunks(ctx context.Context, t core.ContentType, pattern string) ([]*core.Chunk, error) {
	return r.indexer.Chunks(ctx, t, pattern)
}

// List returns the catalog entries of type t.
func (r *Recall) List(ctx context.Context, t core.ContentType) ([]catalog.Item, error) {
	return r.indexer.List(ctx, t)
}

// Search answers a query.
func (r *Recall) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	return r.engine.Search(ctx, req)
}

// Reload pulls the latest published index into this process.
func (r *Recall) Reload(ctx context.Context) error {
	return r.engine.Reload(ctx)
}

// Stale reports whether another process published a newer index.
func (r *Recall) Stale(ctx context.Context) (bool, error) {
	return r.engine.Stale(ctx)
}

// Rebuild regenerates catalogs and the vector index from chunk records,
// writing progress to w.
func (r *Recall) Rebuild(ctx context.Context, force bool, w io.Writer) (*reindex.Report, error) {
	tiers := indexer.Tiers{Local: r.local, Blob: r.blob, Index: r.index}
	rb, err := reindex.New(tiers, r.provider.Embedder(), r.indexer,
		reindex.WithConfig(r.cfg.Reindex),
		reindex.WithProgress(w),
		reindex.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	defer rb.Release()
	return rb.Run(ctx, force)
}

// Watch reloads the search engine whenever another process bumps the
// version marker, until ctx is done. Only a local blob tier can be watched.
func (r *Recall) Watch(ctx context.Context) error {
	store, ok := r.blob.(*local.Store)
	if !ok {
		return fmt.Errorf("%w: %T", ErrWatchUnsupported, r.blob)
	}
	return store.Watch(ctx, storage.VersionKey, func() {
		stale, err := r.engine.Stale(ctx)
		if err != nil {
			r.logger.Warn("version check failed", "err", err)
			return
		}
		if !stale {
			return
		}
		if err := r.engine.Reload(ctx); err != nil {
			r.logger.Error("reload failed", "err", err)
			return
		}
		r.logger.Info("reloaded after version change")
	})
}

// Indexer exposes the underlying indexer.
func (r *Recall) Indexer() *indexer.Indexer {
	return r.indexer
}

// Engine exposes the underlying search engine.
func (r *Recall) Engine() *search.Engine {
	return r.engine
}

// Metrics returns the metrics passed to Open, or nil.
func (r *Recall) Metrics() *metrics.Metrics {
	return r.metrics
}
