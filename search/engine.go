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

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/metrics"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
	"github.com/poiesic/recall/version"
	"golang.org/x/sync/singleflight"
)

// Reload triggers, as recorded in metrics.
const (
	triggerLazy    = "lazy"
	triggerReload  = "reload"
	triggerStale   = "stale"
	triggerRebuild = "rebuild"
)

// Engine answers queries against a lazily built in-memory handle.
type Engine struct {
	index    *badger.Index
	embedder ai.Embedder
	blob     storage.BlobStore
	tracker  *version.Tracker
	cfg      *Config
	cache    *lru.Cache[string, []float32]
	group    singleflight.Group
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.RWMutex
	handle     *handle
	generation uint64
	synced     int64
	lastCheck  time.Time
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(e *Engine) error {
		if cfg == nil {
			return errors.New("search config must not be nil")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		e.cfg = cfg
		return nil
	}
}

// WithBlobStore enables Reload and staleness checks against the version
// marker and index snapshot kept in blob.
func WithBlobStore(blob storage.BlobStore) Option {
	return func(e *Engine) error {
		e.blob = blob
		return nil
	}
}

// WithTracker shares the Tracker that restores and publishes the local
// index, so the engine sees the same synced version as the writer. It
// takes precedence over WithBlobStore.
func WithTracker(t *version.Tracker) Option {
	return func(e *Engine) error {
		e.tracker = t
		return nil
	}
}

// WithMetrics records searches and reloads.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithClock replaces the wall clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// New creates an Engine over index. No handle is built until the first
// search.
func New(index *badger.Index, embedder ai.Embedder, opts ...Option) (*Engine, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	e := &Engine{
		index:    index,
		embedder: embedder,
		cfg:      DefaultConfig(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "search")

	cache, err := lru.New[string, []float32](e.cfg.QueryCacheSize)
	if err != nil {
		return nil, err
	}
	e.cache = cache
	if e.tracker == nil && e.blob != nil {
		if e.tracker, err = version.NewTracker(e.blob, index, version.WithTrackerLogger(e.logger)); err != nil {
			return nil, err
		}
	}
	if e.tracker != nil {
		e.synced = e.tracker.Synced()
	}
	return e, nil
}

// Invalidate drops the current handle. The next search rebuilds it from the
// local index. v is the marker version the local index now reflects.
func (e *Engine) Invalidate(v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handle = nil
	e.generation++
	e.synced = max(e.synced, v)
	e.logger.Debug("search handle invalidated", "version", v)
}

// Stale reports whether the version marker is ahead of what the local index
// reflects. Without a blob store the engine is never stale.
func (e *Engine) Stale(ctx context.Context) (bool, error) {
	if e.tracker == nil {
		return false, nil
	}
	return e.tracker.Behind(ctx)
}

// Reload pulls the index snapshot from the blob store, restores it locally,
// prepares it for write and rebuilds the handle. Concurrent calls share one
// reload.
func (e *Engine) Reload(ctx context.Context) error {
	_, err, _ := e.group.Do("reload", func() (any, error) {
		return nil, e.reload(ctx, triggerReload)
	})
	return err
}

// Rebuild replaces the handle from the local index without touching the
// blob store.
func (e *Engine) Rebuild(ctx context.Context) error {
	_, err, _ := e.group.Do("build", func() (any, error) {
		return e.build(ctx, triggerRebuild)
	})
	return err
}

// reload restores the published snapshot through the tracker. An explicit
// reload always restores; a stale check only when the marker moved.
func (e *Engine) reload(ctx context.Context, trigger string) error {
	if e.tracker == nil {
		return ErrNoBlobStore
	}
	v, _, err := e.tracker.Sync(ctx, trigger == triggerReload)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.synced = max(e.synced, v)
	e.mu.Unlock()
	_, err = e.build(ctx, trigger)
	return err
}

// build replaces the handle. A handle built while an Invalidate raced it
// is returned to the caller but not kept.
func (e *Engine) build(ctx context.Context, trigger string) (*handle, error) {
	e.mu.RLock()
	gen := e.generation
	v := e.synced
	e.mu.RUnlock()

	start := e.now()
	var (
		h       *handle
		skipped int
	)
	err := e.view(func() error {
		var err error
		h, skipped, err = buildHandle(ctx, e.index, e.cfg, v)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("build search handle: %w", err)
	}
	if skipped > 0 {
		e.logger.Warn("skipped entries with mismatched dimensions", "count", skipped)
	}

	e.mu.Lock()
	if e.generation == gen {
		e.handle = h
		e.generation++
	}
	e.mu.Unlock()

	e.metrics.ObserveReload(trigger, h.len())
	e.logger.Info("search handle built", "trigger", trigger, "entries", h.len(), "version", v, "elapsed", e.now().Sub(start))
	return h, nil
}

// current returns the loaded handle, building it when absent and reloading
// it when a due staleness check finds the marker ahead.
func (e *Engine) current(ctx context.Context) (*handle, error) {
	if e.staleCheckDue() {
		stale, err := e.Stale(ctx)
		if err != nil {
			e.logger.Warn("version check failed, serving current handle", "err", err)
		} else if stale {
			if _, err, _ := e.group.Do("reload", func() (any, error) {
				return nil, e.reload(ctx, triggerStale)
			}); err != nil {
				e.logger.Warn("reload failed, serving current handle", "err", err)
			}
		}
	}

	e.mu.RLock()
	h := e.handle
	e.mu.RUnlock()
	if h != nil {
		return h, nil
	}

	v, err, _ := e.group.Do("build", func() (any, error) {
		e.mu.RLock()
		h := e.handle
		e.mu.RUnlock()
		if h != nil {
			return h, nil
		}
		return e.build(ctx, triggerLazy)
	})
	if err != nil {
		return nil, err
	}
	return v.(*handle), nil
}

// view runs fn without a concurrent restore replacing the index.
func (e *Engine) view(fn func() error) error {
	if e.tracker == nil {
		return fn()
	}
	return e.tracker.View(fn)
}

func (e *Engine) staleCheckDue() bool {
	if e.tracker == nil || e.cfg.StaleCheckInterval < 0 {
		return false
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.lastCheck.IsZero() && now.Sub(e.lastCheck) < e.cfg.StaleCheckInterval {
		return false
	}
	e.lastCheck = now
	return true
}

// Search runs req with no monitor.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	return e.SearchWithMonitor(ctx, req, nil)
}

// SearchWithMonitor runs req, reporting each stage to monitor.
func (e *Engine) SearchWithMonitor(ctx context.Context, req Request, monitor SearchMonitor) (*Response, error) {
	start := e.now()
	resp, err := e.search(ctx, req, monitor)
	e.metrics.ObserveSearch(e.now().Sub(start), err)
	if resp != nil {
		resp.SearchTimeMS = float64(e.now().Sub(start).Microseconds()) / 1000
	}
	return resp, err
}

func (e *Engine) search(ctx context.Context, req Request, monitor SearchMonitor) (*Response, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	query := normalizeQuery(req.Query)
	if query == "" {
		return nil, core.Validationf("query cannot be empty")
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}
	limit = min(limit, e.cfg.MaxResultsLimit)
	for _, t := range req.Types {
		if !t.Valid() {
			return nil, core.Validationf("unsupported content type %q", t)
		}
	}
	monitor.Start(query)

	vector, cached, err := e.embedQuery(ctx, query)
	if err != nil {
		e.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}
	monitor.AfterEmbedding(cached)

	k := limit * e.cfg.CandidateMultiplier
	var candidates []candidate
	if e.cfg.Exact {
		hits, err := e.index.FindSimilar(ctx, vector, k)
		if err != nil {
			return nil, wrapDimensions(err)
		}
		for i, hit := range hits {
			candidates = append(candidates, candidate{entry: hit.Entry, distance: hit.Distance, rank: i})
		}
	} else {
		h, err := e.current(ctx)
		if err != nil {
			return nil, err
		}
		if candidates, err = h.search(vector, k); err != nil {
			return nil, wrapDimensions(err)
		}
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.entry.Chunk.ID
	}
	monitor.AfterCandidates(ids)

	type scored struct {
		candidate
		relevance float64
	}
	kept := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		rel := Relevance(c.distance)
		if rel < e.cfg.MinRelevance {
			monitor.Dropped(c.entry.Chunk.ID, rel)
			continue
		}
		if len(req.Types) > 0 && !slices.Contains(req.Types, c.entry.Chunk.ContentType) {
			continue
		}
		kept = append(kept, scored{candidate: c, relevance: rel})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.relevance != b.relevance {
			return a.relevance > b.relevance
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.entry.Chunk.ID < b.entry.Chunk.ID
	})
	if len(kept) > limit {
		kept = kept[:limit]
	}

	resp := &Response{
		Query:   req.Query,
		Results: make([]*Result, 0, len(kept)),
	}
	for _, s := range kept {
		resp.Results = append(resp.Results, shape(s.entry.Chunk, s.relevance))
	}
	resp.TotalResults = len(resp.Results)
	monitor.Finish(resp)
	return resp, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, bool, error) {
	key := cacheKey(query)
	if vec, ok := e.cache.Get(key); ok {
		return vec, true, nil
	}
	vec, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		if !errors.Is(err, core.ErrExternalService) {
			err = core.ExternalService("embedding", err)
		}
		return nil, false, err
	}
	e.cache.Add(key, vec)
	return vec, false, nil
}

// wrapDimensions reports a query embedding that does not fit the index as
// a failure of the embedding service.
func wrapDimensions(err error) error {
	if errors.Is(err, storage.ErrDimensionMismatch) {
		return core.ExternalService("embedding", err)
	}
	return err
}
