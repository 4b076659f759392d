package version

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
)

// Tracker keeps a local vector index in step with the snapshot published
// in the blob tier. Writers go through Write so that every change is made
// on top of the latest published state and published under a lease.
type Tracker struct {
	marker   *Marker
	blob     storage.BlobStore
	cache    storage.BlobStore
	index    *badger.Index
	lease    *Lease
	leaseTTL time.Duration
	logger   *slog.Logger

	// mu serializes restores and writes against the local index. Readers
	// that scan the whole index take it shared through View.
	mu     sync.RWMutex
	synced atomic.Int64

	obsMu     sync.Mutex
	observers []func(int64)
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker) error

// WithCache names the local cache whose catalogs are refreshed from the
// blob tier whenever the index is caught up.
func WithCache(cache storage.BlobStore) TrackerOption {
	return func(t *Tracker) error {
		t.cache = cache
		return nil
	}
}

// WithLeaseTTL bounds how long a crashed writer can block others.
// Default is two minutes.
func WithLeaseTTL(ttl time.Duration) TrackerOption {
	return func(t *Tracker) error {
		t.leaseTTL = ttl
		return nil
	}
}

// WithTrackerLogger sets a custom logger.
// Default is slog.Default().
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) error {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger
		return nil
	}
}

// NewTracker creates a Tracker for index against the marker and snapshot in
// blob. It starts unsynced; call Sync to restore the published state.
func NewTracker(blob storage.BlobStore, index *badger.Index, opts ...TrackerOption) (*Tracker, error) {
	if blob == nil {
		return nil, errors.New("tracker requires a blob store")
	}
	if index == nil {
		return nil, errors.New("tracker requires an index")
	}
	t := &Tracker{blob: blob, index: index, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	t.logger = t.logger.With("component", "index-tracker")

	var err error
	if t.marker, err = New(blob, WithLogger(t.logger)); err != nil {
		return nil, err
	}
	t.lease = NewLease(blob, storage.WriteLeaseKey, t.leaseTTL, t.logger)
	return t, nil
}

// Marker returns the version marker the tracker follows.
func (t *Tracker) Marker() *Marker {
	return t.marker
}

// Synced returns the marker version the local index reflects.
func (t *Tracker) Synced() int64 {
	return t.synced.Load()
}

// OnChange registers fn to be called with the new version after the local
// index is restored or published. fn must not call back into the tracker.
func (t *Tracker) OnChange(fn func(version int64)) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, fn)
}

func (t *Tracker) notify(v int64) {
	t.obsMu.Lock()
	observers := append(([]func(int64))(nil), t.observers...)
	t.obsMu.Unlock()
	for _, fn := range observers {
		fn(v)
	}
}

// Behind reports whether the published marker is ahead of the local index.
func (t *Tracker) Behind(ctx context.Context) (bool, error) {
	v, err := t.marker.Read(ctx)
	if err != nil {
		return false, err
	}
	return v > t.synced.Load(), nil
}

// Sync restores the published snapshot when the marker is ahead of the
// local index, or unconditionally when force is set. It returns the marker
// version now reflected and whether the index was replaced.
func (t *Tracker) Sync(ctx context.Context, force bool) (int64, bool, error) {
	t.mu.Lock()
	v, restored, err := t.catchUp(ctx, force)
	t.mu.Unlock()
	if err != nil {
		return 0, false, err
	}
	if restored {
		t.notify(v)
	}
	return v, restored, nil
}

// View runs fn with restores and writes held off.
func (t *Tracker) View(fn func() error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fn()
}

// Write takes the write lease, catches the local index up, runs fn and
// publishes the result. fn's error is returned unchanged and nothing is
// published for it. Observers are notified once fn has run, whether or not
// it succeeded, since it may have changed the local index.
func (t *Tracker) Write(ctx context.Context, fn func(ctx context.Context) error) (int64, error) {
	holder, err := t.lease.Acquire(ctx)
	if err != nil {
		return 0, core.StorageConsistency("acquire write lease", err)
	}
	defer t.release(ctx, holder)

	t.mu.Lock()
	v, changed, err := t.catchUp(ctx, false)
	if err == nil {
		err = fn(ctx)
		changed = true
		if err == nil {
			var published int64
			if published, err = t.publish(ctx); err == nil {
				v = published
			}
		}
	}
	t.mu.Unlock()

	if changed {
		t.notify(max(v, t.synced.Load()))
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Publish snapshots the local index as it stands, without catching up
// first, and bumps the marker. Used after a full rebuild.
func (t *Tracker) Publish(ctx context.Context) (int64, error) {
	holder, err := t.lease.Acquire(ctx)
	if err != nil {
		return 0, core.StorageConsistency("acquire write lease", err)
	}
	defer t.release(ctx, holder)

	t.mu.Lock()
	v, err := t.publish(ctx)
	t.mu.Unlock()
	if err != nil {
		return 0, err
	}
	t.notify(v)
	return v, nil
}

func (t *Tracker) release(ctx context.Context, holder string) {
	if err := t.lease.Release(context.WithoutCancel(ctx), holder); err != nil {
		t.logger.Warn("could not release write lease", "err", err)
	}
}

// catchUp must be called with mu held.
func (t *Tracker) catchUp(ctx context.Context, force bool) (int64, bool, error) {
	v, err := t.marker.Read(ctx)
	if err != nil {
		return 0, false, core.StorageConsistency("read version", err)
	}
	synced := t.synced.Load()
	if !force && v <= synced {
		return synced, false, nil
	}

	restored := false
	data, err := t.blob.Get(ctx, storage.IndexSnapshotKey)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		t.logger.Info("no index snapshot published, keeping local index", "version", v)
	case err != nil:
		return 0, false, core.StorageConsistency("fetch index snapshot", err)
	default:
		if err := t.index.Restore(ctx, bytes.NewReader(data)); err != nil {
			return 0, false, core.StorageConsistency("restore index", err)
		}
		if err := t.index.PrepareForWrite(ctx); err != nil {
			return 0, false, core.StorageConsistency("prepare index", err)
		}
		restored = true
	}
	if err := t.refreshCatalogs(ctx); err != nil {
		return 0, false, core.StorageConsistency("refresh catalogs", err)
	}

	v = max(v, synced)
	t.synced.Store(v)
	t.logger.Info("local index caught up", "version", v, "restored", restored)
	return v, restored, nil
}

// refreshCatalogs copies every published catalog into the cache, removing
// cached catalogs the blob tier no longer has.
func (t *Tracker) refreshCatalogs(ctx context.Context) error {
	if t.cache == nil {
		return nil
	}
	for _, ct := range core.ContentTypes {
		key := storage.SummaryKey(ct)
		data, err := t.blob.Get(ctx, key)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			if err := t.cache.Delete(ctx, key); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := t.cache.Put(ctx, key, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// publish must be called with mu and the lease held.
func (t *Tracker) publish(ctx context.Context) (int64, error) {
	var buf bytes.Buffer
	if err := t.index.Snapshot(ctx, &buf); err != nil {
		return 0, core.StorageConsistency("snapshot index", err)
	}
	if err := t.blob.Put(ctx, storage.IndexSnapshotKey, buf.Bytes()); err != nil {
		return 0, core.StorageConsistency("mirror index", err)
	}
	v, err := t.marker.Bump(ctx)
	if err != nil {
		return 0, core.StorageConsistency("bump version", err)
	}
	t.synced.Store(v)
	t.logger.Debug("published index", "version", v, "bytes", buf.Len())
	return v, nil
}
