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

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

const (
	loadPendingWrites = 256
	dirPerm           = 0o755
)

// Entry is one VectorIndex record: a chunk and its embedding.
type Entry struct {
	Chunk  *core.Chunk
	Vector []float32
}

// Hit is an exact nearest-neighbor match.
type Hit struct {
	Entry    *Entry
	Distance float32
}

// Index stores chunk_id -> (embedding, text, metadata) in BadgerDB.
//
// An Index opened on a restored snapshot starts read-only. PrepareForWrite
// must be called once before the first Upsert or DeleteByContent.
type Index struct {
	mu           sync.RWMutex
	db           *badger.DB
	path         string
	readOnly     bool
	memTableSize int64
	logger       *slog.Logger
}

// Option configures an Index.
type Option func(*Index) error

// WithLogger sets the logger used by the index and by BadgerDB itself.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
		return nil
	}
}

// WithReadOnly opens the database read-only.
func WithReadOnly(readOnly bool) Option {
	return func(ix *Index) error {
		ix.readOnly = readOnly
		return nil
	}
}

// WithMemTableSize sets BadgerDB's memtable size in bytes, which also
// bounds how much a single transaction may hold.
func WithMemTableSize(size int64) Option {
	return func(ix *Index) error {
		if size < 1<<20 {
			return fmt.Errorf("memtable size %d is below 1 MiB", size)
		}
		ix.memTableSize = size
		return nil
	}
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenIndex opens a VectorIndex at the specified path. An empty path opens
// an in-memory index. Creates the directory if it doesn't exist.
func OpenIndex(path string, opts ...Option) (*Index, error) {
	ix := &Index{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	ix.logger = ix.logger.With("component", "vector-index")
	if path == "" {
		ix.readOnly = false
	} else if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := ix.open(ix.readOnly)
	if err != nil {
		return nil, err
	}
	ix.db = db
	return ix, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(path, dirPerm); err != nil {
			return err
		}
		return nil
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

func (ix *Index) open(readOnly bool) (*badger.DB, error) {
	var opts badger.Options
	if ix.path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(ix.path).WithReadOnly(readOnly)
	}
	opts.Logger = &badgerLoggerAdapter{logger: ix.logger}
	opts.Compression = options.None
	if ix.memTableSize > 0 {
		opts.MemTableSize = ix.memTableSize
		opts.ValueThreshold = min(opts.ValueThreshold, ix.memTableSize/10)
	}
	return badger.Open(opts)
}

// Close closes the BadgerDB database.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.Close()
}

// IsClosed returns true if the database is closed.
func (ix *Index) IsClosed() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.db.IsClosed()
}

// ReadOnly reports whether writes are currently refused.
func (ix *Index) ReadOnly() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.readOnly
}

// Path returns the on-disk directory, or "" for an in-memory index.
func (ix *Index) Path() string {
	return ix.path
}

// withTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
func (ix *Index) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	if isWrite && ix.readOnly {
		return storage.ErrReadOnly
	}
	tx := ix.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// Upsert writes entries, replacing any existing entry with the same chunk_id.
func (ix *Index) Upsert(ctx context.Context, entries ...*Entry) error {
	err := ix.withTx(func(tx *badger.Txn) error {
		for _, e := range entries {
			if e.Chunk == nil || e.Chunk.ID == "" {
				return fmt.Errorf("%w: entry without chunk", storage.ErrSerializationFailed)
			}
			if len(e.Vector) == 0 {
				return fmt.Errorf("%w: chunk %s has no embedding", storage.ErrSerializationFailed, e.Chunk.ID)
			}
			record, err := json.Marshal(e.Chunk)
			if err != nil {
				return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
			}
			if err := setOrCommit(&tx, ix.db, makeEntryKey(e.Chunk.ID), record); err != nil {
				return err
			}
			if err := setOrCommit(&tx, ix.db, makeVectorKey(e.Chunk.ID), encodeVector(e.Vector)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	ix.logger.Debug("upserted entries", "count", len(entries))
	return nil
}

// setOrCommit sets key, committing and reopening the transaction when it
// grows past BadgerDB's size limit.
func setOrCommit(tx **badger.Txn, db *badger.DB, key, val []byte) error {
	err := (*tx).Set(key, val)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := (*tx).Commit(); err != nil {
		return err
	}
	*tx = db.NewTransaction(true)
	return (*tx).Set(key, val)
}

// deleteOrCommit is the delete counterpart of setOrCommit.
func deleteOrCommit(tx **badger.Txn, db *badger.DB, key []byte) error {
	err := (*tx).Delete(key)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := (*tx).Commit(); err != nil {
		return err
	}
	*tx = db.NewTransaction(true)
	return (*tx).Delete(key)
}

// DeleteByContent removes every entry belonging to one content unit,
// located by chunk_id pattern. It returns the number of chunks removed;
// zero is not an error.
func (ix *Index) DeleteByContent(ctx context.Context, t core.ContentType, contentID string) (int, error) {
	removed := 0
	slug := core.Slugify(contentID)
	err := ix.withTx(func(tx *badger.Txn) error {
		var ids []string
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeContentEntryPrefix(t, contentID)
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			var chunk core.Chunk
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &chunk)
			}); err != nil {
				iter.Close()
				return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
			}
			// A longer content id may share the pattern.
			if core.Slugify(chunk.ContentID) != slug {
				continue
			}
			ids = append(ids, chunk.ID)
		}
		iter.Close()

		for _, id := range ids {
			if err := deleteOrCommit(&tx, ix.db, makeEntryKey(id)); err != nil {
				return err
			}
			if err := deleteOrCommit(&tx, ix.db, makeVectorKey(id)); err != nil {
				return err
			}
		}
		removed = len(ids)
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, fmt.Errorf("index delete %s: %w", contentID, err)
	}
	ix.logger.Debug("deleted entries", "content_id", contentID, "count", removed)
	return removed, nil
}

// Get returns the entries for the given chunk IDs in the same order. Unknown
// IDs are skipped.
func (ix *Index) Get(ctx context.Context, chunkIDs ...string) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(chunkIDs))
	err := ix.withTx(func(tx *badger.Txn) error {
		for _, id := range chunkIDs {
			e, err := readEntry(tx, id)
			if err != nil {
				return err
			}
			if e != nil {
				entries = append(entries, e)
			}
		}
		return nil
	}, false)
	return entries, err
}

func readEntry(tx *badger.Txn, chunkID string) (*Entry, error) {
	item, err := tx.Get(makeEntryKey(chunkID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	chunk := &core.Chunk{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, chunk)
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}

	vitem, err := tx.Get(makeVectorKey(chunkID))
	if err != nil {
		return nil, fmt.Errorf("%w: vector for %s: %w", storage.ErrSerializationFailed, chunkID, err)
	}
	var vec []float32
	if err := vitem.Value(func(val []byte) error {
		var derr error
		vec, derr = decodeVector(val)
		return derr
	}); err != nil {
		return nil, err
	}
	return &Entry{Chunk: chunk, Vector: vec}, nil
}

// Checksums returns chunk_id -> checksum for every chunk of type t.
func (ix *Index) Checksums(ctx context.Context, t core.ContentType) (map[string]string, error) {
	sums := make(map[string]string)
	err := ix.scanChunks(makeTypeEntryPrefix(t), func(c *core.Chunk) error {
		sums[c.ID] = c.Checksum
		return nil
	})
	return sums, err
}

// ContentIDs returns the distinct content IDs indexed under type t, sorted.
func (ix *Index) ContentIDs(ctx context.Context, t core.ContentType) ([]string, error) {
	seen := make(map[string]struct{})
	err := ix.scanChunks(makeTypeEntryPrefix(t), func(c *core.Chunk) error {
		if c.ContentType == t {
			seen[c.ContentID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (ix *Index) scanChunks(prefix []byte, fn func(*core.Chunk) error) error {
	return ix.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			chunk := &core.Chunk{}
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, chunk)
			}); err != nil {
				return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// Scan calls fn for every entry in chunk_id order. Returning an error from
// fn stops the scan.
func (ix *Index) Scan(ctx context.Context, fn func(*Entry) error) error {
	return ix.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkEntryPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := string(iter.Item().Key()[len(chunkEntryPrefix):])
			e, err := readEntry(tx, id)
			if err != nil {
				return err
			}
			if e == nil {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// Count returns the number of entries.
func (ix *Index) Count(ctx context.Context) (int, error) {
	n := 0
	err := ix.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkEntryPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			n++
		}
		return nil
	}, false)
	return n, err
}

// Dimensions returns the length of the stored embeddings, or 0 for an
// empty index. Entries are assumed to agree; the first one decides.
func (ix *Index) Dimensions(ctx context.Context) (int, error) {
	dims := 0
	err := ix.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkVectorPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		iter.Rewind()
		if !iter.Valid() {
			return nil
		}
		dims = int(iter.Item().ValueSize()) / 4
		return nil
	}, false)
	return dims, err
}

// FindSimilar performs an exact scan for the limit entries closest to
// vector. Distance is squared Euclidean, which for unit vectors equals
// 2 - 2*cosine. Ties keep chunk_id order. An entry whose length differs
// from vector fails the search with storage.ErrDimensionMismatch.
func (ix *Index) FindSimilar(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	var hits []Hit
	err := ix.Scan(ctx, func(e *Entry) error {
		if len(e.Vector) != len(vector) {
			return fmt.Errorf("%w: query has %d dimensions, %s has %d",
				storage.ErrDimensionMismatch, len(vector), e.Chunk.ID, len(e.Vector))
		}
		hits = append(hits, Hit{Entry: e, Distance: SquaredL2(vector, e.Vector)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SquaredL2 returns the squared Euclidean distance between a and b over
// their common length.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Snapshot streams a full backup of the index to w.
func (ix *Index) Snapshot(ctx context.Context, w io.Writer) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	if _, err := ix.db.Backup(w, 0); err != nil {
		return fmt.Errorf("index snapshot: %w", err)
	}
	return nil
}

// Restore replaces the index contents with a backup stream. A disk-backed
// index comes back read-only, as a snapshot pulled from durable storage
// does, and needs PrepareForWrite before accepting writes.
func (ix *Index) Restore(ctx context.Context, r io.Reader) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.db.IsClosed() {
		if err := ix.db.Close(); err != nil {
			return fmt.Errorf("index restore: close: %w", err)
		}
	}
	if ix.path != "" {
		if err := makeWritable(ix.path); err != nil {
			return fmt.Errorf("index restore: %w", err)
		}
		if err := os.RemoveAll(ix.path); err != nil {
			return fmt.Errorf("index restore: clear: %w", err)
		}
		if err := os.MkdirAll(ix.path, dirPerm); err != nil {
			return fmt.Errorf("index restore: %w", err)
		}
	}

	db, err := ix.open(false)
	if err != nil {
		return fmt.Errorf("index restore: open: %w", err)
	}
	if err := db.Load(r, loadPendingWrites); err != nil {
		db.Close()
		return fmt.Errorf("index restore: load: %w", err)
	}

	if ix.path == "" {
		ix.db = db
		ix.readOnly = false
		return nil
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("index restore: close: %w", err)
	}
	if db, err = ix.open(true); err != nil {
		return fmt.Errorf("index restore: reopen: %w", err)
	}
	ix.db = db
	ix.readOnly = true
	ix.logger.Info("index restored from snapshot", "path", ix.path)
	return nil
}

// PrepareForWrite makes a restored index writable: file permissions are
// widened and the database is reopened read-write. It is idempotent.
func (ix *Index) PrepareForWrite(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.readOnly && !ix.db.IsClosed() {
		return nil
	}
	if !ix.db.IsClosed() {
		if err := ix.db.Close(); err != nil {
			return fmt.Errorf("prepare for write: close: %w", err)
		}
	}
	if ix.path != "" {
		if err := makeWritable(ix.path); err != nil {
			return fmt.Errorf("prepare for write: %w", err)
		}
	}
	db, err := ix.open(false)
	if err != nil {
		return fmt.Errorf("prepare for write: reopen: %w", err)
	}
	ix.db = db
	ix.readOnly = false
	ix.logger.Info("index prepared for write", "path", ix.path)
	return nil
}

// makeWritable adds owner write permission to every file and directory
// below root.
func makeWritable(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		want := info.Mode().Perm() | 0o200
		if d.IsDir() {
			want |= 0o700
		}
		if want == info.Mode().Perm() {
			return nil
		}
		return os.Chmod(p, want)
	})
}
