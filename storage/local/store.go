package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/poiesic/recall/storage"
)

const (
	lockDir    = ".locks"
	tempPrefix = ".tmp-"
	lockRetry  = 25 * time.Millisecond
	dirPerm    = 0o755
	filePerm   = 0o644
)

// Store is a filesystem BlobStore. It backs the LocalCache and can also act
// as the durable store when pointed at a persistent or network volume.
type Store struct {
	root   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New opens a Store rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("local store: root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, err
	}

	s := &Store{
		root:   abs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "local-store", "root", abs)
	return s, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Path maps key to its location on disk.
func (s *Store) Path(key string) (string, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put writes data to a temporary file in the destination directory and
// renames it into place, so readers never observe a partial object.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(p)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Get reads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return data, err
}

// Delete removes key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every key starting with prefix, skipping lock and
// in-flight temporary files.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	start := s.root
	if dir := filepath.Dir(filepath.FromSlash(prefix)); dir != "." && prefix != "" {
		start = filepath.Join(s.root, dir)
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == lockDir && filepath.Dir(p) == s.root {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Update runs a read-modify-write of key under an advisory file lock, so
// concurrent updaters in this and other processes are serialized.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	lockPath := filepath.Join(s.root, lockDir, strings.ReplaceAll(cleaned, "/", "__")+".lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), dirPerm); err != nil {
		return err
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: %w", key, storage.ErrConflict)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release lock", "key", key, "err", err)
		}
	}()

	current, err := s.Get(ctx, cleaned)
	exists := true
	if errors.Is(err, storage.ErrObjectNotFound) {
		current, exists = nil, false
	} else if err != nil {
		return err
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	return s.Put(ctx, cleaned, next)
}

var _ storage.BlobStore = (*Store)(nil)
