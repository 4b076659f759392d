package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Mirror copies and removes objects between tiers with a bounded worker pool.
type Mirror struct {
	pool   *ants.Pool
	logger *slog.Logger
}

// NewMirror creates a Mirror with size workers. A size below 1 defaults to
// runtime.NumCPU().
func NewMirror(size int, logger *slog.Logger) (*Mirror, error) {
	if size < 1 {
		size = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &Mirror{
		pool:   pool,
		logger: logger.With("component", "mirror"),
	}, nil
}

// Release stops the worker pool.
func (m *Mirror) Release() {
	m.pool.Release()
}

// Copy reads every key from src and writes it to dst. All keys are
// attempted; the joined errors of failed keys are returned.
func (m *Mirror) Copy(ctx context.Context, src, dst BlobStore, keys []string) error {
	return m.each(keys, func(key string) error {
		data, err := src.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if err := dst.Put(ctx, key, data); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes every key from every store.
func (m *Mirror) Delete(ctx context.Context, keys []string, stores ...BlobStore) error {
	return m.each(keys, func(key string) error {
		var errs []error
		for _, s := range stores {
			if err := s.Delete(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			}
		}
		return errors.Join(errs...)
	})
}

// SyncDown copies every object under the given prefixes from src to dst.
// Used to repopulate LocalCache from the durable store at startup.
func (m *Mirror) SyncDown(ctx context.Context, src, dst BlobStore, prefixes ...string) (int, error) {
	var keys []string
	for _, prefix := range prefixes {
		found, err := src.List(ctx, prefix)
		if err != nil {
			return 0, fmt.Errorf("list %s: %w", prefix, err)
		}
		keys = append(keys, found...)
	}
	if err := m.Copy(ctx, src, dst, keys); err != nil {
		return 0, err
	}
	m.logger.Debug("synced objects", "count", len(keys))
	return len(keys), nil
}

func (m *Mirror) each(keys []string, fn func(key string) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, key := range keys {
		wg.Add(1)
		err := m.pool.Submit(func() {
			defer wg.Done()
			if err := fn(key); err != nil {
				m.logger.Warn("mirror operation failed", "key", key, "err", err)
				record(err)
			}
		})
		if err != nil {
			wg.Done()
			record(fmt.Errorf("schedule %s: %w", key, err))
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
