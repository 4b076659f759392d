// Package version implements the VersionMarker: a monotonically increasing
// token stored next to the VectorIndex snapshot.
package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/recall/storage"
)

// ErrMalformed indicates a marker whose body is not an integer.
var ErrMalformed = errors.New("malformed version marker")

// Marker reads and bumps the version token in a BlobStore.
type Marker struct {
	store  storage.BlobStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Marker.
type Option func(*Marker) error

// WithLogger sets the logger for the marker.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Marker) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// WithClock replaces the wall clock, used for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Marker) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		m.now = now
		return nil
	}
}

// New creates a Marker stored in store under storage.VersionKey.
func New(store storage.BlobStore, opts ...Option) (*Marker, error) {
	m := &Marker{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "version-marker")
	return m, nil
}

// Read returns the current token, or 0 when none was ever written.
func (m *Marker) Read(ctx context.Context) (int64, error) {
	data, err := m.store.Get(ctx, storage.VersionKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parse(data)
}

// Bump advances the token and returns the new value. The token is the
// current Unix time in milliseconds unless that would not exceed the
// previous value, in which case it is previous+1.
func (m *Marker) Bump(ctx context.Context) (int64, error) {
	var next int64
	err := m.store.Update(ctx, storage.VersionKey, func(current []byte, exists bool) ([]byte, error) {
		var prev int64
		if exists {
			v, err := parse(current)
			if err != nil {
				return nil, err
			}
			prev = v
		}
		next = max(m.now().UnixMilli(), prev+1)
		return []byte(strconv.FormatInt(next, 10)), nil
	})
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	m.logger.Debug("version bumped", "version", next)
	return next, nil
}

func parse(data []byte) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, data)
	}
	return v, nil
}
