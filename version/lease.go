package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/recall/storage"
)

const (
	defaultLeaseTTL   = 2 * time.Minute
	defaultLeaseRetry = 50 * time.Millisecond
)

var (
	// ErrLeaseHeld is returned when another writer holds an unexpired lease.
	ErrLeaseHeld = errors.New("write lease held by another writer")

	// ErrLeaseLost is returned by Release when the lease expired and was
	// taken over.
	ErrLeaseLost = errors.New("write lease lost")
)

type leaseRecord struct {
	Holder  string `json:"holder"`
	Expires int64  `json:"expires_ms"`
}

// Lease is an exclusive, expiring claim on a key in a BlobStore. Holders
// that crash release it implicitly once the TTL passes.
type Lease struct {
	store  storage.BlobStore
	key    string
	ttl    time.Duration
	retry  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewLease creates a lease on key. A ttl below one millisecond uses the
// default of two minutes.
func NewLease(store storage.BlobStore, key string, ttl time.Duration, logger *slog.Logger) *Lease {
	if ttl < time.Millisecond {
		ttl = defaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lease{
		store:  store,
		key:    key,
		ttl:    ttl,
		retry:  defaultLeaseRetry,
		now:    time.Now,
		logger: logger.With("component", "write-lease"),
	}
}

// TryAcquire claims the lease once and returns the holder token.
func (l *Lease) TryAcquire(ctx context.Context) (string, error) {
	holder := uuid.NewString()
	err := l.store.Update(ctx, l.key, func(current []byte, exists bool) ([]byte, error) {
		if exists {
			var rec leaseRecord
			if err := json.Unmarshal(current, &rec); err == nil && rec.Holder != "" && l.now().UnixMilli() < rec.Expires {
				return nil, ErrLeaseHeld
			}
		}
		return json.Marshal(leaseRecord{Holder: holder, Expires: l.now().Add(l.ttl).UnixMilli()})
	})
	if err != nil {
		return "", err
	}
	return holder, nil
}

// Acquire waits until the lease is free, claims it and returns the holder
// token. It gives up when ctx is done.
func (l *Lease) Acquire(ctx context.Context) (string, error) {
	for {
		holder, err := l.TryAcquire(ctx)
		switch {
		case err == nil:
			return holder, nil
		case errors.Is(err, ErrLeaseHeld), errors.Is(err, storage.ErrConflict):
			l.logger.Debug("waiting for write lease", "key", l.key)
		default:
			return "", fmt.Errorf("acquire %s: %w", l.key, err)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("acquire %s: %w", l.key, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}

// Release frees the lease if holder still owns it.
func (l *Lease) Release(ctx context.Context, holder string) error {
	return l.store.Update(ctx, l.key, func(current []byte, exists bool) ([]byte, error) {
		var rec leaseRecord
		if exists {
			if err := json.Unmarshal(current, &rec); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrLeaseLost, err)
			}
		}
		if rec.Holder != holder {
			return nil, ErrLeaseLost
		}
		return json.Marshal(leaseRecord{})
	})
}
