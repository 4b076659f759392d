package version

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLease(t *testing.T, ttl time.Duration) (*Lease, *local.Store) {
	t.Helper()
	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	return NewLease(store, storage.WriteLeaseKey, ttl, nil), store
}

func TestLeaseIsExclusive(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLease(t, time.Minute)
	other := NewLease(store, storage.WriteLeaseKey, time.Minute, nil)

	holder, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	_, err = other.TryAcquire(ctx)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	assert.ErrorIs(t, other.Release(ctx, "someone-else"), ErrLeaseLost)
	require.NoError(t, l.Release(ctx, holder))

	_, err = other.TryAcquire(ctx)
	assert.NoError(t, err)
}

func TestLeaseExpires(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	l, store := newTestLease(t, time.Minute)
	l.now = func() time.Time { return now }
	other := NewLease(store, storage.WriteLeaseKey, time.Minute, nil)
	other.now = l.now

	crashed, err := l.TryAcquire(ctx)
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, err = other.TryAcquire(ctx)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	now = now.Add(2 * time.Second)
	_, err = other.TryAcquire(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Release(ctx, crashed), ErrLeaseLost, "a taken-over lease is not released by its old holder")
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLease(t, time.Minute)
	holder, err := l.TryAcquire(ctx)
	require.NoError(t, err)

	other := NewLease(store, storage.WriteLeaseKey, time.Minute, nil)
	other.retry = time.Millisecond
	acquired := make(chan error, 1)
	go func() {
		_, err := other.Acquire(ctx)
		acquired <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Release(ctx, holder))
	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lease was not acquired after release")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	l, store := newTestLease(t, time.Minute)
	_, err := l.TryAcquire(context.Background())
	require.NoError(t, err)

	other := NewLease(store, storage.WriteLeaseKey, time.Minute, nil)
	other.retry = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = other.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
