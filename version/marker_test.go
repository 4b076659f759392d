package version

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMarker(t *testing.T, opts ...Option) (*Marker, *local.Store) {
	t.Helper()
	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	m, err := New(store, opts...)
	require.NoError(t, err)
	return m, store
}

func TestReadMissing(t *testing.T) {
	m, _ := newTestMarker(t)
	v, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestBumpIsMonotonic(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	m, _ := newTestMarker(t, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	first, err := m.Bump(ctx)
	require.NoError(t, err)
	assert.Equal(t, frozen.UnixMilli(), first)

	// Clock did not move; the token still advances.
	second, err := m.Bump(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	read, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, read)
}

func TestBumpSurvivesClockSkew(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMarker(t, WithClock(func() time.Time { return time.UnixMilli(10) }))
	require.NoError(t, store.Put(ctx, storage.VersionKey, []byte("5000\n")))

	v, err := m.Bump(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5001), v)
}

func TestConcurrentBumpsAreDistinct(t *testing.T) {
	m, _ := newTestMarker(t, WithClock(func() time.Time { return time.UnixMilli(1) }))
	ctx := context.Background()

	const n = 10
	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.Bump(ctx)
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)

	v, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), v)
}

func TestMalformedMarker(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMarker(t)
	require.NoError(t, store.Put(ctx, storage.VersionKey, []byte("yesterday")))

	_, err := m.Read(ctx)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = m.Bump(ctx)
	assert.ErrorIs(t, err, ErrMalformed)
}
