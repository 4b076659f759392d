package version

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
	"github.com/poiesic/recall/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type versionLog struct {
	mu   sync.Mutex
	seen []int64
}

func (l *versionLog) record(v int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, v)
}

func (l *versionLog) versions() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.seen...)
}

func newTracker(t *testing.T, blob storage.BlobStore, opts ...TrackerOption) (*Tracker, *badger.Index) {
	t.Helper()
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	tr, err := NewTracker(blob, index, opts...)
	require.NoError(t, err)
	return tr, index
}

func noteEntry(contentID string) *badger.Entry {
	return &badger.Entry{
		Chunk: &core.Chunk{
			ID:          core.ChunkID(core.ContentTypeNote, contentID, 1),
			ContentID:   contentID,
			ContentType: core.ContentTypeNote,
			Ordinal:     1,
			Text:        contentID,
		},
		Vector: []float32{1, 0},
	}
}

func upsert(index *badger.Index, contentID string) func(context.Context) error {
	return func(ctx context.Context) error {
		return index.Upsert(ctx, noteEntry(contentID))
	}
}

func TestWriteCatchesUpBeforeChanging(t *testing.T) {
	ctx := context.Background()
	blob, err := local.New(t.TempDir())
	require.NoError(t, err)

	a, indexA := newTracker(t, blob)
	b, indexB := newTracker(t, blob)
	log := &versionLog{}
	b.OnChange(log.record)

	va, err := a.Write(ctx, upsert(indexA, "note_1_a"))
	require.NoError(t, err)
	assert.Equal(t, va, a.Synced())

	behind, err := b.Behind(ctx)
	require.NoError(t, err)
	assert.True(t, behind)

	vb, err := b.Write(ctx, upsert(indexB, "note_1_b"))
	require.NoError(t, err)
	assert.Greater(t, vb, va)
	assert.Equal(t, []int64{vb}, log.versions())

	c, indexC := newTracker(t, blob)
	v, restored, err := c.Sync(ctx, false)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, vb, v)
	ids, err := indexC.ContentIDs(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	assert.Equal(t, []string{"note_1_a", "note_1_b"}, ids)

	// a is now behind and catches up before its next write.
	_, err = a.Write(ctx, func(ctx context.Context) error {
		_, err := indexA.DeleteByContent(ctx, core.ContentTypeNote, "note_1_b")
		return err
	})
	require.NoError(t, err)
	_, _, err = c.Sync(ctx, false)
	require.NoError(t, err)
	ids, err = indexC.ContentIDs(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	assert.Equal(t, []string{"note_1_a"}, ids)
}

func TestWriteDoesNotPublishFailedChanges(t *testing.T) {
	ctx := context.Background()
	blob, err := local.New(t.TempDir())
	require.NoError(t, err)
	tr, _ := newTracker(t, blob)
	boom := errors.New("catalog write failed")

	_, err = tr.Write(ctx, func(context.Context) error { return boom })
	assert.Equal(t, boom, err)

	v, err := tr.Marker().Read(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
	_, err = blob.Get(ctx, storage.IndexSnapshotKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	// The lease was released.
	_, err = tr.Write(ctx, func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSyncRefreshesCatalogs(t *testing.T) {
	ctx := context.Background()
	blob, err := local.New(t.TempDir())
	require.NoError(t, err)
	cache, err := local.New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, blob.Put(ctx, storage.SummaryKey(core.ContentTypeNote), []byte(`{"published":true}`)))
	require.NoError(t, cache.Put(ctx, storage.SummaryKey(core.ContentTypeNote), []byte(`{"published":false}`)))
	require.NoError(t, cache.Put(ctx, storage.SummaryKey(core.ContentTypeImage), []byte(`{"deleted":true}`)))

	tr, _ := newTracker(t, blob, WithCache(cache))
	v, restored, err := tr.Sync(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, restored, "nothing published, local index kept")

	data, err := cache.Get(ctx, storage.SummaryKey(core.ContentTypeNote))
	require.NoError(t, err)
	assert.JSONEq(t, `{"published":true}`, string(data))
	_, err = cache.Get(ctx, storage.SummaryKey(core.ContentTypeImage))
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestSyncSkipsWhenCurrent(t *testing.T) {
	ctx := context.Background()
	blob, err := local.New(t.TempDir())
	require.NoError(t, err)
	tr, index := newTracker(t, blob)

	v, err := tr.Write(ctx, upsert(index, "note_1_a"))
	require.NoError(t, err)

	// A local change that was never published survives a non-forced sync.
	require.NoError(t, index.Upsert(ctx, noteEntry("note_1_local")))
	got, restored, err := tr.Sync(ctx, false)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, v, got)
	n, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, restored, err = tr.Sync(ctx, true)
	require.NoError(t, err)
	assert.True(t, restored)
	n, err = index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
