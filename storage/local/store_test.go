package local

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := storage.ChunkKey(core.ContentTypeNote, "note_note_1_abc_chunk1")
	require.NoError(t, s.Put(ctx, key, []byte(`{"a":1}`)))

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	require.NoError(t, s.Put(ctx, key, []byte(`{"a":2}`)))
	data, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Deleting again is fine.
	assert.NoError(t, s.Delete(ctx, key))
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, "note/x.txt", []byte(strconv.Itoa(i))))
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "note"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.txt", entries[0].Name())
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	keys := []string{
		"note_chunks/note_note_1_a_chunk2.json",
		"note_chunks/note_note_1_a_chunk1.json",
		"note_chunks/note_note_1_ab_chunk1.json",
		"note_chunks/summary.json",
		"image_chunks/image_image_1_a_chunk1.json",
		"version.txt",
	}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, k, []byte("x")))
	}
	require.NoError(t, s.Update(ctx, "version.txt", func([]byte, bool) ([]byte, error) { return []byte("1"), nil }))

	got, err := s.List(ctx, "note_chunks/note_note_1_a_chunk")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"note_chunks/note_note_1_a_chunk1.json",
		"note_chunks/note_note_1_a_chunk2.json",
	}, got)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, len(keys), "lock files must not be listed")

	none, err := s.List(ctx, "audio_chunks/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"", "../etc/passwd", "note/../../x"} {
		err := s.Put(context.Background(), key, []byte("x"))
		assert.ErrorIs(t, err, storage.ErrInvalidKey, "key %q", key)
	}
}

func TestStoreUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "counter.txt", func(cur []byte, exists bool) ([]byte, error) {
				n := 0
				if exists {
					n, _ = strconv.Atoi(string(cur))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := s.Get(ctx, "counter.txt")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(writers), string(data))
}

func TestStoreWatch(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, storage.VersionKey, func() { fired <- struct{}{} })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Put(context.Background(), storage.VersionKey, []byte("2")))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watch callback not invoked")
	}

	cancel()
	assert.NoError(t, <-done)
}
