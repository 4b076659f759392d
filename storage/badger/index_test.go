package badger

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(t core.ContentType, contentID string, n int, vec ...float32) *Entry {
	id := core.ChunkID(t, contentID, n)
	text := "chunk text " + id
	return &Entry{
		Chunk: &core.Chunk{
			ID:          id,
			ContentID:   contentID,
			ContentType: t,
			Ordinal:     n,
			Text:        text,
			Checksum:    core.Checksum(text),
		},
		Vector: vec,
	}
}

func newMemoryIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestOpenIndex(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		ix, err := OpenIndex("")
		require.NoError(t, err)
		defer ix.Close()
		assert.False(t, ix.IsClosed())
		assert.False(t, ix.ReadOnly())
	})

	t.Run("file system", func(t *testing.T) {
		ix, err := OpenIndex(filepath.Join(t.TempDir(), "index"))
		require.NoError(t, err)
		assert.False(t, ix.IsClosed())
		require.NoError(t, ix.Close())
		assert.True(t, ix.IsClosed())
	})

	t.Run("path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		_, err := OpenIndex(file)
		assert.Error(t, err)
	})
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	ix := newMemoryIndex(t)

	e1 := testEntry(core.ContentTypeNote, "note_1_aa", 1, 1, 0, 0)
	e2 := testEntry(core.ContentTypeNote, "note_1_aa", 2, 0, 1, 0)
	require.NoError(t, ix.Upsert(ctx, e1, e2))

	got, err := ix.Get(ctx, e2.Chunk.ID, "missing", e1.Chunk.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, e2.Chunk.ID, got[0].Chunk.ID)
	assert.Equal(t, []float32{0, 1, 0}, got[0].Vector)
	assert.Equal(t, e1.Chunk.Text, got[1].Chunk.Text)

	// Re-upserting the same chunk_id overwrites.
	e1.Vector = []float32{0, 0, 1}
	require.NoError(t, ix.Upsert(ctx, e1))
	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err = ix.Get(ctx, e1.Chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, got[0].Vector)
}

func TestUpsertRejectsInvalidEntries(t *testing.T) {
	ix := newMemoryIndex(t)
	err := ix.Upsert(context.Background(), testEntry(core.ContentTypeNote, "note_1_aa", 1))
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)

	err = ix.Upsert(context.Background(), &Entry{Vector: []float32{1}})
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)
}

func TestDeleteByContent(t *testing.T) {
	ctx := context.Background()
	ix := newMemoryIndex(t)

	require.NoError(t, ix.Upsert(ctx,
		testEntry(core.ContentTypeNote, "note_1_ab", 1, 1, 0),
		testEntry(core.ContentTypeNote, "note_1_ab", 2, 1, 0),
		testEntry(core.ContentTypeNote, "note_1_ab", 10, 1, 0),
		// Its chunk IDs start with the pattern of note_1_ab.
		testEntry(core.ContentTypeNote, "note_1_ab_chunk2", 1, 0, 1),
		testEntry(core.ContentTypeImage, "image_1_ab", 1, 0, 1),
	))

	removed, err := ix.DeleteByContent(ctx, core.ContentTypeNote, "note_1_ab")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	ids, err := ix.ContentIDs(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	assert.Equal(t, []string{"note_1_ab_chunk2"}, ids)

	ids, err = ix.ContentIDs(ctx, core.ContentTypeImage)
	require.NoError(t, err)
	assert.Equal(t, []string{"image_1_ab"}, ids)

	removed, err = ix.DeleteByContent(ctx, core.ContentTypeNote, "note_1_ab")
	require.NoError(t, err)
	assert.Zero(t, removed, "deleting again is not an error")
}

func TestDeleteByContentSpansTransactions(t *testing.T) {
	ctx := context.Background()
	ix, err := NewMemoryIndex(WithMemTableSize(1 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	// Enough chunks that one transaction cannot hold every delete.
	const chunks = 1500
	entries := make([]*Entry, 0, chunks)
	for n := 1; n <= chunks; n++ {
		entries = append(entries, testEntry(core.ContentTypeDocument, "document_1_big", n, 1, 0))
	}
	require.NoError(t, ix.Upsert(ctx, entries...))
	require.NoError(t, ix.Upsert(ctx, testEntry(core.ContentTypeDocument, "document_1_small", 1, 0, 1)))

	removed, err := ix.DeleteByContent(ctx, core.ContentTypeDocument, "document_1_big")
	require.NoError(t, err)
	assert.Equal(t, chunks, removed)

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithMemTableSize(t *testing.T) {
	_, err := NewMemoryIndex(WithMemTableSize(1024))
	assert.Error(t, err)
}

func TestDimensions(t *testing.T) {
	ctx := context.Background()
	ix := newMemoryIndex(t)

	dims, err := ix.Dimensions(ctx)
	require.NoError(t, err)
	assert.Zero(t, dims)

	require.NoError(t, ix.Upsert(ctx, testEntry(core.ContentTypeNote, "note_1_x", 1, 1, 0, 0)))
	dims, err = ix.Dimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dims)
}

func TestChecksums(t *testing.T) {
	ctx := context.Background()
	ix := newMemoryIndex(t)

	e := testEntry(core.ContentTypeAudio, "audio_1_aa", 1, 1)
	require.NoError(t, ix.Upsert(ctx, e, testEntry(core.ContentTypeNote, "note_1_aa", 1, 1)))

	sums, err := ix.Checksums(ctx, core.ContentTypeAudio)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{e.Chunk.ID: e.Chunk.Checksum}, sums)
}

func TestFindSimilar(t *testing.T) {
	ctx := context.Background()
	ix := newMemoryIndex(t)

	tests := []struct {
		name  string
		query []float32
		limit int
		want  []string
	}{
		{"nearest first", []float32{1, 0}, 3, []string{"note_note_1_x_chunk1", "note_note_1_x_chunk3", "note_note_1_x_chunk2"}},
		{"limit applied", []float32{0, 1}, 1, []string{"note_note_1_x_chunk2"}},
		{"dimension mismatch", []float32{1, 0, 0}, 3, nil},
	}

	require.NoError(t, ix.Upsert(ctx,
		testEntry(core.ContentTypeNote, "note_1_x", 1, 1, 0),
		testEntry(core.ContentTypeNote, "note_1_x", 2, 0, 1),
		testEntry(core.ContentTypeNote, "note_1_x", 3, 0.8, 0.6),
	))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := ix.FindSimilar(ctx, tt.query, tt.limit)
			if tt.want == nil {
				assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
				assert.Empty(t, hits)
				return
			}
			require.NoError(t, err)
			var ids []string
			for _, h := range hits {
				ids = append(ids, h.Entry.Chunk.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 2.0, SquaredL2([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 0.0, SquaredL2([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 1.0, SquaredL2([]float32{1, 0, 5}, []float32{0, 0}), 1e-6, "extra dimensions ignored")
}

func TestRestoreNeedsPrepareForWrite(t *testing.T) {
	ctx := context.Background()

	src := newMemoryIndex(t)
	require.NoError(t, src.Upsert(ctx, testEntry(core.ContentTypeNote, "note_1_aa", 1, 1, 0)))
	var snap bytes.Buffer
	require.NoError(t, src.Snapshot(ctx, &snap))

	dir := filepath.Join(t.TempDir(), "index")
	ix, err := OpenIndex(dir)
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, ix.Restore(ctx, bytes.NewReader(snap.Bytes())))
	assert.True(t, ix.ReadOnly())

	// Reads work on the restored copy.
	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Simulate a copy-protected download.
	require.NoError(t, filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return os.Chmod(p, 0o444)
	}))

	err = ix.Upsert(ctx, testEntry(core.ContentTypeNote, "note_2_bb", 1, 0, 1))
	assert.ErrorIs(t, err, storage.ErrReadOnly)

	require.NoError(t, ix.PrepareForWrite(ctx))
	require.NoError(t, ix.PrepareForWrite(ctx), "idempotent")
	assert.False(t, ix.ReadOnly())

	require.NoError(t, ix.Upsert(ctx, testEntry(core.ContentTypeNote, "note_2_bb", 1, 0, 1)))
	ids, err := ix.ContentIDs(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	assert.Equal(t, []string{"note_1_aa", "note_2_bb"}, ids)

	info, err := os.Stat(filepath.Join(dir, "MANIFEST"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o200, "files are writable again")
}

func TestReadOnlyOpen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")

	ix, err := OpenIndex(dir)
	require.NoError(t, err)
	require.NoError(t, ix.Upsert(ctx, testEntry(core.ContentTypeNote, "note_1_aa", 1, 1)))
	require.NoError(t, ix.Close())

	ro, err := OpenIndex(dir, WithReadOnly(true))
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.DeleteByContent(ctx, core.ContentTypeNote, "note_1_aa")
	assert.ErrorIs(t, err, storage.ErrReadOnly)
	require.NoError(t, ro.PrepareForWrite(ctx))
	removed, err := ro.DeleteByContent(ctx, core.ContentTypeNote, "note_1_aa")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestClosedIndex(t *testing.T) {
	ix, err := NewMemoryIndex()
	require.NoError(t, err)
	require.NoError(t, ix.Close())
	_, err = ix.Count(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
