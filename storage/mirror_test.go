package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T) (*local.Store, *local.Store) {
	t.Helper()
	src, err := local.New(t.TempDir())
	require.NoError(t, err)
	dst, err := local.New(t.TempDir())
	require.NoError(t, err)
	return src, dst
}

func TestMirrorCopyAndDelete(t *testing.T) {
	ctx := context.Background()
	src, dst := newStores(t)

	mirror, err := storage.NewMirror(4, nil)
	require.NoError(t, err)
	defer mirror.Release()

	keys := []string{"note/a.txt", "note_chunks/note_a_chunk1.json", storage.SummaryKey(core.ContentTypeNote)}
	for _, k := range keys {
		require.NoError(t, src.Put(ctx, k, []byte(k)))
	}

	require.NoError(t, mirror.Copy(ctx, src, dst, keys))
	for _, k := range keys {
		data, err := dst.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, k, string(data))
	}

	require.NoError(t, mirror.Delete(ctx, keys, src, dst))
	for _, k := range keys {
		_, err := dst.Get(ctx, k)
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)
		_, err = src.Get(ctx, k)
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	}
}

func TestMirrorCopyReportsEveryFailure(t *testing.T) {
	ctx := context.Background()
	src, dst := newStores(t)

	mirror, err := storage.NewMirror(2, nil)
	require.NoError(t, err)
	defer mirror.Release()

	require.NoError(t, src.Put(ctx, "present.txt", []byte("x")))
	err = mirror.Copy(ctx, src, dst, []string{"missing-1.txt", "present.txt", "missing-2.txt"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound))
	assert.Contains(t, err.Error(), "missing-1.txt")
	assert.Contains(t, err.Error(), "missing-2.txt")

	_, err = dst.Get(ctx, "present.txt")
	assert.NoError(t, err, "successful keys are still copied")
}

func TestMirrorSyncDown(t *testing.T) {
	ctx := context.Background()
	remote, cache := newStores(t)

	mirror, err := storage.NewMirror(0, nil)
	require.NoError(t, err)
	defer mirror.Release()

	require.NoError(t, remote.Put(ctx, "note_chunks/summary.json", []byte("{}")))
	require.NoError(t, remote.Put(ctx, "image_chunks/summary.json", []byte("{}")))
	require.NoError(t, remote.Put(ctx, "note/big-original.txt", []byte("...")))

	n, err := mirror.SyncDown(ctx, remote, cache, storage.ChunksDir(core.ContentTypeNote)+"/", storage.ChunksDir(core.ContentTypeImage)+"/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = cache.Get(ctx, "note/big-original.txt")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound, "originals are not synced down")
}

func TestLayout(t *testing.T) {
	assert.Equal(t, "audio/audio_1_ab.mp3", storage.OriginalKey(core.ContentTypeAudio, "audio_1_ab", ".mp3"))
	assert.Equal(t, "audio/audio_1_ab.meta.json", storage.ContentRecordKey(core.ContentTypeAudio, "audio_1_ab"))
	assert.Equal(t, "audio_chunks/audio_audio_1_ab_chunk3.json",
		storage.ChunkKey(core.ContentTypeAudio, core.ChunkID(core.ContentTypeAudio, "audio_1_ab", 3)))
	assert.Equal(t, "audio_chunks/audio_audio_1_ab_chunk", storage.ChunkPattern(core.ContentTypeAudio, "audio_1_ab"))
	assert.Equal(t, "audio_chunks/summary.json", storage.SummaryKey(core.ContentTypeAudio))

	assert.True(t, storage.IsChunkKey("audio_chunks/audio_audio_1_ab_chunk3.json"))
	assert.False(t, storage.IsChunkKey("audio_chunks/summary.json"))
	assert.Equal(t, "audio_audio_1_ab_chunk3", storage.ChunkIDFromKey("audio_chunks/audio_audio_1_ab_chunk3.json"))
}

func TestChunkRecordRoundTrip(t *testing.T) {
	chunk := &core.Chunk{
		ID:          "note_note_1_a_chunk1",
		ContentID:   "note_1_a",
		ContentType: core.ContentTypeNote,
		Ordinal:     1,
		Text:        "Sepsis Protocol\n\nBlood cultures before antibiotics",
	}
	data, err := storage.MarshalChunk(chunk)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chunk_id": "note_note_1_a_chunk1"`)

	back, err := storage.UnmarshalChunk(data)
	require.NoError(t, err)
	assert.Equal(t, chunk.Text, back.Text)

	_, err = storage.UnmarshalChunk([]byte(`{"text":"orphan"}`))
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)
}
