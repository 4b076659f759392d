package indexer

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/recall/ai/mock"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/processor"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
	"github.com/poiesic/recall/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transcoderFunc func(ctx context.Context, data []byte, ext string) ([]byte, error)

func (f transcoderFunc) ToMP3(ctx context.Context, data []byte, ext string) ([]byte, error) {
	return f(ctx, data, ext)
}

type recordingReloader struct {
	mu       sync.Mutex
	versions []int64
}

func (r *recordingReloader) Invalidate(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, v)
}

func (r *recordingReloader) calls() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.versions...)
}

type fixture struct {
	ix          *Indexer
	local       *local.Store
	blob        *local.Store
	index       *badger.Index
	embedder    *mock.MockEmbedder
	transcriber *mock.MockTranscriber
	reloader    *recordingReloader
}

type fixtureOptions struct {
	index     *badger.Index
	blob      *local.Store
	procCfg   *processor.Config
	indexOpts []Option
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()

	localStore, err := local.New(t.TempDir())
	require.NoError(t, err)
	blob := fo.blob
	if blob == nil {
		blob, err = local.New(t.TempDir())
		require.NoError(t, err)
	}
	index := fo.index
	if index == nil {
		index, err = badger.NewMemoryIndex()
		require.NoError(t, err)
		t.Cleanup(func() { index.Close() })
	}

	transcriber := mock.NewMockTranscriber()
	procOpts := []processor.Option{
		processor.WithOCR(mock.NewMockOCR()),
		processor.WithTranscriber(transcriber),
		processor.WithTranscoder(transcoderFunc(func(_ context.Context, data []byte, _ string) ([]byte, error) {
			return data, nil
		})),
	}
	if fo.procCfg != nil {
		procOpts = append(procOpts, processor.WithConfig(fo.procCfg))
	}
	proc, err := processor.New(procOpts...)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder()
	reloader := &recordingReloader{}
	opts := append([]Option{WithReloader(reloader), WithPoolSize(4)}, fo.indexOpts...)
	ix, err := New(Tiers{Local: localStore, Blob: blob, Index: index}, proc, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(ix.Release)

	return &fixture{
		ix:          ix,
		local:       localStore,
		blob:        blob,
		index:       index,
		embedder:    embedder,
		transcriber: transcriber,
		reloader:    reloader,
	}
}

func (f *fixture) addNote(t *testing.T, title, text string) *core.AddResult {
	t.Helper()
	res, err := f.ix.Add(context.Background(), core.Submission{
		Type:  core.ContentTypeNote,
		Title: title,
		Text:  text,
	})
	require.NoError(t, err)
	require.Equal(t, core.StatusIndexed, res.Status)
	return res
}

// search returns the content IDs of index hits above the relevance cutoff.
func (f *fixture) search(t *testing.T, query string) []string {
	t.Helper()
	hits, err := f.index.FindSimilar(context.Background(), mock.BagOfWords(query), 10)
	require.NoError(t, err)
	var ids []string
	for _, h := range hits {
		if 1-h.Distance/2 >= 0.2 {
			ids = append(ids, h.Entry.Chunk.ContentID)
		}
	}
	return ids
}

func (f *fixture) assertParity(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, ct := range core.ContentTypes {
		summary, err := f.ix.Catalog().Load(ctx, ct)
		require.NoError(t, err)
		indexed, err := f.index.ContentIDs(ctx, ct)
		require.NoError(t, err)
		if len(indexed) == 0 {
			indexed = []string{}
		}
		assert.Equal(t, summary.ContentIDs(), indexed, "catalog and index disagree for %s", ct)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	defer index.Close()
	proc, err := processor.New()
	require.NoError(t, err)
	emb := mock.NewMockEmbedder()

	tests := []struct {
		name  string
		tiers Tiers
		proc  *processor.Processor
		want  error
	}{
		{"no local", Tiers{Blob: store, Index: index}, proc, ErrLocalStoreRequired},
		{"no blob", Tiers{Local: store, Index: index}, proc, ErrBlobStoreRequired},
		{"no index", Tiers{Local: store, Blob: store}, proc, ErrIndexRequired},
		{"no processor", Tiers{Local: store, Blob: store, Index: index}, nil, ErrProcessorRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tiers, tt.proc, emb)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = New(Tiers{Local: store, Blob: store, Index: index}, proc, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func TestAddAndDeleteNote(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	res := f.addNote(t, "Sepsis Protocol", "Blood cultures before antibiotics")
	assert.True(t, res.Indexed)
	assert.Equal(t, 1, res.ChunksCreated)
	assert.Equal(t, MessageIndexed, res.Message)
	id := res.ContentID

	chunkKey := storage.ChunkKey(core.ContentTypeNote, core.ChunkID(core.ContentTypeNote, id, 1))
	for name, store := range map[string]storage.BlobStore{"local": f.local, "blob": f.blob} {
		for _, key := range []string{
			chunkKey,
			storage.ContentRecordKey(core.ContentTypeNote, id),
			storage.OriginalKey(core.ContentTypeNote, id, "txt"),
			storage.SummaryKey(core.ContentTypeNote),
		} {
			_, err := store.Get(ctx, key)
			assert.NoError(t, err, "%s is missing %s", name, key)
		}
	}
	_, err := f.blob.Get(ctx, storage.IndexSnapshotKey)
	assert.NoError(t, err)

	v, err := f.ix.Marker().Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{v}, f.reloader.calls())

	assert.Contains(t, f.search(t, "blood cultures"), id)
	f.assertParity(t)

	del, err := f.ix.Delete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, del.Status)
	assert.Equal(t, 1, del.ChunksRemoved)
	assert.NotContains(t, f.search(t, "blood cultures"), id)
	f.assertParity(t)

	after, err := f.ix.Marker().Read(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, v)
	assert.Len(t, f.reloader.calls(), 2)
}

func TestDeleteIsIdempotentAndComplete(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	keep := f.addNote(t, "Fluids", "Thirty mL per kg crystalloid")
	gone := f.addNote(t, "Sepsis Protocol", "Blood cultures before antibiotics")

	first, err := f.ix.Delete(ctx, gone.ContentID)
	require.NoError(t, err)
	assert.Equal(t, "content deleted", first.Message)

	second, err := f.ix.Delete(ctx, gone.ContentID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, second.Status)
	assert.Equal(t, "nothing to delete", second.Message)
	assert.Zero(t, second.ChunksRemoved)

	for _, store := range []storage.BlobStore{f.local, f.blob} {
		keys, err := store.List(ctx, storage.ChunkPattern(core.ContentTypeNote, gone.ContentID))
		require.NoError(t, err)
		assert.Empty(t, keys)
		keys, err = store.List(ctx, storage.ContentPattern(core.ContentTypeNote, gone.ContentID))
		require.NoError(t, err)
		assert.Empty(t, keys)
	}

	ids, err := f.index.ContentIDs(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	assert.Equal(t, []string{keep.ContentID}, ids)

	items, err := f.ix.List(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, keep.ContentID, items[0].ContentID)
}

func TestDeleteUnknownContentSucceeds(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	res, err := f.ix.Delete(context.Background(), "image_1700000000_deadbeef")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, res.Status)

	res, err = f.ix.Delete(context.Background(), "bogus")
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, core.StatusRejected, res.Status)
}

func TestDeleteReclaimsInterruptedAdd(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	// A crash after step 1 leaves chunk files with no catalog or index entry.
	id := "note_1700000000_0badf00d"
	orphan := &core.Chunk{
		ID:          core.ChunkID(core.ContentTypeNote, id, 1),
		ContentID:   id,
		ContentType: core.ContentTypeNote,
		Ordinal:     1,
		Text:        "half written",
	}
	data, err := storage.MarshalChunk(orphan)
	require.NoError(t, err)
	require.NoError(t, f.local.Put(ctx, storage.ChunkKey(core.ContentTypeNote, orphan.ID), data))
	require.NoError(t, f.blob.Put(ctx, storage.OriginalKey(core.ContentTypeNote, id, "txt"), []byte("half written")))

	// A different content whose ID extends the orphan's chunk prefix.
	neighbour := id + "_chunk2"
	require.NoError(t, f.local.Put(ctx, storage.ChunkKey(core.ContentTypeNote, core.ChunkID(core.ContentTypeNote, neighbour, 1)), data))

	res, err := f.ix.Delete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksRemoved)

	keys, err := f.local.List(ctx, storage.ChunksDir(core.ContentTypeNote)+"/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		storage.ChunkKey(core.ContentTypeNote, core.ChunkID(core.ContentTypeNote, neighbour, 1)),
		storage.SummaryKey(core.ContentTypeNote),
	}, keys)
	_, err = f.blob.Get(ctx, storage.OriginalKey(core.ContentTypeNote, id, "txt"))
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestTwoNotesWithSameTitle(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	a := f.addNote(t, "Shift notes", "Bed 3 stable overnight")
	b := f.addNote(t, "Shift notes", "Bed 5 needs wound dressing")
	require.NotEqual(t, a.ContentID, b.ContentID)

	items, err := f.ix.List(context.Background(), core.ContentTypeNote)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Shift notes", items[0].Title)
	assert.Equal(t, "Shift notes", items[1].Title)
	f.assertParity(t)
}

func TestParityAcrossTypes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	note := f.addNote(t, "Sepsis Protocol", "Blood cultures before antibiotics")
	img, err := f.ix.Add(ctx, core.Submission{
		Type:     core.ContentTypeImage,
		Data:     []byte("png"),
		Filename: "wound.png",
		Caption:  "Wound dressing schedule",
	})
	require.NoError(t, err)
	drawing, err := f.ix.Add(ctx, core.Submission{Type: core.ContentTypeDrawing, Data: []byte("png"), Title: "Line placement"})
	require.NoError(t, err)
	f.assertParity(t)

	_, err = f.ix.Delete(ctx, img.ContentID)
	require.NoError(t, err)
	f.assertParity(t)
	_, err = f.ix.Delete(ctx, note.ContentID)
	require.NoError(t, err)
	f.assertParity(t)

	ids, err := f.index.ContentIDs(ctx, core.ContentTypeDrawing)
	require.NoError(t, err)
	assert.Equal(t, []string{drawing.ContentID}, ids)
}

func TestAddRejectsInvalidSubmission(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	res, err := f.ix.Add(ctx, core.Submission{Type: core.ContentTypeImage, Data: []byte("x"), Filename: "scan.tiff"})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, core.StatusRejected, res.Status)
	assert.False(t, res.Indexed)
	assert.True(t, strings.HasPrefix(res.Message, MessageRejected))

	assert.Zero(t, f.embedder.CallCount())
	keys, err := f.local.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys, "nothing is written for a rejected submission")
	assert.Empty(t, f.reloader.calls())
}

func TestEmbeddingFailureIsPartial(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}

	res, err := f.ix.Add(ctx, core.Submission{Type: core.ContentTypeNote, Title: "Sepsis Protocol", Text: "Blood cultures"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExternalService)
	assert.Equal(t, core.StatusPartial, res.Status)
	assert.False(t, res.Indexed)
	assert.Equal(t, MessageNotIndexed, res.Message)

	// Chunk files stay local for a later rebuild; catalog and index agree.
	_, err = f.local.Get(ctx, storage.ChunkKey(core.ContentTypeNote, core.ChunkID(core.ContentTypeNote, res.ContentID, 1)))
	assert.NoError(t, err)
	f.assertParity(t)

	v, err := f.ix.Marker().Read(ctx)
	require.NoError(t, err)
	assert.Zero(t, v, "version is not bumped")
	assert.Empty(t, f.reloader.calls())

	// A re-add under the same ID converges.
	f.embedder.Reset()
	again, err := f.ix.Add(ctx, core.Submission{Type: core.ContentTypeNote, ContentID: res.ContentID, Title: "Sepsis Protocol", Text: "Blood cultures"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusIndexed, again.Status)
	f.assertParity(t)
}

func TestFailedReAddKeepsPreviousVersion(t *testing.T) {
	tests := []struct {
		name  string
		embed func(context.Context, []string) ([][]float32, error)
		is    error
	}{
		{
			name: "embedding service down",
			embed: func(context.Context, []string) ([][]float32, error) {
				return nil, errors.New("connection refused")
			},
			is: core.ErrExternalService,
		},
		{
			name: "embedding model changed",
			embed: func(_ context.Context, texts []string) ([][]float32, error) {
				out := make([][]float32, len(texts))
				for i := range texts {
					out[i] = []float32{1, 0, 0}
				}
				return out, nil
			},
			is: storage.ErrDimensionMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{})
			ctx := context.Background()
			id := "note_1700000000_cafe0001"

			first, err := f.ix.Add(ctx, core.Submission{Type: core.ContentTypeNote, ContentID: id, Title: "Sepsis Protocol", Text: "Blood cultures before antibiotics"})
			require.NoError(t, err)
			require.Equal(t, core.StatusIndexed, first.Status)
			v, err := f.ix.Marker().Read(ctx)
			require.NoError(t, err)

			f.embedder.EmbedTextsFunc = tt.embed
			res, err := f.ix.Add(ctx, core.Submission{Type: core.ContentTypeNote, ContentID: id, Title: "Sepsis Protocol", Text: "Lactate every two hours"})
			assert.ErrorIs(t, err, core.ErrExternalService)
			assert.ErrorIs(t, err, tt.is)
			assert.Equal(t, core.StatusPartial, res.Status)
			assert.Equal(t, MessagePreviousKept, res.Message)
			assert.False(t, res.Indexed)

			assert.Contains(t, f.search(t, "blood cultures antibiotics"), id)
			chunks, err := f.ix.Chunks(ctx, core.ContentTypeNote, id)
			require.NoError(t, err)
			require.Len(t, chunks, 1)
			assert.Equal(t, "Blood cultures before antibiotics", chunks[0].Text)
			items, err := f.ix.List(ctx, core.ContentTypeNote)
			require.NoError(t, err)
			require.Len(t, items, 1)
			f.assertParity(t)

			after, err := f.ix.Marker().Read(ctx)
			require.NoError(t, err)
			assert.Equal(t, v, after)
		})
	}
}

func TestAddRejectsMismatchedDimensions(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.addNote(t, "Sepsis Protocol", "Blood cultures before antibiotics")

	f.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0, 1}
		}
		return out, nil
	}
	res, err := f.ix.Add(ctx, core.Submission{Type: core.ContentTypeNote, Title: "Fluids", Text: "Thirty mL per kg"})
	assert.ErrorIs(t, err, core.ErrExternalService)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.Equal(t, core.StatusPartial, res.Status)
	assert.Equal(t, MessageNotIndexed, res.Message)

	n, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.assertParity(t)
	assert.Len(t, f.reloader.calls(), 1)
}

func TestAudioTranscriptionFailureDegrades(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.transcriber.TranscribeFunc = func(context.Context, []byte, string, string) (string, error) {
		return "", errors.New("speech service down")
	}

	res, err := f.ix.Add(ctx, core.Submission{
		Type:     core.ContentTypeAudio,
		Data:     []byte("mp3 bytes"),
		Filename: "handoff.mp3",
		Title:    "Sepsis handoff",
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusIndexed, res.Status)
	assert.Equal(t, []string{processor.DegradedTranscriptionFailed}, res.Degraded)

	content, key, err := f.ix.Get(ctx, res.ContentID)
	require.NoError(t, err)
	assert.True(t, content.Metadata.TranscriptAbsent)
	assert.Equal(t, storage.OriginalKey(core.ContentTypeAudio, res.ContentID, "mp3"), key)

	assert.Contains(t, f.search(t, "sepsis handoff"), res.ContentID)
}

func TestAddAfterColdRestore(t *testing.T) {
	ctx := context.Background()
	blob, err := local.New(t.TempDir())
	require.NoError(t, err)

	first := newFixture(t, fixtureOptions{blob: blob})
	seeded := first.addNote(t, "Sepsis Protocol", "Blood cultures before antibiotics")

	snapshot, err := blob.Get(ctx, storage.IndexSnapshotKey)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "index")
	restored, err := badger.OpenIndex(dir)
	require.NoError(t, err)
	t.Cleanup(func() { restored.Close() })
	require.NoError(t, restored.Restore(ctx, bytes.NewReader(snapshot)))
	require.NoError(t, filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return os.Chmod(p, 0o444)
	}))
	require.True(t, restored.ReadOnly())

	second := newFixture(t, fixtureOptions{blob: blob, index: restored})
	assert.False(t, restored.ReadOnly(), "New prepares the index for write")

	added := second.addNote(t, "Wound care", "Wound dressing schedule")
	ids, err := restored.ContentIDs(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{seeded.ContentID, added.ContentID}, ids)

	// A restore while the indexer is live is normalised on the next add.
	snapshot, err = blob.Get(ctx, storage.IndexSnapshotKey)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx, bytes.NewReader(snapshot)))
	require.True(t, restored.ReadOnly())

	third := second.addNote(t, "Line care", "Flush the line daily")
	ids, err = restored.ContentIDs(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	assert.Contains(t, ids, third.ContentID)
}

func TestReAddReplacesPreviousVersion(t *testing.T) {
	cfg := processor.DefaultConfig()
	cfg.ChunkBudget = 60
	f := newFixture(t, fixtureOptions{procCfg: cfg})
	ctx := context.Background()
	id := "note_1700000000_cafe0001"

	long := strings.Repeat("Check lactate again after the first fluid bolus. ", 5)
	res, err := f.ix.Add(ctx, core.Submission{Type: core.ContentTypeNote, ContentID: id, Text: long, IsMarkdown: true})
	require.NoError(t, err)
	require.Greater(t, res.ChunksCreated, 2)

	res, err = f.ix.Add(ctx, core.Submission{Type: core.ContentTypeNote, ContentID: id, Text: "Lactate normal."})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)

	chunks, err := f.ix.Chunks(ctx, core.ContentTypeNote, id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Lactate normal.", chunks[0].Text)

	n, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, store := range []storage.BlobStore{f.local, f.blob} {
		keys, err := store.List(ctx, storage.ContentPattern(core.ContentTypeNote, id))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			storage.ContentRecordKey(core.ContentTypeNote, id),
			storage.OriginalKey(core.ContentTypeNote, id, "txt"),
		}, keys, "the old .md original is gone")
		keys, err = store.List(ctx, storage.ChunkPattern(core.ContentTypeNote, id))
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	}

	items, err := f.ix.List(ctx, core.ContentTypeNote)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Chunks)
}

func TestEmbeddingsAreBatched(t *testing.T) {
	cfg := processor.DefaultConfig()
	cfg.ChunkBudget = 40
	f := newFixture(t, fixtureOptions{procCfg: cfg, indexOpts: []Option{WithEmbedLimits(2, 0)}})

	var (
		mu    sync.Mutex
		sizes []int
	)
	f.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		sizes = append(sizes, len(texts))
		mu.Unlock()
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.BagOfWords(text)
		}
		return out, nil
	}

	res := f.addNote(t, "", strings.Repeat("Turn the patient every two hours. ", 5))
	require.Equal(t, 5, res.ChunksCreated)
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestEmbeddingCountMismatch(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, nil
	}
	_, err := f.ix.Add(context.Background(), core.Submission{Type: core.ContentTypeNote, Text: "Blood cultures"})
	assert.ErrorIs(t, err, ErrEmbeddingMismatch)
	assert.ErrorIs(t, err, core.ErrExternalService)
}

func TestGetAndChunks(t *testing.T) {
	cfg := processor.DefaultConfig()
	cfg.ChunkBudget = 40
	f := newFixture(t, fixtureOptions{procCfg: cfg})
	ctx := context.Background()

	res := f.addNote(t, "Turning", strings.Repeat("Turn the patient every two hours. ", 3))

	content, key, err := f.ix.Get(ctx, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, "Turning", content.Title)
	assert.Equal(t, storage.OriginalKey(core.ContentTypeNote, res.ContentID, "txt"), key)

	chunks, err := f.ix.Chunks(ctx, core.ContentTypeNote, res.ContentID)
	require.NoError(t, err)
	require.Len(t, chunks, res.ChunksCreated)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Ordinal)
	}

	one, err := f.ix.Chunks(ctx, core.ContentTypeNote, core.ChunkID(core.ContentTypeNote, res.ContentID, 2))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 2, one[0].Ordinal)

	// The local cache is ephemeral; reads fall through to the blob store.
	require.NoError(t, os.RemoveAll(f.local.Root()))
	content, _, err = f.ix.Get(ctx, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, res.ContentID, content.ID)
	original, err := f.ix.Original(ctx, res.ContentID)
	require.NoError(t, err)
	assert.Contains(t, string(original), "Turn the patient")

	_, _, err = f.ix.Get(ctx, "note_1_missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
