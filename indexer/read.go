package indexer

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/poiesic/recall/catalog"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

// Get returns the content record for contentID and the storage key of its
// original file. The local cache is read first, then the blob store.
func (ix *Indexer) Get(ctx context.Context, contentID string) (*core.Content, string, error) {
	t, err := core.ParseContentID(contentID)
	if err != nil {
		return nil, "", err
	}
	data, err := ix.readThrough(ctx, storage.ContentRecordKey(t, contentID))
	if errors.Is(err, core.ErrNotFound) {
		return nil, "", core.NotFoundf("content %s", contentID)
	}
	if err != nil {
		return nil, "", err
	}
	content, err := storage.UnmarshalContent(data)
	if err != nil {
		return nil, "", err
	}
	return content, storage.OriginalKey(t, content.ID, core.Extension(content.Filename)), nil
}

// Original returns the raw bytes stored for contentID.
func (ix *Indexer) Original(ctx context.Context, contentID string) ([]byte, error) {
	_, key, err := ix.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return ix.readThrough(ctx, key)
}

// Chunks returns the chunk records of type t matching pattern, ordered by
// content ID and ordinal. pattern is either a content ID, which selects all
// of its chunks, or a chunk ID prefix. A trailing "*" is ignored, so "" and
// "*" select every chunk of t.
func (ix *Indexer) Chunks(ctx context.Context, t core.ContentType, pattern string) ([]*core.Chunk, error) {
	if !t.Valid() {
		return nil, core.Validationf("unsupported content type %q", t)
	}
	pattern = strings.TrimSuffix(pattern, "*")
	var prefix string
	byContent := false
	switch {
	case pattern == "":
		prefix = storage.ChunksDir(t) + "/"
	case strings.Contains(pattern, "_chunk"):
		prefix = path.Join(storage.ChunksDir(t), pattern)
	default:
		if _, err := core.ParseContentID(pattern); err != nil {
			return nil, err
		}
		byContent = true
		prefix = storage.ChunkPattern(t, pattern)
	}

	keys, err := ix.local.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		if keys, err = ix.blob.List(ctx, prefix); err != nil {
			return nil, err
		}
	}

	chunks := make([]*core.Chunk, 0, len(keys))
	for _, key := range keys {
		if !storage.IsChunkKey(key) {
			continue
		}
		if byContent && !isOrdinal(strings.TrimPrefix(storage.ChunkIDFromKey(key), core.ChunkPrefix(t, pattern))) {
			continue
		}
		data, err := ix.readThrough(ctx, key)
		if err != nil {
			return nil, err
		}
		chunk, err := storage.UnmarshalChunk(data)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].ContentID != chunks[j].ContentID {
			return chunks[i].ContentID < chunks[j].ContentID
		}
		return chunks[i].Ordinal < chunks[j].Ordinal
	})
	return chunks, nil
}

// List returns the catalog rows for t.
func (ix *Indexer) List(ctx context.Context, t core.ContentType) ([]catalog.Item, error) {
	if !t.Valid() {
		return nil, core.Validationf("unsupported content type %q", t)
	}
	summary, err := ix.catalog.Load(ctx, t)
	if err != nil {
		return nil, err
	}
	return summary.Items, nil
}

// readThrough reads key from the local cache, falling back to the blob
// store and caching what it finds there.
func (ix *Indexer) readThrough(ctx context.Context, key string) ([]byte, error) {
	data, err := ix.local.Get(ctx, key)
	if err == nil || !errors.Is(err, storage.ErrObjectNotFound) {
		return data, err
	}
	data, err = ix.blob.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := ix.local.Put(ctx, key, data); err != nil {
		ix.logger.Warn("could not cache blob object locally", "key", key, "err", err)
	}
	return data, nil
}
