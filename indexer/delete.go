package indexer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

// Delete removes contentID from every tier. Deleting content that does not
// exist succeeds with status deleted. The result is never nil.
func (ix *Indexer) Delete(ctx context.Context, contentID string) (*core.DeleteResult, error) {
	res, err := ix.delete(ctx, contentID)
	t, _ := core.ContentTypeOf(contentID)
	ix.metrics.ObserveDelete(string(t), string(res.Status))
	if err != nil {
		ix.logger.Warn("delete did not complete", "content_id", contentID, "status", res.Status, "err", err)
	} else {
		ix.logger.Info("content deleted", "content_id", contentID, "chunks", res.ChunksRemoved)
	}
	return res, err
}

func (ix *Indexer) delete(ctx context.Context, contentID string) (*core.DeleteResult, error) {
	res := &core.DeleteResult{
		Status:    core.StatusPartial,
		ContentID: contentID,
		Message:   "content partially removed",
	}
	t, err := core.ParseContentID(contentID)
	if err != nil {
		res.Status = core.StatusRejected
		res.Message = fmt.Sprintf("%s: %v", MessageRejected, err)
		return res, err
	}

	var (
		keys    []string
		listed  bool
		removed int
	)
	_, err = ix.tracker.Write(ctx, func(ctx context.Context) error {
		if err := ix.ensureWritable(ctx); err != nil {
			res.Status = core.StatusRejected
			res.Message = fmt.Sprintf("%s: vector index is not writable", MessageRejected)
			return core.StorageConsistency("prepare index", err)
		}

		var err error
		if keys, err = ix.contentKeys(ctx, t, contentID); err != nil {
			return core.StorageConsistency("list content files", err)
		}
		chunkFiles := 0
		for _, k := range keys {
			if isChunkFile(t, k) {
				chunkFiles++
			}
		}
		if err := ix.mirror.Delete(ctx, keys, ix.local, ix.blob); err != nil {
			return core.StorageConsistency("delete content files", err)
		}

		if listed, err = ix.catalog.Remove(ctx, t, contentID); err != nil {
			return core.StorageConsistency("update catalog", err)
		}
		if err := ix.mirror.Copy(ctx, ix.local, ix.blob, []string{storage.SummaryKey(t)}); err != nil {
			return core.StorageConsistency("mirror catalog", err)
		}

		if removed, err = ix.index.DeleteByContent(ctx, t, contentID); err != nil {
			return core.StorageConsistency("delete index entries", err)
		}
		res.ChunksRemoved = max(removed, chunkFiles)
		return nil
	})
	if err != nil {
		return res, err
	}

	res.Status = core.StatusDeleted
	if len(keys) == 0 && !listed && removed == 0 {
		res.Message = "nothing to delete"
	} else {
		res.Message = "content deleted"
	}
	return res, nil
}

// contentKeys returns the union of every file key belonging to contentID
// in the local and blob tiers, sorted.
func (ix *Indexer) contentKeys(ctx context.Context, t core.ContentType, contentID string) ([]string, error) {
	prefixes := []string{
		storage.ContentPattern(t, contentID),
		storage.ChunkPattern(t, contentID),
	}
	chunkPrefix := core.ChunkPrefix(t, contentID)
	var keys []string
	for _, store := range []storage.BlobStore{ix.local, ix.blob} {
		for _, prefix := range prefixes {
			found, err := store.List(ctx, prefix)
			if err != nil {
				return nil, err
			}
			for _, k := range found {
				// note_1_ab_chunk matches note_1_ab_chunk2_chunk1 too.
				if isChunkFile(t, k) && !isOrdinal(strings.TrimPrefix(storage.ChunkIDFromKey(k), chunkPrefix)) {
					continue
				}
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func isChunkFile(t core.ContentType, key string) bool {
	return strings.HasPrefix(key, storage.ChunksDir(t)+"/") && storage.IsChunkKey(key)
}

func isOrdinal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
