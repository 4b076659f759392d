package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/poiesic/recall/catalog"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/processor"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
)

// Outcome messages. Every mutating call returns exactly one of them.
const (
	MessageIndexed      = "content indexed and searchable"
	MessageNotIndexed   = "content saved but not yet searchable"
	MessageNotMirrored  = "content searchable locally but not yet mirrored to durable storage"
	MessagePreviousKept = "content not updated; the previous version stays searchable"
	MessageRejected     = "submission rejected"
)

// Add processes sub and writes it to every tier. The returned result is
// never nil. A non-nil error accompanies every status except indexed and
// classifies the failure: ErrValidation for rejected submissions,
// ErrExternalService when embedding failed, ErrStorageConsistency when a
// tier write failed after an earlier one succeeded.
func (ix *Indexer) Add(ctx context.Context, sub core.Submission) (*core.AddResult, error) {
	start := time.Now()
	res, err := ix.add(ctx, sub)
	ix.metrics.ObserveAdd(string(sub.Type), string(res.Status), res.Degraded, time.Since(start))
	if err != nil {
		ix.logger.Warn("add did not complete", "content_id", res.ContentID, "status", res.Status, "err", err)
	} else {
		ix.logger.Info("content added", "content_id", res.ContentID, "chunks", res.ChunksCreated)
	}
	return res, err
}

func (ix *Indexer) add(ctx context.Context, sub core.Submission) (*core.AddResult, error) {
	processed, err := ix.processor.Process(ctx, sub)
	if err != nil {
		return &core.AddResult{
			Status:  core.StatusRejected,
			Message: fmt.Sprintf("%s: %v", MessageRejected, err),
		}, err
	}
	content := processed.Content
	res := &core.AddResult{
		Status:        core.StatusPartial,
		ContentID:     content.ID,
		ChunksCreated: len(processed.Chunks),
		Message:       MessageNotIndexed,
		Degraded:      processed.Degradations,
	}

	// Embeddings are computed before any tier is touched.
	vectors, err := ix.embed(ctx, processed.Chunks)
	if err == nil {
		err = ix.checkDimensions(ctx, vectors)
	}
	if err != nil {
		return ix.embeddingFailed(ctx, sub, processed, res, err)
	}

	_, err = ix.tracker.Write(ctx, func(ctx context.Context) error {
		return ix.apply(ctx, sub, processed, vectors, res)
	})
	if err != nil {
		return res, err
	}

	res.Status = core.StatusIndexed
	res.Message = MessageIndexed
	return res, nil
}

// apply writes processed content to the local cache, the catalog, the
// index and the blob tier, in that order. It runs under the write lease
// with the index caught up; publishing follows when it returns nil.
func (ix *Indexer) apply(ctx context.Context, sub core.Submission, processed *processor.Result, vectors [][]float32, res *core.AddResult) error {
	content := processed.Content
	t := content.Type

	if err := ix.ensureWritable(ctx); err != nil {
		res.Status = core.StatusRejected
		res.ChunksCreated = 0
		res.Message = fmt.Sprintf("%s: vector index is not writable", MessageRejected)
		return core.StorageConsistency("prepare index", err)
	}

	// Re-adding under an existing ID can shrink the chunk list or change
	// the original's extension. Those leftovers are found before writing.
	var (
		stale []string
		err   error
	)
	if sub.ContentID != "" {
		if stale, err = ix.staleKeys(ctx, processed); err != nil {
			return core.StorageConsistency("scan previous version", err)
		}
	}

	// 1. local cache
	touched, err := ix.persist(ctx, processed, stale)
	if err != nil {
		return core.StorageConsistency("write local cache", err)
	}

	// 2. catalog
	if _, err := ix.catalog.Upsert(ctx, t, catalog.ItemFromContent(content)); err != nil {
		return core.StorageConsistency("update catalog", err)
	}

	// 3. vector index
	if err := ix.upsert(ctx, content, processed.Chunks, vectors); err != nil {
		ix.withdraw(ctx, t, content.ID)
		return core.StorageConsistency("upsert index", err)
	}
	res.Indexed = true
	res.Message = MessageNotMirrored

	// 4. mirror touched keys and the catalog
	if err := ix.mirror.Copy(ctx, ix.local, ix.blob, append(touched, storage.SummaryKey(t))); err != nil {
		return core.StorageConsistency("mirror content", err)
	}
	if err := ix.mirror.Delete(ctx, stale, ix.blob); err != nil {
		return core.StorageConsistency("mirror stale keys", err)
	}
	return nil
}

// embeddingFailed settles an add whose embeddings could not be produced.
// A previously stored version under the same ID is left as it was. New
// content is written to the local cache only, so a later rebuild or re-add
// can index it; catalog and index do not list it.
func (ix *Indexer) embeddingFailed(ctx context.Context, sub core.Submission, processed *processor.Result, res *core.AddResult, cause error) (*core.AddResult, error) {
	content := processed.Content
	if sub.ContentID != "" {
		existing, err := ix.contentKeys(ctx, content.Type, content.ID)
		if err != nil {
			return res, errors.Join(cause, core.StorageConsistency("scan previous version", err))
		}
		if len(existing) > 0 {
			res.ChunksCreated = 0
			res.Message = MessagePreviousKept
			return res, cause
		}
	}
	if _, err := ix.persist(ctx, processed, nil); err != nil {
		ix.logger.Warn("could not keep chunks for a later rebuild", "content_id", content.ID, "err", err)
	}
	return res, cause
}

// checkDimensions rejects vectors that disagree with each other or with the
// vectors already indexed. A mismatch means the embedding model changed and
// is reported as an embedding failure.
func (ix *Indexer) checkDimensions(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	want, err := ix.index.Dimensions(ctx)
	if err != nil {
		return core.StorageConsistency("read index dimensions", err)
	}
	if want == 0 {
		want = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != want {
			return core.ExternalService("embedding",
				fmt.Errorf("%w: vector %d has %d dimensions, index has %d", storage.ErrDimensionMismatch, i, len(v), want))
		}
	}
	return nil
}

// persist writes the chunk records, content record and original to the
// local cache and removes stale keys from it. It returns the written keys.
func (ix *Indexer) persist(ctx context.Context, p *processor.Result, stale []string) ([]string, error) {
	content := p.Content
	t := content.Type
	keys := make([]string, 0, len(p.Chunks)+2)

	for _, chunk := range p.Chunks {
		data, err := storage.MarshalChunk(chunk)
		if err != nil {
			return keys, err
		}
		key := storage.ChunkKey(t, chunk.ID)
		if err := ix.local.Put(ctx, key, data); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	record, err := storage.MarshalContent(content)
	if err != nil {
		return keys, err
	}
	recordKey := storage.ContentRecordKey(t, content.ID)
	if err := ix.local.Put(ctx, recordKey, record); err != nil {
		return keys, err
	}
	keys = append(keys, recordKey)

	originalKey := storage.OriginalKey(t, content.ID, p.Original.Ext)
	if err := ix.local.Put(ctx, originalKey, p.Original.Data); err != nil {
		return keys, err
	}
	keys = append(keys, originalKey)

	for _, key := range stale {
		if err := ix.local.Delete(ctx, key); err != nil {
			return keys, err
		}
	}
	return keys, nil
}

// staleKeys lists keys of a previous version of the content that the new
// version will not overwrite, across both file tiers.
func (ix *Indexer) staleKeys(ctx context.Context, p *processor.Result) ([]string, error) {
	content := p.Content
	t := content.Type
	keep := []string{
		storage.ContentRecordKey(t, content.ID),
		storage.OriginalKey(t, content.ID, p.Original.Ext),
	}
	for _, c := range p.Chunks {
		keep = append(keep, storage.ChunkKey(t, c.ID))
	}

	existing, err := ix.contentKeys(ctx, t, content.ID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(existing, func(k string) bool { return slices.Contains(keep, k) }), nil
}

// upsert replaces every index entry of content with the new chunks.
func (ix *Indexer) upsert(ctx context.Context, content *core.Content, chunks []*core.Chunk, vectors [][]float32) error {
	if _, err := ix.index.DeleteByContent(ctx, content.Type, content.ID); err != nil {
		return err
	}
	entries := make([]*badger.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = &badger.Entry{Chunk: c, Vector: vectors[i]}
	}
	return ix.index.Upsert(ctx, entries...)
}

// withdraw takes content back out of the catalog and the index after a
// failed upsert so the two stay in parity. The chunk files stay
// in the local cache for a later re-add, delete or rebuild.
func (ix *Indexer) withdraw(ctx context.Context, t core.ContentType, contentID string) {
	if _, err := ix.catalog.Remove(ctx, t, contentID); err != nil {
		ix.logger.Error("could not withdraw catalog entry", "content_id", contentID, "err", err)
	}
	if _, err := ix.index.DeleteByContent(ctx, t, contentID); err != nil && !errors.Is(err, storage.ErrReadOnly) {
		ix.logger.Error("could not withdraw index entries", "content_id", contentID, "err", err)
	}
}
