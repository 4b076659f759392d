package search

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/coder/hnsw"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
)

// candidate is one nearest-neighbour hit before thresholding.
type candidate struct {
	entry    *badger.Entry
	distance float32
	rank     int
}

// handle is an immutable in-memory view of the vector index.
type handle struct {
	graph   *hnsw.Graph[uint64]
	entries []*badger.Entry
	dims    int
	version int64
}

// buildHandle loads every index entry into a fresh HNSW graph. Keys follow
// the index's scan order, and the level generator is seeded, so the same
// index always yields the same graph.
func buildHandle(ctx context.Context, index *badger.Index, cfg *Config, version int64) (*handle, int, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = badger.SquaredL2
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	graph.Rng = rand.New(rand.NewSource(1))

	h := &handle{graph: graph, version: version}
	skipped := 0
	err := index.Scan(ctx, func(e *badger.Entry) error {
		if h.dims == 0 {
			h.dims = len(e.Vector)
		}
		if len(e.Vector) != h.dims {
			skipped++
			return nil
		}
		key := uint64(len(h.entries))
		h.entries = append(h.entries, e)
		graph.Add(hnsw.MakeNode(key, e.Vector))
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return h, skipped, nil
}

func (h *handle) len() int {
	return len(h.entries)
}

// search returns up to k candidates in the order the graph yields them.
// A query whose length differs from the indexed vectors is rejected.
func (h *handle) search(query []float32, k int) ([]candidate, error) {
	if h.len() == 0 || k < 1 {
		return nil, nil
	}
	if len(query) != h.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", storage.ErrDimensionMismatch, len(query), h.dims)
	}
	nodes := h.graph.Search(query, min(k, h.len()))
	out := make([]candidate, 0, len(nodes))
	for i, n := range nodes {
		if n.Key >= uint64(len(h.entries)) {
			continue
		}
		out = append(out, candidate{
			entry:    h.entries[n.Key],
			distance: badger.SquaredL2(query, n.Value),
			rank:     i,
		})
	}
	return out, nil
}
