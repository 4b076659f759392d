// Package indexer runs the add and delete lifecycle across every storage tier.
//
// An add is strictly sequential:
//  1. chunk records, the content record and the original go to the local cache
//  2. the content type's summary catalog is updated (migrating it first)
//  3. chunk texts are embedded in batches
//  4. chunks and vectors are upserted into the vector index
//  5. the touched local keys and the catalog are mirrored to the blob store
//  6. an index snapshot is written to the blob store
//  7. the version marker is bumped
//  8. the search engine is told to rebuild its handle
//
// A delete removes by pattern rather than by a stored chunk list, so it also
// cleans up after an interrupted add and can be repeated safely. Steps 6-8
// follow every successful delete.
//
// Failures after step 1 leave the tiers convergent rather than consistent:
// chunk IDs are deterministic, so a re-add overwrites and a delete reclaims.
package indexer
