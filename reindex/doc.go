// Package reindex rebuilds derived state from the chunk records that make
// up the system of record.
//
// A run regenerates every SummaryCatalog from chunk and content records,
// embeds chunks whose text changed since they were indexed, drops index
// entries whose chunk records are gone and publishes the result. Unchanged
// chunks keep their vectors unless the run is forced, which is how a change
// of embedding model is rolled out.
package reindex
