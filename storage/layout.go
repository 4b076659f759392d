package storage

import (
	"path"
	"strings"

	"github.com/poiesic/recall/core"
)

// Fixed keys shared by every tier.
const (
	// VersionKey holds the VersionMarker token.
	VersionKey = "version.txt"

	// IndexSnapshotKey holds the latest VectorIndex backup stream.
	IndexSnapshotKey = "vector_index/snapshot.bak"

	// WriteLeaseKey holds the lease that serializes publishers across
	// processes.
	WriteLeaseKey = "vector_index/write.lease"

	// SummaryName is the manifest file inside each chunks directory.
	SummaryName = "summary.json"

	chunkExt = ".json"
)

// ContentDir is the directory holding original uploads of type t.
func ContentDir(t core.ContentType) string {
	return string(t)
}

// OriginalKey is the key of a content unit's raw payload.
func OriginalKey(t core.ContentType, contentID, ext string) string {
	return path.Join(ContentDir(t), contentID+"."+strings.TrimPrefix(ext, "."))
}

// ContentRecordKey is the key of a content unit's metadata record.
func ContentRecordKey(t core.ContentType, contentID string) string {
	return path.Join(ContentDir(t), contentID+".meta.json")
}

// ContentPattern is the key prefix shared by a content unit's original and
// its metadata record.
func ContentPattern(t core.ContentType, contentID string) string {
	return path.Join(ContentDir(t), contentID+".")
}

// ChunksDir is the directory holding chunk records of type t.
func ChunksDir(t core.ContentType) string {
	return string(t) + "_chunks"
}

// ChunkKey is the key of one chunk record.
func ChunkKey(t core.ContentType, chunkID string) string {
	return path.Join(ChunksDir(t), chunkID+chunkExt)
}

// ChunkPattern is the key prefix shared by every chunk record of a content unit.
func ChunkPattern(t core.ContentType, contentID string) string {
	return path.Join(ChunksDir(t), core.ChunkPrefix(t, contentID))
}

// SummaryKey is the key of the SummaryCatalog manifest for type t.
func SummaryKey(t core.ContentType) string {
	return path.Join(ChunksDir(t), SummaryName)
}

// IsChunkKey reports whether key names a chunk record rather than a manifest.
func IsChunkKey(key string) bool {
	return strings.HasSuffix(key, chunkExt) && path.Base(key) != SummaryName
}

// ChunkIDFromKey strips directory and extension from a chunk record key.
func ChunkIDFromKey(key string) string {
	return strings.TrimSuffix(path.Base(key), chunkExt)
}

// CleanKey normalizes key and rejects keys that are empty or escape the
// store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", ErrInvalidKey
		}
	}
	return path.Clean(key), nil
}
