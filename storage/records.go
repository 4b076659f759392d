package storage

import (
	"encoding/json"
	"fmt"

	"github.com/poiesic/recall/core"
)

// MarshalChunk serializes a chunk record to the indented JSON document
// stored under ChunkKey.
func MarshalChunk(chunk *core.Chunk) ([]byte, error) {
	data, err := json.MarshalIndent(chunk, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %w", ErrSerializationFailed, chunk.ID, err)
	}
	return data, nil
}

// UnmarshalChunk deserializes a chunk record.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	var chunk core.Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if chunk.ID == "" || chunk.ContentID == "" {
		return nil, fmt.Errorf("%w: chunk record missing identifiers", ErrSerializationFailed)
	}
	return &chunk, nil
}

// MarshalContent serializes a content record, stored next to the chunk
// records so retrieval does not depend on the catalog.
func MarshalContent(content *core.Content) ([]byte, error) {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: content %s: %w", ErrSerializationFailed, content.ID, err)
	}
	return data, nil
}

// UnmarshalContent deserializes a content record.
func UnmarshalContent(data []byte) (*core.Content, error) {
	var content core.Content
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &content, nil
}
