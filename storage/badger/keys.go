package badger

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/poiesic/recall/core"
)

// Key prefixes for different data types
const (
	chunkEntryPrefix  = "chunk:"
	chunkVectorPrefix = "vec:"
)

// makeEntryKey generates the key of a chunk's JSON record.
func makeEntryKey(chunkID string) []byte {
	return []byte(chunkEntryPrefix + chunkID)
}

// makeVectorKey generates the key of a chunk's packed embedding.
func makeVectorKey(chunkID string) []byte {
	return []byte(chunkVectorPrefix + chunkID)
}

// makeContentEntryPrefix matches the record keys of every chunk of one
// content unit.
func makeContentEntryPrefix(t core.ContentType, contentID string) []byte {
	return []byte(chunkEntryPrefix + core.ChunkPrefix(t, contentID))
}

// makeTypeEntryPrefix matches the record keys of every chunk of type t.
func makeTypeEntryPrefix(t core.ContentType) []byte {
	return []byte(fmt.Sprintf("%s%s_", chunkEntryPrefix, t))
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
