package core

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

const chunkMarker = "_chunk"

// NewContentID generates a content identifier of the form
// <type>_<unix-seconds>_<8 hex chars>.
func NewContentID(t ContentType, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", t, now.Unix(), suffix)
}

// Slugify lowercases s and replaces every character outside [a-z0-9_-]
// with an underscore, collapsing runs.
func Slugify(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// ChunkID returns the identifier of the n-th chunk (1-based) of a content
// unit. It is a pure function of its arguments.
func ChunkID(t ContentType, contentID string, n int) string {
	return ChunkPrefix(t, contentID) + strconv.Itoa(n)
}

// ChunkPrefix returns the pattern shared by every chunk of a content unit.
// The trailing marker prevents one content ID from matching another that
// merely starts with it.
func ChunkPrefix(t ContentType, contentID string) string {
	return fmt.Sprintf("%s_%s%s", t, Slugify(contentID), chunkMarker)
}

// ParseChunkID splits a chunk identifier into its content type, slugified
// content ID and ordinal.
func ParseChunkID(chunkID string) (ContentType, string, int, error) {
	idx := strings.LastIndex(chunkID, chunkMarker)
	if idx < 0 {
		return "", "", 0, Validationf("malformed chunk id %q", chunkID)
	}
	n, err := strconv.Atoi(chunkID[idx+len(chunkMarker):])
	if err != nil || n < 1 {
		return "", "", 0, Validationf("malformed chunk ordinal in %q", chunkID)
	}
	head := chunkID[:idx]
	sep := strings.IndexByte(head, '_')
	if sep < 0 {
		return "", "", 0, Validationf("malformed chunk id %q", chunkID)
	}
	t := ContentType(head[:sep])
	if !t.Valid() {
		return "", "", 0, Validationf("unknown content type in chunk id %q", chunkID)
	}
	return t, head[sep+1:], n, nil
}

// ContentTypeOf extracts the content type encoded in a content ID prefix.
func ContentTypeOf(contentID string) (ContentType, error) {
	sep := strings.IndexByte(contentID, '_')
	if sep <= 0 {
		return "", Validationf("content id %q has no type prefix", contentID)
	}
	return ParseContentType(contentID[:sep])
}

// ParseContentID returns the content type of contentID and rejects IDs
// that are not already in slug form, since chunk IDs are built from the
// slug while file keys use the ID verbatim.
func ParseContentID(contentID string) (ContentType, error) {
	t, err := ContentTypeOf(contentID)
	if err != nil {
		return "", err
	}
	if Slugify(contentID) != contentID {
		return "", Validationf("content id %q is not in canonical form", contentID)
	}
	return t, nil
}

// Checksum returns a BLAKE2b digest of chunk text. Identical text always
// produces the identical checksum, letting rebuilds skip re-embedding.
func Checksum(text string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
