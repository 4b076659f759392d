package storage

import "context"

// UpdateFunc computes a new object body from the current one. exists is
// false when the object is absent, in which case current is nil.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// BlobStore is a flat key/value object store addressed by slash-separated
// keys. Both LocalCache and the durable remote store implement it with the
// identical key scheme (see layout.go).
//
// Implementations must be thread-safe. Individual Put calls are atomic:
// readers observe either the old or the new body, never a mix.
type BlobStore interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object body. Returns ErrObjectNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Update performs a read-modify-write of key that is safe against
	// concurrent Update calls on the same key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
