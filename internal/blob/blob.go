package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no blob exists at the requested path.
var ErrNotFound = errors.New("blob not found")

// Store is a flat keyed blob backend. Keys are content-derived relative
// paths (ab/cdef…); writes are idempotent for a given key and must not
// leave partial objects behind on failure.
type Store interface {
	// Put writes data at path. Writing the same path twice succeeds.
	Put(ctx context.Context, path string, data []byte) error

	// Get reads the blob at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes the blob at path. Deleting an absent blob
	// returns ErrNotFound; callers that tolerate absence check for it.
	Delete(ctx context.Context, path string) error
}

// HashPath fans a hex content hash out into a two-level path, ab/cdef….
func HashPath(hexHash string) string {
	if len(hexHash) <= 2 {
		return hexHash
	}
	return hexHash[:2] + "/" + hexHash[2:]
}
