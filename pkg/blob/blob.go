// Package blob stores raw document bytes behind an opaque URI.
//
// The document row records only the URI returned by Put; the core neither
// assumes a local filesystem nor a remote object store. Backends live in the
// fs and s3 subpackages.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete when no object exists at the URI.
var ErrNotFound = errors.New("blob: object not found")

// Store persists raw payloads addressed by opaque URIs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data under a backend-chosen location derived from key and
	// returns the opaque URI that addresses it.
	Put(ctx context.Context, key string, data []byte) (uri string, err error)

	// Get reads the payload addressed by uri. Returns [ErrNotFound] when no
	// object exists there.
	Get(ctx context.Context, uri string) ([]byte, error)

	// Delete removes the payload addressed by uri. Deleting a missing object
	// is not an error.
	Delete(ctx context.Context, uri string) error
}
