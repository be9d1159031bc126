// Package blob defines the artifact store used by derived jobs. Backends
// live in subpackages: memory, local (filesystem) and gcs.
package blob

import (
	"context"
	"io"
)

// Attrs describes an object being written.
type Attrs struct {
	ContentType string
	// Metadata is attached to the object by backends that support it. The
	// local filesystem backend drops it.
	Metadata map[string]string
}

// Store persists artifacts and returns a URI for each one. Writing the same
// path twice overwrites the previous object. A failed write never leaves a
// partial object behind.
type Store interface {
	PutObject(ctx context.Context, path string, r io.Reader, attrs Attrs) (string, error)
}
