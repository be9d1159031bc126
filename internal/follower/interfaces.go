package follower

import (
	"context"
	"time"
)

// ChangeSource opens an ordered, resumable stream of change events.
// Open must only yield events whose sequence is strictly greater than since.
type ChangeSource interface {
	Open(ctx context.Context, since int64) (ChangeStream, error)
}

// ChangeStream is pulled one event at a time. Next returns io.EOF when the
// feed ends cleanly. Close must be idempotent and safe to call while Next is
// blocked in another goroutine.
type ChangeStream interface {
	Next(ctx context.Context) (ChangeEvent, error)
	Close() error
}

// Store is the durable key-value collaborator. Get returns ErrNotFound for
// missing keys. Batch applies all operations atomically.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Batch(ctx context.Context, ops []BatchOp) error
}

// Normalizer converts a raw registry document into its canonical form. It must
// be pure and tolerate legacy or malformed shapes.
type Normalizer interface {
	Normalize(doc Document) Package
}

// Job is the derived-artifact job executed once per package version.
type Job interface {
	Run(ctx context.Context, task Task) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
