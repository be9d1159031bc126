package follower

import (
	"context"
	"time"
)

// Document is a decoded registry document as delivered by the change feed.
// A nil Document marks a deleted or missing document.
type Document map[string]any

// Name returns the package name when the document carries a non-empty string name.
func (d Document) Name() (string, bool) {
	if d == nil {
		return "", false
	}
	name, ok := d["name"].(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Versions returns the raw versions mapping when it is a non-empty object.
func (d Document) Versions() (map[string]any, bool) {
	if d == nil {
		return nil, false
	}
	versions, ok := d["versions"].(map[string]any)
	if !ok || len(versions) == 0 {
		return nil, false
	}
	return versions, true
}

// IsPublish reports whether the document represents a package with versions.
func (d Document) IsPublish() bool {
	_, hasName := d.Name()
	_, hasVersions := d.Versions()
	return hasName && hasVersions
}

// ChangeEvent is one unit of the ordered upstream feed.
type ChangeEvent struct {
	Sequence int64
	Document Document
}

// Package is the canonical shape produced by a Normalizer.
type Package struct {
	Name     string
	Versions map[string]Version
}

// Version holds the per-version fields the follower consumes.
type Version struct {
	Dependencies map[string]string
}

// Task is one derived-artifact job invocation for a package version.
type Task struct {
	Package      string            `json:"package"`
	Version      string            `json:"version"`
	Sequence     int64             `json:"sequence"`
	Dependencies map[string]string `json:"dependencies"`
}

// OpType enumerates batch operation kinds.
type OpType string

// OpPut writes Value under Key.
const OpPut OpType = "put"

// BatchOp is one entry of an atomic Store batch.
type BatchOp struct {
	Type  OpType
	Key   string
	Value []byte
}

// Outcome describes what the processor did with an event.
type Outcome string

// Processor outcomes.
const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeProcessed Outcome = "processed"
)

// Result summarises a successfully processed event.
type Result struct {
	Sequence int64
	Outcome  Outcome
	Package  string
	Versions int
	Duration time.Duration
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context, task Task) error

// Run calls f(ctx, task).
func (f JobFunc) Run(ctx context.Context, task Task) error {
	return f(ctx, task)
}
