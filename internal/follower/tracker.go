package follower

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SequenceTracker reads and advances the durable progress marker. It is owned
// by a single control loop and is not safe for concurrent Advance calls.
type SequenceTracker struct {
	store    Store
	fallback int64
	current  int64
	loaded   bool
	logger   *zap.Logger
}

// NewSequenceTracker returns a tracker that falls back to defaultSequence when
// no marker has been stored yet.
func NewSequenceTracker(store Store, defaultSequence int64, logger *zap.Logger) *SequenceTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequenceTracker{
		store:    store,
		fallback: defaultSequence,
		logger:   logger,
	}
}

// Read returns the durable marker, or the default starting sequence when the
// store holds none.
func (t *SequenceTracker) Read(ctx context.Context) (int64, error) {
	raw, err := t.store.Get(ctx, SequenceKey)
	switch {
	case errors.Is(err, ErrNotFound):
		t.current, t.loaded = t.fallback, true
		return t.fallback, nil
	case err != nil:
		return 0, fmt.Errorf("%w: read sequence: %w", ErrStore, err)
	}
	seq, err := ParseStoredSequence(raw)
	if err != nil {
		return 0, err
	}
	t.current, t.loaded = seq, true
	return seq, nil
}

// Advance durably overwrites the marker. Repeating the current value is a
// harmless overwrite; moving backwards is rejected without writing.
func (t *SequenceTracker) Advance(ctx context.Context, seq int64) error {
	if !t.loaded {
		if _, err := t.Read(ctx); err != nil {
			return err
		}
	}
	if seq < t.current {
		t.logger.Error("refusing to move checkpoint backwards",
			zap.Int64("current", t.current),
			zap.Int64("sequence", seq),
		)
		return fmt.Errorf("%w: %d < %d", ErrSequenceRegression, seq, t.current)
	}
	if err := t.store.Put(ctx, SequenceKey, FormatSequence(seq)); err != nil {
		return fmt.Errorf("%w: write sequence %d: %w", ErrStore, seq, err)
	}
	t.current = seq
	return nil
}

// Current returns the last marker value read or written by this tracker.
func (t *SequenceTracker) Current() int64 {
	return t.current
}

// ReadCheckpoint loads the stored marker without a tracker. found is false
// when nothing has been checkpointed yet.
func ReadCheckpoint(ctx context.Context, store Store) (seq int64, found bool, err error) {
	raw, err := store.Get(ctx, SequenceKey)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: read sequence: %w", ErrStore, err)
	}
	seq, err = ParseStoredSequence(raw)
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}
