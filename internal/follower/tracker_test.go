package follower

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequenceTrackerReadDefaultsWhenMissing(t *testing.T) {
	t.Parallel()

	tracker := NewSequenceTracker(newFakeStore(), 17, nil)
	seq, err := tracker.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(17), seq)
}

func TestSequenceTrackerReadPrefersStoredMarker(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.data[SequenceKey] = []byte("99")
	tracker := NewSequenceTracker(store, 5, nil)
	seq, err := tracker.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(99), seq)
}

func TestSequenceTrackerReadStoreError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.getErr = errors.New("disk gone")
	_, err := NewSequenceTracker(store, 0, nil).Read(context.Background())
	require.ErrorIs(t, err, ErrStore)
}

func TestSequenceTrackerAdvance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	tracker := NewSequenceTracker(store, 0, nil)

	require.NoError(t, tracker.Advance(ctx, 10))
	require.NoError(t, tracker.Advance(ctx, 10), "repeating the marker is allowed")
	require.NoError(t, tracker.Advance(ctx, 11))
	v, _ := store.value(SequenceKey)
	require.Equal(t, "11", v)

	err := tracker.Advance(ctx, 3)
	require.ErrorIs(t, err, ErrSequenceRegression)
	v, _ = store.value(SequenceKey)
	require.Equal(t, "11", v, "regression must not be written")
	require.Equal(t, int64(11), tracker.Current())
}

func TestSequenceTrackerAdvanceWriteFailureKeepsCurrent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	tracker := NewSequenceTracker(store, 4, nil)
	_, err := tracker.Read(context.Background())
	require.NoError(t, err)

	store.putErr = errors.New("write refused")
	require.ErrorIs(t, tracker.Advance(context.Background(), 5), ErrStore)
	require.Equal(t, int64(4), tracker.Current())
}

func TestReadCheckpoint(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_, found, err := ReadCheckpoint(context.Background(), store)
	require.NoError(t, err)
	require.False(t, found)

	store.data[SequenceKey] = []byte("8")
	seq, found, err := ReadCheckpoint(context.Background(), store)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(8), seq)
}
