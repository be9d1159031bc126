package follower

import "errors"

var (
	// ErrInvalidSequence is returned for a malformed starting sequence.
	ErrInvalidSequence = errors.New("invalid sequence number")
	// ErrNotFound is returned by Store.Get for missing keys.
	ErrNotFound = errors.New("key not found")
	// ErrTransport wraps failures of the upstream change feed.
	ErrTransport = errors.New("change feed transport error")
	// ErrStore wraps key-value store failures.
	ErrStore = errors.New("store error")
	// ErrJob wraps derived-artifact job failures.
	ErrJob = errors.New("derived job error")
	// ErrSequenceRegression is returned when advancing the marker backwards.
	ErrSequenceRegression = errors.New("sequence regression")
)
