// Package memory provides an in-process change feed.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/depfollow/internal/follower"
)

// ErrClosed is returned by Next after the stream was closed.
var ErrClosed = errors.New("change stream closed")

// Feed is an ordered, append-only list of change events. Streams opened on
// it follow appends until the feed is ended.
type Feed struct {
	mu      sync.Mutex
	events  []follower.ChangeEvent
	ended   bool
	changed chan struct{}
	pulls   int
	onPull  func(n int)
}

var _ follower.ChangeSource = (*Feed)(nil)

// NewFeed returns a feed seeded with events.
func NewFeed(events ...follower.ChangeEvent) *Feed {
	f := &Feed{changed: make(chan struct{})}
	if err := f.Append(events...); err != nil {
		panic(err)
	}
	return f
}

// OnPull registers a hook invoked before each Next on any stream.
func (f *Feed) OnPull(fn func(n int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPull = fn
}

// Append adds events. Sequences must be strictly increasing.
func (f *Feed) Append(events ...follower.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return errors.New("feed already ended")
	}
	for _, evt := range events {
		if n := len(f.events); n > 0 && evt.Sequence <= f.events[n-1].Sequence {
			return fmt.Errorf("sequence %d does not follow %d", evt.Sequence, f.events[n-1].Sequence)
		}
		f.events = append(f.events, evt)
	}
	f.broadcast()
	return nil
}

// End marks the feed complete; drained streams then return io.EOF.
func (f *Feed) End() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	f.broadcast()
}

// Pulls reports how many times Next was called across all streams.
func (f *Feed) Pulls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls
}

func (f *Feed) broadcast() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Open returns a stream yielding events with a sequence greater than since.
func (f *Feed) Open(_ context.Context, since int64) (follower.ChangeStream, error) {
	if since < 0 {
		return nil, fmt.Errorf("%w: %d", follower.ErrInvalidSequence, since)
	}
	return &stream{feed: f, since: since, closed: make(chan struct{})}, nil
}

type stream struct {
	feed      *Feed
	since     int64
	pos       int
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *stream) Next(ctx context.Context) (follower.ChangeEvent, error) {
	f := s.feed
	f.mu.Lock()
	f.pulls++
	n, hook := f.pulls, f.onPull
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	for {
		f.mu.Lock()
		for s.pos < len(f.events) && f.events[s.pos].Sequence <= s.since {
			s.pos++
		}
		if s.pos < len(f.events) {
			evt := f.events[s.pos]
			s.pos++
			f.mu.Unlock()
			return evt, nil
		}
		ended, changed := f.ended, f.changed
		f.mu.Unlock()

		if ended {
			return follower.ChangeEvent{}, io.EOF
		}
		select {
		case <-ctx.Done():
			return follower.ChangeEvent{}, ctx.Err()
		case <-s.closed:
			return follower.ChangeEvent{}, ErrClosed
		case <-changed:
		}
	}
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
