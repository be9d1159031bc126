package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/depfollow/internal/progress"
)

// DefaultRecentCapacity bounds RecentSink when no capacity is given.
const DefaultRecentCapacity = 512

// RecentSink keeps the most recent events in a ring buffer for the HTTP API.
type RecentSink struct {
	mu    sync.RWMutex
	buf   []progress.Event
	next  int
	count int
}

// NewRecentSink returns a sink retaining up to capacity events.
func NewRecentSink(capacity int) *RecentSink {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentSink{buf: make([]progress.Event, capacity)}
}

// Consume appends the batch, evicting the oldest events when full.
func (s *RecentSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.buf[s.next] = evt
		s.next = (s.next + 1) % len(s.buf)
		if s.count < len(s.buf) {
			s.count++
		}
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty stage matches all.
func (s *RecentSink) Recent(limit int, stage progress.Stage) []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	out := make([]progress.Event, 0, limit)
	for i := 1; i <= s.count && len(out) < limit; i++ {
		evt := s.buf[(s.next-i+len(s.buf))%len(s.buf)]
		if stage != "" && evt.Stage != stage {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *RecentSink) Close(context.Context) error {
	return nil
}
