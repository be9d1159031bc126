package follower

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/depfollow/internal/progress"
)

type fakeStore struct {
	mu          sync.Mutex
	data        map[string][]byte
	puts        int
	batches     int
	getErr      error
	putErr      error
	batchErr    error
	batchDelay  time.Duration
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *fakeStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *fakeStore) Batch(_ context.Context, ops []BatchOp) error {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		cur := s.maxInflight.Load()
		if n <= cur || s.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if s.batchDelay > 0 {
		time.Sleep(s.batchDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return s.batchErr
	}
	s.batches++
	for _, op := range ops {
		s.data[op.Key] = append([]byte(nil), op.Value...)
	}
	return nil
}

func (s *fakeStore) value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return string(v), ok
}

func (s *fakeStore) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = string(v)
	}
	return out
}

func (s *fakeStore) dependencyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if k != SequenceKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// fakeSource replays a fixed list of events, honoring the exclusive resume
// boundary. After the list is exhausted it either returns io.EOF or blocks
// until the stream is closed.
type fakeSource struct {
	events    []ChangeEvent
	blockTail bool
	nextErr   error
	openErr   error
	onNext    func(pull int)

	mu     sync.Mutex
	since  []int64
	pulls  int
	closed int
}

func (s *fakeSource) Open(_ context.Context, since int64) (ChangeStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	if s.openErr != nil {
		return nil, s.openErr
	}
	var pending []ChangeEvent
	for _, evt := range s.events {
		if evt.Sequence > since {
			pending = append(pending, evt)
		}
	}
	return &fakeStream{src: s, pending: pending, closed: make(chan struct{})}, nil
}

func (s *fakeSource) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

func (s *fakeSource) OpenedSince() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.since...)
}

type fakeStream struct {
	src       *fakeSource
	pending   []ChangeEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func (st *fakeStream) Next(ctx context.Context) (ChangeEvent, error) {
	st.src.mu.Lock()
	st.src.pulls++
	pull := st.src.pulls
	hook := st.src.onNext
	st.src.mu.Unlock()
	if hook != nil {
		hook(pull)
	}
	if len(st.pending) > 0 {
		evt := st.pending[0]
		st.pending = st.pending[1:]
		return evt, nil
	}
	if st.src.nextErr != nil {
		return ChangeEvent{}, st.src.nextErr
	}
	if !st.src.blockTail {
		return ChangeEvent{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return ChangeEvent{}, ctx.Err()
	case <-st.closed:
		return ChangeEvent{}, errors.New("stream closed")
	}
}

func (st *fakeStream) Close() error {
	st.closeOnce.Do(func() {
		close(st.closed)
		st.src.mu.Lock()
		st.src.closed++
		st.src.mu.Unlock()
	})
	return nil
}

// mapNormalizer lifts dependency objects verbatim, skipping anything that is
// not a string range.
type mapNormalizer struct{}

func (mapNormalizer) Normalize(doc Document) Package {
	name, _ := doc.Name()
	raw, _ := doc.Versions()
	pkg := Package{Name: name, Versions: make(map[string]Version, len(raw))}
	for v, rec := range raw {
		obj, _ := rec.(map[string]any)
		deps := map[string]string{}
		if m, ok := obj["dependencies"].(map[string]any); ok {
			for dep, rng := range m {
				if s, ok := rng.(string); ok {
					deps[dep] = s
				}
			}
		}
		pkg.Versions[v] = Version{Dependencies: deps}
	}
	return pkg
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func publishDoc(name string, versions map[string]map[string]string) Document {
	vs := make(map[string]any, len(versions))
	for v, deps := range versions {
		d := make(map[string]any, len(deps))
		for k, r := range deps {
			d[k] = r
		}
		vs[v] = map[string]any{"dependencies": d}
	}
	return Document{"name": name, "versions": vs}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, string(evt.Stage))
}

func (e *recordingEmitter) Stages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}
