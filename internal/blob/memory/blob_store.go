// Package memory stores blob content in-memory for development.
package memory

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sort"
	"sync"

	"github.com/JakeFAU/depfollow/internal/blob"
)

type object struct {
	data  []byte
	attrs blob.Attrs
}

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
	writes  int
}

var _ blob.Store = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]object)}
}

// PutObject persists the content and returns a URI. The reader is drained
// before anything is stored.
func (s *BlobStore) PutObject(_ context.Context, path string, data io.Reader, attrs blob.Attrs) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	attrs.Metadata = maps.Clone(attrs.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = object{data: byteData, attrs: attrs}
	s.writes++
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns the stored bytes and attributes for path.
func (s *BlobStore) Object(path string) ([]byte, blob.Attrs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, blob.Attrs{}, false
	}
	attrs := obj.attrs
	attrs.Metadata = maps.Clone(attrs.Metadata)
	return append([]byte(nil), obj.data...), attrs, true
}

// Paths lists stored object paths in sorted order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for p := range s.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Writes counts successful PutObject calls, including overwrites.
func (s *BlobStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
