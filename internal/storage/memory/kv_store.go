// Package memory provides an in-memory key-value store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/depfollow/internal/follower"
)

// KVStore keeps values in a map guarded by a RWMutex.
type KVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ follower.Store = (*KVStore)(nil)

// NewKVStore constructs an empty KVStore.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string][]byte)}
}

// Get returns a copy of the value for key or follower.ErrNotFound.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", follower.ErrNotFound, key)
	}
	return append([]byte(nil), v...), nil
}

// Put overwrites key.
func (s *KVStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Batch validates every op before applying any, then applies them under one lock.
func (s *KVStore) Batch(_ context.Context, ops []follower.BatchOp) error {
	for _, op := range ops {
		if op.Type != follower.OpPut {
			return fmt.Errorf("unsupported batch op %q", op.Type)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		s.data[op.Key] = append([]byte(nil), op.Value...)
	}
	return nil
}

// Keys lists stored keys with the given prefix in sorted order.
func (s *KVStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
