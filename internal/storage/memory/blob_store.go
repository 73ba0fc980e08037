// Package memory holds in-process stand-ins for the result archive and the
// run audit store.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore keeps archived objects in memory and returns memory:// URIs.
// With a positive capacity the oldest paths are evicted first.
type BlobStore struct {
	mu       sync.RWMutex
	capacity int
	data     map[string][]byte
	order    []string
}

// NewBlobStore creates an empty BlobStore holding at most capacity objects;
// zero or less means unbounded.
func NewBlobStore(capacity int) *BlobStore {
	return &BlobStore{capacity: capacity, data: make(map[string][]byte)}
}

// PutObject stores a copy of r's content under path.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[path]; !exists {
		s.order = append(s.order, path)
	}
	s.data[path] = body
	for s.capacity > 0 && len(s.order) > s.capacity {
		delete(s.data, s.order[0])
		s.order = s.order[1:]
	}
	return "memory://" + path, nil
}

// Object returns a copy of the stored bytes.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), body...), true
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
