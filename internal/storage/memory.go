package storage

import (
	"context"
	"encoding/json"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory returns a process-local store. Values still round-trip through JSON
// so callers never share mutable state with the store.
func NewMemory() Store {
	return &memoryStore{data: map[string][]byte{}}
}

func (s *memoryStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	b, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return true, err
	}
	return true, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value any) error {
	_ = ctx
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[key] = b
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
