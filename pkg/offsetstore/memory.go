package offsetstore

import (
	"context"
	"sync"

	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// MemoryStore keeps offsets in process memory. Offsets survive adapter restarts
// within the process but not process restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]queue.Offset
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]queue.Offset{}}
}

func (s *MemoryStore) Store(_ context.Context, name, consumerTag string, offset queue.Offset) error {
	if err := ValidateKey(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries[EntryKey(name, consumerTag)] = offset
	return nil
}

func (s *MemoryStore) Fetch(_ context.Context, name, consumerTag string) (queue.Offset, error) {
	if err := ValidateKey(name); err != nil {
		return queue.Offset{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return queue.Offset{}, ErrClosed
	}
	offset, ok := s.entries[EntryKey(name, consumerTag)]
	if !ok {
		return DefaultOffset(), nil
	}
	return offset, nil
}

func (s *MemoryStore) Reset(_ context.Context, name, consumerTag string) error {
	if err := ValidateKey(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.entries, EntryKey(name, consumerTag))
	return nil
}

func (s *MemoryStore) HealthCheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
