package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds the queue registered under name.
type Factory func(ctx context.Context, name string) (Queue, error)

// Manager resolves queue names to lazily constructed, cached Queue instances.
type Manager struct {
	factory Factory
	names   map[string]struct{}

	mu     sync.Mutex
	queues map[string]Queue
	closed bool
}

// NewManager creates a manager that knows the given queue names.
func NewManager(factory Factory, names ...string) (*Manager, error) {
	if factory == nil {
		return nil, Error(ErrInvalidArgument, "queue factory is required")
	}
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			known[trimmed] = struct{}{}
		}
	}
	return &Manager{
		factory: factory,
		names:   known,
		queues:  map[string]Queue{},
	}, nil
}

// Queue returns the queue registered under name, building it on first use.
func (m *Manager) Queue(ctx context.Context, name string) (Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Error(ErrInvalidArgument, "queue name is required")
	}
	if _, ok := m.names[name]; !ok {
		return nil, Error(ErrNotFound, fmt.Sprintf("queue %q is not configured", name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, Error(ErrClosed, "queue manager is closed")
	}
	if q, ok := m.queues[name]; ok {
		return q, nil
	}
	q, err := m.factory(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create queue %q: %w", name, err)
	}
	m.queues[name] = q
	return q, nil
}

// Names returns the configured queue names in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.names))
	for name := range m.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every queue built so far and rejects further lookups.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for name, q := range m.queues {
		if err := q.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue %s: %w", name, err))
		}
	}
	m.queues = map[string]Queue{}
	return errors.Join(errs...)
}
