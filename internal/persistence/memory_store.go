package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/jalehto/virta/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of InstanceStore and
// AuditStore backed by maps. It is not durable; it exists for tests and
// local development.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.Instance
	events    map[string][]api.AuditEvent
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.Instance),
		events:    make(map[string][]api.AuditEvent),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ InstanceStore = (*InMemoryStore)(nil)
	_ AuditStore    = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return ErrInstanceExists
	}
	// Store a copy so callers cannot mutate the stored snapshot.
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) UpdateInstance(ctx context.Context, inst *api.Instance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return ErrInstanceNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Instance
	for _, inst := range s.instances {
		if filter.matches(inst.Status) {
			result = append(result, inst.Clone())
		}
	}
	sortInstances(result)
	return result, nil
}

func (s *InMemoryStore) Append(ctx context.Context, ev api.AuditEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	ev.Sequence = int64(len(s.events[ev.InstanceID])) + 1
	s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
	return ev.Sequence, nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.events[instanceID]
	out := make([]api.AuditEvent, len(src))
	copy(out, src)
	return out, nil
}
