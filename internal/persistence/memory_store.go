package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/mlahtinen/virta/pkg/api"
)

// InMemoryStore is a goroutine-safe Store backed by maps. It is
// non-durable and intended for tests and local development.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.WorkflowInstance
	events    map[string][]api.HistoryEvent
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.WorkflowInstance),
		events:    make(map[string][]api.HistoryEvent),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateInstance(ctx context.Context, inst *api.WorkflowInstance, events ...api.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return ErrInstanceExists
	}
	if err := s.checkSequence(inst.ID, events); err != nil {
		return err
	}
	s.instances[inst.ID] = inst.Clone()
	s.events[inst.ID] = append(s.events[inst.ID], events...)
	return nil
}

func (s *InMemoryStore) AppendEvents(ctx context.Context, inst *api.WorkflowInstance, events ...api.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return ErrInstanceNotFound
	}
	if err := s.checkSequence(inst.ID, events); err != nil {
		return err
	}
	s.instances[inst.ID] = inst.Clone()
	s.events[inst.ID] = append(s.events[inst.ID], events...)
	return nil
}

// checkSequence enforces contiguous, engine-assigned sequence numbers.
func (s *InMemoryStore) checkSequence(id string, events []api.HistoryEvent) error {
	next := int64(len(s.events[id])) + 1
	for _, ev := range events {
		if ev.Seq != next {
			return fmt.Errorf("event sequence gap for %s: expected %d, got %d", id, next, ev.Seq)
		}
		next++
	}
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowInstance
	for _, inst := range s.instances {
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		result = append(result, inst.Clone())
	}
	return result, nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, instanceID string, since int64) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[instanceID]
	var out []api.HistoryEvent
	for _, ev := range all {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
