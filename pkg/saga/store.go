package saga

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrSagaNotFound is returned when a saga instance is not found
	ErrSagaNotFound = errors.New("saga instance not found")
	// ErrSagaAlreadyExists is returned when trying to create a duplicate saga
	ErrSagaAlreadyExists = errors.New("saga instance already exists")
)

// Store persists saga instances
type Store interface {
	Save(ctx context.Context, instance *Instance) error
	Get(ctx context.Context, id string) (*Instance, error)
	Update(ctx context.Context, instance *Instance) error
	// ListByStatus returns instances with the given status, oldest first
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error)
}

// MemoryStore keeps snapshots of instances in memory
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string][]byte
}

// NewMemoryStore creates a new in-memory saga store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string][]byte)}
}

// Save stores a new instance
func (s *MemoryStore) Save(ctx context.Context, instance *Instance) error {
	b, err := instance.ToJSON()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[instance.ID]; exists {
		return ErrSagaAlreadyExists
	}
	s.instances[instance.ID] = b
	return nil
}

// Get returns a copy of the stored instance
func (s *MemoryStore) Get(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	b, exists := s.instances[id]
	s.mu.RUnlock()
	if !exists {
		return nil, ErrSagaNotFound
	}
	return FromJSON(b)
}

// Update replaces a stored instance
func (s *MemoryStore) Update(ctx context.Context, instance *Instance) error {
	b, err := instance.ToJSON()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[instance.ID]; !exists {
		return ErrSagaNotFound
	}
	s.instances[instance.ID] = b
	return nil
}

// ListByStatus returns instances with the given status, oldest first
func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error) {
	s.mu.RLock()
	var out []*Instance
	for _, b := range s.instances {
		inst, err := FromJSON(b)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if inst.Status == status {
			out = append(out, inst)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
