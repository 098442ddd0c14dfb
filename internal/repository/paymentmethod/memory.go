package paymentmethod

import (
	"context"
	"sort"
	"sync"

	"github.com/Additional-Code/orderflow/internal/entity"
)

// MemoryStore keeps payment methods in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	methods map[string]entity.PaymentMethod
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{methods: make(map[string]entity.PaymentMethod)}
}

func (s *MemoryStore) Create(_ context.Context, method *entity.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.methods {
		if existing.OwnerID == method.OwnerID && existing.Provider == method.Provider && existing.ExternalRef == method.ExternalRef {
			return ErrDuplicate
		}
	}
	s.methods[method.ID] = *method
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*entity.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	method, ok := s.methods[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &method, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]entity.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.PaymentMethod, 0)
	for _, method := range s.methods {
		if method.OwnerID == ownerID {
			out = append(out, method)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.methods[id]; !ok {
		return ErrNotFound
	}
	delete(s.methods, id)
	return nil
}
