package memory

import (
	"context"
	"slices"
	"sync"

	audit "kycvault/pkg/platform/audit"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	mutations []audit.Mutation
	searches  []audit.Search
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations = nil
	s.searches = nil
}

func (s *InMemoryStore) AppendMutation(_ context.Context, m audit.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations = append(s.mutations, m)
	return nil
}

func (s *InMemoryStore) AppendSearch(_ context.Context, e audit.Search) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, e)
	return nil
}

func (s *InMemoryStore) ListMutations(_ context.Context, entityID string) ([]audit.Mutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Mutation
	for _, m := range s.mutations {
		if m.EntityID == entityID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListSearches(_ context.Context, limit int) ([]audit.Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.searches)
	slices.Reverse(out)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
