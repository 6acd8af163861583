// Package memory provides an in-memory implementation of
// permission.GrantStore for testing and lightweight deployments. Grants
// are lost when the process restarts.
package memory

import (
	"context"
	"sync"

	"github.com/steward-dev/steward/pkg/api"
	"github.com/steward-dev/steward/pkg/permission"
	"github.com/steward-dev/steward/pkg/storage"
)

// Store is an in-memory GrantStore.
type Store struct {
	mu     sync.RWMutex
	grants map[api.GrantKey]*permission.Grant
}

// Ensure Store implements permission.GrantStore at compile time.
var _ permission.GrantStore = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{grants: make(map[api.GrantKey]*permission.Grant)}
}

// SaveGrant stores a grant, replacing any existing grant for the same
// server and tool.
func (s *Store) SaveGrant(_ context.Context, g *permission.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.grants[api.GrantKey{Server: g.Server, Tool: g.Tool}] = &cp
	return nil
}

// DeleteGrant removes a grant. Deleting a missing grant returns
// storage.ErrNotFound.
func (s *Store) DeleteGrant(_ context.Context, server, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := api.GrantKey{Server: server, Tool: tool}
	if _, ok := s.grants[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.grants, key)
	return nil
}

// LoadGrants returns copies of all stored grants.
func (s *Store) LoadGrants(_ context.Context) ([]*permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*permission.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

// Clear removes all grants.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = make(map[api.GrantKey]*permission.Grant)
	return nil
}
