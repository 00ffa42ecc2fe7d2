package eventlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	chains   map[string][]*Event
	byAction map[string]*Event
}

// NewMemory creates an empty MemoryStore. Chains start empty; the first event
// appended to a scope links back to GenesisHash.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		chains:   make(map[string][]*Event),
		byAction: make(map[string]*Event),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, scope string, e *Event) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.byAction[e.ActionID]; ok {
		return prior, nil
	}

	chain := s.chains[scope]
	prevHash := GenesisHash
	if n := len(chain); n > 0 {
		prevHash = chain[n-1].Hash
	}

	stored := *e
	stored.Index = len(chain)
	stored.PrevHash = prevHash
	stored.Hash = hashEvent(&stored)

	s.chains[scope] = append(chain, &stored)
	s.byAction[stored.ActionID] = &stored
	return &stored, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, scope string, index int) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[scope]
	if index < 0 || index >= len(chain) {
		return nil, fmt.Errorf("scope %q index %d: %w", scope, index, ErrNotFound)
	}
	return chain[index], nil
}

// ByActionID implements Store.
func (s *MemoryStore) ByActionID(_ context.Context, actionID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byAction[actionID]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", actionID, ErrNotFound)
	}
	return e, nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context, scope string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains[scope]), nil
}

// Snapshot implements Store. The returned slice is a copy; appends after the
// call do not show up in it.
func (s *MemoryStore) Snapshot(_ context.Context, scope string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[scope]
	out := make([]*Event, len(chain))
	copy(out, chain)
	return out, nil
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context, scope string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[scope]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

// Verify implements Store. It re-derives every hash from raw event fields
// rather than trusting stored values.
func (s *MemoryStore) Verify(_ context.Context, scope string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prevHash := GenesisHash
	for i, curr := range s.chains[scope] {
		if curr.Index != i {
			return fmt.Errorf("scope %q: event at position %d has index %d", scope, i, curr.Index)
		}
		if curr.PrevHash != prevHash {
			return fmt.Errorf("scope %q: hash chain broken at index %d", scope, i)
		}
		if curr.Hash != hashEvent(curr) {
			return fmt.Errorf("scope %q: event %d has invalid hash", scope, i)
		}
		prevHash = curr.Hash
	}
	return nil
}

// Root implements Store.
func (s *MemoryStore) Root(_ context.Context, scope string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[scope]
	if len(chain) == 0 {
		return GenesisHash, nil
	}
	return chain[len(chain)-1].Hash, nil
}

// Scopes implements Store.
func (s *MemoryStore) Scopes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.chains))
	for scope := range s.chains {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out, nil
}
