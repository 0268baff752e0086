// Package store persists session memory. Redis is the primary backend; an
// in-memory store serves as the degraded fallback when Redis is unreachable.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/types"
)

// MemoryStore is an in-process SessionStore with per-key expiry. Entries are
// reaped lazily on access and during List.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[types.SessionID]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	memory   *types.SessionMemory
	deadline time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[types.SessionID]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id types.SessionID) (*types.SessionMemory, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || s.now().After(e.deadline) {
		if ok {
			s.mu.Lock()
			delete(s.entries, id)
			s.mu.Unlock()
		}
		return nil, resilience.NewError(resilience.KindNotFound, "store:get", "session not found: "+string(id), nil)
	}
	return e.memory, nil
}

func (s *MemoryStore) Set(ctx context.Context, id types.SessionID, memory *types.SessionMemory, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{memory: memory, deadline: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]types.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]types.SessionID, 0, len(s.entries))
	for id, e := range s.entries {
		if now.After(e.deadline) {
			delete(s.entries, id)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
