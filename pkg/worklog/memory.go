package worklog

import (
	"context"
	"sync"
)

// MemoryStore keeps entries grouped by workflow in memory. It backs tests
// and runs that do not configure a database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]Entry),
	}
}

func (s *MemoryStore) Append(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.entries[e.WorkflowID] = append(s.entries[e.WorkflowID], e)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, workflowID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.entries[workflowID]
	out := make([]Entry, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
