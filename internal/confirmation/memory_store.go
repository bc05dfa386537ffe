package confirmation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps pending entries in a mutex-guarded map
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]PendingEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]PendingEntry)}
}

func (s *MemoryStore) Put(_ context.Context, entry PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (PendingEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok, nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (PendingEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return e, ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortByDetected(out)
	return out, nil
}

func sortByDetected(entries []PendingEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DetectedAt.Equal(entries[j].DetectedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].DetectedAt.Before(entries[j].DetectedAt)
	})
}
