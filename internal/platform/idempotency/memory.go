package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore backs the memory persistence driver and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, id string, pending Entry, now time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok && !existing.expired(now) {
		return existing, false, nil
	}
	s.entries[id] = pending
	return Entry{}, true, nil
}

func (s *MemoryStore) Finish(_ context.Context, id string, done Entry) error {
	s.mu.Lock()
	s.entries[id] = done
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Drop(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, entry := range s.entries {
		if limit > 0 && purged == limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, id)
			purged++
		}
	}
	return purged, nil
}
