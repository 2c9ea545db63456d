package entitymap

import (
	"context"
	"sync"
)

// MemStore is the in-memory entity map used in tests.
type MemStore struct {
	mu   sync.RWMutex
	rows map[string]string // runID/entity/sourceID -> targetID
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]string)}
}

func key(runID, entityType, sourceID string) string {
	return runID + "\x00" + entityType + "\x00" + sourceID
}

func (s *MemStore) Upsert(_ context.Context, runID, entityType, sourceID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key(runID, entityType, sourceID)] = targetID
	return nil
}

func (s *MemStore) Resolve(_ context.Context, runID, entityType, sourceID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.rows[key(runID, entityType, sourceID)]
	return target, ok, nil
}

func (s *MemStore) CountByEntity(_ context.Context, runID string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	prefix := runID + "\x00"
	for k := range s.rows {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			rest := k[len(prefix):]
			for i := 0; i < len(rest); i++ {
				if rest[i] == '\x00' {
					out[rest[:i]]++
					break
				}
			}
		}
	}
	return out, nil
}
