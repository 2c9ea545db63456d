package artifact

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is the in-memory artifact store used in tests and single-process
// tooling. Blobs accumulate by hash; refs re-point on overwrite.
type MemStore struct {
	mu    sync.RWMutex
	refs  map[string]Ref
	blobs map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		refs:  make(map[string]Ref),
		blobs: make(map[string][]byte),
	}
}

func memKey(runID, key string) string {
	return runID + "\x00" + key
}

func (s *MemStore) Put(_ context.Context, runID, key string, data []byte) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := hashBytes(data)
	if _, ok := s.blobs[hash]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		s.blobs[hash] = stored
	}

	ref := Ref{
		RunID:    runID,
		Key:      key,
		Hash:     hash,
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
	}
	s.refs[memKey(runID, key)] = ref
	return ref, nil
}

func (s *MemStore) Get(_ context.Context, runID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.refs[memKey(runID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := s.blobs[ref.Hash]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) Exists(_ context.Context, runID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.refs[memKey(runID, key)]
	return ok, nil
}

func (s *MemStore) List(_ context.Context, runID string) ([]Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []Ref
	for _, ref := range s.refs {
		if ref.RunID == runID {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}
