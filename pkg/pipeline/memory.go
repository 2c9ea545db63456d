package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicore/migration/pkg/common/models"
	"github.com/google/uuid"
)

// In-memory store implementations used by tests.

type MemRunStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

func NewMemRunStore() *MemRunStore {
	return &MemRunStore{runs: make(map[string]Run)}
}

func (m *MemRunStore) Create(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.UpdatedAt = run.CreatedAt
	m.runs[run.ID] = *run
	return nil
}

func (m *MemRunStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

func (m *MemRunStore) Update(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	run.UpdatedAt = time.Now().UTC()
	m.runs[run.ID] = *run
	return nil
}

func (m *MemRunStore) ListByClinic(_ context.Context, clinicID string) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Run
	for _, run := range m.runs {
		if run.ClinicID == clinicID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type MemSpecStore struct {
	mu    sync.RWMutex
	specs []MappingSpec
}

func NewMemSpecStore() *MemSpecStore {
	return &MemSpecStore{}
}

func (m *MemSpecStore) Save(_ context.Context, spec *MappingSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now().UTC()
	}
	m.specs = append(m.specs, *spec)
	return nil
}

func (m *MemSpecStore) GetVersion(_ context.Context, runID string, version int) (*MappingSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.specs {
		if m.specs[i].RunID == runID && m.specs[i].Version == version {
			spec := m.specs[i]
			return &spec, nil
		}
	}
	return nil, ErrSpecNotFound
}

func (m *MemSpecStore) Latest(_ context.Context, runID string) (*MappingSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *MappingSpec
	for i := range m.specs {
		if m.specs[i].RunID != runID {
			continue
		}
		if latest == nil || m.specs[i].Version > latest.Version {
			spec := m.specs[i]
			latest = &spec
		}
	}
	if latest == nil {
		return nil, ErrSpecNotFound
	}
	return latest, nil
}

type MemPauseFlag struct {
	mu    sync.Mutex
	flags map[string]bool
}

func NewMemPauseFlag() *MemPauseFlag {
	return &MemPauseFlag{flags: make(map[string]bool)}
}

func (m *MemPauseFlag) Request(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[runID] = true
	return nil
}

func (m *MemPauseFlag) Clear(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, runID)
	return nil
}

func (m *MemPauseFlag) Requested(_ context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[runID], nil
}

// MemPublisher records published events for assertions.
type MemPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func NewMemPublisher() *MemPublisher {
	return &MemPublisher{}
}

func (m *MemPublisher) Publish(_ context.Context, eventType, runID string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (m *MemPublisher) Events() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Event, len(m.events))
	copy(out, m.events)
	return out
}
