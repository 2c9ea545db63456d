package miglog

import (
	"context"
	"sync"
	"time"
)

// MemRecorder is the in-memory migration log used in tests.
type MemRecorder struct {
	mu      sync.RWMutex
	entries []Entry
	events  []PhaseEvent
}

func NewMemRecorder() *MemRecorder {
	return &MemRecorder{}
}

func (m *MemRecorder) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemRecorder) AppendEvent(_ context.Context, event PhaseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MemRecorder) Summarize(_ context.Context, runID string) (map[string]OutcomeCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]OutcomeCounts)
	for _, entry := range m.entries {
		if entry.RunID != runID {
			continue
		}
		counts := out[entry.EntityType]
		switch entry.Status {
		case "imported":
			counts.Imported++
		case "skipped":
			counts.Skipped++
		case "duplicate":
			counts.Duplicate++
		case "failed":
			counts.Failed++
		}
		out[entry.EntityType] = counts
	}
	return out, nil
}

func (m *MemRecorder) ListEntries(_ context.Context, runID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, entry := range m.entries {
		if entry.RunID == runID {
			out = append(out, entry)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemRecorder) ListEvents(_ context.Context, runID string) ([]PhaseEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PhaseEvent
	for _, event := range m.events {
		if event.RunID == runID {
			out = append(out, event)
		}
	}
	return out, nil
}
