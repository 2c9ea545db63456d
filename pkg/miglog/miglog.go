package miglog

import (
	"context"
	"time"
)

// Entry is one per-record outcome. Append-only; one row per record per phase
// attempt.
type Entry struct {
	RunID      string                 `json:"run_id"`
	EntityType string                 `json:"entity_type"`
	SourceID   string                 `json:"source_id"`
	TargetID   string                 `json:"target_id,omitempty"`
	Status     string                 `json:"status"` // imported, skipped, duplicate, failed
	Reasoning  string                 `json:"reasoning,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// PhaseEvent records a phase transition for the audit trail.
type PhaseEvent struct {
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	Event     string    `json:"event"` // PHASE_STARTED, PHASE_COMPLETED, PHASE_FAILED
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type OutcomeCounts struct {
	Imported  int64 `json:"imported"`
	Skipped   int64 `json:"skipped"`
	Duplicate int64 `json:"duplicate"`
	Failed    int64 `json:"failed"`
}

func (c OutcomeCounts) Total() int64 {
	return c.Imported + c.Skipped + c.Duplicate + c.Failed
}

// Recorder is the append-only migration log used for the audit trail and the
// final reconciliation report.
type Recorder interface {
	Append(ctx context.Context, entry Entry) error
	AppendEvent(ctx context.Context, event PhaseEvent) error
	Summarize(ctx context.Context, runID string) (map[string]OutcomeCounts, error)
	ListEntries(ctx context.Context, runID string, limit int) ([]Entry, error)
	ListEvents(ctx context.Context, runID string) ([]PhaseEvent, error)
}
