package models

import (
	"time"
)

// Entity types carried through the pipeline. A vendor that lacks one simply
// never produces its artifact.
const (
	EntityPatients     = "patients"
	EntityServices     = "services"
	EntityAppointments = "appointments"
	EntityInvoices     = "invoices"
	EntityPhotos       = "photos"
	EntityCharts       = "charts"
	EntityForms        = "forms"
	EntityDocuments    = "documents"
)

// Record outcome statuses written to the migration log.
const (
	OutcomeImported  = "imported"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Phase event types.
const (
	EventPhaseStarted   = "PHASE_STARTED"
	EventPhaseCompleted = "PHASE_COMPLETED"
	EventPhaseFailed    = "PHASE_FAILED"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // run_requested, phase_started, phase_completed, phase_failed
	RunID     string                 `json:"run_id"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Ref is an unresolved cross-entity reference carried by a canonical record
// until Validate/Load resolve it against the entity map.
type Ref struct {
	Entity   string `json:"entity"`
	SourceID string `json:"source_id"`
}

// CanonicalRecord is the normalized, target-schema-shaped record produced by
// Transform, prior to id resolution and persistence.
type CanonicalRecord struct {
	ID       string                 `json:"id"`
	Entity   string                 `json:"entity"`
	SourceID string                 `json:"source_id"`
	ClinicID string                 `json:"clinic_id"`
	Fields   map[string]interface{} `json:"fields"`
	Refs     map[string]Ref         `json:"refs,omitempty"`
}

// ServiceRef is a plain, non-PHI id/name pair describing an existing target
// service; passed through the safe context unmodified.
type ServiceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StartRunRequest begins a migration for one clinic.
type StartRunRequest struct {
	ClinicID         string            `json:"clinic_id"`
	Vendor           string            `json:"vendor"`
	Credentials      map[string]string `json:"credentials,omitempty"`
	EntryURL         string            `json:"entry_url,omitempty"`
	StrategyOverride string            `json:"strategy_override,omitempty"`
}

type RunView struct {
	ID             string           `json:"id"`
	ClinicID       string           `json:"clinic_id"`
	Vendor         string           `json:"vendor"`
	Status         string           `json:"status"`
	CurrentPhase   string           `json:"current_phase"`
	MappingVersion int              `json:"mapping_version"`
	Progress       map[string]int64 `json:"progress,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	ApprovedBy     string           `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Validation failure report, aggregated by error code and entity type so the
// operator can target remediation without inspecting every record.
type ValidationReport struct {
	RunID    string                     `json:"run_id"`
	Valid    bool                       `json:"valid"`
	ByCode   map[string]int             `json:"by_code"`
	ByEntity map[string]int             `json:"by_entity"`
	Errors   []ValidationFailure        `json:"errors,omitempty"`
	Checked  map[string]int             `json:"checked"`
	Details  map[string]map[string]int  `json:"details,omitempty"`
}

type ValidationFailure struct {
	Entity   string `json:"entity"`
	SourceID string `json:"source_id"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Reconciliation report.
type EntityReconciliation struct {
	Entity         string  `json:"entity"`
	SourceCount    int64   `json:"source_count"`
	StagedCount    int64   `json:"staged_count"`
	PromotedCount  int64   `json:"promoted_count"`
	DuplicateCount int64   `json:"duplicate_count"`
	SkippedCount   int64   `json:"skipped_count"`
	FailedCount    int64   `json:"failed_count"`
	MatchRate      float64 `json:"match_rate"`
}

type ReconciliationReport struct {
	RunID        string                 `json:"run_id"`
	Entities     []EntityReconciliation `json:"entities"`
	Completeness float64                `json:"completeness"`
	GeneratedAt  time.Time              `json:"generated_at"`
}
