package pipeline

import (
	"encoding/json"
	"time"

	"github.com/clinicore/migration/pkg/assist"
	"gorm.io/datatypes"
)

// Run statuses. Each phase has a running form and a completed form; the
// completed form is the precondition for the next phase. Failed is terminal.
// Paused is only ever entered at a batch boundary.
const (
	StatusPending         = "pending"
	StatusIngesting       = "ingesting"
	StatusIngested        = "ingested"
	StatusProfiling       = "profiling"
	StatusProfiled        = "profiled"
	StatusDraftingMapping = "drafting_mapping"
	StatusMappingDrafted  = "mapping_drafted"
	StatusMappingApproved = "mapping_approved"
	StatusTransforming    = "transforming"
	StatusTransformed     = "transformed"
	StatusValidating      = "validating"
	StatusValidated       = "validated"
	StatusLoading         = "loading"
	StatusLoaded          = "loaded"
	StatusReconciling     = "reconciling"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
	StatusPaused          = "paused"
)

// Pipeline phases in execution order.
const (
	PhaseIngest       = "ingest"
	PhaseProfile      = "profile"
	PhaseDraftMapping = "draft_mapping"
	PhaseTransform    = "transform"
	PhaseValidate     = "validate"
	PhaseLoad         = "load"
	PhaseReconcile    = "reconcile"
)

var phaseOrder = []string{
	PhaseIngest, PhaseProfile, PhaseDraftMapping,
	PhaseTransform, PhaseValidate, PhaseLoad, PhaseReconcile,
}

// runningStatus / completedStatus map a phase onto the two statuses it moves
// the run through.
var runningStatus = map[string]string{
	PhaseIngest:       StatusIngesting,
	PhaseProfile:      StatusProfiling,
	PhaseDraftMapping: StatusDraftingMapping,
	PhaseTransform:    StatusTransforming,
	PhaseValidate:     StatusValidating,
	PhaseLoad:         StatusLoading,
	PhaseReconcile:    StatusReconciling,
}

var completedStatus = map[string]string{
	PhaseIngest:       StatusIngested,
	PhaseProfile:      StatusProfiled,
	PhaseDraftMapping: StatusMappingDrafted,
	PhaseTransform:    StatusTransformed,
	PhaseValidate:     StatusValidated,
	PhaseLoad:         StatusLoaded,
	PhaseReconcile:    StatusCompleted,
}

// nextPhase returns the phase to run given the run's current status. The
// second return is false when no phase can run from this status (terminal
// states, or states that need external action first).
func nextPhase(status string) (string, bool) {
	switch status {
	case StatusPending, StatusIngesting:
		return PhaseIngest, true
	case StatusIngested, StatusProfiling:
		return PhaseProfile, true
	case StatusProfiled, StatusDraftingMapping:
		return PhaseDraftMapping, true
	case StatusMappingApproved, StatusTransforming:
		return PhaseTransform, true
	case StatusTransformed, StatusValidating:
		return PhaseValidate, true
	case StatusValidated, StatusLoading:
		return PhaseLoad, true
	case StatusLoaded, StatusReconciling:
		return PhaseReconcile, true
	}
	return "", false
}

// validTransitions is the full status transition table. Failed is reachable
// from every running status; Paused from every running status; resuming a
// paused run re-enters the running status recorded in CurrentPhase.
var validTransitions = map[string][]string{
	StatusPending:         {StatusIngesting, StatusFailed},
	StatusIngesting:       {StatusIngested, StatusPaused, StatusFailed},
	StatusIngested:        {StatusProfiling, StatusFailed},
	StatusProfiling:       {StatusProfiled, StatusPaused, StatusFailed},
	StatusProfiled:        {StatusDraftingMapping, StatusFailed},
	StatusDraftingMapping: {StatusMappingDrafted, StatusPaused, StatusFailed},
	StatusMappingDrafted:  {StatusMappingApproved, StatusDraftingMapping, StatusFailed},
	StatusMappingApproved: {StatusTransforming, StatusFailed},
	StatusTransforming:    {StatusTransformed, StatusPaused, StatusFailed},
	StatusTransformed:     {StatusValidating, StatusFailed},
	StatusValidating:      {StatusValidated, StatusPaused, StatusFailed},
	StatusValidated:       {StatusLoading, StatusFailed},
	StatusLoading:         {StatusLoaded, StatusPaused, StatusFailed},
	StatusLoaded:          {StatusReconciling, StatusFailed},
	StatusReconciling:     {StatusCompleted, StatusPaused, StatusFailed},
	StatusPaused: {
		StatusIngesting, StatusProfiling, StatusDraftingMapping,
		StatusTransforming, StatusValidating, StatusLoading, StatusReconciling,
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

func CanTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Checkpoint records ingestion progress for one entity so a paused or crashed
// run resumes mid-entity instead of refetching from the start.
type Checkpoint struct {
	Cursor    string `json:"cursor,omitempty"`
	Processed int64  `json:"processed"`
	Done      bool   `json:"done"`
}

// Run is the persistent migration run record. Rows are never deleted; a
// completed or failed run stays as the audit anchor for its migration log.
type Run struct {
	ID                   string         `gorm:"primaryKey;column:id"`
	ClinicID             string         `gorm:"column:clinic_id;index"`
	Vendor               string         `gorm:"column:vendor"`
	Status               string         `gorm:"column:status;index"`
	CurrentPhase         string         `gorm:"column:current_phase"`
	MappingVersion       int            `gorm:"column:mapping_version"`
	Checkpoints          datatypes.JSON `gorm:"column:checkpoints"`
	Progress             datatypes.JSON `gorm:"column:progress"`
	EncryptedCredentials string         `gorm:"column:encrypted_credentials"`
	EntryURL             string         `gorm:"column:entry_url"`
	StrategyOverride     string         `gorm:"column:strategy_override"`
	ErrorMessage         string         `gorm:"column:error_message"`
	ApprovedBy           string         `gorm:"column:approved_by"`
	ApprovedAt           *time.Time     `gorm:"column:approved_at"`
	CreatedAt            time.Time      `gorm:"column:created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at"`
}

func (Run) TableName() string {
	return "migration_runs"
}

// CheckpointMap decodes the per-entity ingestion checkpoints. Checkpoints are
// typed in memory and JSON only at the persistence boundary.
func (r *Run) CheckpointMap() (map[string]Checkpoint, error) {
	out := make(map[string]Checkpoint)
	if len(r.Checkpoints) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Checkpoints, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Run) SetCheckpoints(cps map[string]Checkpoint) error {
	data, err := json.Marshal(cps)
	if err != nil {
		return err
	}
	r.Checkpoints = data
	return nil
}

// ProgressMap decodes the per-entity processed-record counters.
func (r *Run) ProgressMap() (map[string]int64, error) {
	out := make(map[string]int64)
	if len(r.Progress) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Progress, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Run) SetProgress(progress map[string]int64) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	r.Progress = data
	return nil
}

// MappingSpec is one immutable version of the approved-or-draft mapping.
// Re-drafting never mutates an existing version; it appends the next one and
// moves the run's MappingVersion pointer.
type MappingSpec struct {
	ID        string         `gorm:"primaryKey;column:id"`
	RunID     string         `gorm:"column:run_id;uniqueIndex:idx_mapping_spec_run_version"`
	Version   int            `gorm:"column:version;uniqueIndex:idx_mapping_spec_run_version"`
	Services  datatypes.JSON `gorm:"column:services"`
	Forms     datatypes.JSON `gorm:"column:forms"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (MappingSpec) TableName() string {
	return "migration_mapping_specs"
}

func (s *MappingSpec) ServiceMappings() ([]assist.MappingProposal, error) {
	var out []assist.MappingProposal
	if len(s.Services) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(s.Services, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MappingSpec) SetServiceMappings(proposals []assist.MappingProposal) error {
	data, err := json.Marshal(proposals)
	if err != nil {
		return err
	}
	s.Services = data
	return nil
}

func (s *MappingSpec) FormClassifications() ([]assist.FormClassification, error) {
	var out []assist.FormClassification
	if len(s.Forms) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(s.Forms, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MappingSpec) SetFormClassifications(classifications []assist.FormClassification) error {
	data, err := json.Marshal(classifications)
	if err != nil {
		return err
	}
	s.Forms = data
	return nil
}
