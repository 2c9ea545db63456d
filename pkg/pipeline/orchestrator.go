package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinicore/migration/pkg/artifact"
	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/dedupe"
	"github.com/clinicore/migration/pkg/entitymap"
	"github.com/clinicore/migration/pkg/miglog"
	"github.com/clinicore/migration/pkg/provider"
	"github.com/clinicore/migration/pkg/target"
	"github.com/clinicore/migration/pkg/vault"
	"github.com/google/uuid"
)

// ErrApprovalRequired blocks Resume/RunAll while the drafted mapping awaits a
// human decision. The pipeline never proceeds past MappingDrafted on its own.
var ErrApprovalRequired = errors.New("mapping approval required before the run can continue")

var ErrInvalidTransition = errors.New("invalid run status transition")

// errPauseRequested is the internal signal a phase returns when it observed
// the pause flag at a batch boundary. It is a clean suspension, not a failure.
var errPauseRequested = errors.New("pause requested")

// Deps wires the orchestrator to its collaborators. Every field is an
// interface or small value so tests run fully in memory.
type Deps struct {
	Runs      RunStore
	Specs     SpecStore
	Artifacts artifact.Store
	Entities  entitymap.Store
	Log       miglog.Recorder
	Target    target.Store
	Providers *provider.Registry
	Vault     *vault.Vault
	Assistant *assist.Assistant
	Pause     PauseFlag
	Events    EventPublisher
	Browser   BrowserAgent // optional; nil disables the browser strategy
}

type Options struct {
	BatchSize           int
	PhoneDefaultCountry string
	NamePrefixLen       int
}

type Orchestrator struct {
	runs      RunStore
	specs     SpecStore
	artifacts artifact.Store
	entities  entitymap.Store
	log       miglog.Recorder
	target    target.Store
	providers *provider.Registry
	vault     *vault.Vault
	assistant *assist.Assistant
	pause     PauseFlag
	events    EventPublisher
	browser   BrowserAgent
	detector  *dedupe.Detector
	opts      Options
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Orchestrator{
		runs:      deps.Runs,
		specs:     deps.Specs,
		artifacts: deps.Artifacts,
		entities:  deps.Entities,
		log:       deps.Log,
		target:    deps.Target,
		providers: deps.Providers,
		vault:     deps.Vault,
		assistant: deps.Assistant,
		pause:     deps.Pause,
		events:    deps.Events,
		browser:   deps.Browser,
		detector:  dedupe.NewDetector(deps.Target, opts.PhoneDefaultCountry, opts.NamePrefixLen),
		opts:      opts,
	}
}

// Start creates a run. Source credentials are encrypted into the run row
// immediately; the plaintext map never persists anywhere.
func (o *Orchestrator) Start(ctx context.Context, req models.StartRunRequest) (*Run, error) {
	if req.ClinicID == "" {
		return nil, errors.New("clinic_id is required")
	}
	if req.StrategyOverride != "" && !validStrategy(req.StrategyOverride) {
		return nil, fmt.Errorf("unknown strategy override %q", req.StrategyOverride)
	}
	// Unknown vendors are a config error at start time, not a mid-run
	// surprise. Upload-only runs carry no vendor integration.
	if req.StrategyOverride != StrategyUpload {
		if _, err := o.providers.Resolve(req.Vendor); err != nil {
			return nil, err
		}
	}

	encrypted := ""
	if len(req.Credentials) > 0 {
		plaintext, err := json.Marshal(req.Credentials)
		if err != nil {
			return nil, err
		}
		encrypted, err = o.vault.Encrypt(string(plaintext))
		if err != nil {
			return nil, err
		}
	}

	run := &Run{
		ID:                   uuid.New().String(),
		ClinicID:             req.ClinicID,
		Vendor:               req.Vendor,
		Status:               StatusPending,
		EncryptedCredentials: encrypted,
		EntryURL:             req.EntryURL,
		StrategyOverride:     req.StrategyOverride,
		CreatedAt:            time.Now().UTC(),
		UpdatedAt:            time.Now().UTC(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id": run.ID, "clinic_id": run.ClinicID, "vendor": run.Vendor,
	}).Info("migration run created")
	return run, nil
}

// credentials decrypts the run's stored secrets into the provider shape.
func (o *Orchestrator) credentials(run *Run) (provider.Credentials, error) {
	if run.EncryptedCredentials == "" {
		return provider.Credentials{}, nil
	}
	plaintext, err := o.vault.Decrypt(run.EncryptedCredentials)
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("decrypt run credentials: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(plaintext), &raw); err != nil {
		return provider.Credentials{}, err
	}
	return provider.Credentials{
		APIKey:       raw["api_key"],
		Username:     raw["username"],
		Password:     raw["password"],
		ClientID:     raw["client_id"],
		ClientSecret: raw["client_secret"],
		TokenURL:     raw["token_url"],
		BaseURL:      raw["base_url"],
		PortalURL:    raw["portal_url"],
	}, nil
}

// RunAll drives the run forward phase by phase until it completes, pauses,
// fails, or blocks on mapping approval.
func (o *Orchestrator) RunAll(ctx context.Context, runID string) error {
	for {
		run, err := o.runs.Get(ctx, runID)
		if err != nil {
			return err
		}
		switch run.Status {
		case StatusCompleted, StatusFailed, StatusPaused:
			return nil
		case StatusMappingDrafted:
			return ErrApprovalRequired
		}

		phase, ok := nextPhase(run.Status)
		if !ok {
			return fmt.Errorf("run %s cannot proceed from status %q", runID, run.Status)
		}
		if err := o.RunPhase(ctx, run, phase); err != nil {
			return err
		}
	}
}

// RunPhase executes one phase against the run. Phase start, completion, and
// failure all land in the migration log and on the event bus. Any error the
// phase does not absorb marks the run failed and propagates.
func (o *Orchestrator) RunPhase(ctx context.Context, run *Run, phase string) error {
	running, ok := runningStatus[phase]
	if !ok {
		return fmt.Errorf("unknown phase %q", phase)
	}
	// A run resuming (or recovering from a crash) re-enters its own running
	// status; that is not a transition.
	if run.Status != running && !CanTransition(run.Status, running) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, running)
	}

	run.Status = running
	run.CurrentPhase = phase
	if err := o.runs.Update(ctx, run); err != nil {
		return err
	}
	o.recordEvent(ctx, run.ID, phase, models.EventPhaseStarted, "")

	err := o.executePhase(ctx, run, phase)
	if errors.Is(err, errPauseRequested) {
		run.Status = StatusPaused
		if uerr := o.runs.Update(ctx, run); uerr != nil {
			return uerr
		}
		logger.Log.WithFields(map[string]interface{}{"run_id": run.ID, "phase": phase}).
			Info("run paused at batch boundary")
		return nil
	}
	if err != nil {
		run.Status = StatusFailed
		run.ErrorMessage = err.Error()
		if uerr := o.runs.Update(ctx, run); uerr != nil {
			logger.Log.WithField("run_id", run.ID).WithError(uerr).Error("failed to persist run failure")
		}
		o.recordEvent(ctx, run.ID, phase, models.EventPhaseFailed, err.Error())
		return err
	}

	run.Status = completedStatus[phase]
	if err := o.runs.Update(ctx, run); err != nil {
		return err
	}
	o.recordEvent(ctx, run.ID, phase, models.EventPhaseCompleted, "")
	return nil
}

func (o *Orchestrator) executePhase(ctx context.Context, run *Run, phase string) error {
	switch phase {
	case PhaseIngest:
		return o.runIngest(ctx, run)
	case PhaseProfile:
		return o.runProfile(ctx, run)
	case PhaseDraftMapping:
		return o.runDraftMapping(ctx, run)
	case PhaseTransform:
		return o.runTransform(ctx, run)
	case PhaseValidate:
		return o.runValidate(ctx, run)
	case PhaseLoad:
		return o.runLoad(ctx, run)
	case PhaseReconcile:
		return o.runReconcile(ctx, run)
	}
	return fmt.Errorf("unknown phase %q", phase)
}

// ApproveMapping is the only exit from MappingDrafted. It stamps the approver
// and freezes the mapping at the run's current spec version.
func (o *Orchestrator) ApproveMapping(ctx context.Context, runID, approverID string) (*Run, error) {
	if approverID == "" {
		return nil, errors.New("approver id is required")
	}
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusMappingDrafted {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, StatusMappingApproved)
	}
	now := time.Now().UTC()
	run.Status = StatusMappingApproved
	run.ApprovedBy = approverID
	run.ApprovedAt = &now
	if err := o.runs.Update(ctx, run); err != nil {
		return nil, err
	}
	o.recordEvent(ctx, run.ID, PhaseDraftMapping, "MAPPING_APPROVED", "approved by "+approverID)
	return run, nil
}

// Pause requests suspension. The running phase observes the flag at its next
// batch boundary; nothing in flight is interrupted.
func (o *Orchestrator) Pause(ctx context.Context, runID string) error {
	if _, err := o.runs.Get(ctx, runID); err != nil {
		return err
	}
	return o.pause.Request(ctx, runID)
}

// Resume clears the pause flag and re-arms a paused run so the worker
// re-enters the phase it suspended in. Checkpoints make re-entry idempotent.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Run, error) {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == StatusMappingDrafted && run.ApprovedAt == nil {
		return nil, ErrApprovalRequired
	}
	if run.Status == StatusFailed || run.Status == StatusCompleted {
		return nil, fmt.Errorf("run %s is %s and cannot resume", runID, run.Status)
	}
	if err := o.pause.Clear(ctx, runID); err != nil {
		return nil, err
	}
	if run.Status == StatusPaused {
		running, ok := runningStatus[run.CurrentPhase]
		if !ok {
			return nil, fmt.Errorf("paused run %s has no resumable phase", runID)
		}
		run.Status = running
		if err := o.runs.Update(ctx, run); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// checkPause is called between batches only.
func (o *Orchestrator) checkPause(ctx context.Context, runID string) error {
	requested, err := o.pause.Requested(ctx, runID)
	if err != nil {
		return err
	}
	if requested {
		return errPauseRequested
	}
	return nil
}

func (o *Orchestrator) recordEvent(ctx context.Context, runID, phase, event, detail string) {
	if err := o.log.AppendEvent(ctx, miglog.PhaseEvent{
		RunID: runID, Phase: phase, Event: event, Detail: detail,
	}); err != nil {
		logger.Log.WithField("run_id", runID).WithError(err).Error("failed to append phase event")
	}
	if o.events == nil {
		return
	}
	data := map[string]interface{}{"phase": phase}
	if detail != "" {
		data["detail"] = detail
	}
	if err := o.events.Publish(ctx, event, runID, data); err != nil {
		logger.Log.WithField("run_id", runID).WithError(err).Warn("failed to publish phase event")
	}
}

// View projects a run into its API shape.
func (o *Orchestrator) View(ctx context.Context, runID string) (models.RunView, error) {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return models.RunView{}, err
	}
	return toView(run), nil
}

func toView(run *Run) models.RunView {
	progress, err := run.ProgressMap()
	if err != nil {
		progress = nil
	}
	return models.RunView{
		ID:             run.ID,
		ClinicID:       run.ClinicID,
		Vendor:         run.Vendor,
		Status:         run.Status,
		CurrentPhase:   run.CurrentPhase,
		MappingVersion: run.MappingVersion,
		Progress:       progress,
		ErrorMessage:   run.ErrorMessage,
		ApprovedBy:     run.ApprovedBy,
		ApprovedAt:     run.ApprovedAt,
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
	}
}
