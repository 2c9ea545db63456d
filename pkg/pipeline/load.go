package pipeline

import (
	"context"
	"fmt"

	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/dedupe"
	"github.com/clinicore/migration/pkg/miglog"
)

// runLoad promotes canonical records into the target. Patients go through
// duplicate detection; services honor the approved mapping actions; every
// ref-bearing record resolves its references against the entity map before
// any create. Per-record failures are logged and skipped, never phase-fatal.
// Re-running the phase is safe: records already in the entity map are not
// promoted twice.
func (o *Orchestrator) runLoad(ctx context.Context, run *Run) error {
	spec, err := o.specs.GetVersion(ctx, run.ID, run.MappingVersion)
	if err != nil {
		return err
	}
	proposals, err := spec.ServiceMappings()
	if err != nil {
		return err
	}
	actionBySource := make(map[string]assist.MappingProposal, len(proposals))
	for _, p := range proposals {
		actionBySource[p.SourceID] = p
	}

	for _, entity := range entityPriority {
		records, err := o.loadCanonicalRecords(ctx, run.ID, entity)
		if err != nil {
			return err
		}
		for i, rec := range records {
			if i > 0 && i%o.opts.BatchSize == 0 {
				if err := o.checkPause(ctx, run.ID); err != nil {
					return err
				}
			}
			if err := o.promote(ctx, run, rec, actionBySource); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) promote(ctx context.Context, run *Run, rec models.CanonicalRecord, actionBySource map[string]assist.MappingProposal) error {
	if rec.SourceID == "" {
		return o.logOutcome(ctx, run.ID, rec, "", models.OutcomeSkipped, "record has no source id", "")
	}

	// Idempotence: a record the entity map already resolves was promoted by
	// an earlier attempt of this phase.
	if _, found, err := o.entities.Resolve(ctx, run.ID, rec.Entity, rec.SourceID); err != nil {
		return err
	} else if found {
		return nil
	}

	switch rec.Entity {
	case models.EntityPatients:
		return o.promotePatient(ctx, run, rec)
	case models.EntityServices:
		return o.promoteService(ctx, run, rec, actionBySource)
	}
	return o.promoteGeneric(ctx, run, rec)
}

func (o *Orchestrator) promotePatient(ctx context.Context, run *Run, rec models.CanonicalRecord) error {
	candidate := dedupe.Candidate{
		FirstName:   fieldAsString(rec.Fields, "first_name"),
		LastName:    fieldAsString(rec.Fields, "last_name"),
		Email:       fieldAsString(rec.Fields, "email"),
		Phone:       fieldAsString(rec.Fields, "phone"),
		DateOfBirth: fieldAsString(rec.Fields, "date_of_birth"),
	}
	match, err := o.detector.Detect(ctx, run.ClinicID, candidate)
	if err != nil {
		return err
	}
	if match.IsDuplicate {
		if err := o.entities.Upsert(ctx, run.ID, rec.Entity, rec.SourceID, match.ExistingTargetID); err != nil {
			return err
		}
		return o.log.Append(ctx, miglog.Entry{
			RunID:      run.ID,
			EntityType: rec.Entity,
			SourceID:   rec.SourceID,
			TargetID:   match.ExistingTargetID,
			Status:     models.OutcomeDuplicate,
			Reasoning:  match.Reasoning,
			Payload: map[string]interface{}{
				"match_type":      match.MatchType,
				"review_required": match.ReviewRequired,
			},
		})
	}
	return o.createAndMap(ctx, run, rec, "")
}

func (o *Orchestrator) promoteService(ctx context.Context, run *Run, rec models.CanonicalRecord, actionBySource map[string]assist.MappingProposal) error {
	proposal, ok := actionBySource[rec.SourceID]
	if !ok {
		return o.createAndMap(ctx, run, rec, "no mapping decision recorded, creating")
	}
	switch proposal.Action {
	case assist.ActionMapExisting:
		if err := o.entities.Upsert(ctx, run.ID, rec.Entity, rec.SourceID, proposal.TargetID); err != nil {
			return err
		}
		return o.logOutcome(ctx, run.ID, rec, proposal.TargetID, models.OutcomeImported,
			"mapped to existing target service: "+proposal.Reasoning, "")
	case assist.ActionSkip:
		return o.logOutcome(ctx, run.ID, rec, "", models.OutcomeSkipped,
			"skipped per approved mapping: "+proposal.Reasoning, "")
	case assist.ActionNeedsInput:
		return o.logOutcome(ctx, run.ID, rec, "", models.OutcomeSkipped,
			"mapping needs operator input: "+proposal.Reasoning, "")
	default:
		return o.createAndMap(ctx, run, rec, proposal.Reasoning)
	}
}

func (o *Orchestrator) promoteGeneric(ctx context.Context, run *Run, rec models.CanonicalRecord) error {
	for name, ref := range rec.Refs {
		targetID, found, err := o.entities.Resolve(ctx, run.ID, ref.Entity, ref.SourceID)
		if err != nil {
			return err
		}
		if !found {
			// The referenced record never made it into the target; creating
			// this one would orphan it. Skip, never create.
			return o.logOutcome(ctx, run.ID, rec, "", models.OutcomeSkipped,
				fmt.Sprintf("%s reference %s/%s is not in the target", name, ref.Entity, ref.SourceID), "")
		}
		rec.Fields[name+"_id"] = targetID
	}
	return o.createAndMap(ctx, run, rec, "")
}

func (o *Orchestrator) createAndMap(ctx context.Context, run *Run, rec models.CanonicalRecord, reasoning string) error {
	targetID, err := o.target.Create(ctx, rec)
	if err != nil {
		logger.Log.WithFields(map[string]interface{}{
			"run_id": run.ID, "entity": rec.Entity, "source_id": rec.SourceID,
		}).WithError(err).Warn("record promotion failed")
		return o.logOutcome(ctx, run.ID, rec, "", models.OutcomeFailed, reasoning, err.Error())
	}
	if err := o.entities.Upsert(ctx, run.ID, rec.Entity, rec.SourceID, targetID); err != nil {
		return err
	}
	return o.logOutcome(ctx, run.ID, rec, targetID, models.OutcomeImported, reasoning, "")
}

func (o *Orchestrator) logOutcome(ctx context.Context, runID string, rec models.CanonicalRecord, targetID, status, reasoning, errMsg string) error {
	return o.log.Append(ctx, miglog.Entry{
		RunID:      runID,
		EntityType: rec.Entity,
		SourceID:   rec.SourceID,
		TargetID:   targetID,
		Status:     status,
		Reasoning:  reasoning,
		Error:      errMsg,
	})
}
