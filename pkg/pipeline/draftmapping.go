package pipeline

import (
	"context"
	"encoding/json"

	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/profile"
	"github.com/clinicore/migration/pkg/provider"
	"github.com/google/uuid"
)

const safeContextKey = "safe_context.json"

// runDraftMapping proposes service mappings and form classifications and
// freezes them as a new immutable MappingSpec version. A re-draft after a
// rejected review appends the next version; approved versions are never
// edited.
func (o *Orchestrator) runDraftMapping(ctx context.Context, run *Run) error {
	profiles, err := o.loadProfiles(ctx, run.ID)
	if err != nil {
		return err
	}
	targetServices, err := o.target.ListServices(ctx, run.ClinicID)
	if err != nil {
		return err
	}

	// The safe context is persisted for audit: it is the complete record of
	// what the external assistant was allowed to see.
	safeCtx := profile.BuildSafeContext(profiles, targetServices)
	data, err := json.Marshal(safeCtx)
	if err != nil {
		return err
	}
	if _, err := o.artifacts.Put(ctx, run.ID, safeContextKey, data); err != nil {
		return err
	}

	serviceRecords, err := o.loadIngestedRecords(ctx, run.ID, models.EntityServices)
	if err != nil {
		return err
	}
	source := make([]assist.SourceService, 0, len(serviceRecords))
	for _, rec := range serviceRecords {
		source = append(source, assist.SourceService{
			ID:   sourceRecordID(rec),
			Name: recordString(rec, "name"),
		})
	}
	proposals, err := o.assistant.ProposeServiceMappings(ctx, source, targetServices)
	if err != nil {
		return err
	}

	classifications, err := o.classifyForms(ctx, run)
	if err != nil {
		return err
	}

	spec := &MappingSpec{
		ID:      uuid.New().String(),
		RunID:   run.ID,
		Version: run.MappingVersion + 1,
	}
	if err := spec.SetServiceMappings(proposals); err != nil {
		return err
	}
	if err := spec.SetFormClassifications(classifications); err != nil {
		return err
	}
	if err := o.specs.Save(ctx, spec); err != nil {
		return err
	}
	run.MappingVersion = spec.Version

	logger.Log.WithFields(map[string]interface{}{
		"run_id": run.ID, "version": spec.Version,
		"services": len(proposals), "forms": len(classifications),
	}).Info("mapping draft ready for review")
	return nil
}

func (o *Orchestrator) classifyForms(ctx context.Context, run *Run) ([]assist.FormClassification, error) {
	formRecords, err := o.loadIngestedRecords(ctx, run.ID, models.EntityForms)
	if err != nil {
		return nil, err
	}

	var out []assist.FormClassification
	for _, rec := range formRecords {
		template := assist.FormTemplate{
			ID:     sourceRecordID(rec),
			Name:   recordString(rec, "name"),
			Fields: decodeFormFields(rec["fields"]),
		}
		classification, err := o.assistant.ClassifyForm(ctx, template)
		if err != nil {
			return nil, err
		}
		out = append(out, classification)
	}
	return out, nil
}

// decodeFormFields tolerates both typed fields (attached during ingest) and
// the generic map shape they take after an artifact round trip.
func decodeFormFields(v interface{}) []provider.FormField {
	if v == nil {
		return nil
	}
	if fields, ok := v.([]provider.FormField); ok {
		return fields
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var fields []provider.FormField
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

func (o *Orchestrator) loadProfiles(ctx context.Context, runID string) ([]profile.EntityProfile, error) {
	data, err := o.artifacts.Get(ctx, runID, profileKey)
	if err != nil {
		return nil, err
	}
	var profiles []profile.EntityProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}
