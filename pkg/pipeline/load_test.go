package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/google/uuid"
)

func stageCanonical(t *testing.T, h *harness, runID, entity string, records []models.CanonicalRecord) {
	t.Helper()
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal canonical: %v", err)
	}
	if _, err := h.artifacts.Put(context.Background(), runID, canonicalKey(entity), data); err != nil {
		t.Fatalf("stage canonical %s: %v", entity, err)
	}
}

func stageEmptySpec(t *testing.T, h *harness, run *Run) {
	t.Helper()
	spec := &MappingSpec{ID: uuid.New().String(), RunID: run.ID, Version: run.MappingVersion}
	if err := h.specs.Save(context.Background(), spec); err != nil {
		t.Fatalf("save spec: %v", err)
	}
}

func TestLoadSkipsRecordWithUnknownReference(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	run := h.startRun(t)
	stageEmptySpec(t, h, run)

	stageCanonical(t, h, run.ID, models.EntityAppointments, []models.CanonicalRecord{
		{
			Entity:   models.EntityAppointments,
			SourceID: "a1",
			ClinicID: run.ClinicID,
			Fields:   map[string]interface{}{"starts_at": "2026-05-01T10:00:00Z"},
			Refs: map[string]models.Ref{
				"patient": {Entity: models.EntityPatients, SourceID: "ghost"},
			},
		},
	})

	if err := h.orch.runLoad(ctx, run); err != nil {
		t.Fatalf("runLoad: %v", err)
	}

	// The unresolvable reference skips the record; create is never called.
	if created := h.target.Created(); len(created) != 0 {
		t.Fatalf("target received %d creates, want 0", len(created))
	}
	entries, err := h.log.ListEntries(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	skipped := entriesWithStatus(entries, models.EntityAppointments, models.OutcomeSkipped)
	if len(skipped) != 1 {
		t.Fatalf("got %d skipped entries, want 1", len(skipped))
	}
	if skipped[0].Reasoning == "" {
		t.Error("skipped entry has no reasoning")
	}
}

func TestLoadIsIdempotentAcrossReruns(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	run := h.startRun(t)
	stageEmptySpec(t, h, run)

	stageCanonical(t, h, run.ID, models.EntityPatients, []models.CanonicalRecord{
		{
			Entity:   models.EntityPatients,
			SourceID: "p1",
			ClinicID: run.ClinicID,
			Fields: map[string]interface{}{
				"first_name": "Alice", "last_name": "Nguyen",
				"email": "alice@example.com",
			},
		},
	})

	if err := h.orch.runLoad(ctx, run); err != nil {
		t.Fatalf("first runLoad: %v", err)
	}
	if err := h.orch.runLoad(ctx, run); err != nil {
		t.Fatalf("second runLoad: %v", err)
	}

	if created := h.target.CreatedByEntity(models.EntityPatients); len(created) != 1 {
		t.Fatalf("target received %d patient creates across two runs, want 1", len(created))
	}
}

func TestLoadHonorsServiceMappingActions(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	run := h.startRun(t)

	existing := h.target.SeedService(run.ClinicID, "Botox")
	proposals := []assist.MappingProposal{
		{SourceID: "s1", SourceName: "Botox", Action: assist.ActionMapExisting, TargetID: existing.ID, Reasoning: "exact name match"},
		{SourceID: "s2", SourceName: "Internal Block", Action: assist.ActionSkip, Reasoning: "internal placeholder"},
		{SourceID: "s3", SourceName: "Laser Facial", Action: assist.ActionCreateNew, Reasoning: "no match"},
	}
	spec := &MappingSpec{ID: uuid.New().String(), RunID: run.ID, Version: run.MappingVersion}
	if err := spec.SetServiceMappings(proposals); err != nil {
		t.Fatalf("SetServiceMappings: %v", err)
	}
	if err := h.specs.Save(ctx, spec); err != nil {
		t.Fatalf("save spec: %v", err)
	}

	stageCanonical(t, h, run.ID, models.EntityServices, []models.CanonicalRecord{
		{Entity: models.EntityServices, SourceID: "s1", ClinicID: run.ClinicID, Fields: map[string]interface{}{"name": "Botox"}},
		{Entity: models.EntityServices, SourceID: "s2", ClinicID: run.ClinicID, Fields: map[string]interface{}{"name": "Internal Block"}},
		{Entity: models.EntityServices, SourceID: "s3", ClinicID: run.ClinicID, Fields: map[string]interface{}{"name": "Laser Facial"}},
	})

	if err := h.orch.runLoad(ctx, run); err != nil {
		t.Fatalf("runLoad: %v", err)
	}

	// map_existing: no create, entity map points at the seeded service.
	targetID, found, err := h.entities.Resolve(ctx, run.ID, models.EntityServices, "s1")
	if err != nil || !found {
		t.Fatalf("resolve s1: found=%v err=%v", found, err)
	}
	if targetID != existing.ID {
		t.Errorf("s1 -> %s, want seeded id %s", targetID, existing.ID)
	}

	// skip: nothing created, nothing mapped.
	if _, found, _ := h.entities.Resolve(ctx, run.ID, models.EntityServices, "s2"); found {
		t.Error("skipped service landed in the entity map")
	}

	// create_new: created in the target.
	created := h.target.CreatedByEntity(models.EntityServices)
	if len(created) != 1 || created[0].SourceID != "s3" {
		t.Errorf("created services = %+v, want only s3", created)
	}
}
