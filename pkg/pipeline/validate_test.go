package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/clinicore/migration/pkg/common/models"
)

func TestValidateFailsAndAggregatesByCode(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	run := h.startRun(t)

	stageCanonical(t, h, run.ID, models.EntityPatients, []models.CanonicalRecord{
		{Entity: models.EntityPatients, SourceID: "p1", ClinicID: run.ClinicID,
			Fields: map[string]interface{}{"first_name": "Alice", "last_name": "", "email": "not-an-email"}},
		{Entity: models.EntityPatients, SourceID: "p2", ClinicID: run.ClinicID,
			Fields: map[string]interface{}{"first_name": "Bob", "last_name": "Okafor", "date_of_birth": "17/09/1985"}},
	})
	stageCanonical(t, h, run.ID, models.EntityAppointments, []models.CanonicalRecord{
		{Entity: models.EntityAppointments, SourceID: "a1", ClinicID: run.ClinicID,
			Fields: map[string]interface{}{},
			Refs:   map[string]models.Ref{"patient": {Entity: models.EntityPatients, SourceID: "nobody"}}},
	})

	err := h.orch.runValidate(ctx, run)
	if err == nil {
		t.Fatal("runValidate passed a batch with schema and referential errors")
	}

	data, aerr := h.artifacts.Get(ctx, run.ID, validationKey)
	if aerr != nil {
		t.Fatalf("validation report artifact: %v", aerr)
	}
	var report models.ValidationReport
	if jerr := json.Unmarshal(data, &report); jerr != nil {
		t.Fatalf("decode report: %v", jerr)
	}
	if report.Valid {
		t.Error("report marked valid")
	}
	if report.ByCode[CodeMissingRequired] != 1 {
		t.Errorf("missing_required_field count = %d, want 1", report.ByCode[CodeMissingRequired])
	}
	if report.ByCode[CodeInvalidEmail] != 1 {
		t.Errorf("invalid_email count = %d, want 1", report.ByCode[CodeInvalidEmail])
	}
	if report.ByCode[CodeInvalidDate] != 1 {
		t.Errorf("invalid_date count = %d, want 1", report.ByCode[CodeInvalidDate])
	}
	if report.ByCode[CodeUnresolvedRef] != 1 {
		t.Errorf("unresolved_reference count = %d, want 1", report.ByCode[CodeUnresolvedRef])
	}
	if report.ByEntity[models.EntityPatients] != 3 {
		t.Errorf("patient failures = %d, want 3", report.ByEntity[models.EntityPatients])
	}
	if report.Checked[models.EntityPatients] != 2 || report.Checked[models.EntityAppointments] != 1 {
		t.Errorf("checked = %+v", report.Checked)
	}
}

func TestValidateResolvesRefsInBatchAndEntityMap(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	run := h.startRun(t)

	// s1 resolves in-batch; p9 resolves through the entity map only.
	if err := h.entities.Upsert(ctx, run.ID, models.EntityPatients, "p9", "target-p9"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	stageCanonical(t, h, run.ID, models.EntityServices, []models.CanonicalRecord{
		{Entity: models.EntityServices, SourceID: "s1", ClinicID: run.ClinicID,
			Fields: map[string]interface{}{"name": "Botox"}},
	})
	stageCanonical(t, h, run.ID, models.EntityAppointments, []models.CanonicalRecord{
		{Entity: models.EntityAppointments, SourceID: "a1", ClinicID: run.ClinicID,
			Fields: map[string]interface{}{},
			Refs: map[string]models.Ref{
				"patient": {Entity: models.EntityPatients, SourceID: "p9"},
				"service": {Entity: models.EntityServices, SourceID: "s1"},
			}},
	})

	if err := h.orch.runValidate(ctx, run); err != nil {
		t.Fatalf("runValidate: %v", err)
	}
}

func TestNormalizeDate(t *testing.T) {
	cases := []struct{ in, want string }{
		{"1990-04-01", "1990-04-01"},
		{"04/01/1990", "1990-04-01"},
		{"4/1/1990", "1990-04-01"},
		{"1990/04/01", "1990-04-01"},
		{"01-Apr-1990", "1990-04-01"},
		{"", ""},
		{"unknown", "unknown"},
	}
	for _, c := range cases {
		if got := normalizeDate(c.in); got != c.want {
			t.Errorf("normalizeDate(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
