package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicore/migration/pkg/artifact"
	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/dedupe"
)

func canonicalKey(entity string) string {
	return "canonical/" + entity + ".json"
}

// runTransform turns raw ingest artifacts into canonical records shaped for
// the target, applying the approved mapping spec. References stay unresolved
// here; Validate checks them and Load resolves them. Duplicate handling for
// patients also waits until Load, where the detector consults live target
// state.
func (o *Orchestrator) runTransform(ctx context.Context, run *Run) error {
	spec, err := o.specs.GetVersion(ctx, run.ID, run.MappingVersion)
	if err != nil {
		return err
	}
	classifications, err := spec.FormClassifications()
	if err != nil {
		return err
	}
	classByForm := make(map[string]assist.FormClassification, len(classifications))
	for _, c := range classifications {
		classByForm[c.FormID] = c
	}

	for _, entity := range entityPriority {
		records, err := o.loadIngestedRecords(ctx, run.ID, entity)
		if err != nil {
			return err
		}
		if records == nil {
			continue
		}

		canonical := make([]models.CanonicalRecord, 0, len(records))
		for _, raw := range records {
			rec, keep := o.transformRecord(run, entity, raw, classByForm)
			if keep {
				canonical = append(canonical, rec)
			}
		}

		data, err := json.Marshal(canonical)
		if err != nil {
			return err
		}
		if _, err := o.artifacts.Put(ctx, run.ID, canonicalKey(entity), data); err != nil {
			return err
		}
		logger.Log.WithFields(map[string]interface{}{
			"run_id": run.ID, "entity": entity,
			"raw": len(records), "canonical": len(canonical),
		}).Info("entity transformed")
	}
	return nil
}

func (o *Orchestrator) transformRecord(run *Run, entity string, raw map[string]interface{}, classByForm map[string]assist.FormClassification) (models.CanonicalRecord, bool) {
	rec := models.CanonicalRecord{
		Entity:   entity,
		SourceID: sourceRecordID(raw),
		ClinicID: run.ClinicID,
		Fields:   make(map[string]interface{}),
		Refs:     make(map[string]models.Ref),
	}

	switch entity {
	case models.EntityPatients:
		rec.Fields["first_name"] = strings.TrimSpace(recordString(raw, "first_name"))
		rec.Fields["last_name"] = strings.TrimSpace(recordString(raw, "last_name"))
		rec.Fields["email"] = strings.ToLower(strings.TrimSpace(recordString(raw, "email")))
		rec.Fields["phone"] = dedupe.NormalizePhone(recordString(raw, "phone"), o.opts.PhoneDefaultCountry)
		rec.Fields["date_of_birth"] = normalizeDate(recordString(raw, "date_of_birth"))
		copyExtraFields(rec.Fields, raw,
			"id", "source_id", "first_name", "last_name", "email", "phone", "date_of_birth")

	case models.EntityServices:
		rec.Fields["name"] = strings.TrimSpace(recordString(raw, "name"))
		copyExtraFields(rec.Fields, raw, "id", "source_id", "name")

	case models.EntityAppointments:
		copyExtraFields(rec.Fields, raw, "id", "source_id", "patient_id", "service_id", "patient_source_id")
		if pid := refSourceID(raw, "patient_id"); pid != "" {
			rec.Refs["patient"] = models.Ref{Entity: models.EntityPatients, SourceID: pid}
		}
		if sid := recordString(raw, "service_id"); sid != "" {
			rec.Refs["service"] = models.Ref{Entity: models.EntityServices, SourceID: sid}
		}

	case models.EntityInvoices:
		copyExtraFields(rec.Fields, raw, "id", "source_id", "patient_id", "patient_source_id")
		if pid := refSourceID(raw, "patient_id"); pid != "" {
			rec.Refs["patient"] = models.Ref{Entity: models.EntityPatients, SourceID: pid}
		}

	case models.EntityForms:
		classification, ok := classByForm[rec.SourceID]
		if !ok || classification.Category == assist.FormSkip {
			return models.CanonicalRecord{}, false
		}
		rec.Fields["name"] = recordString(raw, "name")
		rec.Fields["category"] = classification.Category
		if classification.Category == assist.FormClinicalChart && classification.ChartData != nil {
			rec.Fields["narrative_text"] = classification.ChartData.NarrativeText
			rec.Fields["field_count"] = classification.ChartData.FieldCount
		}
		if pid := refSourceID(raw, "patient_source_id"); pid != "" {
			rec.Refs["patient"] = models.Ref{Entity: models.EntityPatients, SourceID: pid}
		}

	default: // documents, photos, charts
		copyExtraFields(rec.Fields, raw, "id", "source_id", "patient_id", "patient_source_id")
		if rec.Fields["category"] == nil {
			rec.Fields["category"] = entity
		}
		if pid := refSourceID(raw, "patient_id"); pid != "" {
			rec.Refs["patient"] = models.Ref{Entity: models.EntityPatients, SourceID: pid}
		}
	}

	if len(rec.Refs) == 0 {
		rec.Refs = nil
	}
	return rec, true
}

// refSourceID reads a reference field, falling back to the patient scope
// annotation ingest attached for patient-scoped entities.
func refSourceID(raw map[string]interface{}, key string) string {
	if s := recordString(raw, key); s != "" {
		return s
	}
	if key != "patient_source_id" {
		if s := recordString(raw, "patient_source_id"); s != "" {
			return s
		}
	}
	return ""
}

func copyExtraFields(dst map[string]interface{}, src map[string]interface{}, exclude ...string) {
	excluded := make(map[string]bool, len(exclude))
	for _, key := range exclude {
		excluded[key] = true
	}
	for key, value := range src {
		if !excluded[key] && dst[key] == nil {
			dst[key] = value
		}
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02-Jan-2006",
}

// normalizeDate canonicalizes to YYYY-MM-DD. An unparseable value passes
// through unchanged so Validate can flag it with its original form intact.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

func (o *Orchestrator) loadCanonicalRecords(ctx context.Context, runID, entity string) ([]models.CanonicalRecord, error) {
	data, err := o.artifacts.Get(ctx, runID, canonicalKey(entity))
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []models.CanonicalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode canonical %s artifact: %w", entity, err)
	}
	return records, nil
}
