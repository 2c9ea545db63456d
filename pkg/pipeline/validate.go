package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
)

const validationKey = "validation.json"

// Validation error codes.
const (
	CodeMissingRequired = "missing_required_field"
	CodeInvalidEmail    = "invalid_email"
	CodeInvalidDate     = "invalid_date"
	CodeUnresolvedRef   = "unresolved_reference"
	CodeMissingSourceID = "missing_source_id"
	maxReportedFailures = 200
)

var requiredFields = map[string][]string{
	models.EntityPatients: {"last_name"},
	models.EntityServices: {"name"},
}

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
var dateShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// runValidate checks every canonical record against the target schema and
// verifies that every cross-entity reference resolves either in-batch or in
// the entity map. Any failure fails the phase; Load never runs against a
// batch that did not validate clean.
func (o *Orchestrator) runValidate(ctx context.Context, run *Run) error {
	report := models.ValidationReport{
		RunID:    run.ID,
		Valid:    true,
		ByCode:   make(map[string]int),
		ByEntity: make(map[string]int),
		Checked:  make(map[string]int),
		Details:  make(map[string]map[string]int),
	}

	inBatch := make(map[string]map[string]bool)
	batches := make(map[string][]models.CanonicalRecord)
	for _, entity := range entityPriority {
		records, err := o.loadCanonicalRecords(ctx, run.ID, entity)
		if err != nil {
			return err
		}
		if records == nil {
			continue
		}
		batches[entity] = records
		ids := make(map[string]bool, len(records))
		for _, rec := range records {
			if rec.SourceID != "" {
				ids[rec.SourceID] = true
			}
		}
		inBatch[entity] = ids
	}

	for _, entity := range entityPriority {
		records, ok := batches[entity]
		if !ok {
			continue
		}
		report.Checked[entity] = len(records)
		for _, rec := range records {
			for _, failure := range o.validateRecord(ctx, run.ID, rec, inBatch) {
				report.Valid = false
				report.ByCode[failure.Code]++
				report.ByEntity[failure.Entity]++
				if report.Details[failure.Entity] == nil {
					report.Details[failure.Entity] = make(map[string]int)
				}
				report.Details[failure.Entity][failure.Code]++
				if len(report.Errors) < maxReportedFailures {
					report.Errors = append(report.Errors, failure)
				}
			}
		}
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if _, err := o.artifacts.Put(ctx, run.ID, validationKey, data); err != nil {
		return err
	}

	if !report.Valid {
		logger.Log.WithFields(map[string]interface{}{
			"run_id": run.ID, "by_code": report.ByCode,
		}).Error("validation failed")
		return fmt.Errorf("validation failed: %d error(s) across %d entity type(s)",
			totalFailures(report.ByCode), len(report.ByEntity))
	}
	return nil
}

func (o *Orchestrator) validateRecord(ctx context.Context, runID string, rec models.CanonicalRecord, inBatch map[string]map[string]bool) []models.ValidationFailure {
	var failures []models.ValidationFailure
	fail := func(code, message string) {
		failures = append(failures, models.ValidationFailure{
			Entity: rec.Entity, SourceID: rec.SourceID, Code: code, Message: message,
		})
	}

	if rec.SourceID == "" {
		fail(CodeMissingSourceID, "record has no source id")
	}
	for _, field := range requiredFields[rec.Entity] {
		if strings.TrimSpace(fieldAsString(rec.Fields, field)) == "" {
			fail(CodeMissingRequired, fmt.Sprintf("required field %q is empty", field))
		}
	}
	if email := fieldAsString(rec.Fields, "email"); email != "" && !emailShape.MatchString(email) {
		fail(CodeInvalidEmail, fmt.Sprintf("email %q is not a valid address", email))
	}
	if dob := fieldAsString(rec.Fields, "date_of_birth"); dob != "" && !dateShape.MatchString(dob) {
		fail(CodeInvalidDate, fmt.Sprintf("date of birth %q is not in YYYY-MM-DD form", dob))
	}

	for name, ref := range rec.Refs {
		if inBatch[ref.Entity][ref.SourceID] {
			continue
		}
		if _, found, err := o.entities.Resolve(ctx, runID, ref.Entity, ref.SourceID); err == nil && found {
			continue
		}
		fail(CodeUnresolvedRef, fmt.Sprintf("%s reference %s/%s resolves nowhere", name, ref.Entity, ref.SourceID))
	}
	return failures
}

func fieldAsString(fields map[string]interface{}, key string) string {
	if fields == nil {
		return ""
	}
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}

func totalFailures(byCode map[string]int) int {
	total := 0
	for _, n := range byCode {
		total += n
	}
	return total
}
