package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
)

const reportKey = "report.json"

// runReconcile closes the run with an accounting pass: every source record
// must land in exactly one outcome bucket. MatchRate and Completeness are
// 0..1 ratios of records that reached the target (imported or matched to an
// existing record) over records the source produced.
func (o *Orchestrator) runReconcile(ctx context.Context, run *Run) error {
	counts, err := o.log.Summarize(ctx, run.ID)
	if err != nil {
		return err
	}

	report := models.ReconciliationReport{
		RunID:       run.ID,
		GeneratedAt: time.Now().UTC(),
	}
	var totalSource, totalMatched int64

	for _, entity := range entityPriority {
		source, err := o.loadIngestedRecords(ctx, run.ID, entity)
		if err != nil {
			return err
		}
		if source == nil {
			continue
		}
		staged, err := o.loadCanonicalRecords(ctx, run.ID, entity)
		if err != nil {
			return err
		}

		outcome := counts[entity]
		entry := models.EntityReconciliation{
			Entity:         entity,
			SourceCount:    int64(len(source)),
			StagedCount:    int64(len(staged)),
			PromotedCount:  outcome.Imported,
			DuplicateCount: outcome.Duplicate,
			SkippedCount:   outcome.Skipped,
			FailedCount:    outcome.Failed,
		}
		if entry.SourceCount > 0 {
			entry.MatchRate = float64(entry.PromotedCount+entry.DuplicateCount) / float64(entry.SourceCount)
		}
		report.Entities = append(report.Entities, entry)

		totalSource += entry.SourceCount
		totalMatched += entry.PromotedCount + entry.DuplicateCount
	}
	if totalSource > 0 {
		report.Completeness = float64(totalMatched) / float64(totalSource)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if _, err := o.artifacts.Put(ctx, run.ID, reportKey, data); err != nil {
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id": run.ID, "completeness": report.Completeness,
	}).Info("reconciliation complete")
	return nil
}

// Report loads the persisted reconciliation report for a completed run.
func (o *Orchestrator) Report(ctx context.Context, runID string) (models.ReconciliationReport, error) {
	data, err := o.artifacts.Get(ctx, runID, reportKey)
	if err != nil {
		return models.ReconciliationReport{}, err
	}
	var report models.ReconciliationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return models.ReconciliationReport{}, err
	}
	return report, nil
}
