package pipeline

import (
	"context"
	"encoding/json"

	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/profile"
)

const (
	profileKey   = "profile.json"
	discoveryKey = "discovery.json"
)

// runProfile computes statistical profiles and the discovery summary over
// everything ingest produced. Raw record values never leave this process;
// only the profiles and aggregate issue counts do.
func (o *Orchestrator) runProfile(ctx context.Context, run *Run) error {
	var profiles []profile.EntityProfile
	byEntity := make(map[string][]map[string]interface{})

	for _, entity := range entityPriority {
		records, err := o.loadIngestedRecords(ctx, run.ID, entity)
		if err != nil {
			return err
		}
		if records == nil {
			continue
		}
		byEntity[entity] = records
		profiles = append(profiles, profile.Build(entity, records))
	}

	data, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	if _, err := o.artifacts.Put(ctx, run.ID, profileKey, data); err != nil {
		return err
	}

	otherCounts := make(map[string]int)
	for entity, records := range byEntity {
		switch entity {
		case models.EntityPatients, models.EntityServices, models.EntityAppointments:
		default:
			otherCounts[entity] = len(records)
		}
	}
	discovery, err := o.assistant.Discover(ctx, assist.DiscoveryInput{
		Patients:     byEntity[models.EntityPatients],
		Services:     byEntity[models.EntityServices],
		Appointments: byEntity[models.EntityAppointments],
		OtherCounts:  otherCounts,
	})
	if err != nil {
		return err
	}
	data, err = json.Marshal(discovery)
	if err != nil {
		return err
	}
	if _, err := o.artifacts.Put(ctx, run.ID, discoveryKey, data); err != nil {
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id": run.ID, "entities": len(profiles), "issues": len(discovery.Issues),
	}).Info("profiling complete")
	return nil
}
