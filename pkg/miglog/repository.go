package miglog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type entryRow struct {
	ID         string            `gorm:"primaryKey;column:id"`
	RunID      string            `gorm:"column:run_id;index"`
	EntityType string            `gorm:"column:entity_type;index"`
	SourceID   string            `gorm:"column:source_id"`
	TargetID   string            `gorm:"column:target_id"`
	Status     string            `gorm:"column:status;index"`
	Reasoning  string            `gorm:"column:reasoning"`
	Error      string            `gorm:"column:error"`
	Payload    datatypes.JSONMap `gorm:"column:payload"`
	CreatedAt  time.Time         `gorm:"column:created_at"`
}

func (entryRow) TableName() string {
	return "migration_log"
}

type eventRow struct {
	ID        string    `gorm:"primaryKey;column:id"`
	RunID     string    `gorm:"column:run_id;index"`
	Phase     string    `gorm:"column:phase"`
	Event     string    `gorm:"column:event"`
	Detail    string    `gorm:"column:detail"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (eventRow) TableName() string {
	return "migration_phase_events"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&entryRow{}, &eventRow{})
}

func (r *Repository) Append(ctx context.Context, entry Entry) error {
	row := entryRow{
		ID:         uuid.New().String(),
		RunID:      entry.RunID,
		EntityType: entry.EntityType,
		SourceID:   entry.SourceID,
		TargetID:   entry.TargetID,
		Status:     entry.Status,
		Reasoning:  entry.Reasoning,
		Error:      entry.Error,
		Payload:    datatypes.JSONMap(entry.Payload),
		CreatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) AppendEvent(ctx context.Context, event PhaseEvent) error {
	row := eventRow{
		ID:        uuid.New().String(),
		RunID:     event.RunID,
		Phase:     event.Phase,
		Event:     event.Event,
		Detail:    event.Detail,
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) Summarize(ctx context.Context, runID string) (map[string]OutcomeCounts, error) {
	var rows []struct {
		EntityType string
		Status     string
		Count      int64
	}
	err := r.db.WithContext(ctx).Model(&entryRow{}).
		Select("entity_type, status, count(*) as count").
		Where("run_id = ?", runID).
		Group("entity_type").Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]OutcomeCounts)
	for _, row := range rows {
		counts := out[row.EntityType]
		switch row.Status {
		case "imported":
			counts.Imported = row.Count
		case "skipped":
			counts.Skipped = row.Count
		case "duplicate":
			counts.Duplicate = row.Count
		case "failed":
			counts.Failed = row.Count
		}
		out[row.EntityType] = counts
	}
	return out, nil
}

func (r *Repository) ListEntries(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []entryRow
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			RunID:      row.RunID,
			EntityType: row.EntityType,
			SourceID:   row.SourceID,
			TargetID:   row.TargetID,
			Status:     row.Status,
			Reasoning:  row.Reasoning,
			Error:      row.Error,
			Payload:    map[string]interface{}(row.Payload),
			CreatedAt:  row.CreatedAt,
		})
	}
	return entries, nil
}

func (r *Repository) ListEvents(ctx context.Context, runID string) ([]PhaseEvent, error) {
	var rows []eventRow
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events := make([]PhaseEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, PhaseEvent{
			RunID:     row.RunID,
			Phase:     row.Phase,
			Event:     row.Event,
			Detail:    row.Detail,
			CreatedAt: row.CreatedAt,
		})
	}
	return events, nil
}
