package entitymap

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Row struct {
	ID         string    `gorm:"primaryKey;column:id"`
	RunID      string    `gorm:"column:run_id;uniqueIndex:idx_entity_map_key;index"`
	EntityType string    `gorm:"column:entity_type;uniqueIndex:idx_entity_map_key"`
	SourceID   string    `gorm:"column:source_id;uniqueIndex:idx_entity_map_key"`
	TargetID   string    `gorm:"column:target_id"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Row) TableName() string {
	return "entity_map"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Row{})
}

func (r *Repository) Upsert(ctx context.Context, runID, entityType, sourceID, targetID string) error {
	now := time.Now().UTC()
	row := Row{
		ID:         uuid.New().String(),
		RunID:      runID,
		EntityType: entityType,
		SourceID:   sourceID,
		TargetID:   targetID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "entity_type"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_id", "updated_at"}),
	}).Create(&row).Error
}

func (r *Repository) Resolve(ctx context.Context, runID, entityType, sourceID string) (string, bool, error) {
	var row Row
	result := r.db.WithContext(ctx).
		First(&row, "run_id = ? AND entity_type = ? AND source_id = ?", runID, entityType, sourceID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if result.Error != nil {
		return "", false, result.Error
	}
	return row.TargetID, true, nil
}

func (r *Repository) CountByEntity(ctx context.Context, runID string) (map[string]int64, error) {
	var rows []struct {
		EntityType string
		Count      int64
	}
	err := r.db.WithContext(ctx).Model(&Row{}).
		Select("entity_type, count(*) as count").
		Where("run_id = ?", runID).
		Group("entity_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.EntityType] = row.Count
	}
	return out, nil
}
