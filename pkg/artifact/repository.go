package artifact

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type refRow struct {
	RunID     string    `gorm:"column:run_id;primaryKey"`
	Key       string    `gorm:"column:key;primaryKey"`
	Hash      string    `gorm:"column:hash;index"`
	Size      int64     `gorm:"column:size"`
	StoredAt  time.Time `gorm:"column:stored_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (refRow) TableName() string {
	return "artifact_refs"
}

type blobRow struct {
	Hash      string    `gorm:"column:hash;primaryKey"`
	Data      []byte    `gorm:"column:data"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (blobRow) TableName() string {
	return "artifact_blobs"
}

// Repository is the postgres-backed artifact store. Blobs are keyed by
// content hash so re-pointing a ref leaves prior bytes untouched.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&refRow{}, &blobRow{})
}

func (r *Repository) Put(ctx context.Context, runID, key string, data []byte) (Ref, error) {
	now := time.Now().UTC()
	hash := hashBytes(data)

	blob := blobRow{Hash: hash, Data: data, CreatedAt: now}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&blob).Error; err != nil {
		return Ref{}, err
	}

	row := refRow{
		RunID:     runID,
		Key:       key,
		Hash:      hash,
		Size:      int64(len(data)),
		StoredAt:  now,
		UpdatedAt: now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"hash", "size", "stored_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return Ref{}, err
	}

	return Ref{RunID: runID, Key: key, Hash: hash, Size: row.Size, StoredAt: now}, nil
}

func (r *Repository) Get(ctx context.Context, runID, key string) ([]byte, error) {
	var row refRow
	result := r.db.WithContext(ctx).First(&row, "run_id = ? AND key = ?", runID, key)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	var blob blobRow
	result = r.db.WithContext(ctx).First(&blob, "hash = ?", row.Hash)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return blob.Data, result.Error
}

func (r *Repository) Exists(ctx context.Context, runID, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&refRow{}).
		Where("run_id = ? AND key = ?", runID, key).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) List(ctx context.Context, runID string) ([]Ref, error) {
	var rows []refRow
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("key").Find(&rows).Error; err != nil {
		return nil, err
	}
	refs := make([]Ref, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, Ref{RunID: row.RunID, Key: row.Key, Hash: row.Hash, Size: row.Size, StoredAt: row.StoredAt})
	}
	return refs, nil
}
