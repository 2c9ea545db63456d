package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinicore/migration/pkg/common/kafka"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("migration run not found")
var ErrSpecNotFound = errors.New("mapping spec not found")

type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, run *Run) error
	ListByClinic(ctx context.Context, clinicID string) ([]Run, error)
}

type SpecStore interface {
	Save(ctx context.Context, spec *MappingSpec) error
	GetVersion(ctx context.Context, runID string, version int) (*MappingSpec, error)
	Latest(ctx context.Context, runID string) (*MappingSpec, error)
}

// PauseFlag is the out-of-band pause request channel. The orchestrator polls
// it between batches; setting it never interrupts in-flight work.
type PauseFlag interface {
	Request(ctx context.Context, runID string) error
	Clear(ctx context.Context, runID string) error
	Requested(ctx context.Context, runID string) (bool, error)
}

// EventPublisher fans phase events out to the event bus. Publishing is
// best-effort relative to the run itself; the migration log is the durable
// record.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, runID string, data map[string]interface{}) error
}

// --- gorm implementations ---

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&Run{}, &MappingSpec{})
}

func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *RunRepository) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	result := r.db.WithContext(ctx).First(&run, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &run, nil
}

func (r *RunRepository) Update(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *RunRepository) ListByClinic(ctx context.Context, clinicID string) ([]Run, error) {
	var runs []Run
	err := r.db.WithContext(ctx).
		Where("clinic_id = ?", clinicID).
		Order("created_at desc").
		Find(&runs).Error
	return runs, err
}

type SpecRepository struct {
	db *gorm.DB
}

func NewSpecRepository(db *gorm.DB) *SpecRepository {
	return &SpecRepository{db: db}
}

func (r *SpecRepository) Save(ctx context.Context, spec *MappingSpec) error {
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(spec).Error
}

func (r *SpecRepository) GetVersion(ctx context.Context, runID string, version int) (*MappingSpec, error) {
	var spec MappingSpec
	result := r.db.WithContext(ctx).First(&spec, "run_id = ? AND version = ?", runID, version)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrSpecNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &spec, nil
}

func (r *SpecRepository) Latest(ctx context.Context, runID string) (*MappingSpec, error) {
	var spec MappingSpec
	result := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("version desc").
		First(&spec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrSpecNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &spec, nil
}

// --- redis pause flag ---

type RedisPauseFlag struct {
	client *redis.Client
}

func NewRedisPauseFlag(client *redis.Client) *RedisPauseFlag {
	return &RedisPauseFlag{client: client}
}

func pauseKey(runID string) string {
	return fmt.Sprintf("migration:pause:%s", runID)
}

func (f *RedisPauseFlag) Request(ctx context.Context, runID string) error {
	// TTL so an orphaned flag cannot wedge a later resume forever.
	return f.client.Set(ctx, pauseKey(runID), "1", 24*time.Hour).Err()
}

func (f *RedisPauseFlag) Clear(ctx context.Context, runID string) error {
	return f.client.Del(ctx, pauseKey(runID)).Err()
}

func (f *RedisPauseFlag) Requested(ctx context.Context, runID string) (bool, error) {
	n, err := f.client.Exists(ctx, pauseKey(runID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- kafka event publisher ---

type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, runID string, data map[string]interface{}) error {
	return p.producer.PublishEvent(ctx, eventType, runID, data)
}
