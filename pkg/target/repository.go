package target

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/dedupe"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reference target tables. A real deployment points the pipeline at the
// clinic application's own write operations instead; this implementation
// stands in for it in the worker binary and in integration setups.

type patientRow struct {
	ID          string    `gorm:"primaryKey;column:id"`
	ClinicID    string    `gorm:"column:clinic_id;index"`
	FirstName   string    `gorm:"column:first_name"`
	LastName    string    `gorm:"column:last_name"`
	Email       string    `gorm:"column:email;index"`
	Phone       string    `gorm:"column:phone;index"`
	DateOfBirth string    `gorm:"column:date_of_birth;index"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (patientRow) TableName() string { return "target_patients" }

type serviceRow struct {
	ID        string    `gorm:"primaryKey;column:id"`
	ClinicID  string    `gorm:"column:clinic_id;index"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (serviceRow) TableName() string { return "target_services" }

type appointmentRow struct {
	ID        string            `gorm:"primaryKey;column:id"`
	ClinicID  string            `gorm:"column:clinic_id;index"`
	PatientID string            `gorm:"column:patient_id;index"`
	ServiceID string            `gorm:"column:service_id"`
	Details   datatypes.JSONMap `gorm:"column:details"`
	CreatedAt time.Time         `gorm:"column:created_at"`
}

func (appointmentRow) TableName() string { return "target_appointments" }

type invoiceRow struct {
	ID        string            `gorm:"primaryKey;column:id"`
	ClinicID  string            `gorm:"column:clinic_id;index"`
	PatientID string            `gorm:"column:patient_id;index"`
	Details   datatypes.JSONMap `gorm:"column:details"`
	CreatedAt time.Time         `gorm:"column:created_at"`
}

func (invoiceRow) TableName() string { return "target_invoices" }

type documentRow struct {
	ID        string            `gorm:"primaryKey;column:id"`
	ClinicID  string            `gorm:"column:clinic_id;index"`
	PatientID string            `gorm:"column:patient_id;index"`
	Category  string            `gorm:"column:category"`
	Details   datatypes.JSONMap `gorm:"column:details"`
	CreatedAt time.Time         `gorm:"column:created_at"`
}

func (documentRow) TableName() string { return "target_documents" }

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&patientRow{}, &serviceRow{}, &appointmentRow{}, &invoiceRow{}, &documentRow{})
}

func (r *Repository) Create(ctx context.Context, rec models.CanonicalRecord) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	switch rec.Entity {
	case models.EntityPatients:
		row := patientRow{
			ID:          id,
			ClinicID:    rec.ClinicID,
			FirstName:   fieldString(rec, "first_name"),
			LastName:    fieldString(rec, "last_name"),
			Email:       strings.ToLower(fieldString(rec, "email")),
			Phone:       fieldString(rec, "phone"),
			DateOfBirth: fieldString(rec, "date_of_birth"),
			CreatedAt:   now,
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return "", err
		}
	case models.EntityServices:
		row := serviceRow{ID: id, ClinicID: rec.ClinicID, Name: fieldString(rec, "name"), CreatedAt: now}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return "", err
		}
	case models.EntityAppointments:
		row := appointmentRow{
			ID:        id,
			ClinicID:  rec.ClinicID,
			PatientID: fieldString(rec, "patient_id"),
			ServiceID: fieldString(rec, "service_id"),
			Details:   datatypes.JSONMap(rec.Fields),
			CreatedAt: now,
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return "", err
		}
	case models.EntityInvoices:
		row := invoiceRow{
			ID:        id,
			ClinicID:  rec.ClinicID,
			PatientID: fieldString(rec, "patient_id"),
			Details:   datatypes.JSONMap(rec.Fields),
			CreatedAt: now,
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return "", err
		}
	case models.EntityDocuments, models.EntityForms, models.EntityPhotos, models.EntityCharts:
		row := documentRow{
			ID:        id,
			ClinicID:  rec.ClinicID,
			PatientID: fieldString(rec, "patient_id"),
			Category:  fieldString(rec, "category"),
			Details:   datatypes.JSONMap(rec.Fields),
			CreatedAt: now,
		}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEntity, rec.Entity)
	}

	return id, nil
}

func (r *Repository) ListServices(ctx context.Context, clinicID string) ([]models.ServiceRef, error) {
	var rows []serviceRow
	if err := r.db.WithContext(ctx).Where("clinic_id = ?", clinicID).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	refs := make([]models.ServiceRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, models.ServiceRef{ID: row.ID, Name: row.Name})
	}
	return refs, nil
}

func (r *Repository) FindPatientByEmail(ctx context.Context, clinicID, email string) (dedupe.TargetPatient, bool, error) {
	var row patientRow
	result := r.db.WithContext(ctx).
		First(&row, "clinic_id = ? AND lower(email) = ? AND email <> ''", clinicID, strings.ToLower(email))
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return dedupe.TargetPatient{}, false, nil
	}
	if result.Error != nil {
		return dedupe.TargetPatient{}, false, result.Error
	}
	return toTargetPatient(row), true, nil
}

func (r *Repository) FindPatientByPhone(ctx context.Context, clinicID, normalizedPhone string) (dedupe.TargetPatient, bool, error) {
	var row patientRow
	result := r.db.WithContext(ctx).
		First(&row, "clinic_id = ? AND phone = ? AND phone <> ''", clinicID, normalizedPhone)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return dedupe.TargetPatient{}, false, nil
	}
	if result.Error != nil {
		return dedupe.TargetPatient{}, false, result.Error
	}
	return toTargetPatient(row), true, nil
}

func (r *Repository) FindPatientsByDOB(ctx context.Context, clinicID, dateOfBirth string) ([]dedupe.TargetPatient, error) {
	var rows []patientRow
	err := r.db.WithContext(ctx).
		Where("clinic_id = ? AND date_of_birth = ? AND date_of_birth <> ''", clinicID, dateOfBirth).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]dedupe.TargetPatient, 0, len(rows))
	for _, row := range rows {
		out = append(out, toTargetPatient(row))
	}
	return out, nil
}

func toTargetPatient(row patientRow) dedupe.TargetPatient {
	return dedupe.TargetPatient{
		ID:          row.ID,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
		Email:       row.Email,
		Phone:       row.Phone,
		DateOfBirth: row.DateOfBirth,
	}
}

func fieldString(rec models.CanonicalRecord, key string) string {
	if rec.Fields == nil {
		return ""
	}
	if s, ok := rec.Fields[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
