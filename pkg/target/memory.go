package target

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/dedupe"
	"github.com/google/uuid"
)

// MemStore is the in-memory target used by tests and local dry runs. It keeps
// every created record so assertions can inspect exactly what was promoted.
type MemStore struct {
	mu       sync.RWMutex
	patients []dedupe.TargetPatient
	services []models.ServiceRef
	created  []models.CanonicalRecord
	clinics  map[string]string // record id -> clinic id
}

func NewMemStore() *MemStore {
	return &MemStore{clinics: make(map[string]string)}
}

// SeedService registers a pre-existing service, as if the clinic had set it up
// before the migration ran.
func (m *MemStore) SeedService(clinicID, name string) models.ServiceRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := models.ServiceRef{ID: uuid.New().String(), Name: name}
	m.services = append(m.services, ref)
	m.clinics[ref.ID] = clinicID
	return ref
}

// SeedPatient registers a pre-existing patient for duplicate detection tests.
func (m *MemStore) SeedPatient(clinicID string, p dedupe.TargetPatient) dedupe.TargetPatient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	m.patients = append(m.patients, p)
	m.clinics[p.ID] = clinicID
	return p
}

func (m *MemStore) Create(_ context.Context, rec models.CanonicalRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	switch rec.Entity {
	case models.EntityPatients:
		m.patients = append(m.patients, dedupe.TargetPatient{
			ID:          id,
			FirstName:   fieldString(rec, "first_name"),
			LastName:    fieldString(rec, "last_name"),
			Email:       strings.ToLower(fieldString(rec, "email")),
			Phone:       fieldString(rec, "phone"),
			DateOfBirth: fieldString(rec, "date_of_birth"),
		})
	case models.EntityServices:
		m.services = append(m.services, models.ServiceRef{ID: id, Name: fieldString(rec, "name")})
	case models.EntityAppointments, models.EntityInvoices,
		models.EntityDocuments, models.EntityForms, models.EntityPhotos, models.EntityCharts:
		// kept only in the created slice
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEntity, rec.Entity)
	}

	m.clinics[id] = rec.ClinicID
	stored := rec
	stored.ID = id
	m.created = append(m.created, stored)
	return id, nil
}

func (m *MemStore) ListServices(_ context.Context, clinicID string) ([]models.ServiceRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ServiceRef
	for _, svc := range m.services {
		if m.clinics[svc.ID] == clinicID {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) FindPatientByEmail(_ context.Context, clinicID, email string) (dedupe.TargetPatient, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(email))
	if needle == "" {
		return dedupe.TargetPatient{}, false, nil
	}
	for _, p := range m.patients {
		if m.clinics[p.ID] == clinicID && strings.ToLower(p.Email) == needle && p.Email != "" {
			return p, true, nil
		}
	}
	return dedupe.TargetPatient{}, false, nil
}

func (m *MemStore) FindPatientByPhone(_ context.Context, clinicID, normalizedPhone string) (dedupe.TargetPatient, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if normalizedPhone == "" {
		return dedupe.TargetPatient{}, false, nil
	}
	for _, p := range m.patients {
		if m.clinics[p.ID] == clinicID && p.Phone == normalizedPhone {
			return p, true, nil
		}
	}
	return dedupe.TargetPatient{}, false, nil
}

func (m *MemStore) FindPatientsByDOB(_ context.Context, clinicID, dateOfBirth string) ([]dedupe.TargetPatient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if dateOfBirth == "" {
		return nil, nil
	}
	var out []dedupe.TargetPatient
	for _, p := range m.patients {
		if m.clinics[p.ID] == clinicID && p.DateOfBirth == dateOfBirth {
			out = append(out, p)
		}
	}
	return out, nil
}

// Created returns a copy of every record promoted through Create, for
// assertions.
func (m *MemStore) Created() []models.CanonicalRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CanonicalRecord, len(m.created))
	copy(out, m.created)
	return out
}

// CreatedByEntity filters Created by entity type.
func (m *MemStore) CreatedByEntity(entity string) []models.CanonicalRecord {
	var out []models.CanonicalRecord
	for _, rec := range m.Created() {
		if rec.Entity == entity {
			out = append(out, rec)
		}
	}
	return out
}
