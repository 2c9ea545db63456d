package target

import (
	"context"
	"errors"

	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/dedupe"
)

var ErrUnsupportedEntity = errors.New("target store does not accept this entity type")

// Store is the boundary to the surrounding application's domain persistence.
// The pipeline calls Create purely as a side-effecting operation that returns
// a stable id or fails; it prescribes nothing about the target schema beyond
// that. The embedded PatientDirectory backs duplicate detection.
type Store interface {
	Create(ctx context.Context, rec models.CanonicalRecord) (string, error)
	ListServices(ctx context.Context, clinicID string) ([]models.ServiceRef, error)
	dedupe.PatientDirectory
}
