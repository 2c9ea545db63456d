package entitymap

import (
	"context"
)

// Store is the persistent, idempotent source-id to target-id table,
// namespaced by run and entity type. The same (run, entity, source id)
// always resolves to one target id; re-running a phase upserts, never
// duplicates.
type Store interface {
	Upsert(ctx context.Context, runID, entityType, sourceID, targetID string) error
	Resolve(ctx context.Context, runID, entityType, sourceID string) (string, bool, error)
	CountByEntity(ctx context.Context, runID string) (map[string]int64, error)
}
