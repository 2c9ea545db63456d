package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Ref is the stable reference produced for every ingested payload.
type Ref struct {
	RunID    string    `json:"run_id"`
	Key      string    `json:"key"`
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

// Store is a content-addressed, append-only blob store keyed by (run, key).
// A later Put with the same key re-points the reference but never mutates
// previously stored bytes.
type Store interface {
	Put(ctx context.Context, runID, key string, data []byte) (Ref, error)
	Get(ctx context.Context, runID, key string) ([]byte, error)
	Exists(ctx context.Context, runID, key string) (bool, error)
	List(ctx context.Context, runID string) ([]Ref, error)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
