package entitymap

import (
	"context"
	"testing"
)

func TestUpsertIsIdempotent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, "run-1", "patients", "src-1", "tgt-1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	// Same key again: updates, never duplicates.
	if err := store.Upsert(ctx, "run-1", "patients", "src-1", "tgt-1"); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	counts, err := store.CountByEntity(ctx, "run-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts["patients"] != 1 {
		t.Fatalf("expected exactly one row after re-upsert, got %d", counts["patients"])
	}

	target, found, err := store.Resolve(ctx, "run-1", "patients", "src-1")
	if err != nil || !found || target != "tgt-1" {
		t.Fatalf("resolve mismatch: %s %v %v", target, found, err)
	}
}

func TestUpsertRepointsTarget(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	store.Upsert(ctx, "run-1", "patients", "src-1", "tgt-old")
	store.Upsert(ctx, "run-1", "patients", "src-1", "tgt-new")

	target, found, _ := store.Resolve(ctx, "run-1", "patients", "src-1")
	if !found || target != "tgt-new" {
		t.Fatalf("expected repointed target, got %s", target)
	}
}

func TestNamespacedByRunAndEntity(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	store.Upsert(ctx, "run-1", "patients", "src-1", "tgt-1")
	store.Upsert(ctx, "run-2", "patients", "src-1", "tgt-2")
	store.Upsert(ctx, "run-1", "services", "src-1", "tgt-3")

	if target, _, _ := store.Resolve(ctx, "run-1", "patients", "src-1"); target != "tgt-1" {
		t.Fatalf("run-1 patients resolved to %s", target)
	}
	if target, _, _ := store.Resolve(ctx, "run-2", "patients", "src-1"); target != "tgt-2" {
		t.Fatalf("run-2 patients resolved to %s", target)
	}
	if target, _, _ := store.Resolve(ctx, "run-1", "services", "src-1"); target != "tgt-3" {
		t.Fatalf("run-1 services resolved to %s", target)
	}
	if _, found, _ := store.Resolve(ctx, "run-3", "patients", "src-1"); found {
		t.Fatal("run-3 should resolve nothing")
	}
}
