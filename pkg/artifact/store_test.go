package artifact

import (
	"context"
	"testing"
)

func TestMemStorePutGet(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	ref, err := store.Put(ctx, "run-1", "ingest/patients.json", []byte(`[{"id":"p1"}]`))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if ref.Hash == "" || ref.Size == 0 {
		t.Fatalf("expected populated ref, got %+v", ref)
	}

	data, err := store.Get(ctx, "run-1", "ingest/patients.json")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != `[{"id":"p1"}]` {
		t.Fatalf("unexpected data: %s", data)
	}
}

func TestMemStoreOverwriteRepointsRef(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	first, _ := store.Put(ctx, "run-1", "k", []byte("one"))
	second, _ := store.Put(ctx, "run-1", "k", []byte("two"))
	if first.Hash == second.Hash {
		t.Fatal("expected distinct content hashes")
	}

	data, err := store.Get(ctx, "run-1", "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("expected latest bytes, got %s", data)
	}

	// Prior bytes remain addressable by hash internally (append-only blobs).
	if _, ok := store.blobs[first.Hash]; !ok {
		t.Fatal("expected original blob to be retained")
	}
}

func TestMemStoreScopedByRun(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	store.Put(ctx, "run-1", "k", []byte("a"))
	store.Put(ctx, "run-2", "k", []byte("b"))
	store.Put(ctx, "run-2", "k2", []byte("c"))

	if _, err := store.Get(ctx, "run-3", "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	refs, err := store.List(ctx, "run-2")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs for run-2, got %d", len(refs))
	}
	if refs[0].Key != "k" || refs[1].Key != "k2" {
		t.Fatalf("expected keys sorted, got %+v", refs)
	}
}
