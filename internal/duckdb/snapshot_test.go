package duckdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/ferry/internal/model"
)

func TestSnapshotTo(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "ferry.duckdb"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.BulkCreate(ctx, []model.Event{testEvent("A", 0, time.Now().UTC())}); err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}

	dst := filepath.Join(dir, "snapshots", "copy.duckdb")
	if err := store.SnapshotTo(ctx, dst); err != nil {
		t.Fatalf("SnapshotTo: %v", err)
	}

	copied, err := NewStore(dst)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer copied.Close()
	if n, err := copied.TotalEventCount(ctx); err != nil || n != 1 {
		t.Fatalf("snapshot events = %d, %v; want 1", n, err)
	}
}

func TestSnapshotTo_InMemory(t *testing.T) {
	store := newTestStore(t)
	err := store.SnapshotTo(context.Background(), filepath.Join(t.TempDir(), "x.duckdb"))
	if !errors.Is(err, ErrInMemoryStore) {
		t.Fatalf("err = %v, want ErrInMemoryStore", err)
	}
}
