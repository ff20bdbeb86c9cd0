package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/saiset-co/sai-translation-cache/types"
)

func newTestSqliteStore(t *testing.T, clock types.Clock) *SqliteStore {
	t.Helper()
	store, err := NewSqliteStore(&types.StorageConfig{
		Enabled: true,
		Type:    "sqlite",
		Path:    t.TempDir(),
	}, 3600000, nil, clock)
	if err != nil {
		t.Fatalf("NewSqliteStore failed: %v", err)
	}
	if err := store.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Stop() })
	return store
}

func TestSqliteLoadBatchZeroCountReturnsRemainder(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestSqliteStore(t, clock)
	ctx := context.Background()

	var saved []*types.CacheEntry
	for i := 0; i < 5; i++ {
		saved = append(saved, batchEntry(fmt.Sprintf("en:de:%04d", i), 5000, 60000))
	}
	if err := store.SaveBatch(ctx, saved); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	loaded, count, err := store.LoadBatch(ctx, 2, 0)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 3 || len(loaded) != 3 {
		t.Fatalf("count 0 must return all entries past the offset, got count=%d len=%d", count, len(loaded))
	}

	_, count, err = store.LoadBatch(ctx, 0, 0)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 5 {
		t.Fatalf("count 0 with no offset must return everything, got %d", count)
	}

	_, count, err = store.LoadBatch(ctx, 0, 2)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("explicit count must still limit the page, got %d", count)
	}
}
