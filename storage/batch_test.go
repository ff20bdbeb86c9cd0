package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/saiset-co/sai-translation-cache/types"
)

type manualClock struct {
	now uint64
}

func (c *manualClock) NowMS() uint64 { return c.now }

func newTestBatchStore(t *testing.T, cfg *types.StorageConfig, clock types.Clock) *BatchStore {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = t.TempDir()
	}
	cfg.Enabled = true
	if cfg.Type == "" {
		cfg.Type = "batch"
	}

	store, err := NewBatchStore(cfg, 3600000, nil, clock)
	if err != nil {
		t.Fatalf("NewBatchStore failed: %v", err)
	}
	if err := store.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Stop() })
	return store
}

func batchEntry(key string, timestamp uint64, ttl uint32) *types.CacheEntry {
	return &types.CacheEntry{
		Key:         key,
		SourceText:  "good morning",
		SourceLang:  "en",
		TargetLang:  "de",
		Translation: "guten Morgen",
		Timestamp:   timestamp,
		TTL:         ttl,
		Confidence:  0.9,
		Metadata:    types.EntryMetadata{UsageCount: 3, LastUsed: timestamp},
	}
}

func listBatchFiles(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, de := range des {
		if isBatchFile(de.Name()) {
			names = append(names, de.Name())
		}
	}
	return names
}

func TestBatchStoreSaveLoadRoundTrip(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 100}, clock)
	ctx := context.Background()

	var saved []*types.CacheEntry
	for i := 0; i < 5; i++ {
		saved = append(saved, batchEntry(fmt.Sprintf("en:de:%08x", i), 5000, 60000))
	}
	if err := store.SaveBatch(ctx, saved); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	loaded, count, err := store.LoadBatch(ctx, 0, 10)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 5 || len(loaded) != 5 {
		t.Fatalf("expected 5 entries, got count=%d len=%d", count, len(loaded))
	}

	got := loaded[0]
	if got.Key != saved[0].Key ||
		got.Translation != saved[0].Translation ||
		got.SourceText != saved[0].SourceText ||
		got.Timestamp != 5000 || got.TTL != 60000 ||
		got.Metadata.UsageCount != 3 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestBatchStoreLoadOffsetAndCount(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 100}, clock)
	ctx := context.Background()

	var saved []*types.CacheEntry
	for i := 0; i < 10; i++ {
		saved = append(saved, batchEntry(fmt.Sprintf("k%02d", i), 5000, 60000))
	}
	if err := store.SaveBatch(ctx, saved); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	loaded, count, err := store.LoadBatch(ctx, 4, 3)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 entries, got %d", count)
	}

	// Offset past the end is an empty result, not an error.
	loaded, count, err = store.LoadBatch(ctx, 100, 5)
	if err != nil {
		t.Fatalf("LoadBatch past end failed: %v", err)
	}
	if count != 0 || len(loaded) != 0 {
		t.Fatalf("expected empty result past end, got %d", count)
	}
}

func TestBatchStoreLoadNoBatch(t *testing.T) {
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 100}, &manualClock{now: 5000})

	_, _, err := store.LoadBatch(context.Background(), 0, 10)
	if !types.IsError(err, types.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound on empty directory, got %v", err)
	}
}

func TestBatchStoreCorruptHeader(t *testing.T) {
	clock := &manualClock{now: 5000}
	dir := t.TempDir()
	store := newTestBatchStore(t, &types.StorageConfig{Path: dir, MaxBatchSize: 100}, clock)
	ctx := context.Background()

	if err := store.SaveBatch(ctx, []*types.CacheEntry{batchEntry("k", 5000, 60000)}); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	names := listBatchFiles(t, dir)
	if len(names) != 1 {
		t.Fatalf("expected one batch file, got %v", names)
	}
	path := filepath.Join(dir, names[0])

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	binary.LittleEndian.PutUint32(data[0:4], 0xDEADBEEF)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, _, err := store.LoadBatch(ctx, 0, 10); !types.IsError(err, types.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat on bad magic, got %v", err)
	}

	// A wrong version field is rejected the same way.
	binary.LittleEndian.PutUint32(data[0:4], batchMagic)
	binary.LittleEndian.PutUint32(data[4:8], 99)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, _, err := store.LoadBatch(ctx, 0, 10); !types.IsError(err, types.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat on bad version, got %v", err)
	}
}

func TestBatchStoreNewestBatchWins(t *testing.T) {
	clock := &manualClock{now: 5000}
	dir := t.TempDir()
	store := newTestBatchStore(t, &types.StorageConfig{Path: dir, MaxBatchSize: 100}, clock)
	ctx := context.Background()

	if err := store.SaveBatch(ctx, []*types.CacheEntry{batchEntry("old", 5000, 60000)}); err != nil {
		t.Fatalf("first SaveBatch failed: %v", err)
	}

	clock.now = 6000
	if err := store.SaveBatch(ctx, []*types.CacheEntry{batchEntry("new", 6000, 60000)}); err != nil {
		t.Fatalf("second SaveBatch failed: %v", err)
	}

	// A save supersedes all older batch files.
	names := listBatchFiles(t, dir)
	if len(names) != 1 || !strings.Contains(names[0], "6000") {
		t.Fatalf("expected only the newest batch file, got %v", names)
	}

	loaded, count, err := store.LoadBatch(ctx, 0, 10)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 1 || loaded[0].Key != "new" {
		t.Fatalf("expected only the newest batch content, got %+v", loaded)
	}
}

func TestBatchStoreExpiredFilteredAtLoad(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 100}, clock)
	ctx := context.Background()

	entries := []*types.CacheEntry{
		batchEntry("dead", 5000, 100),
		batchEntry("alive", 5000, 60000),
	}
	if err := store.SaveBatch(ctx, entries); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	clock.now = 10000
	loaded, count, err := store.LoadBatch(ctx, 0, 10)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 1 || loaded[0].Key != "alive" {
		t.Fatalf("expected expired entries filtered at load, got %+v", loaded)
	}
}

func TestBatchStoreCompressionRoundTrip(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{
		MaxBatchSize:      100,
		EnableCompression: true,
	}, clock)
	ctx := context.Background()

	entry := batchEntry("big", 5000, 60000)
	entry.Translation = strings.Repeat("guten Morgen ", 500)

	if err := store.SaveBatch(ctx, []*types.CacheEntry{entry}); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	loaded, count, err := store.LoadBatch(ctx, 0, 1)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 entry, got %d", count)
	}
	if loaded[0].Translation != entry.Translation {
		t.Fatalf("compressed value did not round-trip")
	}
	if loaded[0].Flags&types.EntryFlagCompressed != 0 {
		t.Fatalf("compression flag must not leak into the decoded entry")
	}
}

func TestBatchStorePendingBufferFlush(t *testing.T) {
	clock := &manualClock{now: 5000}
	dir := t.TempDir()
	store := newTestBatchStore(t, &types.StorageConfig{Path: dir, MaxBatchSize: 2}, clock)
	ctx := context.Background()

	if err := store.Set(ctx, batchEntry("k1", 5000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := len(listBatchFiles(t, dir)); got != 0 {
		t.Fatalf("buffer should not flush below max_batch_size, found %d files", got)
	}
	if store.Stats().PendingChanges != 1 {
		t.Fatalf("expected 1 pending change, got %d", store.Stats().PendingChanges)
	}

	// Entries in the pending buffer are readable before any flush.
	if _, err := store.Get(ctx, "k1"); err != nil {
		t.Fatalf("Get from pending buffer failed: %v", err)
	}

	if err := store.Set(ctx, batchEntry("k2", 5000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := len(listBatchFiles(t, dir)); got != 1 {
		t.Fatalf("buffer should flush at max_batch_size, found %d files", got)
	}
	if store.Stats().PendingChanges != 0 {
		t.Fatalf("flush should reset pending changes, got %d", store.Stats().PendingChanges)
	}

	// Flushed entries remain readable from the batch file.
	if _, err := store.Get(ctx, "k1"); err != nil {
		t.Fatalf("Get after flush failed: %v", err)
	}
}

func TestBatchStoreFlushMergesSnapshot(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 2}, clock)
	ctx := context.Background()

	if err := store.Set(ctx, batchEntry("a", 5000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, batchEntry("b", 5000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.now = 6000
	if err := store.Set(ctx, batchEntry("c", 6000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.SaveAll(ctx); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	_, count, err := store.LoadBatch(ctx, 0, 10)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("flush must merge the previous snapshot, got %d entries", count)
	}
}

func TestBatchStoreDelete(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 100}, clock)
	ctx := context.Background()

	if err := store.Delete(ctx, "absent"); !types.IsError(err, types.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}

	if err := store.SaveBatch(ctx, []*types.CacheEntry{
		batchEntry("keep", 5000, 60000),
		batchEntry("drop", 5000, 60000),
	}); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	clock.now = 5001
	if err := store.Delete(ctx, "drop"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if ok, _ := store.Exists(ctx, "drop"); ok {
		t.Fatalf("deleted entry still visible")
	}
	if ok, _ := store.Exists(ctx, "keep"); !ok {
		t.Fatalf("unrelated entry lost on delete")
	}
}

func TestBatchStoreClearAll(t *testing.T) {
	clock := &manualClock{now: 5000}
	dir := t.TempDir()
	store := newTestBatchStore(t, &types.StorageConfig{Path: dir, MaxBatchSize: 100}, clock)
	ctx := context.Background()

	if err := store.SaveBatch(ctx, []*types.CacheEntry{batchEntry("k", 5000, 60000)}); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	if err := store.Set(ctx, batchEntry("pending", 5000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if got := len(listBatchFiles(t, dir)); got != 0 {
		t.Fatalf("expected no batch files after ClearAll, found %d", got)
	}
	if _, _, err := store.LoadBatch(ctx, 0, 10); !types.IsError(err, types.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound after ClearAll, got %v", err)
	}
}

func TestBatchStoreStats(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 100}, clock)
	ctx := context.Background()

	if err := store.SaveBatch(ctx, []*types.CacheEntry{batchEntry("k", 5000, 60000)}); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	if _, _, err := store.LoadBatch(ctx, 0, 10); err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}

	stats := store.Stats()
	if stats.TotalSaves != 1 || stats.TotalLoads != 1 {
		t.Fatalf("expected 1 save and 1 load, got %d/%d", stats.TotalSaves, stats.TotalLoads)
	}
	if stats.BytesWritten == 0 || stats.BytesRead == 0 {
		t.Fatalf("byte counters not accounted: %+v", stats)
	}
	if stats.LastSaveTime != 5000 {
		t.Fatalf("expected last save time 5000, got %d", stats.LastSaveTime)
	}
}

func TestBatchStoreLoadBatchZeroCountReturnsRemainder(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 100}, clock)
	ctx := context.Background()

	var saved []*types.CacheEntry
	for i := 0; i < 5; i++ {
		saved = append(saved, batchEntry(fmt.Sprintf("en:de:%04d", i), 5000, 60000))
	}
	if err := store.SaveBatch(ctx, saved); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	_, count, err := store.LoadBatch(ctx, 2, 0)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("count 0 must return all entries past the offset, got %d", count)
	}
}

func TestBatchStoreConcurrentReadsAndFlush(t *testing.T) {
	clock := &manualClock{now: 5000}
	store := newTestBatchStore(t, &types.StorageConfig{MaxBatchSize: 100}, clock)
	ctx := context.Background()

	if err := store.SaveBatch(ctx, []*types.CacheEntry{batchEntry("shared", 5000, 60000)}); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := store.Get(ctx, "shared"); err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := store.Set(ctx, batchEntry(fmt.Sprintf("w%04d", i), 5000, 60000)); err != nil {
				t.Errorf("Set failed: %v", err)
				return
			}
			if err := store.SaveAll(ctx); err != nil {
				t.Errorf("SaveAll failed: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	stats := store.Stats()
	if stats.TotalSaves == 0 || stats.TotalLoads == 0 {
		t.Fatalf("expected saves and loads to be accounted, got %+v", stats)
	}
}
