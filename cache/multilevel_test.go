package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/saiset-co/sai-translation-cache/types"
)

// fakeTier is a map-backed CacheTier for wiring the orchestrator in tests.
type fakeTier struct {
	name    string
	entries map[string]*types.CacheEntry
	failAll bool
	running bool
}

func newFakeTier(name string) *fakeTier {
	return &fakeTier{name: name, entries: make(map[string]*types.CacheEntry)}
}

func (f *fakeTier) Name() string    { return f.name }
func (f *fakeTier) Start() error    { f.running = true; return nil }
func (f *fakeTier) Stop() error     { f.running = false; return nil }
func (f *fakeTier) IsRunning() bool { return f.running }

func (f *fakeTier) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	if f.failAll {
		return nil, types.Errorf(types.ErrRemoteService, "induced failure")
	}
	entry, ok := f.entries[key]
	if !ok {
		return nil, types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}
	return entry.Clone(), nil
}

func (f *fakeTier) Set(_ context.Context, entry *types.CacheEntry) error {
	if f.failAll {
		return types.Errorf(types.ErrRemoteService, "induced failure")
	}
	f.entries[entry.Key] = entry.Clone()
	return nil
}

func (f *fakeTier) Update(ctx context.Context, entry *types.CacheEntry) error {
	if f.failAll {
		return types.Errorf(types.ErrRemoteService, "induced failure")
	}
	if _, ok := f.entries[entry.Key]; !ok {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", entry.Key)
	}
	return f.Set(ctx, entry)
}

func (f *fakeTier) Delete(_ context.Context, key string) error {
	if f.failAll {
		return types.Errorf(types.ErrRemoteService, "induced failure")
	}
	if _, ok := f.entries[key]; !ok {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeTier) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.entries[key]
	return ok, nil
}

func (f *fakeTier) EvictExpired(_ context.Context) error { return nil }
func (f *fakeTier) Metrics() types.TierMetrics {
	return types.TierMetrics{CurrentSize: uint32(len(f.entries))}
}

type fakeRemote struct {
	fakeTier
	backups uint32
}

func (f *fakeRemote) Backup(_ context.Context, _ string) error {
	f.backups++
	return nil
}
func (f *fakeRemote) Restore(_ context.Context, _ string) error { return nil }
func (f *fakeRemote) SchemaVersion() uint32                     { return SchemaVersion }

type fakePersistent struct {
	fakeTier
	order []string
}

func (f *fakePersistent) SaveBatch(ctx context.Context, entries []*types.CacheEntry) error {
	for _, entry := range entries {
		if err := f.Set(ctx, entry); err != nil {
			return err
		}
		f.order = append(f.order, entry.Key)
	}
	return nil
}

func (f *fakePersistent) LoadBatch(_ context.Context, offset, count uint32) ([]*types.CacheEntry, uint32, error) {
	if len(f.order) == 0 {
		return nil, 0, types.ErrBatchNotFound
	}
	keys := f.order
	if offset >= uint32(len(keys)) {
		return nil, 0, nil
	}
	keys = keys[offset:]
	if count > 0 && count < uint32(len(keys)) {
		keys = keys[:count]
	}
	out := make([]*types.CacheEntry, 0, len(keys))
	for _, k := range keys {
		if entry, ok := f.entries[k]; ok {
			out = append(out, entry.Clone())
		}
	}
	return out, uint32(len(out)), nil
}

func (f *fakePersistent) SaveAll(_ context.Context) error  { return nil }
func (f *fakePersistent) ClearAll(_ context.Context) error { return nil }
func (f *fakePersistent) Stats() types.StorageStats        { return types.StorageStats{} }

func newTestHierarchy(t *testing.T, clock types.Clock) (*MultiLevel, *fakeRemote, *fakePersistent) {
	t.Helper()
	memory := newTestStore(t, &types.MemoryConfig{MaxEntries: 100}, clock)
	remote := &fakeRemote{fakeTier: *newFakeTier("remote")}
	persistent := &fakePersistent{fakeTier: *newFakeTier("persistent")}

	ml, err := NewMultiLevel(memory, remote, persistent, nil)
	if err != nil {
		t.Fatalf("NewMultiLevel failed: %v", err)
	}
	if err := ml.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if ml.IsRunning() {
			_ = ml.Stop()
		}
	})
	return ml, remote, persistent
}

func TestMultiLevelPromotionFromRemote(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, remote, _ := newTestHierarchy(t, clock)
	ctx := context.Background()

	entry := testEntry("k", 1000, 60000)
	remote.entries["k"] = entry

	got, err := ml.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Translation != entry.Translation {
		t.Fatalf("wrong entry returned: %+v", got)
	}

	// The hit must now be served by the memory tier.
	if ok, _ := ml.Memory().Exists(ctx, "k"); !ok {
		t.Fatalf("remote hit was not promoted into memory")
	}
}

func TestMultiLevelPromotionFromPersistent(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, remote, persistent := newTestHierarchy(t, clock)
	ctx := context.Background()

	entry := testEntry("k", 1000, 60000)
	persistent.entries["k"] = entry

	if _, err := ml.Get(ctx, "k"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if ok, _ := ml.Memory().Exists(ctx, "k"); !ok {
		t.Fatalf("persistent hit was not promoted into memory")
	}
	if _, ok := remote.entries["k"]; !ok {
		t.Fatalf("persistent hit was not promoted into remote")
	}
}

func TestMultiLevelFullMiss(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, _, _ := newTestHierarchy(t, clock)

	if _, err := ml.Get(context.Background(), "absent"); !types.IsError(err, types.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestMultiLevelSetFansOut(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, remote, persistent := newTestHierarchy(t, clock)
	ctx := context.Background()

	if err := ml.Set(ctx, testEntry("k", 1000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if ok, _ := ml.Memory().Exists(ctx, "k"); !ok {
		t.Fatalf("entry missing from memory tier")
	}
	if _, ok := remote.entries["k"]; !ok {
		t.Fatalf("entry missing from remote tier")
	}
	if _, ok := persistent.entries["k"]; !ok {
		t.Fatalf("entry missing from persistent tier")
	}
}

func TestMultiLevelSetToleratesLowerTierFailure(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, remote, persistent := newTestHierarchy(t, clock)
	ctx := context.Background()

	remote.failAll = true
	persistent.failAll = true

	if err := ml.Set(ctx, testEntry("k", 1000, 60000)); err != nil {
		t.Fatalf("Set must succeed when only lower tiers fail: %v", err)
	}
	if _, err := ml.Get(ctx, "k"); err != nil {
		t.Fatalf("memory tier must still serve the entry: %v", err)
	}
}

func TestMultiLevelDelete(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, remote, _ := newTestHierarchy(t, clock)
	ctx := context.Background()

	if err := ml.Delete(ctx, "absent"); !types.IsError(err, types.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound when no tier holds the key, got %v", err)
	}

	// Key present only in the remote tier; memory NotFound is tolerated.
	remote.entries["k"] = testEntry("k", 1000, 60000)
	if err := ml.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := remote.entries["k"]; ok {
		t.Fatalf("entry not removed from remote tier")
	}
}

func TestMultiLevelUpdatePropagates(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, remote, _ := newTestHierarchy(t, clock)
	ctx := context.Background()

	if err := ml.Set(ctx, testEntry("k", 1000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	updated := testEntry("k", 2000, 60000)
	updated.Translation = "salut"
	if err := ml.Update(ctx, updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := ml.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Translation != "salut" {
		t.Fatalf("memory tier not updated: %+v", got)
	}
	if remote.entries["k"].Translation != "salut" {
		t.Fatalf("remote tier not updated")
	}

	if err := ml.Update(ctx, testEntry("absent", 1000, 60000)); !types.IsError(err, types.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for unknown key, got %v", err)
	}
}

func TestMultiLevelWarmCache(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, _, persistent := newTestHierarchy(t, clock)
	ctx := context.Background()

	// Warming an empty persistent tier is a no-op.
	if err := ml.WarmCache(ctx, 10); err != nil {
		t.Fatalf("WarmCache on empty store failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		entry := testEntry(fmt.Sprintf("k%d", i), 1000, 60000)
		if err := persistent.SaveBatch(ctx, []*types.CacheEntry{entry}); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}
	}

	if err := ml.WarmCache(ctx, 3); err != nil {
		t.Fatalf("WarmCache failed: %v", err)
	}
	if got := ml.Memory().Count(); got != 3 {
		t.Fatalf("expected 3 warmed entries in memory, got %d", got)
	}
}

func TestMultiLevelAggregateMetrics(t *testing.T) {
	clock := &manualClock{now: 1000}
	ml, _, _ := newTestHierarchy(t, clock)
	ctx := context.Background()

	if err := ml.Set(ctx, testEntry("k", 1000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := ml.Get(ctx, "k"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := ml.Get(ctx, "absent"); err == nil {
		t.Fatalf("expected miss")
	}

	agg := ml.Metrics()
	if agg.Hits == 0 {
		t.Fatalf("aggregate hits not accounted: %+v", agg)
	}
	if agg.Misses == 0 {
		t.Fatalf("aggregate misses not accounted: %+v", agg)
	}
	if agg.CurrentSize == 0 {
		t.Fatalf("aggregate size not accounted: %+v", agg)
	}

	perTier := ml.TierMetrics()
	for _, name := range []string{"memory", "remote", "persistent"} {
		if _, ok := perTier[name]; !ok {
			t.Fatalf("missing per-tier metrics for %s", name)
		}
	}
}

func TestMultiLevelMemoryOnly(t *testing.T) {
	clock := &manualClock{now: 1000}
	memory := newTestStore(t, &types.MemoryConfig{MaxEntries: 10}, clock)

	ml, err := NewMultiLevel(memory, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewMultiLevel failed: %v", err)
	}
	if err := ml.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = ml.Stop() }()

	ctx := context.Background()
	if err := ml.Set(ctx, testEntry("k", 1000, 60000)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := ml.Get(ctx, "k"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := ml.WarmCache(ctx, 10); err != nil {
		t.Fatalf("WarmCache without persistent tier failed: %v", err)
	}
}
