package cache

import (
	"context"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-translation-cache/types"
)

// MultiLevel composes the memory, remote and persistent tiers into a
// read-through/write-through hierarchy. Lookups descend memory -> remote ->
// persistent and promote hits upward; writes land in memory first
// (authoritative) and fan out to the lower tiers best-effort.
type MultiLevel struct {
	logger types.Logger

	memory     *EntryStore
	remote     types.RemoteTier
	persistent types.PersistentStore

	// Full misses land here, not on any one tier.
	aggHits   uint64
	aggMisses uint64

	started int32
}

func NewMultiLevel(memory *EntryStore, remote types.RemoteTier, persistent types.PersistentStore, logger types.Logger) (*MultiLevel, error) {
	if memory == nil {
		return nil, types.Errorf(types.ErrInvalidParam, "memory tier is required")
	}
	return &MultiLevel{
		logger:     logger,
		memory:     memory,
		remote:     remote,
		persistent: persistent,
	}, nil
}

// Memory exposes the authoritative tier for callers that need store-level
// operations (ttl extension, usage accounting).
func (m *MultiLevel) Memory() *EntryStore { return m.memory }

func (m *MultiLevel) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	started := make([]types.CacheTier, 0, 3)
	for _, tier := range m.tiers() {
		if err := tier.Start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop()
			}
			atomic.StoreInt32(&m.started, 0)
			return types.WrapError(err, "failed to start "+tier.Name()+" tier")
		}
		started = append(started, tier)
	}

	if m.logger != nil {
		m.logger.Info("Cache hierarchy started", zap.Int("tiers", len(started)))
	}
	return nil
}

func (m *MultiLevel) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	var g errgroup.Group
	for _, tier := range m.tiers() {
		tier := tier
		g.Go(func() error {
			if err := tier.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
				return types.WrapError(err, "failed to stop "+tier.Name()+" tier")
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *MultiLevel) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func (m *MultiLevel) tiers() []types.CacheTier {
	tiers := []types.CacheTier{m.memory}
	if m.remote != nil {
		tiers = append(tiers, m.remote)
	}
	if m.persistent != nil {
		tiers = append(tiers, m.persistent)
	}
	return tiers
}

// Get descends the hierarchy and promotes hits into every tier above the one
// that answered. Promotion failures are logged, never surfaced.
func (m *MultiLevel) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	entry, err := m.memory.Get(ctx, key)
	if err == nil {
		atomic.AddUint64(&m.aggHits, 1)
		return entry, nil
	}
	if !types.IsError(err, types.ErrEntryNotFound) {
		return nil, err
	}

	if m.remote != nil {
		entry, err = m.remote.Get(ctx, key)
		if err == nil {
			m.promote(ctx, entry, m.memory)
			atomic.AddUint64(&m.aggHits, 1)
			return entry, nil
		}
		if !types.IsError(err, types.ErrEntryNotFound) && m.logger != nil {
			m.logger.Warn("Remote tier lookup failed", zap.String("key", key), zap.Error(err))
		}
	}

	if m.persistent != nil {
		entry, err = m.persistent.Get(ctx, key)
		if err == nil {
			if m.remote != nil {
				m.promote(ctx, entry, m.remote)
			}
			m.promote(ctx, entry, m.memory)
			atomic.AddUint64(&m.aggHits, 1)
			return entry, nil
		}
		if !types.IsError(err, types.ErrEntryNotFound) && m.logger != nil {
			m.logger.Warn("Persistent tier lookup failed", zap.String("key", key), zap.Error(err))
		}
	}

	atomic.AddUint64(&m.aggMisses, 1)
	return nil, types.Errorf(types.ErrEntryNotFound, "key: %s", key)
}

func (m *MultiLevel) promote(ctx context.Context, entry *types.CacheEntry, tier types.CacheTier) {
	if err := tier.Set(ctx, entry.Clone()); err != nil && m.logger != nil {
		m.logger.Warn("Promotion failed",
			zap.String("tier", tier.Name()),
			zap.String("key", entry.Key),
			zap.Error(err))
	}
}

// Set writes memory first; a memory failure fails the whole call. Lower tiers
// are best-effort and may transiently diverge until the next promotion.
func (m *MultiLevel) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}

	if err := m.memory.Set(ctx, entry); err != nil {
		return err
	}

	if m.remote != nil {
		if err := m.remote.Set(ctx, entry.Clone()); err != nil && m.logger != nil {
			m.logger.Warn("Remote tier write failed", zap.String("key", entry.Key), zap.Error(err))
		}
	}
	if m.persistent != nil {
		if err := m.persistent.Set(ctx, entry.Clone()); err != nil && m.logger != nil {
			m.logger.Warn("Persistent tier write failed", zap.String("key", entry.Key), zap.Error(err))
		}
	}
	return nil
}

// Update propagates to every tier. Lower tiers may legitimately not have seen
// the key yet, so their NotFound is tolerated; other failures are logged.
func (m *MultiLevel) Update(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}

	if err := m.memory.Update(ctx, entry); err != nil {
		return err
	}

	for _, tier := range m.lowerTiers() {
		if err := tier.Update(ctx, entry.Clone()); err != nil && !types.IsError(err, types.ErrEntryNotFound) {
			if m.logger != nil {
				m.logger.Warn("Tier update failed",
					zap.String("tier", tier.Name()),
					zap.String("key", entry.Key),
					zap.Error(err))
			}
		}
	}
	return nil
}

// Delete removes the key everywhere. NotFound is tolerated per tier; the call
// fails with NotFound only when no tier held the key.
func (m *MultiLevel) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	found := false
	for _, tier := range m.tiers() {
		err := tier.Delete(ctx, key)
		switch {
		case err == nil:
			found = true
		case types.IsError(err, types.ErrEntryNotFound):
		default:
			if m.logger != nil {
				m.logger.Warn("Tier delete failed",
					zap.String("tier", tier.Name()),
					zap.String("key", key),
					zap.Error(err))
			}
		}
	}

	if !found {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}
	return nil
}

func (m *MultiLevel) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	for _, tier := range m.tiers() {
		ok, err := tier.Exists(ctx, key)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("Tier exists check failed",
					zap.String("tier", tier.Name()),
					zap.Error(err))
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// EvictExpired fans out to every tier's own expiry mechanism.
func (m *MultiLevel) EvictExpired(ctx context.Context) error {
	var firstErr error
	for _, tier := range m.tiers() {
		if err := tier.EvictExpired(ctx); err != nil {
			if m.logger != nil {
				m.logger.Warn("Tier expiry sweep failed",
					zap.String("tier", tier.Name()),
					zap.Error(err))
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// WarmCache preloads the most used persisted entries into the upper tiers.
func (m *MultiLevel) WarmCache(ctx context.Context, preloadCount uint32) error {
	if m.persistent == nil {
		return nil
	}

	entries, loaded, err := m.persistent.LoadBatch(ctx, 0, preloadCount)
	if err != nil {
		if types.IsError(err, types.ErrBatchNotFound) {
			return nil
		}
		return types.WrapError(err, "failed to load warmup batch")
	}

	// Most used entries first, so a small memory tier keeps the right ones.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Metadata.UsageCount > entries[j].Metadata.UsageCount
	})

	warmed := 0
	for _, entry := range entries {
		if err := m.memory.Set(ctx, entry.Clone()); err != nil {
			break
		}
		if m.remote != nil {
			m.promote(ctx, entry, m.remote)
		}
		warmed++
	}

	if m.logger != nil {
		m.logger.Info("Cache warmed",
			zap.Uint32("loaded", loaded),
			zap.Int("promoted", warmed))
	}
	return nil
}

// Metrics aggregates across tiers: counters are sums, the response time is
// the arithmetic mean of each tier's own average. Full misses recorded by the
// orchestrator itself are included in the miss total.
func (m *MultiLevel) Metrics() types.TierMetrics {
	var agg types.TierMetrics
	var avgSum float64

	tiers := m.tiers()
	for _, tier := range tiers {
		tm := tier.Metrics()
		agg.Hits += tm.Hits
		agg.Misses += tm.Misses
		agg.Evictions += tm.Evictions
		agg.CurrentSize += tm.CurrentSize
		agg.PeakSize += tm.PeakSize
		avgSum += tm.AvgResponseTimeMS
	}
	agg.AvgResponseTimeMS = avgSum / float64(len(tiers))
	agg.Misses += atomic.LoadUint64(&m.aggMisses)
	return agg
}

func (m *MultiLevel) TierMetrics() map[string]types.TierMetrics {
	out := make(map[string]types.TierMetrics, 3)
	for _, tier := range m.tiers() {
		out[tier.Name()] = tier.Metrics()
	}
	return out
}

func (m *MultiLevel) lowerTiers() []types.CacheTier {
	var tiers []types.CacheTier
	if m.remote != nil {
		tiers = append(tiers, m.remote)
	}
	if m.persistent != nil {
		tiers = append(tiers, m.persistent)
	}
	return tiers
}
