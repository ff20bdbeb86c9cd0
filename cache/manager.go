package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-translation-cache/storage"
	"github.com/saiset-co/sai-translation-cache/types"
)

// Hierarchy bundles the assembled cache with direct handles to its tiers for
// callers that need tier-level operations (maintenance jobs, stats endpoint).
type Hierarchy struct {
	Cache      types.MultiLevelCache
	Memory     *EntryStore
	Remote     types.RemoteTier
	Persistent types.PersistentStore
}

// NewHierarchy builds the tiers selected by config. The memory tier is always
// present; remote and persistent are optional. When both the remote and a
// hook-capable persistent backend are configured, SaveAll chains the remote
// snapshot.
func NewHierarchy(config *types.CacheLayerConfig, logger types.Logger, metrics types.MetricsManager, clock types.Clock) (*Hierarchy, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}
	if clock == nil {
		clock = types.NewSystemClock()
	}

	memory, err := NewEntryStore(config.Memory, config.DefaultTTLMS, logger, clock)
	if err != nil {
		return nil, types.WrapError(err, "failed to build memory tier")
	}

	var remote types.RemoteTier
	if config.Remote != nil && config.Remote.Enabled {
		remote, err = NewRemoteStore(config.Remote, config.DefaultTTLMS, logger, clock)
		if err != nil {
			return nil, types.WrapError(err, "failed to build remote tier")
		}
	}

	var persistent types.PersistentStore
	if config.Storage != nil && config.Storage.Enabled {
		persistent, err = storage.NewPersistentStore(config.Storage, config.DefaultTTLMS, logger, clock)
		if err != nil {
			return nil, types.WrapError(err, "failed to build persistent tier")
		}
		if hooked, ok := persistent.(storage.BackupHookSetter); ok && remote != nil {
			hooked.SetBackupHook(remote.Backup)
		}
	}

	orchestrator, err := NewMultiLevel(memory, remote, persistent, logger)
	if err != nil {
		return nil, err
	}

	return &Hierarchy{
		Cache:      newInstrumentedCache(logger, metrics, orchestrator),
		Memory:     memory,
		Remote:     remote,
		Persistent: persistent,
	}, nil
}

type instrumentedCache struct {
	impl    types.MultiLevelCache
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedCache(logger types.Logger, metrics types.MetricsManager, impl types.MultiLevelCache) types.MultiLevelCache {
	return &instrumentedCache{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (ic *instrumentedCache) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	start := time.Now()
	entry, err := ic.impl.Get(ctx, key)
	duration := time.Since(start)

	result := "hit"
	if err != nil {
		result = "miss"
		if !types.IsError(err, types.ErrEntryNotFound) {
			result = "error"
		}
	}

	ic.recordMetric("get", result, duration)
	return entry, err
}

func (ic *instrumentedCache) Set(ctx context.Context, entry *types.CacheEntry) error {
	start := time.Now()
	err := ic.impl.Set(ctx, entry)
	ic.recordMetric("set", resultLabel(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) Update(ctx context.Context, entry *types.CacheEntry) error {
	start := time.Now()
	err := ic.impl.Update(ctx, entry)
	ic.recordMetric("update", resultLabel(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ic.impl.Delete(ctx, key)
	ic.recordMetric("delete", resultLabel(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := ic.impl.Exists(ctx, key)
	ic.recordMetric("exists", resultLabel(err), time.Since(start))
	return ok, err
}

func (ic *instrumentedCache) EvictExpired(ctx context.Context) error {
	start := time.Now()
	err := ic.impl.EvictExpired(ctx)
	ic.recordMetric("evict_expired", resultLabel(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) WarmCache(ctx context.Context, preloadCount uint32) error {
	start := time.Now()
	err := ic.impl.WarmCache(ctx, preloadCount)
	ic.recordMetric("warm", resultLabel(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) Metrics() types.TierMetrics {
	return ic.impl.Metrics()
}

func (ic *instrumentedCache) TierMetrics() map[string]types.TierMetrics {
	return ic.impl.TierMetrics()
}

func (ic *instrumentedCache) Start() error {
	start := time.Now()
	err := ic.impl.Start()
	ic.recordMetric("start", resultLabel(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) Stop() error {
	return ic.impl.Stop()
}

func (ic *instrumentedCache) IsRunning() bool {
	return ic.impl.IsRunning()
}

func (ic *instrumentedCache) recordMetric(operation, result string, duration time.Duration) {
	if ic.metrics == nil {
		return
	}

	opCounter := ic.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := ic.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if types.IsError(err, types.ErrEntryNotFound) {
		return "not_found"
	}
	return "error"
}
