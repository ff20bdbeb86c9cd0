package cache

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-translation-cache/types"
)

// EntryStore is the in-memory tier: a bounded live set with pluggable
// eviction. Removal uses swap-remove, so slice order carries no meaning; the
// key index is kept consistent across moves. A single mutex covers lookups,
// metadata updates, eviction and the expiry sweep so they stay atomic with
// respect to each other.
type EntryStore struct {
	config     *types.MemoryConfig
	defaultTTL uint32
	logger     types.Logger
	clock      types.Clock
	rng        *rand.Rand

	mu      sync.Mutex
	entries []types.CacheEntry
	index   map[string]int

	hits          uint64
	misses        uint64
	evictions     uint64
	avgHitTimeMS  float64
	avgMissTimeMS float64
	avgRespTimeMS float64
	peakSize      uint32

	started int32
}

func NewEntryStore(config *types.MemoryConfig, defaultTTLMS uint32, logger types.Logger, clock types.Clock) (*EntryStore, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrInvalidParam, "memory config is nil")
	}
	if config.MaxEntries == 0 {
		return nil, types.Errorf(types.ErrInvalidParam, "max_entries must be positive")
	}

	cfg := *config
	if cfg.Policy == "" {
		cfg.Policy = types.EvictionLRU
	}
	switch cfg.Policy {
	case types.EvictionLRU, types.EvictionLFU, types.EvictionFIFO, types.EvictionRandom:
	default:
		return nil, types.Errorf(types.ErrInvalidParam, "unknown eviction policy %s", cfg.Policy)
	}
	if cfg.EvictionBatchSize == 0 {
		cfg.EvictionBatchSize = 1
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	if clock == nil {
		clock = types.NewSystemClock()
	}
	if defaultTTLMS == 0 {
		defaultTTLMS = 3600000
	}

	return &EntryStore{
		config:     &cfg,
		defaultTTL: defaultTTLMS,
		logger:     logger,
		clock:      clock,
		rng:        rand.New(rand.NewSource(seed)),
		entries:    make([]types.CacheEntry, 0, cfg.MaxEntries),
		index:      make(map[string]int, cfg.MaxEntries),
	}, nil
}

func (s *EntryStore) Name() string { return "memory" }

func (s *EntryStore) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (s *EntryStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	s.mu.Lock()
	cleared := len(s.entries)
	s.entries = s.entries[:0]
	s.index = make(map[string]int, s.config.MaxEntries)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("Memory tier stopped", zap.Int("cleared_entries", cleared))
	}
	return nil
}

func (s *EntryStore) IsRunning() bool {
	return atomic.LoadInt32(&s.started) == 1
}

// Get copies the entry out on a hit, bumping usage_count and last_used. An
// expired entry is removed and reported as a miss.
func (s *EntryStore) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	start := time.Now()
	now := s.clock.NowMS()

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[key]
	if !ok {
		s.recordMissLocked(start)
		return nil, types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}

	entry := &s.entries[idx]
	if entry.Expired(now) {
		s.removeAtLocked(idx)
		s.recordMissLocked(start)
		return nil, types.Errorf(types.ErrEntryNotFound, "key expired: %s", key)
	}

	entry.Metadata.UsageCount++
	entry.Metadata.LastUsed = now
	if s.config.AutoExtendTTL && s.config.TTLExtensionMS > 0 {
		s.extendTTLLocked(entry, s.config.TTLExtensionMS)
	}

	out := entry.Clone()
	s.recordHitLocked(start)
	return out, nil
}

// Set upserts. When the store is full it first evicts eviction_batch_size
// entries; if no room could be reclaimed the call fails with ErrCacheFull so
// the configured ceiling is never exceeded.
func (s *EntryStore) Set(_ context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	now := s.clock.NowMS()

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.index[entry.Key]; ok {
		stored := &s.entries[idx]
		stored.SourceText = entry.SourceText
		stored.Translation = entry.Translation
		stored.Confidence = entry.Confidence
		stored.Flags = entry.Flags
		stored.Timestamp = s.pickTimestamp(entry, now)
		stored.TTL = s.pickTTL(entry)
		stored.Metadata = entry.Metadata
		if stored.Metadata.LastUsed == 0 {
			stored.Metadata.LastUsed = stored.Timestamp
		}
		return nil
	}

	// min_free_entries raises the watermark at which eviction kicks in.
	minFree := s.config.MinFreeEntries
	if minFree == 0 {
		minFree = 1
	}
	if s.freeSpaceLocked() < minFree {
		s.evictLocked(s.config.EvictionBatchSize)
	}
	if uint32(len(s.entries)) >= s.config.MaxEntries {
		return types.Errorf(types.ErrCacheFull, "max_entries: %d", s.config.MaxEntries)
	}

	stored := *entry
	stored.Timestamp = s.pickTimestamp(entry, now)
	stored.TTL = s.pickTTL(entry)
	if stored.Metadata.UsageCount == 0 {
		stored.Metadata.UsageCount = 1
	}
	if stored.Metadata.LastUsed == 0 {
		stored.Metadata.LastUsed = stored.Timestamp
	}

	s.entries = append(s.entries, stored)
	s.index[stored.Key] = len(s.entries) - 1

	if size := uint32(len(s.entries)); size > s.peakSize {
		s.peakSize = size
	}
	return nil
}

// Update modifies the mutable fields of an existing entry. Key, source and
// target languages never change.
func (s *EntryStore) Update(_ context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[entry.Key]
	if !ok {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", entry.Key)
	}

	stored := &s.entries[idx]
	stored.SourceText = entry.SourceText
	stored.Translation = entry.Translation
	stored.Confidence = entry.Confidence
	stored.Flags = entry.Flags
	if entry.Timestamp != 0 {
		stored.Timestamp = entry.Timestamp
	}
	if entry.TTL != 0 {
		stored.TTL = entry.TTL
	}
	stored.Metadata = entry.Metadata
	return nil
}

func (s *EntryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[key]
	if !ok {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}
	s.removeAtLocked(idx)
	return nil
}

func (s *EntryStore) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	now := s.clock.NowMS()

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[key]
	if !ok {
		return false, nil
	}
	return !s.entries[idx].Expired(now), nil
}

// Evict removes up to count entries according to the configured policy.
func (s *EntryStore) Evict(count uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(count)
}

// ClearExpired sweeps the live set once. Swap-remove moves the last entry
// into the freed slot, so the loop re-inspects the same index after a
// removal instead of advancing.
func (s *EntryStore) ClearExpired() uint32 {
	now := s.clock.NowMS()

	s.mu.Lock()
	defer s.mu.Unlock()

	initial := len(s.entries)
	for i := 0; i < len(s.entries); {
		if s.entries[i].Expired(now) {
			s.removeAtLocked(i)
			s.evictions++
			continue
		}
		i++
	}

	removed := uint32(initial - len(s.entries))
	if removed > 0 && s.logger != nil {
		s.logger.Debug("Cleared expired entries", zap.Uint32("removed", removed))
	}
	return removed
}

func (s *EntryStore) EvictExpired(_ context.Context) error {
	s.ClearExpired()
	return nil
}

// ExtendTTL adds extensionMS to the entry's validity window, clamped to the
// configured max_ttl_ms ceiling when one is set.
func (s *EntryStore) ExtendTTL(key string, extensionMS uint32) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[key]
	if !ok {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}
	s.extendTTLLocked(&s.entries[idx], extensionMS)
	return nil
}

func (s *EntryStore) Count() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(len(s.entries))
}

func (s *EntryStore) FreeSpace() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeSpaceLocked()
}

func (s *EntryStore) UsagePercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(len(s.entries)) * 100.0 / float64(s.config.MaxEntries)
}

func (s *EntryStore) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CacheStats{
		Hits:           s.hits,
		Misses:         s.misses,
		Evictions:      s.evictions,
		AvgHitTimeMS:   s.avgHitTimeMS,
		AvgMissTimeMS:  s.avgMissTimeMS,
		CurrentEntries: uint32(len(s.entries)),
	}
}

func (s *EntryStore) Metrics() types.TierMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.TierMetrics{
		Hits:              s.hits,
		Misses:            s.misses,
		Evictions:         s.evictions,
		AvgResponseTimeMS: s.avgRespTimeMS,
		CurrentSize:       uint32(len(s.entries)),
		PeakSize:          s.peakSize,
	}
}

// MemoryUsageKB estimates the live set footprint, including owned strings.
func (s *EntryStore) MemoryUsageKB() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := cap(s.entries) * int(entrySize)
	for i := range s.entries {
		e := &s.entries[i]
		total += len(e.Key) + len(e.SourceText) + len(e.SourceLang) +
			len(e.TargetLang) + len(e.Translation) + len(e.Metadata.Context)
	}
	return uint32((total + 1023) / 1024)
}

func (s *EntryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
	s.index = make(map[string]int, s.config.MaxEntries)
}

// SetPolicy switches the eviction policy at runtime.
func (s *EntryStore) SetPolicy(policy types.EvictionPolicy) error {
	switch policy {
	case types.EvictionLRU, types.EvictionLFU, types.EvictionFIFO, types.EvictionRandom:
	default:
		return types.Errorf(types.ErrInvalidParam, "unknown eviction policy %s", policy)
	}

	s.mu.Lock()
	s.config.Policy = policy
	s.mu.Unlock()
	return nil
}

// Snapshot copies out the live set, most-used first consumers can slice it.
func (s *EntryStore) Snapshot() []*types.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.CacheEntry, 0, len(s.entries))
	for i := range s.entries {
		out = append(out, s.entries[i].Clone())
	}
	return out
}

const entrySize = 160 // approximate struct size for the usage estimate

func (s *EntryStore) freeSpaceLocked() uint32 {
	return s.config.MaxEntries - uint32(len(s.entries))
}

func (s *EntryStore) pickTTL(entry *types.CacheEntry) uint32 {
	if entry.TTL != 0 {
		return entry.TTL
	}
	return s.defaultTTL
}

func (s *EntryStore) pickTimestamp(entry *types.CacheEntry, now uint64) uint64 {
	if entry.Timestamp != 0 {
		return entry.Timestamp
	}
	return now
}

func (s *EntryStore) extendTTLLocked(entry *types.CacheEntry, extensionMS uint32) {
	extended := uint64(entry.TTL) + uint64(extensionMS)
	if s.config.MaxTTLMS > 0 && extended > uint64(s.config.MaxTTLMS) {
		extended = uint64(s.config.MaxTTLMS)
	}
	if extended > uint64(^uint32(0)) {
		extended = uint64(^uint32(0))
	}
	entry.TTL = uint32(extended)
}

func (s *EntryStore) evictLocked(count uint32) error {
	for i := uint32(0); i < count; i++ {
		if len(s.entries) == 0 {
			break
		}

		var victim int
		switch s.config.Policy {
		case types.EvictionLRU:
			victim = s.findVictimLocked(func(e *types.CacheEntry) uint64 { return e.Metadata.LastUsed })
		case types.EvictionLFU:
			victim = s.findVictimLocked(func(e *types.CacheEntry) uint64 { return uint64(e.Metadata.UsageCount) })
		case types.EvictionFIFO:
			victim = s.findVictimLocked(func(e *types.CacheEntry) uint64 { return e.Timestamp })
		case types.EvictionRandom:
			victim = s.rng.Intn(len(s.entries))
		default:
			return types.Errorf(types.ErrInvalidParam, "unknown eviction policy %s", s.config.Policy)
		}

		if s.logger != nil {
			s.logger.Debug("Evicting entry",
				zap.String("policy", string(s.config.Policy)),
				zap.String("key", s.entries[victim].Key))
		}

		s.removeAtLocked(victim)
		s.evictions++
	}
	return nil
}

// findVictimLocked scans the whole live set and returns the index of the
// entry with the smallest rank value.
func (s *EntryStore) findVictimLocked(rank func(*types.CacheEntry) uint64) int {
	victim := 0
	lowest := rank(&s.entries[0])
	for i := 1; i < len(s.entries); i++ {
		if v := rank(&s.entries[i]); v < lowest {
			lowest = v
			victim = i
		}
	}
	return victim
}

func (s *EntryStore) removeAtLocked(i int) {
	delete(s.index, s.entries[i].Key)

	last := len(s.entries) - 1
	if i != last {
		s.entries[i] = s.entries[last]
		s.index[s.entries[i].Key] = i
	}
	s.entries[last] = types.CacheEntry{}
	s.entries = s.entries[:last]
}

func (s *EntryStore) recordHitLocked(start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	s.hits++
	s.avgHitTimeMS += (elapsed - s.avgHitTimeMS) / float64(s.hits)
	s.recordResponseLocked(elapsed)
}

func (s *EntryStore) recordMissLocked(start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	s.misses++
	s.avgMissTimeMS += (elapsed - s.avgMissTimeMS) / float64(s.misses)
	s.recordResponseLocked(elapsed)
}

func (s *EntryStore) recordResponseLocked(elapsedMS float64) {
	total := s.hits + s.misses
	if total == 0 {
		return
	}
	s.avgRespTimeMS += (elapsedMS - s.avgRespTimeMS) / float64(total)
}
