package types

import (
	"context"
)

type EvictionPolicy string

const (
	EvictionLRU    EvictionPolicy = "lru"
	EvictionLFU    EvictionPolicy = "lfu"
	EvictionFIFO   EvictionPolicy = "fifo"
	EvictionRandom EvictionPolicy = "random"
)

type KeyMethod string

const (
	KeyMethodFNV1a   KeyMethod = "fnv1a"
	KeyMethodMurmur3 KeyMethod = "murmur3"
	KeyMethodCustom  KeyMethod = "custom"
)

// EntryFlagCompressed marks a batch-file value as brotli-compressed on disk.
const EntryFlagCompressed uint32 = 1 << 0

type EntryMetadata struct {
	UsageCount uint32 `json:"usage_count"`
	LastUsed   uint64 `json:"last_used"`
	Context    string `json:"context,omitempty"`
}

// CacheEntry is the canonical cached unit. Key, SourceLang and TargetLang are
// immutable after construction; the remaining fields may change via Update.
type CacheEntry struct {
	Key         string        `json:"key"`
	SourceText  string        `json:"source_text"`
	SourceLang  string        `json:"source_lang"`
	TargetLang  string        `json:"target_lang"`
	Translation string        `json:"translation"`
	Timestamp   uint64        `json:"timestamp"`
	TTL         uint32        `json:"ttl"`
	Flags       uint32        `json:"flags"`
	Confidence  float32       `json:"confidence,omitempty"`
	Metadata    EntryMetadata `json:"metadata"`
}

// Expired reports whether the entry's validity window has elapsed. The
// boundary is exclusive: an entry queried at exactly timestamp+ttl is still
// valid.
func (e *CacheEntry) Expired(nowMS uint64) bool {
	if nowMS <= e.Timestamp {
		return false
	}
	return nowMS-e.Timestamp > uint64(e.TTL)
}

func (e *CacheEntry) Clone() *CacheEntry {
	clone := *e
	return &clone
}

type CacheStats struct {
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	Evictions      uint64  `json:"evictions"`
	AvgHitTimeMS   float64 `json:"avg_hit_time_ms"`
	AvgMissTimeMS  float64 `json:"avg_miss_time_ms"`
	CurrentEntries uint32  `json:"current_entries"`
}

type TierMetrics struct {
	Hits              uint64  `json:"hits"`
	Misses            uint64  `json:"misses"`
	Evictions         uint64  `json:"evictions"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
	CurrentSize       uint32  `json:"current_size"`
	PeakSize          uint32  `json:"peak_size"`
}

type StorageStats struct {
	TotalSaves     uint64 `json:"total_saves"`
	TotalLoads     uint64 `json:"total_loads"`
	FailedOps      uint64 `json:"failed_ops"`
	BytesWritten   uint64 `json:"bytes_written"`
	BytesRead      uint64 `json:"bytes_read"`
	LastSaveTime   uint64 `json:"last_save_time"`
	PendingChanges uint32 `json:"pending_changes"`
}

// CacheTier is one storage level of the hierarchy. Get returns
// ErrEntryNotFound on a miss; Update returns ErrEntryNotFound when the key has
// never been seen by the tier.
type CacheTier interface {
	LifecycleManager
	Name() string
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, entry *CacheEntry) error
	Update(ctx context.Context, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	EvictExpired(ctx context.Context) error
	Metrics() TierMetrics
}

// RemoteTier extends CacheTier with the snapshot and schema operations the
// remote key-value service exposes natively.
type RemoteTier interface {
	CacheTier
	Backup(ctx context.Context, backupPath string) error
	Restore(ctx context.Context, backupPath string) error
	SchemaVersion() uint32
}

// PersistentStore extends CacheTier with durable batch operations.
type PersistentStore interface {
	CacheTier
	SaveBatch(ctx context.Context, entries []*CacheEntry) error
	// LoadBatch returns up to count alive entries after skipping offset.
	// A count of zero means all remaining entries. Every backend honors
	// this contract.
	LoadBatch(ctx context.Context, offset, count uint32) ([]*CacheEntry, uint32, error)
	SaveAll(ctx context.Context) error
	ClearAll(ctx context.Context) error
	Stats() StorageStats
}

// MultiLevelCache is the read-through/write-through composition of the tiers.
type MultiLevelCache interface {
	LifecycleManager
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, entry *CacheEntry) error
	Update(ctx context.Context, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	EvictExpired(ctx context.Context) error
	WarmCache(ctx context.Context, preloadCount uint32) error
	Metrics() TierMetrics
	TierMetrics() map[string]TierMetrics
}

// KeyGenerator derives deterministic cache keys from translation parameters.
type KeyGenerator interface {
	Generate(sourceText, sourceLang, targetLang string) (string, error)
	SetMethod(method KeyMethod)
	Method() KeyMethod
}
