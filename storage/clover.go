package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-translation-cache/types"
)

const cloverCollection = "translation_entries"

// cloverEntry mirrors CacheEntry with the widened numeric types the document
// store round-trips.
type cloverEntry struct {
	Key         string  `clover:"key" json:"key"`
	SourceText  string  `clover:"source_text" json:"source_text"`
	SourceLang  string  `clover:"source_lang" json:"source_lang"`
	TargetLang  string  `clover:"target_lang" json:"target_lang"`
	Translation string  `clover:"translation" json:"translation"`
	Timestamp   int64   `clover:"timestamp" json:"timestamp"`
	TTL         int64   `clover:"ttl" json:"ttl"`
	Flags       int64   `clover:"flags" json:"flags"`
	Confidence  float64 `clover:"confidence" json:"confidence"`
	UsageCount  int64   `clover:"usage_count" json:"usage_count"`
	LastUsed    int64   `clover:"last_used" json:"last_used"`
	Context     string  `clover:"context" json:"context"`
}

// CloverStore is the document-backed persistent tier: one collection, one
// document per entry.
type CloverStore struct {
	config     *types.StorageConfig
	defaultTTL uint32
	logger     types.Logger
	clock      types.Clock

	db *clover.DB

	saves   uint64
	loads   uint64
	failed  uint64
	tier    tierCounters
	started int32
}

func NewCloverStore(config *types.StorageConfig, defaultTTLMS uint32, logger types.Logger, clock types.Clock) (*CloverStore, error) {
	if config == nil || !config.Enabled {
		return nil, types.Errorf(types.ErrTierDisabled, "persistent tier")
	}

	cfg := *config
	if clock == nil {
		clock = types.NewSystemClock()
	}
	if defaultTTLMS == 0 {
		defaultTTLMS = 3600000
	}

	return &CloverStore{
		config:     &cfg,
		defaultTTL: defaultTTLMS,
		logger:     logger,
		clock:      clock,
	}, nil
}

func (c *CloverStore) Name() string { return "persistent" }

func (c *CloverStore) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	db, err := clover.Open(c.config.Path)
	if err != nil {
		atomic.StoreInt32(&c.started, 0)
		return types.WrapError(err, "failed to open document store")
	}

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		_ = db.Close()
		atomic.StoreInt32(&c.started, 0)
		return types.WrapError(err, "failed to check collection existence")
	}
	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			_ = db.Close()
			atomic.StoreInt32(&c.started, 0)
			return types.WrapError(err, "failed to create collection")
		}
	}

	c.db = db
	if c.logger != nil {
		c.logger.Info("Persistent tier started", zap.String("path", c.config.Path))
	}
	return nil
}

func (c *CloverStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.started, 1, 0) {
		return types.ErrServerNotRunning
	}
	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close document store")
	}
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return atomic.LoadInt32(&c.started) == 1
}

func (c *CloverStore) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	start := time.Now()
	doc, err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		atomic.AddUint64(&c.failed, 1)
		c.tier.recordMiss(start)
		return nil, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "document lookup failed")
	}
	if doc == nil {
		c.tier.recordMiss(start)
		return nil, types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}

	entry, err := documentToEntry(doc)
	if err != nil {
		c.tier.recordMiss(start)
		return nil, err
	}

	if entry.Expired(c.clock.NowMS()) {
		_ = c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete()
		c.tier.recordMiss(start)
		return nil, types.Errorf(types.ErrEntryNotFound, "key expired: %s", key)
	}

	atomic.AddUint64(&c.loads, 1)
	c.tier.recordHit(start)
	return entry, nil
}

func (c *CloverStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	stored := entry.Clone()
	if stored.Timestamp == 0 {
		stored.Timestamp = c.clock.NowMS()
	}
	if stored.TTL == 0 {
		stored.TTL = c.defaultTTL
	}

	exists, err := c.Exists(ctx, stored.Key)
	if err != nil {
		return err
	}
	if exists {
		err = c.db.Query(cloverCollection).
			Where(clover.Field("key").Eq(stored.Key)).
			Update(entryToFields(stored))
		if err != nil {
			atomic.AddUint64(&c.failed, 1)
			return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "document update failed")
		}
		atomic.AddUint64(&c.saves, 1)
		return nil
	}

	doc := clover.NewDocument()
	doc.Set("_internal_id", uuid.NewString())
	for field, value := range entryToFields(stored) {
		doc.Set(field, value)
	}

	if err := c.db.Insert(cloverCollection, doc); err != nil {
		atomic.AddUint64(&c.failed, 1)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "document insert failed")
	}
	atomic.AddUint64(&c.saves, 1)
	return nil
}

func (c *CloverStore) Update(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	exists, err := c.Exists(ctx, entry.Key)
	if err != nil {
		return err
	}
	if !exists {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", entry.Key)
	}
	return c.Set(ctx, entry)
}

func (c *CloverStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	doc, err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "document lookup failed")
	}
	if doc == nil {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}

	if err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete(); err != nil {
		atomic.AddUint64(&c.failed, 1)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "document delete failed")
	}
	return nil
}

func (c *CloverStore) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	doc, err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		return false, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "document lookup failed")
	}
	if doc == nil {
		return false, nil
	}

	entry, err := documentToEntry(doc)
	if err != nil {
		return false, err
	}
	return !entry.Expired(c.clock.NowMS()), nil
}

func (c *CloverStore) EvictExpired(_ context.Context) error {
	now := int64(c.clock.NowMS())

	docs, err := c.db.Query(cloverCollection).FindAll()
	if err != nil {
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "expiry scan failed")
	}

	removed := uint64(0)
	for _, doc := range docs {
		entry, err := documentToEntry(doc)
		if err != nil {
			continue
		}
		if entry.Expired(uint64(now)) {
			if err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(entry.Key)).Delete(); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		c.tier.recordEvictions(removed)
		if c.logger != nil {
			c.logger.Debug("Swept expired documents", zap.Uint64("removed", removed))
		}
	}
	return nil
}

func (c *CloverStore) SaveBatch(ctx context.Context, entries []*types.CacheEntry) error {
	for _, entry := range entries {
		if err := c.Set(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *CloverStore) LoadBatch(_ context.Context, offset, count uint32) ([]*types.CacheEntry, uint32, error) {
	query := c.db.Query(cloverCollection).
		Sort(clover.SortOption{Field: "usage_count", Direction: -1}).
		Skip(int(offset))
	if count > 0 {
		query = query.Limit(int(count))
	}

	docs, err := query.FindAll()
	if err != nil {
		atomic.AddUint64(&c.failed, 1)
		return nil, 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "batch query failed")
	}

	now := c.clock.NowMS()
	var entries []*types.CacheEntry
	for _, doc := range docs {
		entry, err := documentToEntry(doc)
		if err != nil {
			continue
		}
		if entry.Expired(now) {
			continue
		}
		entries = append(entries, entry)
	}

	atomic.AddUint64(&c.loads, uint64(len(entries)))
	return entries, uint32(len(entries)), nil
}

func (c *CloverStore) SaveAll(_ context.Context) error {
	// Documents are durable on insert; nothing buffered to flush.
	return nil
}

func (c *CloverStore) ClearAll(_ context.Context) error {
	if err := c.db.Query(cloverCollection).Delete(); err != nil {
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "clear failed")
	}
	return nil
}

func (c *CloverStore) Stats() types.StorageStats {
	return types.StorageStats{
		TotalSaves: atomic.LoadUint64(&c.saves),
		TotalLoads: atomic.LoadUint64(&c.loads),
		FailedOps:  atomic.LoadUint64(&c.failed),
	}
}

func (c *CloverStore) Metrics() types.TierMetrics {
	var size uint32
	if c.db != nil {
		if n, err := c.db.Query(cloverCollection).Count(); err == nil && n >= 0 {
			size = uint32(n)
		}
	}
	return c.tier.snapshot(size)
}

func entryToFields(entry *types.CacheEntry) map[string]interface{} {
	return map[string]interface{}{
		"key":         entry.Key,
		"source_text": entry.SourceText,
		"source_lang": entry.SourceLang,
		"target_lang": entry.TargetLang,
		"translation": entry.Translation,
		"timestamp":   int64(entry.Timestamp),
		"ttl":         int64(entry.TTL),
		"flags":       int64(entry.Flags),
		"confidence":  float64(entry.Confidence),
		"usage_count": int64(entry.Metadata.UsageCount),
		"last_used":   int64(entry.Metadata.LastUsed),
		"context":     entry.Metadata.Context,
	}
}

func documentToEntry(doc *clover.Document) (*types.CacheEntry, error) {
	var raw cloverEntry
	if err := doc.Unmarshal(&raw); err != nil {
		return nil, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "document decode failed")
	}

	return &types.CacheEntry{
		Key:         raw.Key,
		SourceText:  raw.SourceText,
		SourceLang:  raw.SourceLang,
		TargetLang:  raw.TargetLang,
		Translation: raw.Translation,
		Timestamp:   uint64(raw.Timestamp),
		TTL:         uint32(raw.TTL),
		Flags:       uint32(raw.Flags),
		Confidence:  float32(raw.Confidence),
		Metadata: types.EntryMetadata{
			UsageCount: uint32(raw.UsageCount),
			LastUsed:   uint64(raw.LastUsed),
			Context:    raw.Context,
		},
	}, nil
}
