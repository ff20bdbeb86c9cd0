package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-translation-cache/types"
	"github.com/saiset-co/sai-translation-cache/utils"
)

const (
	batchMagic   uint32 = 0x54434C42 // "TCLB"
	batchVersion uint32 = 1

	batchPrefix  = "batch_"
	batchSuffix  = ".bin"
	metadataFile = "metadata.bin"

	// Length sanity caps; anything past these means a corrupt file, not a
	// legitimate entry.
	maxKeyLen   = 1 << 16
	maxValueLen = 1 << 24
)

// entryPayload is the value side of an on-disk record. Key, timestamp, ttl
// and flags live in the fixed binary fields; everything else rides in here.
type entryPayload struct {
	SourceText  string              `json:"source_text"`
	SourceLang  string              `json:"source_lang"`
	TargetLang  string              `json:"target_lang"`
	Translation string              `json:"translation"`
	Confidence  float32             `json:"confidence,omitempty"`
	Metadata    types.EntryMetadata `json:"metadata"`
}

// BatchStore persists entries as immutable timestamp-named batch files. The
// model is single-generation: each flush writes a full snapshot and removes
// superseded files, and reads only ever consult the pending buffer and the
// newest batch.
type BatchStore struct {
	config     *types.StorageConfig
	defaultTTL uint32
	logger     types.Logger
	clock      types.Clock

	mu         sync.Mutex
	pending    []*types.CacheEntry
	pendingIdx map[string]int
	backupHook func(ctx context.Context, path string) error

	// stats has its own lock so file reads can account bytes while mu is
	// held by a flush.
	statsMu sync.Mutex
	stats   types.StorageStats

	tier    tierCounters
	started int32
}

func NewBatchStore(config *types.StorageConfig, defaultTTLMS uint32, logger types.Logger, clock types.Clock) (*BatchStore, error) {
	if config == nil || !config.Enabled {
		return nil, types.Errorf(types.ErrTierDisabled, "persistent tier")
	}

	cfg := *config
	if cfg.Path == "" {
		cfg.Path = "./translation_cache"
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 100
	}

	if clock == nil {
		clock = types.NewSystemClock()
	}
	if defaultTTLMS == 0 {
		defaultTTLMS = 3600000
	}

	return &BatchStore{
		config:     &cfg,
		defaultTTL: defaultTTLMS,
		logger:     logger,
		clock:      clock,
		pendingIdx: make(map[string]int),
	}, nil
}

// SetBackupHook wires the remote tier's snapshot into SaveAll.
func (b *BatchStore) SetBackupHook(hook func(ctx context.Context, path string) error) {
	b.mu.Lock()
	b.backupHook = hook
	b.mu.Unlock()
}

func (b *BatchStore) Name() string { return "persistent" }

func (b *BatchStore) Start() error {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	if err := os.MkdirAll(b.config.Path, 0o755); err != nil {
		atomic.StoreInt32(&b.started, 0)
		return types.WrapError(err, "failed to create storage directory")
	}

	if b.logger != nil {
		b.logger.Info("Persistent tier started", zap.String("path", b.config.Path))
	}
	return nil
}

func (b *BatchStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		if err := b.flushLocked(); err != nil {
			return types.WrapError(err, "failed to flush pending entries on stop")
		}
	}
	return nil
}

func (b *BatchStore) IsRunning() bool {
	return atomic.LoadInt32(&b.started) == 1
}

func (b *BatchStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	start := time.Now()
	now := b.clock.NowMS()

	b.mu.Lock()
	if idx, ok := b.pendingIdx[key]; ok {
		entry := b.pending[idx]
		if entry.Expired(now) {
			b.removePendingLocked(idx)
			b.mu.Unlock()
			b.tier.recordMiss(start)
			return nil, types.Errorf(types.ErrEntryNotFound, "key expired: %s", key)
		}
		out := entry.Clone()
		b.mu.Unlock()
		b.tier.recordHit(start)
		return out, nil
	}
	b.mu.Unlock()

	entries, err := b.readNewestBatch(ctx)
	if err != nil {
		b.tier.recordMiss(start)
		if types.IsError(err, types.ErrBatchNotFound) {
			return nil, types.Errorf(types.ErrEntryNotFound, "key: %s", key)
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.Key == key && !entry.Expired(now) {
			b.tier.recordHit(start)
			return entry, nil
		}
	}

	b.tier.recordMiss(start)
	return nil, types.Errorf(types.ErrEntryNotFound, "key: %s", key)
}

// Set buffers the entry; the buffer flushes to a new batch file once it
// reaches max_batch_size.
func (b *BatchStore) Set(_ context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	stored := entry.Clone()
	if stored.Timestamp == 0 {
		stored.Timestamp = b.clock.NowMS()
	}
	if stored.TTL == 0 {
		stored.TTL = b.defaultTTL
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.pendingIdx[stored.Key]; ok {
		b.pending[idx] = stored
	} else {
		b.pending = append(b.pending, stored)
		b.pendingIdx[stored.Key] = len(b.pending) - 1
	}
	b.setPendingCount(uint32(len(b.pending)))

	if uint32(len(b.pending)) >= b.config.MaxBatchSize {
		return b.flushLocked()
	}
	return nil
}

func (b *BatchStore) Update(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	exists, err := b.Exists(ctx, entry.Key)
	if err != nil {
		return err
	}
	if !exists {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", entry.Key)
	}
	return b.Set(ctx, entry)
}

// Delete drops the key from the pending buffer and, when the newest batch
// holds it, rewrites the snapshot without it.
func (b *BatchStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	found := false

	b.mu.Lock()
	if idx, ok := b.pendingIdx[key]; ok {
		b.removePendingLocked(idx)
		found = true
	}
	b.mu.Unlock()

	entries, err := b.readNewestBatch(ctx)
	if err != nil && !types.IsError(err, types.ErrBatchNotFound) {
		return err
	}

	kept := entries[:0]
	inBatch := false
	for _, entry := range entries {
		if entry.Key == key {
			inBatch = true
			continue
		}
		kept = append(kept, entry)
	}

	if inBatch {
		if err := b.SaveBatch(ctx, kept); err != nil {
			return err
		}
		found = true
	}

	if !found {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}
	return nil
}

func (b *BatchStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	now := b.clock.NowMS()

	b.mu.Lock()
	if idx, ok := b.pendingIdx[key]; ok {
		alive := !b.pending[idx].Expired(now)
		b.mu.Unlock()
		return alive, nil
	}
	b.mu.Unlock()

	entries, err := b.readNewestBatch(ctx)
	if err != nil {
		if types.IsError(err, types.ErrBatchNotFound) {
			return false, nil
		}
		return false, err
	}

	for _, entry := range entries {
		if entry.Key == key && !entry.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// EvictExpired drops expired entries from the pending buffer and compacts the
// newest batch when it carries any.
func (b *BatchStore) EvictExpired(ctx context.Context) error {
	now := b.clock.NowMS()
	removed := uint64(0)

	b.mu.Lock()
	for i := 0; i < len(b.pending); {
		if b.pending[i].Expired(now) {
			b.removePendingLocked(i)
			removed++
			continue
		}
		i++
	}
	b.mu.Unlock()

	entries, err := b.readNewestBatch(ctx)
	if err != nil {
		if types.IsError(err, types.ErrBatchNotFound) {
			b.tier.recordEvictions(removed)
			return nil
		}
		return err
	}

	kept := entries[:0]
	for _, entry := range entries {
		if entry.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}

	if len(kept) != len(entries) {
		if err := b.SaveBatch(ctx, kept); err != nil {
			return err
		}
	}

	b.tier.recordEvictions(removed)
	return nil
}

// SaveBatch writes one immutable batch file named by the current millisecond
// timestamp, then removes superseded batches. The file is written to a temp
// name and renamed into place so readers never observe a partial batch.
func (b *BatchStore) SaveBatch(ctx context.Context, entries []*types.CacheEntry) error {
	select {
	case <-ctx.Done():
		return types.WrapError(ctx.Err(), "save batch cancelled")
	default:
	}

	filename := fmt.Sprintf("%s%d%s", batchPrefix, b.clock.NowMS(), batchSuffix)
	target := filepath.Join(b.config.Path, filename)

	written, err := b.writeBatchFile(target, entries)
	if err != nil {
		b.statsMu.Lock()
		b.stats.FailedOps++
		b.statsMu.Unlock()
		return err
	}

	b.statsMu.Lock()
	b.stats.TotalSaves++
	b.stats.BytesWritten += uint64(written)
	b.stats.LastSaveTime = b.clock.NowMS()
	b.statsMu.Unlock()

	if err := b.removeOlderBatches(target); err != nil && b.logger != nil {
		b.logger.Warn("Failed to remove superseded batch files", zap.Error(err))
	}

	if b.logger != nil {
		b.logger.Debug("Saved batch",
			zap.String("file", filename),
			zap.Int("entries", len(entries)),
			zap.Int("bytes", written))
	}
	return nil
}

// LoadBatch reads from the newest batch file, skipping offset entries and
// returning up to count. Expired entries are filtered out and do not count
// toward the returned total.
func (b *BatchStore) LoadBatch(ctx context.Context, offset, count uint32) ([]*types.CacheEntry, uint32, error) {
	entries, err := b.readNewestBatch(ctx)
	if err != nil {
		return nil, 0, err
	}

	now := b.clock.NowMS()
	alive := entries[:0]
	for _, entry := range entries {
		if !entry.Expired(now) {
			alive = append(alive, entry)
		}
	}

	if offset >= uint32(len(alive)) {
		return nil, 0, nil
	}
	alive = alive[offset:]
	if count > 0 && count < uint32(len(alive)) {
		alive = alive[:count]
	}

	return alive, uint32(len(alive)), nil
}

// SaveAll flushes the pending buffer, invokes the remote backup hook when one
// is wired, and snapshots tier metadata.
func (b *BatchStore) SaveAll(ctx context.Context) error {
	if b.config.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(b.config.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	b.mu.Lock()
	hook := b.backupHook
	var flushErr error
	if len(b.pending) > 0 {
		flushErr = b.flushLocked()
	}
	b.mu.Unlock()

	if flushErr != nil {
		return flushErr
	}

	if hook != nil {
		backupPath := filepath.Join(b.config.Path, "remote_snapshot.rdb")
		if err := hook(ctx, backupPath); err != nil && b.logger != nil {
			b.logger.Warn("Remote backup hook failed", zap.Error(err))
		}
	}

	if err := b.writeMetadata(); err != nil {
		return err
	}

	b.setPendingCount(0)
	return nil
}

// ClearAll removes every batch file and the metadata snapshot.
func (b *BatchStore) ClearAll(_ context.Context) error {
	b.mu.Lock()
	b.pending = b.pending[:0]
	b.pendingIdx = make(map[string]int)
	b.mu.Unlock()
	b.setPendingCount(0)

	names, err := os.ReadDir(b.config.Path)
	if err != nil {
		return types.WrapError(err, "failed to list storage directory")
	}

	for _, de := range names {
		if de.IsDir() {
			continue
		}
		if isBatchFile(de.Name()) || de.Name() == metadataFile {
			if err := os.Remove(filepath.Join(b.config.Path, de.Name())); err != nil {
				return types.WrapError(err, "failed to remove "+de.Name())
			}
		}
	}
	return nil
}

func (b *BatchStore) Stats() types.StorageStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *BatchStore) setPendingCount(n uint32) {
	b.statsMu.Lock()
	b.stats.PendingChanges = n
	b.statsMu.Unlock()
}

func (b *BatchStore) Metrics() types.TierMetrics {
	b.mu.Lock()
	size := uint32(len(b.pending))
	b.mu.Unlock()
	return b.tier.snapshot(size)
}

func (b *BatchStore) flushLocked() error {
	if len(b.pending) == 0 {
		return nil
	}

	// Merge the existing snapshot so a flush never loses previously persisted
	// entries.
	existing, err := b.readNewestBatch(context.Background())
	if err != nil && !types.IsError(err, types.ErrBatchNotFound) {
		return err
	}

	merged := make([]*types.CacheEntry, 0, len(existing)+len(b.pending))
	for _, entry := range existing {
		if _, pending := b.pendingIdx[entry.Key]; !pending {
			merged = append(merged, entry)
		}
	}
	merged = append(merged, b.pending...)

	filename := fmt.Sprintf("%s%d%s", batchPrefix, b.clock.NowMS(), batchSuffix)
	target := filepath.Join(b.config.Path, filename)

	written, err := b.writeBatchFile(target, merged)
	if err != nil {
		b.statsMu.Lock()
		b.stats.FailedOps++
		b.statsMu.Unlock()
		return err
	}

	b.statsMu.Lock()
	b.stats.TotalSaves++
	b.stats.BytesWritten += uint64(written)
	b.stats.LastSaveTime = b.clock.NowMS()
	b.stats.PendingChanges = 0
	b.statsMu.Unlock()

	b.pending = b.pending[:0]
	b.pendingIdx = make(map[string]int)

	if err := b.removeOlderBatches(target); err != nil && b.logger != nil {
		b.logger.Warn("Failed to remove superseded batch files", zap.Error(err))
	}
	return nil
}

func (b *BatchStore) removePendingLocked(i int) {
	delete(b.pendingIdx, b.pending[i].Key)
	last := len(b.pending) - 1
	if i != last {
		b.pending[i] = b.pending[last]
		b.pendingIdx[b.pending[i].Key] = i
	}
	b.pending[last] = nil
	b.pending = b.pending[:last]
	b.setPendingCount(uint32(len(b.pending)))
}

func (b *BatchStore) writeBatchFile(target string, entries []*types.CacheEntry) (int, error) {
	var buf bytes.Buffer

	header := []uint32{batchMagic, batchVersion, uint32(len(entries))}
	for _, v := range header {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return 0, types.WrapError(err, "failed to encode batch header")
		}
	}

	for _, entry := range entries {
		if err := b.encodeEntry(&buf, entry); err != nil {
			return 0, err
		}
	}

	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to create batch file")
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to write batch file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to sync batch file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to close batch file")
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to publish batch file")
	}

	return buf.Len(), nil
}

func (b *BatchStore) encodeEntry(buf *bytes.Buffer, entry *types.CacheEntry) error {
	payload, err := utils.Marshal(entryPayload{
		SourceText:  entry.SourceText,
		SourceLang:  entry.SourceLang,
		TargetLang:  entry.TargetLang,
		Translation: entry.Translation,
		Confidence:  entry.Confidence,
		Metadata:    entry.Metadata,
	})
	if err != nil {
		return types.WrapError(err, "failed to encode entry payload")
	}

	flags := entry.Flags &^ types.EntryFlagCompressed
	value := payload
	if b.config.EnableCompression {
		if compressed, ok := compressValue(payload); ok {
			value = compressed
			flags |= types.EntryFlagCompressed
		}
	}

	key := []byte(entry.Key)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(key))); err != nil {
		return types.WrapError(err, "failed to encode key length")
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(value))); err != nil {
		return types.WrapError(err, "failed to encode value length")
	}
	buf.Write(key)
	buf.Write(value)
	if err := binary.Write(buf, binary.LittleEndian, entry.Timestamp); err != nil {
		return types.WrapError(err, "failed to encode timestamp")
	}
	if err := binary.Write(buf, binary.LittleEndian, entry.TTL); err != nil {
		return types.WrapError(err, "failed to encode ttl")
	}
	if err := binary.Write(buf, binary.LittleEndian, flags); err != nil {
		return types.WrapError(err, "failed to encode flags")
	}
	return nil
}

// readNewestBatch decodes the single newest batch file in the storage
// directory. Older batches are invisible.
func (b *BatchStore) readNewestBatch(ctx context.Context) ([]*types.CacheEntry, error) {
	select {
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "batch read cancelled")
	default:
	}

	newest, err := b.newestBatchPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(newest)
	if err != nil {
		b.statsMu.Lock()
		b.stats.FailedOps++
		b.statsMu.Unlock()
		return nil, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to read batch file")
	}

	entries, err := decodeBatch(data)
	if err != nil {
		b.statsMu.Lock()
		b.stats.FailedOps++
		b.statsMu.Unlock()
		return nil, err
	}

	b.statsMu.Lock()
	b.stats.TotalLoads++
	b.stats.BytesRead += uint64(len(data))
	b.statsMu.Unlock()

	return entries, nil
}

func (b *BatchStore) newestBatchPath() (string, error) {
	names, err := os.ReadDir(b.config.Path)
	if err != nil {
		return "", types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to list storage directory")
	}

	var batches []string
	for _, de := range names {
		if !de.IsDir() && isBatchFile(de.Name()) {
			batches = append(batches, de.Name())
		}
	}
	if len(batches) == 0 {
		return "", types.ErrBatchNotFound
	}

	sort.Slice(batches, func(i, j int) bool {
		return batchTimestamp(batches[i]) > batchTimestamp(batches[j])
	})
	return filepath.Join(b.config.Path, batches[0]), nil
}

func (b *BatchStore) removeOlderBatches(keep string) error {
	names, err := os.ReadDir(b.config.Path)
	if err != nil {
		return err
	}

	var firstErr error
	for _, de := range names {
		if de.IsDir() || !isBatchFile(de.Name()) {
			continue
		}
		full := filepath.Join(b.config.Path, de.Name())
		if full == keep {
			continue
		}
		if err := os.Remove(full); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *BatchStore) writeMetadata() error {
	b.statsMu.Lock()
	stats := b.stats
	b.statsMu.Unlock()

	payload, err := utils.Marshal(stats)
	if err != nil {
		return types.WrapError(err, "failed to encode tier metadata")
	}

	target := filepath.Join(b.config.Path, metadataFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to write tier metadata")
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to publish tier metadata")
	}
	return nil
}

func decodeBatch(data []byte) ([]*types.CacheEntry, error) {
	cur := &cursor{data: data}

	magic, err := cur.u32()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated header")
	}
	if magic != batchMagic {
		return nil, types.Errorf(types.ErrInvalidFormat, "bad magic 0x%08x", magic)
	}

	version, err := cur.u32()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated header")
	}
	if version != batchVersion {
		return nil, types.Errorf(types.ErrInvalidFormat, "unsupported version %d", version)
	}

	count, err := cur.u32()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated header")
	}

	entries := make([]*types.CacheEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry, err := decodeEntry(cur)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeEntry(cur *cursor) (*types.CacheEntry, error) {
	keyLen, err := cur.u32()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated entry")
	}
	valueLen, err := cur.u32()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated entry")
	}
	if keyLen > maxKeyLen || valueLen > maxValueLen {
		return nil, types.Errorf(types.ErrInvalidFormat, "implausible lengths key=%d value=%d", keyLen, valueLen)
	}

	key, err := cur.bytes(int(keyLen))
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated key")
	}
	value, err := cur.bytes(int(valueLen))
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated value")
	}

	timestamp, err := cur.u64()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated entry trailer")
	}
	ttl, err := cur.u32()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated entry trailer")
	}
	flags, err := cur.u32()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidFormat, "truncated entry trailer")
	}

	if flags&types.EntryFlagCompressed != 0 {
		decompressed, err := decompressValue(value)
		if err != nil {
			return nil, types.WrapError(types.Errorf(types.ErrInvalidFormat, "%v", err), "failed to decompress value")
		}
		value = decompressed
		flags &^= types.EntryFlagCompressed
	}

	var payload entryPayload
	if err := utils.Unmarshal(value, &payload); err != nil {
		return nil, types.WrapError(types.Errorf(types.ErrInvalidFormat, "%v", err), "failed to decode entry payload")
	}

	return &types.CacheEntry{
		Key:         string(key),
		SourceText:  payload.SourceText,
		SourceLang:  payload.SourceLang,
		TargetLang:  payload.TargetLang,
		Translation: payload.Translation,
		Timestamp:   timestamp,
		TTL:         ttl,
		Flags:       flags,
		Confidence:  payload.Confidence,
		Metadata:    payload.Metadata,
	}, nil
}

func compressValue(value []byte) ([]byte, bool) {
	var out bytes.Buffer
	w := brotli.NewWriter(&out)
	if _, err := w.Write(value); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	// Compression only pays off when it actually shrinks the payload.
	if out.Len() >= len(value) {
		return nil, false
	}
	return out.Bytes(), true
}

func decompressValue(value []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(value)))
}

type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if c.pos+8 > len(c.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.data) {
		return nil, io.ErrUnexpectedEOF
	}
	v := c.data[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

func isBatchFile(name string) bool {
	return strings.HasPrefix(name, batchPrefix) && strings.HasSuffix(name, batchSuffix)
}

func batchTimestamp(name string) uint64 {
	raw := strings.TrimSuffix(strings.TrimPrefix(name, batchPrefix), batchSuffix)
	ts, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
