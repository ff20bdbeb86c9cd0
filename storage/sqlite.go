package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-translation-cache/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key         TEXT PRIMARY KEY,
	source_text TEXT NOT NULL,
	source_lang TEXT NOT NULL,
	target_lang TEXT NOT NULL,
	translation TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	ttl         INTEGER NOT NULL,
	flags       INTEGER NOT NULL,
	confidence  REAL NOT NULL,
	usage_count INTEGER NOT NULL,
	last_used   INTEGER NOT NULL,
	context     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_entries_expiry ON entries (timestamp, ttl);
`

const sqliteUpsert = `
INSERT INTO entries
	(key, source_text, source_lang, target_lang, translation,
	 timestamp, ttl, flags, confidence, usage_count, last_used, context)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	source_text = excluded.source_text,
	translation = excluded.translation,
	timestamp   = excluded.timestamp,
	ttl         = excluded.ttl,
	flags       = excluded.flags,
	confidence  = excluded.confidence,
	usage_count = excluded.usage_count,
	last_used   = excluded.last_used,
	context     = excluded.context
`

const sqliteColumns = `key, source_text, source_lang, target_lang, translation,
	timestamp, ttl, flags, confidence, usage_count, last_used, context`

// SqliteStore is the sql-backed persistent tier. One row per entry, upsert on
// set, expiry enforced with a delete sweep.
type SqliteStore struct {
	config     *types.StorageConfig
	defaultTTL uint32
	logger     types.Logger
	clock      types.Clock

	db *sql.DB

	saves   uint64
	loads   uint64
	failed  uint64
	tier    tierCounters
	started int32
}

func NewSqliteStore(config *types.StorageConfig, defaultTTLMS uint32, logger types.Logger, clock types.Clock) (*SqliteStore, error) {
	if config == nil || !config.Enabled {
		return nil, types.Errorf(types.ErrTierDisabled, "persistent tier")
	}

	cfg := *config
	if cfg.Path == "" {
		cfg.Path = "./translation_cache"
	}
	if clock == nil {
		clock = types.NewSystemClock()
	}
	if defaultTTLMS == 0 {
		defaultTTLMS = 3600000
	}

	return &SqliteStore{
		config:     &cfg,
		defaultTTL: defaultTTLMS,
		logger:     logger,
		clock:      clock,
	}, nil
}

func (s *SqliteStore) Name() string { return "persistent" }

func (s *SqliteStore) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	if err := os.MkdirAll(s.config.Path, 0o755); err != nil {
		atomic.StoreInt32(&s.started, 0)
		return types.WrapError(err, "failed to create storage directory")
	}

	dbPath := filepath.Join(s.config.Path, "translation_cache.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		atomic.StoreInt32(&s.started, 0)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to open database")
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		atomic.StoreInt32(&s.started, 0)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to apply database schema")
	}

	s.db = db
	if s.logger != nil {
		s.logger.Info("Persistent tier started", zap.String("db", dbPath))
	}
	return nil
}

func (s *SqliteStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return types.ErrServerNotRunning
	}
	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close database")
	}
	return nil
}

func (s *SqliteStore) IsRunning() bool {
	return atomic.LoadInt32(&s.started) == 1
}

func (s *SqliteStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	start := time.Now()
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteColumns+" FROM entries WHERE key = ?", key)

	entry, err := scanEntry(row)
	if err != nil {
		s.tier.recordMiss(start)
		if types.IsError(err, sql.ErrNoRows) {
			return nil, types.Errorf(types.ErrEntryNotFound, "key: %s", key)
		}
		atomic.AddUint64(&s.failed, 1)
		return nil, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "select failed")
	}

	if entry.Expired(s.clock.NowMS()) {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key)
		s.tier.recordMiss(start)
		return nil, types.Errorf(types.ErrEntryNotFound, "key expired: %s", key)
	}

	atomic.AddUint64(&s.loads, 1)
	s.tier.recordHit(start)
	return entry, nil
}

func (s *SqliteStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	stored := entry.Clone()
	if stored.Timestamp == 0 {
		stored.Timestamp = s.clock.NowMS()
	}
	if stored.TTL == 0 {
		stored.TTL = s.defaultTTL
	}

	if _, err := s.db.ExecContext(ctx, sqliteUpsert, upsertArgs(stored)...); err != nil {
		atomic.AddUint64(&s.failed, 1)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "upsert failed")
	}
	atomic.AddUint64(&s.saves, 1)
	return nil
}

func (s *SqliteStore) Update(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET
			source_text = ?, translation = ?, timestamp = ?, ttl = ?,
			flags = ?, confidence = ?, usage_count = ?, last_used = ?, context = ?
		WHERE key = ?`,
		entry.SourceText, entry.Translation, entry.Timestamp, entry.TTL,
		entry.Flags, entry.Confidence, entry.Metadata.UsageCount,
		entry.Metadata.LastUsed, entry.Metadata.Context, entry.Key)
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "update failed")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return types.WrapError(err, "failed to read affected rows")
	}
	if affected == 0 {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", entry.Key)
	}
	atomic.AddUint64(&s.saves, 1)
	return nil
}

func (s *SqliteStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key)
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "delete failed")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return types.WrapError(err, "failed to read affected rows")
	}
	if affected == 0 {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}
	return nil
}

func (s *SqliteStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	now := s.clock.NowMS()
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM entries WHERE key = ? AND (? <= timestamp OR ? - timestamp <= ttl)",
		key, now, now).Scan(&one)
	if types.IsError(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "exists failed")
	}
	return true, nil
}

func (s *SqliteStore) EvictExpired(ctx context.Context) error {
	now := s.clock.NowMS()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM entries WHERE ? > timestamp AND ? - timestamp > ttl", now, now)
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "expiry sweep failed")
	}

	if removed, err := res.RowsAffected(); err == nil && removed > 0 {
		s.tier.recordEvictions(uint64(removed))
		if s.logger != nil {
			s.logger.Debug("Swept expired rows", zap.Int64("removed", removed))
		}
	}
	return nil
}

func (s *SqliteStore) SaveBatch(ctx context.Context, entries []*types.CacheEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to begin transaction")
	}

	for _, entry := range entries {
		stored := entry.Clone()
		if stored.Timestamp == 0 {
			stored.Timestamp = s.clock.NowMS()
		}
		if stored.TTL == 0 {
			stored.TTL = s.defaultTTL
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsert, upsertArgs(stored)...); err != nil {
			_ = tx.Rollback()
			atomic.AddUint64(&s.failed, 1)
			return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "batch upsert failed")
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&s.failed, 1)
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "failed to commit batch")
	}
	atomic.AddUint64(&s.saves, uint64(len(entries)))
	return nil
}

func (s *SqliteStore) LoadBatch(ctx context.Context, offset, count uint32) ([]*types.CacheEntry, uint32, error) {
	now := s.clock.NowMS()
	// count == 0 means all remaining rows; LIMIT -1 is sqlite's "no limit".
	limit := int64(count)
	if count == 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteColumns+` FROM entries
		 WHERE (? <= timestamp OR ? - timestamp <= ttl)
		 ORDER BY usage_count DESC, last_used DESC
		 LIMIT ? OFFSET ?`,
		now, now, limit, int64(offset))
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		return nil, 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "batch select failed")
	}
	defer rows.Close()

	var entries []*types.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "row scan failed")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "row iteration failed")
	}

	atomic.AddUint64(&s.loads, uint64(len(entries)))
	return entries, uint32(len(entries)), nil
}

// SaveAll checkpoints the write-ahead log so everything committed is in the
// main database file.
func (s *SqliteStore) SaveAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "checkpoint failed")
	}
	return nil
}

func (s *SqliteStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return types.WrapError(types.Errorf(types.ErrStorage, "%v", err), "clear failed")
	}
	return nil
}

func (s *SqliteStore) Stats() types.StorageStats {
	return types.StorageStats{
		TotalSaves: atomic.LoadUint64(&s.saves),
		TotalLoads: atomic.LoadUint64(&s.loads),
		FailedOps:  atomic.LoadUint64(&s.failed),
	}
}

func (s *SqliteStore) Metrics() types.TierMetrics {
	var size uint32
	if s.db != nil {
		var n int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err == nil && n >= 0 {
			size = uint32(n)
		}
	}
	return s.tier.snapshot(size)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*types.CacheEntry, error) {
	var entry types.CacheEntry
	err := row.Scan(
		&entry.Key, &entry.SourceText, &entry.SourceLang, &entry.TargetLang,
		&entry.Translation, &entry.Timestamp, &entry.TTL, &entry.Flags,
		&entry.Confidence, &entry.Metadata.UsageCount, &entry.Metadata.LastUsed,
		&entry.Metadata.Context)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func upsertArgs(entry *types.CacheEntry) []interface{} {
	return []interface{}{
		entry.Key, entry.SourceText, entry.SourceLang, entry.TargetLang,
		entry.Translation, entry.Timestamp, entry.TTL, entry.Flags,
		entry.Confidence, entry.Metadata.UsageCount, entry.Metadata.LastUsed,
		entry.Metadata.Context,
	}
}
