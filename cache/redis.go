package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-translation-cache/types"
	"github.com/saiset-co/sai-translation-cache/utils"
)

// RemoteStore is the redis-backed middle tier. Entries are stored as JSON
// payloads under prefixed keys with a native server-side expiry, so this tier
// never runs its own sweep. Commands go through a bounded checkout/return
// pool of dedicated connections.
type RemoteStore struct {
	config     *types.RemoteConfig
	defaultTTL uint32
	logger     types.Logger
	clock      types.Clock

	client *redis.Client

	poolMu sync.RWMutex
	pool   *ConnPool

	schemaVersion uint32
	stats         tierStats
	started       int32
}

func NewRemoteStore(config *types.RemoteConfig, defaultTTLMS uint32, logger types.Logger, clock types.Clock) (*RemoteStore, error) {
	if config == nil || !config.Enabled {
		return nil, types.Errorf(types.ErrTierDisabled, "remote tier")
	}

	cfg := *config
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
	if cfg.TimeoutMS == 0 {
		cfg.TimeoutMS = 5000
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "tcl"
	}

	if clock == nil {
		clock = types.NewSystemClock()
	}
	if defaultTTLMS == 0 {
		defaultTTLMS = 3600000
	}

	store := &RemoteStore{
		config:     &cfg,
		defaultTTL: defaultTTLMS,
		logger:     logger,
		clock:      clock,
	}

	client, err := store.buildClient()
	if err != nil {
		return nil, err
	}
	store.client = client

	return store, nil
}

func (r *RemoteStore) buildClient() (*redis.Client, error) {
	timeout := time.Duration(r.config.TimeoutMS) * time.Millisecond

	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     int(r.config.PoolSize),
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	if r.config.EnableTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if r.config.TLSCertFile != "" {
			pem, err := os.ReadFile(r.config.TLSCertFile)
			if err != nil {
				return nil, types.WrapError(err, "failed to read tls cert file")
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, types.Errorf(types.ErrInvalidParam, "no certificates in %s", r.config.TLSCertFile)
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLSConfig = tlsConfig
	}

	return redis.NewClient(opts), nil
}

func (r *RemoteStore) Name() string { return "remote" }

func (r *RemoteStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.config.TimeoutMS)*time.Millisecond)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&r.started, 0)
		return types.WrapError(types.Errorf(types.ErrNetwork, "%v", err), "failed to reach remote store")
	}

	conn := r.client.Conn()
	version, err := ensureSchema(ctx, conn, r.config.KeyPrefix, r.logger)
	if err == nil {
		r.configurePersistence(ctx, conn)
	}
	_ = conn.Close()
	if err != nil {
		atomic.StoreInt32(&r.started, 0)
		return err
	}
	atomic.StoreUint32(&r.schemaVersion, version)

	pool, err := NewConnPool(r.client, r.config.PoolSize, time.Duration(r.config.TimeoutMS)*time.Millisecond, r.logger)
	if err != nil {
		atomic.StoreInt32(&r.started, 0)
		return err
	}

	r.poolMu.Lock()
	r.pool = pool
	r.poolMu.Unlock()

	if r.logger != nil {
		r.logger.Info("Remote tier started",
			zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
			zap.Uint32("pool_size", r.config.PoolSize),
			zap.Uint32("schema_version", version))
	}
	return nil
}

func (r *RemoteStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	r.poolMu.Lock()
	if r.pool != nil {
		_ = r.pool.Close()
		r.pool = nil
	}
	r.poolMu.Unlock()

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close remote client")
	}
	return nil
}

func (r *RemoteStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

// configurePersistence pushes the snapshot policy from config to the server.
// Managed deployments often forbid CONFIG, so failures only warn.
func (r *RemoteStore) configurePersistence(ctx context.Context, conn *redis.Conn) {
	schema := r.config.Schema
	if schema == nil || !schema.Enabled {
		return
	}

	if schema.SaveIntervalS > 0 && schema.MinChanges > 0 {
		save := fmt.Sprintf("%d %d", schema.SaveIntervalS, schema.MinChanges)
		if err := conn.ConfigSet(ctx, "save", save).Err(); err != nil && r.logger != nil {
			r.logger.Warn("Failed to set snapshot policy", zap.String("save", save), zap.Error(err))
		}
	}

	if schema.SnapshotFilename != "" {
		if err := conn.ConfigSet(ctx, "dbfilename", schema.SnapshotFilename).Err(); err != nil && r.logger != nil {
			r.logger.Warn("Failed to set snapshot filename",
				zap.String("dbfilename", schema.SnapshotFilename),
				zap.Error(err))
		}
	}
}

// Ping checks reachability of the remote service. Used by the health checker.
func (r *RemoteStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return types.Errorf(types.ErrNetwork, "%v", err)
	}
	return nil
}

func (r *RemoteStore) checkout(ctx context.Context) (*ConnPool, *PooledConn, error) {
	r.poolMu.RLock()
	pool := r.pool
	r.poolMu.RUnlock()

	if pool == nil {
		return nil, nil, types.ErrNotInitialized
	}
	pc, err := pool.Checkout(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pool, pc, nil
}

func (r *RemoteStore) fullKey(key string) string {
	return r.config.KeyPrefix + ":" + key
}

func (r *RemoteStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	start := time.Now()
	pool, pc, err := r.checkout(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := pc.Conn().Get(ctx, r.fullKey(key)).Result()
	pool.Return(pc, err)

	if err != nil {
		r.stats.recordMiss(start)
		if types.IsError(err, redis.Nil) {
			return nil, types.Errorf(types.ErrEntryNotFound, "key: %s", key)
		}
		return nil, types.WrapError(types.Errorf(types.ErrRemoteService, "%v", err), "remote get failed")
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal(utils.StringToBytes(raw), &entry); err != nil {
		r.stats.recordMiss(start)
		// Unreadable payload; drop it so it cannot poison future reads.
		_ = r.Delete(ctx, key)
		return nil, types.WrapError(err, "failed to unmarshal remote entry")
	}

	// The server expires at second granularity; re-check the millisecond
	// window here.
	if entry.Expired(r.clock.NowMS()) {
		r.stats.recordMiss(start)
		_ = r.Delete(ctx, key)
		return nil, types.Errorf(types.ErrEntryNotFound, "key expired: %s", key)
	}

	r.stats.recordHit(start)
	return &entry, nil
}

func (r *RemoteStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	stored := entry.Clone()
	if stored.Timestamp == 0 {
		stored.Timestamp = r.clock.NowMS()
	}
	if stored.TTL == 0 {
		stored.TTL = r.defaultTTL
	}

	payload, err := utils.Marshal(stored)
	if err != nil {
		return types.WrapError(err, "failed to marshal entry")
	}

	// Millisecond TTLs round down to whole seconds, but never to zero: a zero
	// expiry would persist the key forever.
	seconds := stored.TTL / 1000
	if seconds == 0 {
		seconds = 1
	}

	pool, pc, err := r.checkout(ctx)
	if err != nil {
		return err
	}

	err = pc.Conn().Set(ctx, r.fullKey(stored.Key), payload, time.Duration(seconds)*time.Second).Err()
	pool.Return(pc, err)

	if err != nil {
		return types.WrapError(types.Errorf(types.ErrRemoteService, "%v", err), "remote set failed")
	}
	return nil
}

func (r *RemoteStore) Update(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.Errorf(types.ErrInvalidParam, "entry is nil")
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	exists, err := r.Exists(ctx, entry.Key)
	if err != nil {
		return err
	}
	if !exists {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", entry.Key)
	}
	return r.Set(ctx, entry)
}

func (r *RemoteStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	pool, pc, err := r.checkout(ctx)
	if err != nil {
		return err
	}

	removed, err := pc.Conn().Del(ctx, r.fullKey(key)).Result()
	pool.Return(pc, err)

	if err != nil {
		return types.WrapError(types.Errorf(types.ErrRemoteService, "%v", err), "remote delete failed")
	}
	if removed == 0 {
		return types.Errorf(types.ErrEntryNotFound, "key: %s", key)
	}
	return nil
}

func (r *RemoteStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	pool, pc, err := r.checkout(ctx)
	if err != nil {
		return false, err
	}

	count, err := pc.Conn().Exists(ctx, r.fullKey(key)).Result()
	pool.Return(pc, err)

	if err != nil {
		return false, types.WrapError(types.Errorf(types.ErrRemoteService, "%v", err), "remote exists failed")
	}
	return count > 0, nil
}

// EvictExpired is a no-op: the server expires keys natively.
func (r *RemoteStore) EvictExpired(_ context.Context) error {
	return nil
}

// Backup triggers the server's native snapshot and copies the resulting dump
// to backupPath when it is reachable on the local filesystem.
func (r *RemoteStore) Backup(ctx context.Context, backupPath string) error {
	if r.config.Schema == nil || !r.config.Schema.Enabled {
		return types.ErrBackupDisabled
	}
	if backupPath == "" {
		return types.Errorf(types.ErrInvalidParam, "backup path is empty")
	}

	pool, pc, err := r.checkout(ctx)
	if err != nil {
		return err
	}

	err = pc.Conn().Save(ctx).Err()
	pool.Return(pc, err)

	if err != nil {
		return types.WrapError(types.Errorf(types.ErrRemoteService, "%v", err), "snapshot command failed")
	}

	snapshot := r.config.Schema.SnapshotFilename
	if _, err := os.Stat(snapshot); err != nil {
		if r.logger != nil {
			r.logger.Warn("Snapshot file not reachable locally, skipping copy",
				zap.String("snapshot", snapshot))
		}
		return nil
	}

	if err := copyFile(snapshot, backupPath); err != nil {
		return types.WrapError(err, "failed to copy snapshot to backup path")
	}

	if r.logger != nil {
		r.logger.Info("Remote tier backed up", zap.String("path", backupPath))
	}
	return nil
}

// Restore copies a previously taken backup into the snapshot location and
// re-establishes the connection pool so stale handles are not reused.
func (r *RemoteStore) Restore(ctx context.Context, backupPath string) error {
	if r.config.Schema == nil || !r.config.Schema.Enabled {
		return types.ErrBackupDisabled
	}

	if _, err := os.Stat(backupPath); err != nil {
		return types.WrapError(err, "backup file not found: "+backupPath)
	}

	if err := copyFile(backupPath, r.config.Schema.SnapshotFilename); err != nil {
		return types.WrapError(err, "failed to restore snapshot file")
	}

	pool, err := NewConnPool(r.client, r.config.PoolSize, time.Duration(r.config.TimeoutMS)*time.Millisecond, r.logger)
	if err != nil {
		return err
	}

	r.poolMu.Lock()
	old := r.pool
	r.pool = pool
	r.poolMu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return types.WrapError(types.Errorf(types.ErrNetwork, "%v", err), "remote store unreachable after restore")
	}

	if r.logger != nil {
		r.logger.Info("Remote tier restored", zap.String("path", backupPath))
	}
	return nil
}

func (r *RemoteStore) SchemaVersion() uint32 {
	return atomic.LoadUint32(&r.schemaVersion)
}

func (r *RemoteStore) Metrics() types.TierMetrics {
	return r.stats.snapshot(r.currentSize())
}

func (r *RemoteStore) currentSize() uint32 {
	r.poolMu.RLock()
	pool := r.pool
	r.poolMu.RUnlock()
	if pool == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.config.TimeoutMS)*time.Millisecond)
	defer cancel()

	pc, err := pool.Checkout(ctx)
	if err != nil {
		return 0
	}

	count, err := pc.Conn().DBSize(ctx).Result()
	pool.Return(pc, err)
	if err != nil || count < 0 {
		return 0
	}
	return uint32(count)
}

// PoolStats exposes checkout pool health for the stats endpoint.
func (r *RemoteStore) PoolStats() PoolStats {
	r.poolMu.RLock()
	pool := r.pool
	r.poolMu.RUnlock()
	if pool == nil {
		return PoolStats{}
	}
	return pool.Stats()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
