package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-translation-cache/types"
)

const connErrorThreshold = 3

// PooledConn is one dedicated connection handle. Ownership is exclusive
// between Checkout and Return; the pool never hands the same handle to two
// callers at once.
type PooledConn struct {
	ID         string
	conn       *redis.Conn
	lastUsed   time.Time
	errorCount uint32
}

func (p *PooledConn) Conn() *redis.Conn { return p.conn }

// ConnPool is a bounded pool of dedicated connections on top of a shared
// client. Checkout blocks up to the configured timeout when every handle is
// in use, so concurrent load can never open more than pool_size connections.
type ConnPool struct {
	client          *redis.Client
	logger          types.Logger
	size            uint32
	checkoutTimeout time.Duration
	conns           chan *PooledConn

	mu       sync.Mutex
	closed   bool
	timeouts uint64
	recycled uint64
}

func NewConnPool(client *redis.Client, size uint32, checkoutTimeout time.Duration, logger types.Logger) (*ConnPool, error) {
	if client == nil {
		return nil, types.Errorf(types.ErrInvalidParam, "redis client is nil")
	}
	if size == 0 {
		return nil, types.Errorf(types.ErrInvalidParam, "pool size must be positive")
	}

	pool := &ConnPool{
		client:          client,
		logger:          logger,
		size:            size,
		checkoutTimeout: checkoutTimeout,
		conns:           make(chan *PooledConn, size),
	}

	for i := uint32(0); i < size; i++ {
		pool.conns <- &PooledConn{
			ID:       uuid.NewString(),
			conn:     client.Conn(),
			lastUsed: time.Now(),
		}
	}

	return pool, nil
}

// Checkout hands out a free connection, waiting up to the checkout timeout.
func (p *ConnPool) Checkout(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.ErrPoolClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.checkoutTimeout)
	defer timer.Stop()

	select {
	case pc, ok := <-p.conns:
		if !ok {
			return nil, types.ErrPoolClosed
		}
		return pc, nil
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "connection checkout cancelled")
	case <-timer.C:
		p.mu.Lock()
		p.timeouts++
		p.mu.Unlock()
		return nil, types.Errorf(types.ErrPoolTimeout, "no connection available within %s", p.checkoutTimeout)
	}
}

// Return gives the connection back. opErr is the outcome of the work done
// with the handle; a run of failures gets the underlying connection replaced
// before it re-enters rotation.
func (p *ConnPool) Return(pc *PooledConn, opErr error) {
	if pc == nil {
		return
	}

	pc.lastUsed = time.Now()
	if opErr != nil && !types.IsError(opErr, redis.Nil) {
		pc.errorCount++
	} else {
		pc.errorCount = 0
	}

	if pc.errorCount >= connErrorThreshold {
		p.recycle(pc)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		_ = pc.conn.Close()
		return
	}

	select {
	case p.conns <- pc:
	default:
		// Double return; drop the handle rather than block.
		_ = pc.conn.Close()
	}
}

func (p *ConnPool) recycle(pc *PooledConn) {
	if p.logger != nil {
		p.logger.Warn("Recycling connection after repeated failures",
			zap.String("conn_id", pc.ID),
			zap.Uint32("error_count", pc.errorCount))
	}

	_ = pc.conn.Close()
	pc.conn = p.client.Conn()
	pc.ID = uuid.NewString()
	pc.errorCount = 0

	p.mu.Lock()
	p.recycled++
	p.mu.Unlock()
}

func (p *ConnPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.ErrPoolClosed
	}
	p.closed = true
	p.mu.Unlock()

	close(p.conns)
	for pc := range p.conns {
		_ = pc.conn.Close()
	}
	return nil
}

type PoolStats struct {
	Size      uint32 `json:"size"`
	Available uint32 `json:"available"`
	Timeouts  uint64 `json:"timeouts"`
	Recycled  uint64 `json:"recycled"`
}

func (p *ConnPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Size:      p.size,
		Available: uint32(len(p.conns)),
		Timeouts:  p.timeouts,
		Recycled:  p.recycled,
	}
}
