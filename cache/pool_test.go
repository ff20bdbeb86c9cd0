package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saiset-co/sai-translation-cache/types"
)

func newTestPool(t *testing.T, size uint32, timeout time.Duration) *ConnPool {
	t.Helper()
	// Connections dial lazily, so no server is needed for pool mechanics.
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })

	pool, err := NewConnPool(client, size, timeout, nil)
	if err != nil {
		t.Fatalf("NewConnPool failed: %v", err)
	}
	return pool
}

func TestConnPoolCheckoutReturn(t *testing.T) {
	pool := newTestPool(t, 2, 100*time.Millisecond)
	ctx := context.Background()

	first, err := pool.Checkout(ctx)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := pool.Checkout(ctx)
	if err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("pool handed out the same handle twice")
	}

	if stats := pool.Stats(); stats.Available != 0 {
		t.Fatalf("expected 0 available with all handles out, got %d", stats.Available)
	}

	pool.Return(first, nil)
	pool.Return(second, nil)

	if stats := pool.Stats(); stats.Available != 2 {
		t.Fatalf("expected 2 available after returns, got %d", stats.Available)
	}
}

func TestConnPoolExhaustionTimesOut(t *testing.T) {
	pool := newTestPool(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	held, err := pool.Checkout(ctx)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	start := time.Now()
	if _, err := pool.Checkout(ctx); !types.IsError(err, types.ErrPoolTimeout) {
		t.Fatalf("expected ErrPoolTimeout on exhausted pool, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("checkout returned before the timeout elapsed")
	}

	if stats := pool.Stats(); stats.Timeouts != 1 {
		t.Fatalf("expected 1 recorded timeout, got %d", stats.Timeouts)
	}

	pool.Return(held, nil)
	if _, err := pool.Checkout(ctx); err != nil {
		t.Fatalf("checkout after return failed: %v", err)
	}
}

func TestConnPoolCheckoutHonorsContext(t *testing.T) {
	pool := newTestPool(t, 1, time.Minute)

	held, err := pool.Checkout(context.Background())
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	defer pool.Return(held, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := pool.Checkout(ctx); err == nil {
		t.Fatalf("expected error from cancelled checkout")
	}
}

func TestConnPoolClose(t *testing.T) {
	pool := newTestPool(t, 2, 50*time.Millisecond)

	held, err := pool.Checkout(context.Background())
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pool.Close(); !types.IsError(err, types.ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed on double close, got %v", err)
	}

	if _, err := pool.Checkout(context.Background()); !types.IsError(err, types.ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed after close, got %v", err)
	}

	// Returning an outstanding handle after close must not panic.
	pool.Return(held, nil)
}

func TestConnPoolRecyclesFailingConn(t *testing.T) {
	pool := newTestPool(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	failure := types.Errorf(types.ErrNetwork, "connection reset")
	var lastID string
	for i := 0; i < connErrorThreshold; i++ {
		pc, err := pool.Checkout(ctx)
		if err != nil {
			t.Fatalf("checkout %d failed: %v", i, err)
		}
		lastID = pc.ID
		pool.Return(pc, failure)
	}

	if stats := pool.Stats(); stats.Recycled != 1 {
		t.Fatalf("expected 1 recycled connection, got %d", stats.Recycled)
	}

	pc, err := pool.Checkout(ctx)
	if err != nil {
		t.Fatalf("checkout after recycle failed: %v", err)
	}
	if pc.ID == lastID {
		t.Fatalf("recycled connection kept its old identity")
	}
	pool.Return(pc, nil)
}
