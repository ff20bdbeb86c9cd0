package storage

import (
	"sync"
	"time"

	"github.com/saiset-co/sai-translation-cache/types"
)

// tierCounters tracks hit/miss/eviction totals and a running response-time
// mean for the tier metrics view.
type tierCounters struct {
	mu        sync.Mutex
	hits      uint64
	misses    uint64
	evictions uint64
	avgRespMS float64
	peak      uint32
}

func (c *tierCounters) recordHit(start time.Time) {
	c.mu.Lock()
	c.hits++
	c.recordResponseLocked(start)
	c.mu.Unlock()
}

func (c *tierCounters) recordMiss(start time.Time) {
	c.mu.Lock()
	c.misses++
	c.recordResponseLocked(start)
	c.mu.Unlock()
}

func (c *tierCounters) recordEvictions(n uint64) {
	c.mu.Lock()
	c.evictions += n
	c.mu.Unlock()
}

func (c *tierCounters) recordResponseLocked(start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	total := c.hits + c.misses
	if total == 0 {
		return
	}
	c.avgRespMS += (elapsed - c.avgRespMS) / float64(total)
}

func (c *tierCounters) snapshot(currentSize uint32) types.TierMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	peak := c.peak
	if currentSize > peak {
		peak = currentSize
		c.peak = peak
	}
	return types.TierMetrics{
		Hits:              c.hits,
		Misses:            c.misses,
		Evictions:         c.evictions,
		AvgResponseTimeMS: c.avgRespMS,
		CurrentSize:       currentSize,
		PeakSize:          peak,
	}
}
