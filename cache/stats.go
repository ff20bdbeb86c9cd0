package cache

import (
	"sync"
	"time"

	"github.com/saiset-co/sai-translation-cache/types"
)

// tierStats accumulates per-tier hit/miss counters and a running mean of
// response times.
type tierStats struct {
	mu        sync.Mutex
	hits      uint64
	misses    uint64
	evictions uint64
	avgRespMS float64
	peak      uint32
}

func (s *tierStats) recordHit(start time.Time) {
	s.mu.Lock()
	s.hits++
	s.recordResponseLocked(start)
	s.mu.Unlock()
}

func (s *tierStats) recordMiss(start time.Time) {
	s.mu.Lock()
	s.misses++
	s.recordResponseLocked(start)
	s.mu.Unlock()
}

func (s *tierStats) recordEvictions(n uint64) {
	s.mu.Lock()
	s.evictions += n
	s.mu.Unlock()
}

func (s *tierStats) observeSize(size uint32) {
	s.mu.Lock()
	if size > s.peak {
		s.peak = size
	}
	s.mu.Unlock()
}

func (s *tierStats) recordResponseLocked(start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	total := s.hits + s.misses
	if total == 0 {
		return
	}
	s.avgRespMS += (elapsed - s.avgRespMS) / float64(total)
}

func (s *tierStats) snapshot(currentSize uint32) types.TierMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	peak := s.peak
	if currentSize > peak {
		peak = currentSize
	}
	return types.TierMetrics{
		Hits:              s.hits,
		Misses:            s.misses,
		Evictions:         s.evictions,
		AvgResponseTimeMS: s.avgRespMS,
		CurrentSize:       currentSize,
		PeakSize:          peak,
	}
}
