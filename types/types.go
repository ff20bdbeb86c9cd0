package types

import (
	"time"
)

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Clock is the millisecond time source shared by every tier. Entry timestamps
// and TTL arithmetic are expressed against this clock, which keeps expiry
// behavior reproducible in tests.
type Clock interface {
	NowMS() uint64
}

type systemClock struct{}

func (systemClock) NowMS() uint64 {
	return uint64(time.Now().UnixMilli())
}

func NewSystemClock() Clock {
	return systemClock{}
}
