// ABOUTME: Microsecond time sources consumed by play clocks
// ABOUTME: System, host-monotonic, manually driven, constant and func-backed clocks
package clock

import (
	"sync/atomic"
	"time"
)

// Clock supplies a free-running microsecond counter.
type Clock interface {
	// Micros returns the current time in microseconds.
	Micros() int64
}

// SystemClock reads wall time as Unix microseconds.
type SystemClock struct{}

// NewSystemClock returns the wall-time source used when no master is given.
func NewSystemClock() SystemClock {
	return SystemClock{}
}

// Micros returns time.Now() in Unix microseconds.
func (SystemClock) Micros() int64 {
	return time.Now().UnixMicro()
}

// HostClock is a monotonic counter starting at zero when it is constructed.
// Wall clock adjustments do not affect it.
type HostClock struct {
	epoch time.Time
}

// NewHostClock returns a HostClock whose zero is now.
func NewHostClock() *HostClock {
	return &HostClock{epoch: time.Now()}
}

// Micros returns the monotonic microseconds elapsed since construction.
func (c *HostClock) Micros() int64 {
	return time.Since(c.epoch).Microseconds()
}

// ManualClock only moves when Set or Advance is called. It is safe for
// concurrent use: drivers write it while clock trees read it.
type ManualClock struct {
	micros atomic.Int64
}

// NewManualClock returns a ManualClock reading start.
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.micros.Store(start)
	return c
}

// Micros returns the last value stored.
func (c *ManualClock) Micros() int64 {
	return c.micros.Load()
}

// Set stores an absolute time.
func (c *ManualClock) Set(micros int64) {
	c.micros.Store(micros)
}

// Advance moves the clock by delta and returns the new time.
func (c *ManualClock) Advance(delta int64) int64 {
	return c.micros.Add(delta)
}

// ConstClock always reads the same value.
type ConstClock int64

// Micros returns c.
func (c ConstClock) Micros() int64 {
	return int64(c)
}

// Func adapts an ordinary function to the Clock interface.
type Func func() int64

// Micros calls f.
func (f Func) Micros() int64 {
	return f()
}

var (
	_ Clock = SystemClock{}
	_ Clock = (*HostClock)(nil)
	_ Clock = (*ManualClock)(nil)
	_ Clock = ConstClock(0)
	_ Clock = Func(nil)
)
