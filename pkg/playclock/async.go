// ABOUTME: Commands without an explicit execution time
// ABOUTME: Resolves exec as master time plus a forward delay
package playclock

import (
	"time"

	"github.com/Resonate-Protocol/playclock/pkg/clock"
	"github.com/Resonate-Protocol/playclock/pkg/frac"
)

// DefaultForwardDelay gives consumers time to prepare for a discontinuity.
const DefaultForwardDelay = 50 * time.Millisecond

// AsyncControl wraps a SyncClockControl so that Start, Stop, Seek and SetRate
// execute a fixed delay after the current master time. The synchronous
// commands pass straight through.
type AsyncControl struct {
	SyncClockControl

	master clock.Clock
	delay  int64
}

// NewAsyncControl returns an AsyncControl for target. Negative delays are
// treated as zero.
func NewAsyncControl(target SyncClockControl, master clock.Clock, delay time.Duration) *AsyncControl {
	return &AsyncControl{
		SyncClockControl: target,
		master:           master,
		delay:            max(delay, 0).Microseconds(),
	}
}

// Delay returns the forward delay.
func (a *AsyncControl) Delay() time.Duration {
	return time.Duration(a.delay) * time.Microsecond
}

// Exec returns the execution time an asynchronous command issued now uses.
func (a *AsyncControl) Exec() int64 {
	return a.master.Micros() + a.delay
}

func (a *AsyncControl) Start() {
	a.ClockStart(a.Exec())
}

func (a *AsyncControl) Stop() {
	a.ClockStop(a.Exec())
}

func (a *AsyncControl) Seek(target int64) {
	a.ClockSeek(a.Exec(), target)
}

func (a *AsyncControl) SetRate(rate frac.Frac) {
	a.ClockRate(a.Exec(), rate.Canonical())
}

var _ ClockControl = (*AsyncControl)(nil)
