// ABOUTME: Command surface shared by clock states, clock trees and listeners
// ABOUTME: Every synchronous command carries its master execution time
package playclock

import (
	"math"

	"github.com/Resonate-Protocol/playclock/pkg/frac"
)

// Sentinels returned by ToMaster for a stopped clock asked about a time it
// will never reach.
const (
	DistantPast   int64 = math.MinInt64
	DistantFuture int64 = math.MaxInt64
)

// SyncClockControl receives clock commands, each stating the master time at
// which it takes effect. Commands are applied in call order regardless of
// their exec times. Repeating an equivalent command has no effect.
type SyncClockControl interface {
	// ClockStart starts the clock at master time exec.
	ClockStart(exec int64)
	// ClockStop stops the clock at master time exec.
	ClockStop(exec int64)
	// ClockSeek sets the clock to target at master time exec, playing or not.
	ClockSeek(exec, target int64)
	// ClockRate changes the rate relative to the reference clock at exec.
	ClockRate(exec int64, rate frac.Frac)
}

// ClockControl adds commands that pick their own execution time.
type ClockControl interface {
	SyncClockControl

	Start()
	Stop()
	Seek(target int64)
	SetRate(rate frac.Frac)
}

// addTime adds a to b, passing saturated sentinels through and clamping
// instead of wrapping.
func addTime(a, b int64) int64 {
	if a == DistantPast || a == DistantFuture {
		return a
	}
	sum := a + b
	switch {
	case a > 0 && b > 0 && sum < 0:
		return DistantFuture
	case a < 0 && b < 0 && sum >= 0:
		return DistantPast
	}
	return sum
}

// subTime returns a-b, saturating instead of wrapping. Sentinels in a are
// returned unchanged.
func subTime(a, b int64) int64 {
	if a == DistantPast || a == DistantFuture {
		return a
	}
	diff := a - b
	switch {
	case a >= 0 && b < 0 && diff < 0:
		return DistantFuture
	case a < 0 && b > 0 && diff >= 0:
		return DistantPast
	}
	return diff
}

// scaleTime multiplies d by rate, leaving the sentinels untouched.
func scaleTime(d int64, rate frac.Frac) int64 {
	return frac.MultiplyScaledTime(d, rate.Num, rate.Den, frac.RoundNearInf|frac.RoundPassMinMax)
}
