// ABOUTME: Play/stop, rate and basis arithmetic for a single clock
// ABOUTME: Converts between master time and clock time without drift
package playclock

import (
	"fmt"

	"github.com/Resonate-Protocol/playclock/pkg/frac"
)

// ClockState is the time base of one clock. At master time m the clock reads
//
//	TimeBasis + (m - MasterBasis) * Rate   while playing
//	TimeBasis                              while stopped
//
// The bases are re-pivoted at every transition so that rounding never
// accumulates. ClockState is not safe for concurrent use.
type ClockState struct {
	Playing     bool
	Rate        frac.Frac
	MasterBasis int64 // master time of the last transition
	TimeBasis   int64 // clock time at MasterBasis
}

// NewClockState returns a stopped clock at rate 1/1 reading timeBasis from
// master time masterBasis.
func NewClockState(masterBasis, timeBasis int64) ClockState {
	return ClockState{
		Rate:        frac.One,
		MasterBasis: masterBasis,
		TimeBasis:   timeBasis,
	}
}

// ClockStart implements SyncClockControl.
func (s *ClockState) ClockStart(exec int64) {
	if s.Playing {
		return
	}
	s.Playing = true
	s.MasterBasis = exec
}

// ClockStop implements SyncClockControl.
func (s *ClockState) ClockStop(exec int64) {
	if !s.Playing {
		return
	}
	s.fold(exec)
	s.Playing = false
}

// ClockSeek implements SyncClockControl.
func (s *ClockState) ClockSeek(exec, target int64) {
	s.MasterBasis = exec
	s.TimeBasis = target
}

// ClockRate implements SyncClockControl. The rate is stored in canonical form
// so that equal rates always compare equal.
func (s *ClockState) ClockRate(exec int64, rate frac.Frac) {
	rate = rate.Canonical()
	if rate == s.Rate {
		return
	}
	s.fold(exec)
	s.Rate = rate
}

// fold moves the pivot to exec, accumulating elapsed clock time if playing.
func (s *ClockState) fold(exec int64) {
	if s.Playing {
		s.TimeBasis = addTime(scaleTime(subTime(exec, s.MasterBasis), s.Rate), s.TimeBasis)
	}
	s.MasterBasis = exec
}

// ToMaster returns the master time at which the clock reads t. A stopped
// clock only ever reads TimeBasis, so any other t maps to DistantPast or
// DistantFuture. The sentinels themselves map to themselves.
func (s ClockState) ToMaster(t int64) int64 {
	if t == DistantPast || t == DistantFuture {
		return t
	}
	if s.Playing {
		d := frac.MultiplyScaledTime(subTime(t, s.TimeBasis), s.Rate.Den, s.Rate.Num, frac.RoundNearInf|frac.RoundPassMinMax)
		return addTime(d, s.MasterBasis)
	}
	switch {
	case t < s.TimeBasis:
		return DistantPast
	case t > s.TimeBasis:
		return DistantFuture
	default:
		return s.MasterBasis
	}
}

// FromMaster returns the clock time at master time m.
func (s ClockState) FromMaster(m int64) int64 {
	if !s.Playing {
		return s.TimeBasis
	}
	if m == DistantPast || m == DistantFuture {
		return m
	}
	return addTime(scaleTime(subTime(m, s.MasterBasis), s.Rate), s.TimeBasis)
}

// ApplyTo replays the state onto target at MasterBasis. A playing state is
// sent as rate, seek, start and a stopped one as stop, rate, seek, so the
// receiver never runs with a stale rate or position.
func (s ClockState) ApplyTo(target SyncClockControl) {
	s.ApplyToAt(target, s.MasterBasis)
}

// ApplyToAt replays the state as of master time exec.
func (s ClockState) ApplyToAt(target SyncClockControl, exec int64) {
	pos := s.FromMaster(exec)
	if s.Playing {
		target.ClockRate(exec, s.Rate)
		target.ClockSeek(exec, pos)
		target.ClockStart(exec)
		return
	}
	target.ClockStop(exec)
	target.ClockRate(exec, s.Rate)
	target.ClockSeek(exec, pos)
}

func (s ClockState) String() string {
	mode := "stopped"
	if s.Playing {
		mode = "playing"
	}
	return fmt.Sprintf("%s rate=%v master=%d time=%d", mode, s.Rate, s.MasterBasis, s.TimeBasis)
}

var _ SyncClockControl = (*ClockState)(nil)
