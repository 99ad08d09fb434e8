// ABOUTME: Tests for delayed asynchronous commands and event values
// ABOUTME: Verifies exec resolution and event replay
package playclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Resonate-Protocol/playclock/pkg/clock"
	"github.com/Resonate-Protocol/playclock/pkg/frac"
)

func TestAsyncControlResolvesExecAhead(t *testing.T) {
	m := clock.NewManualClock(1000)
	root := NewFullClock(m)

	var events []Event
	root.AddListener(recordEvents(&events))

	ctl := NewAsyncControl(root, m, DefaultForwardDelay)
	assert.Equal(t, 50*time.Millisecond, ctl.Delay())
	assert.Equal(t, int64(51_000), ctl.Exec())

	ctl.Seek(500)
	ctl.Start()
	m.Set(2000)
	ctl.SetRate(frac.Frac{Num: 2, Den: 4})
	ctl.Stop()

	assert.Equal(t, []Event{
		{Kind: EventSeek, Exec: 51_000, Target: 500},
		{Kind: EventStart, Exec: 51_000},
		{Kind: EventRate, Exec: 52_000, Rate: frac.Frac{Num: 1, Den: 2}},
		{Kind: EventStop, Exec: 52_000},
	}, events)

	m.Set(100_000)
	assert.Equal(t, int64(1500), root.Micros())
}

func TestAsyncControlSyncCommandsPassThrough(t *testing.T) {
	m := clock.NewManualClock(0)
	s := NewClockState(0, 0)
	ctl := NewAsyncControl(&s, m, time.Second)

	ctl.ClockStart(7)
	assert.True(t, s.Playing)
	assert.Equal(t, int64(7), s.MasterBasis)
}

func TestAsyncControlNegativeDelay(t *testing.T) {
	m := clock.NewManualClock(300)
	s := NewClockState(0, 0)
	ctl := NewAsyncControl(&s, m, -time.Second)

	assert.Equal(t, time.Duration(0), ctl.Delay())
	ctl.Start()
	assert.Equal(t, int64(300), s.MasterBasis)
}

func TestEventApply(t *testing.T) {
	events := []Event{
		{Kind: EventRate, Exec: 0, Rate: frac.Frac{Num: 2, Den: 1}},
		{Kind: EventSeek, Exec: 0, Target: 100},
		{Kind: EventStart, Exec: 0},
		{Kind: EventStop, Exec: 50},
	}

	s := NewClockState(0, 0)
	for _, e := range events {
		e.Apply(&s)
	}

	assert.False(t, s.Playing)
	assert.Equal(t, int64(200), s.TimeBasis)
	assert.Equal(t, frac.Frac{Num: 2, Den: 1}, s.Rate)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "start@10", Event{Kind: EventStart, Exec: 10}.String())
	assert.Equal(t, "seek@10 -> 99", Event{Kind: EventSeek, Exec: 10, Target: 99}.String())
	assert.Equal(t, "rate@10 -> 1/2", Event{Kind: EventRate, Exec: 10, Rate: frac.Frac{Num: 1, Den: 2}}.String())
	assert.Equal(t, "EventKind(9)", EventKind(9).String())
}
