// ABOUTME: Clock transitions as values
// ABOUTME: EventSink turns listener callbacks into Events for queues and the wire
package playclock

import (
	"fmt"

	"github.com/Resonate-Protocol/playclock/pkg/frac"
)

// EventKind names a clock command.
type EventKind int

const (
	EventStart EventKind = iota + 1
	EventStop
	EventSeek
	EventRate
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventSeek:
		return "seek"
	case EventRate:
		return "rate"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one recorded clock command. Target is set for seeks and Rate for
// rate changes.
type Event struct {
	Kind   EventKind
	Exec   int64
	Target int64
	Rate   frac.Frac
}

// Apply issues the event as a command on target.
func (e Event) Apply(target SyncClockControl) {
	switch e.Kind {
	case EventStart:
		target.ClockStart(e.Exec)
	case EventStop:
		target.ClockStop(e.Exec)
	case EventSeek:
		target.ClockSeek(e.Exec, e.Target)
	case EventRate:
		target.ClockRate(e.Exec, e.Rate)
	}
}

func (e Event) String() string {
	switch e.Kind {
	case EventSeek:
		return fmt.Sprintf("%v@%d -> %d", e.Kind, e.Exec, e.Target)
	case EventRate:
		return fmt.Sprintf("%v@%d -> %v", e.Kind, e.Exec, e.Rate)
	default:
		return fmt.Sprintf("%v@%d", e.Kind, e.Exec)
	}
}

// EventSink is a listener that hands every notification to a function.
// Use a pointer so it can be removed again.
type EventSink struct {
	fn func(Event)
}

// NewEventSink returns a sink calling fn. fn runs with the clock tree locked.
func NewEventSink(fn func(Event)) *EventSink {
	return &EventSink{fn: fn}
}

func (s *EventSink) ClockStart(exec int64) {
	s.fn(Event{Kind: EventStart, Exec: exec})
}

func (s *EventSink) ClockStop(exec int64) {
	s.fn(Event{Kind: EventStop, Exec: exec})
}

func (s *EventSink) ClockSeek(exec, target int64) {
	s.fn(Event{Kind: EventSeek, Exec: exec, Target: target})
}

func (s *EventSink) ClockRate(exec int64, rate frac.Frac) {
	s.fn(Event{Kind: EventRate, Exec: exec, Rate: rate})
}

var _ SyncClockControl = (*EventSink)(nil)
