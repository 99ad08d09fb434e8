// ABOUTME: Playclock wire protocol message definitions
// ABOUTME: JSON envelopes for handshake, clock transitions, ticks and follower commands
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/playclock/pkg/frac"
	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

// Version is the protocol version exchanged in the handshake.
const Version = 1

// Message types.
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeClockStart    = "clock/start"
	TypeClockStop     = "clock/stop"
	TypeClockSeek     = "clock/seek"
	TypeClockRate     = "clock/rate"
	TypeClockTick     = "clock/tick"
	TypeClientCommand = "client/command"
	TypeServerError   = "server/error"
)

// Error codes carried in ServerError.
const (
	ErrCodeDuplicateClient = "duplicate_client_id"
	ErrCodeUnknownClock    = "unknown_clock"
	ErrCodeBadCommand      = "bad_command"
)

// Message is the top-level wrapper for all outgoing protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is a received message whose payload has not been decoded yet.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses the envelope of a received message.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Into decodes the payload into v.
func (e Envelope) Into(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// ClientHello is sent by followers to initiate the handshake
type ClientHello struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Clock    string `json:"clock,omitempty"` // clock to follow, empty for the root
	Version  int    `json:"version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID     string   `json:"server_id"`
	Name         string   `json:"name"`
	Version      int      `json:"version"`
	Clocks       []string `json:"clocks"`
	Clock        string   `json:"clock"`
	MasterMicros int64    `json:"master_micros"`
}

// ClockEvent carries one effective transition of a clock. Target is set for
// seeks and Rate for rate changes.
type ClockEvent struct {
	Clock  string     `json:"clock"`
	Exec   int64      `json:"exec"`
	Target int64      `json:"target,omitempty"`
	Rate   *frac.Frac `json:"rate,omitempty"`
}

// ClockTick paces the follower's copy of the master clock.
type ClockTick struct {
	MasterMicros int64 `json:"master_micros"`
}

// ClientCommand asks the server to control a clock. Commands execute after
// the server's forward delay.
//
// Rate is relative to the clock's parent unless Master is set, in which case
// it is the effective rate against the master clock. Followers only see
// effective rates and send the latter.
type ClientCommand struct {
	Command string     `json:"command"` // start, stop, seek or rate
	Clock   string     `json:"clock,omitempty"`
	Target  int64      `json:"target,omitempty"`
	Rate    *frac.Frac `json:"rate,omitempty"`
	Master  bool       `json:"master,omitempty"`
}

// ServerError reports a rejected hello or command.
type ServerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var eventTypes = map[playclock.EventKind]string{
	playclock.EventStart: TypeClockStart,
	playclock.EventStop:  TypeClockStop,
	playclock.EventSeek:  TypeClockSeek,
	playclock.EventRate:  TypeClockRate,
}

// EventMessage wraps a clock transition for the wire.
func EventMessage(clock string, e playclock.Event) Message {
	payload := ClockEvent{Clock: clock, Exec: e.Exec}
	switch e.Kind {
	case playclock.EventSeek:
		payload.Target = e.Target
	case playclock.EventRate:
		rate := e.Rate
		payload.Rate = &rate
	}
	return Message{Type: eventTypes[e.Kind], Payload: payload}
}

// IsClockEvent reports whether msgType carries a ClockEvent.
func IsClockEvent(msgType string) bool {
	_, ok := eventKind(msgType)
	return ok
}

func eventKind(msgType string) (playclock.EventKind, bool) {
	for k, t := range eventTypes {
		if t == msgType {
			return k, true
		}
	}
	return 0, false
}

// Event converts a received clock message back into a transition.
func (e Envelope) Event() (string, playclock.Event, error) {
	kind, ok := eventKind(e.Type)
	if !ok {
		return "", playclock.Event{}, fmt.Errorf("%s is not a clock event", e.Type)
	}

	var payload ClockEvent
	if err := e.Into(&payload); err != nil {
		return "", playclock.Event{}, err
	}

	ev := playclock.Event{Kind: kind, Exec: payload.Exec, Target: payload.Target}
	if kind == playclock.EventRate {
		if payload.Rate == nil {
			return "", playclock.Event{}, fmt.Errorf("%s: missing rate", e.Type)
		}
		ev.Rate = payload.Rate.Canonical()
	}
	return payload.Clock, ev, nil
}
