// ABOUTME: Drives the master clock of a clock tree under an update policy
// ABOUTME: Manual, real-time, scaled real-time and fixed-step modes with tick fan-out
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/playclock/pkg/clock"
	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

var (
	// ErrUnknownMode is returned by ParseMode and New for an unrecognised mode.
	ErrUnknownMode = errors.New("playback: unknown mode")
	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("playback: invalid config")
)

// Mode selects how Tick updates the master clock.
type Mode int

const (
	// ModeManual never writes the master clock; its owner advances it.
	ModeManual Mode = iota
	// ModeRealtime follows wall time, shifted so it begins at the start time.
	ModeRealtime
	// ModeRealtimeScaled follows wall time multiplied by a fixed scale.
	ModeRealtimeScaled
	// ModeStepping adds a fixed step on every tick.
	ModeStepping
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeRealtime:
		return "realtime"
	case ModeRealtimeScaled:
		return "realtime-scaled"
	case ModeStepping:
		return "stepping"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the names printed by Mode.String, plus "auto" for manual.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual", "auto":
		return ModeManual, nil
	case "realtime", "real-time":
		return ModeRealtime, nil
	case "realtime-scaled", "scaled":
		return ModeRealtimeScaled, nil
	case "stepping", "step":
		return ModeStepping, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Ticker is called after every master clock update. Implementations used
// with RemoveTicker must be comparable.
type Ticker interface {
	Tick()
}

// Config describes a Controller.
type Config struct {
	Mode Mode

	// Master is the clock read by the tree in manual mode. Nil gets a
	// ManualClock reading Start.
	Master clock.Clock

	// Wall is the real-time source for the realtime modes. Nil gets the
	// system clock.
	Wall clock.Clock

	// Start is the master time at the first tick. Realtime modes without
	// HasStart begin at the current wall time.
	Start    int64
	HasStart bool

	// Step is the per-tick increment in stepping mode.
	Step int64

	// Scale multiplies wall time deltas in scaled real-time mode.
	Scale float64

	// ForwardDelay is used by Control. Zero selects
	// playclock.DefaultForwardDelay; negative values mean no delay.
	ForwardDelay time.Duration

	Logger zerolog.Logger
}

// Controller owns a clock tree's root and the master clock beneath it.
type Controller struct {
	mode    Mode
	master  clock.Clock
	update  *clock.ManualClock // nil in manual mode
	wall    clock.Clock
	root    *playclock.FullClock
	control *playclock.AsyncControl
	logger  zerolog.Logger

	start    int64
	hasStart bool
	step     int64
	scale    float64

	mu        sync.Mutex
	ticks     int64
	started   bool
	offset    int64
	wallStart int64

	tickMu  sync.Mutex
	tickers atomic.Pointer[[]Ticker]
}

// New builds a Controller and its stopped root clock.
func New(cfg Config) (*Controller, error) {
	c := &Controller{
		mode:     cfg.Mode,
		wall:     cfg.Wall,
		logger:   cfg.Logger,
		start:    cfg.Start,
		hasStart: cfg.HasStart,
		step:     cfg.Step,
		scale:    cfg.Scale,
	}
	if c.wall == nil {
		c.wall = clock.NewSystemClock()
	}

	switch cfg.Mode {
	case ModeManual:
		c.master = cfg.Master
		if c.master == nil {
			c.master = clock.NewManualClock(cfg.Start)
		}
	case ModeRealtime:
		initial := cfg.Start
		if !cfg.HasStart {
			initial = c.wall.Micros()
		}
		c.update = clock.NewManualClock(initial)
	case ModeRealtimeScaled:
		if math.IsNaN(cfg.Scale) || math.IsInf(cfg.Scale, 0) {
			return nil, fmt.Errorf("%w: scale %v", ErrInvalidConfig, cfg.Scale)
		}
		initial := cfg.Start
		if !cfg.HasStart {
			initial = c.wall.Micros()
		}
		c.update = clock.NewManualClock(initial)
	case ModeStepping:
		if cfg.Step == 0 {
			return nil, fmt.Errorf("%w: stepping mode needs a non-zero step", ErrInvalidConfig)
		}
		c.update = clock.NewManualClock(cfg.Start)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMode, cfg.Mode)
	}
	if c.update != nil {
		c.master = c.update
	}

	delay := cfg.ForwardDelay
	if delay == 0 {
		delay = playclock.DefaultForwardDelay
	}

	c.root = playclock.NewNamedFullClock(c.master, "root")
	c.control = playclock.NewAsyncControl(c.root, c.master, delay)
	c.tickers.Store(&[]Ticker{})

	c.logger.Debug().
		Stringer("mode", c.mode).
		Int64("master", c.master.Micros()).
		Dur("forward_delay", c.control.Delay()).
		Msg("playback controller created")
	return c, nil
}

// NewManual returns a controller whose master clock is advanced by its owner.
func NewManual(master clock.Clock) *Controller {
	return mustNew(Config{Mode: ModeManual, Master: master})
}

// NewRealtime returns a controller that follows wall from its current time.
func NewRealtime(wall clock.Clock) *Controller {
	return mustNew(Config{Mode: ModeRealtime, Wall: wall})
}

// NewRealtimeScaled returns a controller reading start at the first tick
// and advancing scale times faster than wall.
func NewRealtimeScaled(wall clock.Clock, start int64, scale float64) (*Controller, error) {
	return New(Config{Mode: ModeRealtimeScaled, Wall: wall, Start: start, HasStart: true, Scale: scale})
}

// NewStepping returns a controller reading start + step*n on tick n.
func NewStepping(start, step int64) (*Controller, error) {
	return New(Config{Mode: ModeStepping, Start: start, Step: step})
}

func mustNew(cfg Config) *Controller {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Mode returns the update policy.
func (c *Controller) Mode() Mode { return c.mode }

// IsStepping reports whether time advances by fixed steps.
func (c *Controller) IsStepping() bool { return c.mode == ModeStepping }

// Clock returns the root of the clock tree.
func (c *Controller) Clock() *playclock.FullClock { return c.root }

// MasterClock returns the clock the tree measures against.
func (c *Controller) MasterClock() clock.Clock { return c.master }

// Control returns commands that execute the forward delay after now.
func (c *Controller) Control() *playclock.AsyncControl { return c.control }

// Ticks returns how many times Tick has run.
func (c *Controller) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Tick updates the master clock according to the mode and then calls every
// registered Ticker.
func (c *Controller) Tick() {
	c.mu.Lock()
	if c.update != nil {
		c.update.Set(c.next())
	}
	c.ticks++
	c.mu.Unlock()

	for _, t := range *c.tickers.Load() {
		t.Tick()
	}
}

// next computes the master time for this tick. Callers hold c.mu.
func (c *Controller) next() int64 {
	switch c.mode {
	case ModeRealtime:
		now := c.wall.Micros()
		if !c.started {
			c.started = true
			if c.hasStart {
				c.offset = now - c.start
			}
		}
		return now - c.offset

	case ModeRealtimeScaled:
		now := c.wall.Micros()
		if !c.started {
			c.started = true
			c.wallStart = now
			if !c.hasStart {
				c.start = now
			}
		}
		return c.start + int64(float64(now-c.wallStart)*c.scale)

	case ModeStepping:
		return c.start + c.step*c.ticks
	}
	return c.master.Micros()
}

// AddTicker registers t to run after every tick.
func (c *Controller) AddTicker(t Ticker) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	next := append(slices.Clone(*c.tickers.Load()), t)
	c.tickers.Store(&next)
}

// RemoveTicker unregisters t.
func (c *Controller) RemoveTicker(t Ticker) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	cur := *c.tickers.Load()
	i := slices.Index(cur, t)
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	c.tickers.Store(&next)
}

// Run ticks every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: tick interval %v", ErrInvalidConfig, interval)
	}

	c.logger.Info().Stringer("mode", c.mode).Dur("interval", interval).Msg("playback driver running")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Tick()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Int64("ticks", c.Ticks()).Msg("playback driver stopped")
			return nil
		case <-ticker.C:
			c.Tick()
		}
	}
}

var _ Ticker = (*Controller)(nil)
