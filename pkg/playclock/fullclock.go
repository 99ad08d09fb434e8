// ABOUTME: Tree of play clocks sharing one master time source and one lock
// ABOUTME: Gates play state on the parent and cascades commands to children
package playclock

import (
	"slices"
	"sync"
	"weak"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/playclock/pkg/clock"
	"github.com/Resonate-Protocol/playclock/pkg/frac"
)

// tree is shared by every node created from the same root.
type tree struct {
	mu     sync.Mutex
	master clock.Clock
}

// FullClock is a node in a clock tree.
//
// A node keeps two views of its state. The requested view is what was
// commanded on the node itself: playing or not, and a rate relative to its
// parent. The effective view is what the node actually does: it plays only
// when requested to and its parent is effectively playing, and its rate is
// the parent's effective rate times the requested rate.
//
// Parents hold their children weakly, so dropping the last reference to a
// subtree is enough to remove it. Children hold their parent weakly too.
type FullClock struct {
	tree *tree
	id   uuid.UUID
	name string

	parent   weak.Pointer[FullClock]
	children []weak.Pointer[FullClock]

	state ClockState // effective

	reqPlaying bool
	reqRate    frac.Frac

	parentPlaying bool
	parentRate    frac.Frac

	// Replaced on every change, never mutated.
	listeners []SyncClockControl
}

// NewFullClock returns a stopped root clock at rate 1/1 reading zero. A nil
// master is replaced with the system clock.
func NewFullClock(master clock.Clock) *FullClock {
	return NewNamedFullClock(master, "")
}

// NewNamedFullClock is NewFullClock with a display name.
func NewNamedFullClock(master clock.Clock, name string) *FullClock {
	if master == nil {
		master = clock.NewSystemClock()
	}
	return &FullClock{
		tree:          &tree{master: master},
		id:            uuid.New(),
		name:          name,
		state:         NewClockState(master.Micros(), 0),
		reqRate:       frac.One,
		parentPlaying: true,
		parentRate:    frac.One,
	}
}

// CreateChild returns a new child that starts out reading the same time as
// c, playing when c plays, at a rate of 1/1 relative to c.
func (c *FullClock) CreateChild() *FullClock {
	return c.CreateNamedChild("")
}

// CreateNamedChild is CreateChild with a display name.
func (c *FullClock) CreateNamedChild(name string) *FullClock {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	child := &FullClock{
		tree:          c.tree,
		id:            uuid.New(),
		name:          name,
		parent:        weak.Make(c),
		state:         c.state,
		reqPlaying:    true,
		reqRate:       frac.One,
		parentPlaying: c.state.Playing,
		parentRate:    c.state.Rate,
	}
	c.children = append(c.children, weak.Make(child))
	return child
}

// ID returns the node's unique id.
func (c *FullClock) ID() uuid.UUID { return c.id }

// Name returns the name given at creation, possibly empty.
func (c *FullClock) Name() string { return c.name }

// MasterClock returns the tree's master time source.
func (c *FullClock) MasterClock() clock.Clock { return c.tree.master }

// MasterMicros reads the master time source.
func (c *FullClock) MasterMicros() int64 { return c.tree.master.Micros() }

// ParentClock returns the parent, or nil for a root or a node whose parent
// has been collected.
func (c *FullClock) ParentClock() *FullClock {
	return c.parent.Value()
}

// Children returns the live children in creation order.
func (c *FullClock) Children() []*FullClock {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	var out []*FullClock
	c.eachChild(func(child *FullClock) {
		out = append(out, child)
	})
	return out
}

// Micros returns the clock's current time.
func (c *FullClock) Micros() int64 {
	m := c.tree.master.Micros()

	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.state.FromMaster(m)
}

// IsPlaying reports whether the clock is effectively playing.
func (c *FullClock) IsPlaying() bool {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.state.Playing
}

// Rate returns the effective rate relative to the master clock.
func (c *FullClock) Rate() frac.Frac {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.state.Rate
}

// Requested returns what was commanded on this node: whether it should play
// and its rate relative to its parent.
func (c *FullClock) Requested() (playing bool, rate frac.Frac) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.reqPlaying, c.reqRate
}

// TimeBasis returns the clock time at the last transition.
func (c *FullClock) TimeBasis() int64 {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.state.TimeBasis
}

// MasterBasis returns the master time of the last transition.
func (c *FullClock) MasterBasis() int64 {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.state.MasterBasis
}

// State returns a copy of the effective state.
func (c *FullClock) State() ClockState {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.state
}

// ToMaster converts clock time t to master time.
func (c *FullClock) ToMaster(t int64) int64 {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.state.ToMaster(t)
}

// FromMaster converts master time m to clock time.
func (c *FullClock) FromMaster(m int64) int64 {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.state.FromMaster(m)
}

// ApplyTo replays the current effective state onto target. The state is
// copied under the lock and replayed after releasing it, so target may be
// another clock of the same tree.
func (c *FullClock) ApplyTo(target SyncClockControl) {
	c.State().ApplyTo(target)
}

// ClockStart requests that the clock play. It takes effect at exec if the
// parent is playing, otherwise when the parent next starts.
func (c *FullClock) ClockStart(exec int64) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	c.reqPlaying = true
	if c.parentPlaying {
		c.applyStart(exec)
	}
}

// ClockStop requests that the clock stop. A stop while the parent is
// stopped is only recorded.
func (c *FullClock) ClockStop(exec int64) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	c.reqPlaying = false
	if c.parentPlaying {
		c.applyStop(exec)
	}
}

// ClockSeek sets the clock to target at exec. Each child moves by the jump
// scaled through its requested rate, so it keeps its offset from this clock
// whatever the rates along the path, zero included.
func (c *FullClock) ClockSeek(exec, target int64) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	delta := subTime(target, c.state.FromMaster(exec))

	c.state.ClockSeek(exec, target)
	c.notifySeek(exec, target)
	c.eachChild(func(child *FullClock) {
		child.onParentSeek(exec, delta)
	})
}

// ClockRate sets the clock's rate relative to its parent.
func (c *FullClock) ClockRate(exec int64, rate frac.Frac) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	c.reqRate = rate.Canonical()
	c.applyRate(exec, c.effectiveRate())
}

func (c *FullClock) effectiveRate() frac.Frac {
	r, _ := frac.Mul(c.parentRate, c.reqRate)
	return r
}

func (c *FullClock) applyStart(exec int64) {
	if c.state.Playing {
		return
	}
	c.state.ClockStart(exec)
	for _, l := range c.listeners {
		l.ClockStart(exec)
	}
	c.eachChild(func(child *FullClock) {
		child.onParentStart(exec)
	})
}

func (c *FullClock) applyStop(exec int64) {
	if !c.state.Playing {
		return
	}
	c.state.ClockStop(exec)
	for _, l := range c.listeners {
		l.ClockStop(exec)
	}
	c.eachChild(func(child *FullClock) {
		child.onParentStop(exec)
	})
}

func (c *FullClock) applyRate(exec int64, rate frac.Frac) {
	if rate == c.state.Rate {
		return
	}
	c.state.ClockRate(exec, rate)
	for _, l := range c.listeners {
		l.ClockRate(exec, rate)
	}
	c.eachChild(func(child *FullClock) {
		child.onParentRate(exec, rate)
	})
}

func (c *FullClock) notifySeek(exec, target int64) {
	for _, l := range c.listeners {
		l.ClockSeek(exec, target)
	}
}

func (c *FullClock) onParentStart(exec int64) {
	c.parentPlaying = true
	if c.reqPlaying {
		c.applyStart(exec)
	}
}

func (c *FullClock) onParentStop(exec int64) {
	c.parentPlaying = false
	if c.reqPlaying {
		c.applyStop(exec)
	}
}

// onParentSeek shifts the clock by the parent's jump in parent time, scaled
// through the rate relative to the parent. The scaled jump is passed on.
func (c *FullClock) onParentSeek(exec, parentDelta int64) {
	shift := scaleTime(parentDelta, c.reqRate)
	pos := addTime(shift, c.state.FromMaster(exec))

	c.state.ClockSeek(exec, pos)
	c.notifySeek(exec, pos)
	c.eachChild(func(child *FullClock) {
		child.onParentSeek(exec, shift)
	})
}

func (c *FullClock) onParentRate(exec int64, rate frac.Frac) {
	c.parentRate = rate
	c.applyRate(exec, c.effectiveRate())
}

// eachChild calls fn for every live child and drops collected ones.
// Callers hold the tree lock.
func (c *FullClock) eachChild(fn func(*FullClock)) {
	n := 0
	for _, wp := range c.children {
		child := wp.Value()
		if child == nil {
			continue
		}
		c.children[n] = wp
		n++
		fn(child)
	}
	clear(c.children[n:])
	c.children = c.children[:n]
}

// AddListener registers l to receive every effective transition of this
// clock, with resolved exec times and absolute seek targets. Listeners are
// called with the tree locked and must not call back into the tree. l must
// be comparable; pointer types are the usual choice.
func (c *FullClock) AddListener(l SyncClockControl) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	c.addListener(l)
}

// Attach replays the current state to l and registers it in one step, so
// that l sees no gap between the snapshot and later transitions.
func (c *FullClock) Attach(l SyncClockControl) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	c.state.ApplyTo(l)
	c.addListener(l)
}

func (c *FullClock) addListener(l SyncClockControl) {
	next := make([]SyncClockControl, len(c.listeners), len(c.listeners)+1)
	copy(next, c.listeners)
	c.listeners = append(next, l)
}

// RemoveListener unregisters the first registration of l.
func (c *FullClock) RemoveListener(l SyncClockControl) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	i := slices.Index(c.listeners, l)
	if i < 0 {
		return
	}
	c.listeners = slices.Delete(slices.Clone(c.listeners), i, i+1)
}

var _ SyncClockControl = (*FullClock)(nil)
