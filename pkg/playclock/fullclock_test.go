// ABOUTME: Tests for the clock tree
// ABOUTME: Covers gating, cascades, listener order, weak children and locking
package playclock

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/playclock/pkg/clock"
	"github.com/Resonate-Protocol/playclock/pkg/frac"
)

// logListener appends one line per notification to a shared log.
type logListener struct {
	name string
	log  *[]string
}

func (l *logListener) ClockStart(exec int64) {
	*l.log = append(*l.log, fmt.Sprintf("%s start %d", l.name, exec))
}

func (l *logListener) ClockStop(exec int64) {
	*l.log = append(*l.log, fmt.Sprintf("%s stop %d", l.name, exec))
}

func (l *logListener) ClockSeek(exec, target int64) {
	*l.log = append(*l.log, fmt.Sprintf("%s seek %d %d", l.name, exec, target))
}

func (l *logListener) ClockRate(exec int64, rate frac.Frac) {
	*l.log = append(*l.log, fmt.Sprintf("%s rate %d %v", l.name, exec, rate))
}

func newPlayingRoot(t *testing.T) (*FullClock, *clock.ManualClock) {
	t.Helper()
	m := clock.NewManualClock(0)
	root := NewFullClock(m)
	root.ClockSeek(0, 0)
	root.ClockStart(0)
	require.True(t, root.IsPlaying())
	return root, m
}

func TestNewFullClockDefaults(t *testing.T) {
	m := clock.NewManualClock(4200)
	root := NewFullClock(m)

	assert.False(t, root.IsPlaying())
	assert.Equal(t, frac.One, root.Rate())
	assert.Equal(t, int64(4200), root.MasterBasis())
	assert.Equal(t, int64(0), root.TimeBasis())
	assert.Equal(t, int64(4200), root.MasterMicros())
	assert.Nil(t, root.ParentClock())
	assert.Same(t, m, root.MasterClock())
	assert.NotEqual(t, root.ID(), NewFullClock(m).ID())
}

func TestNewFullClockNilMasterUsesSystemClock(t *testing.T) {
	root := NewFullClock(nil)
	assert.IsType(t, clock.SystemClock{}, root.MasterClock())
}

func TestFullClockSeekThenStart(t *testing.T) {
	m := clock.NewManualClock(0)
	root := NewFullClock(m)
	root.ClockSeek(0, 1000)
	root.ClockStart(0)

	m.Set(2000)
	assert.Equal(t, int64(3000), root.Micros())
	assert.Equal(t, int64(2000), root.ToMaster(3000))
	assert.Equal(t, int64(3000), root.FromMaster(2000))
}

func TestFullClockRateChange(t *testing.T) {
	root, m := newPlayingRoot(t)
	root.ClockRate(1000, frac.Frac{Num: 2, Den: 1})

	m.Set(1500)
	assert.Equal(t, int64(2000), root.Micros())
}

func TestChildInheritsParentState(t *testing.T) {
	root, m := newPlayingRoot(t)
	root.ClockRate(0, frac.Frac{Num: 3, Den: 2})
	m.Set(1000)

	child := root.CreateNamedChild("video")
	assert.Equal(t, "video", child.Name())
	assert.Same(t, root, child.ParentClock())
	assert.True(t, child.IsPlaying())
	assert.Equal(t, frac.Frac{Num: 3, Den: 2}, child.Rate())
	assert.Equal(t, root.Micros(), child.Micros())

	playing, rate := child.Requested()
	assert.True(t, playing)
	assert.Equal(t, frac.One, rate)
}

func TestChildGatedByStoppedParent(t *testing.T) {
	m := clock.NewManualClock(0)
	root := NewFullClock(m)
	child := root.CreateChild()

	playing, _ := child.Requested()
	assert.True(t, playing)
	assert.False(t, child.IsPlaying())

	root.ClockStart(100)
	assert.True(t, child.IsPlaying())
	assert.Equal(t, int64(100), child.MasterBasis())
}

func TestGatedRequestsProduceNoEvents(t *testing.T) {
	m := clock.NewManualClock(0)
	root := NewFullClock(m)
	child := root.CreateChild()

	var log []string
	child.AddListener(&logListener{name: "child", log: &log})

	child.ClockStop(10)
	child.ClockStart(20)
	child.ClockStop(30)
	assert.Empty(t, log)

	playing, _ := child.Requested()
	assert.False(t, playing)

	root.ClockStart(40)
	assert.False(t, child.IsPlaying(), "child asked to stay stopped")
	assert.Empty(t, log)

	child.ClockStart(50)
	assert.True(t, child.IsPlaying())
	assert.Equal(t, []string{"child start 50"}, log)
}

func TestRestartPreservesChildOffset(t *testing.T) {
	root, m := newPlayingRoot(t)
	child := root.CreateChild()
	child.ClockSeek(0, 500)

	m.Set(1000)
	root.ClockStop(1000)
	assert.False(t, child.IsPlaying())

	m.Set(5000)
	assert.Equal(t, int64(500), child.Micros()-root.Micros())

	root.ClockStart(5000)
	assert.True(t, child.IsPlaying())

	m.Set(6000)
	assert.Equal(t, int64(2000), root.Micros())
	assert.Equal(t, int64(500), child.Micros()-root.Micros())
}

func TestSeekPreservesDescendantOffsets(t *testing.T) {
	root, m := newPlayingRoot(t)
	child := root.CreateChild()
	child.ClockSeek(0, 500)
	grand := child.CreateChild()
	grand.ClockSeek(0, 800)
	sibling := root.CreateChild()

	m.Set(1000)
	root.ClockSeek(1000, 10_000)

	assert.Equal(t, int64(10_000), root.Micros())
	assert.Equal(t, int64(10_500), child.Micros())
	assert.Equal(t, int64(10_800), grand.Micros())
	assert.Equal(t, int64(10_000), sibling.Micros())

	m.Set(2000)
	assert.Equal(t, int64(500), child.Micros()-root.Micros())
	assert.Equal(t, int64(300), grand.Micros()-child.Micros())

	// A subtree seek leaves the rest of the tree alone.
	child.ClockSeek(2000, 0)
	assert.Equal(t, int64(0), child.Micros())
	assert.Equal(t, int64(300), grand.Micros())
	assert.Equal(t, int64(11_000), root.Micros())
	assert.Equal(t, int64(11_000), sibling.Micros())
}

func TestSeekDeltaScalesThroughRates(t *testing.T) {
	root, m := newPlayingRoot(t)
	fast := root.CreateChild()
	fast.ClockRate(0, frac.Frac{Num: 2, Den: 1})

	m.Set(1000)
	assert.Equal(t, int64(2000), fast.Micros())

	root.ClockSeek(1000, 2000)
	assert.Equal(t, int64(4000), fast.Micros(), "one second of master time is two seconds here")
}

func TestSeekOnFastRootKeepsChildInStep(t *testing.T) {
	root, m := newPlayingRoot(t)
	root.ClockRate(0, frac.Frac{Num: 2, Den: 1})
	child := root.CreateChild()

	m.Set(1000)
	root.ClockSeek(1000, 3000)
	assert.Equal(t, int64(3000), root.Micros())
	assert.Equal(t, int64(3000), child.Micros())
}

func TestSeekOnTripleRateRootKeepsChildExact(t *testing.T) {
	root, m := newPlayingRoot(t)
	root.ClockRate(0, frac.Frac{Num: 3, Den: 1})
	child := root.CreateChild()

	m.Set(1000)
	require.Equal(t, root.Micros(), child.Micros())

	for _, jump := range []int64{10, 1, -7, 1_000_001} {
		root.ClockSeek(m.Micros(), root.Micros()+jump)
		assert.Equal(t, root.Micros(), child.Micros(), "jump %d", jump)
	}

	m.Set(1234)
	assert.Equal(t, root.Micros(), child.Micros())
}

func TestSeekOnFrozenRootMovesChildren(t *testing.T) {
	root, m := newPlayingRoot(t)
	child := root.CreateChild()
	child.ClockSeek(0, 500)
	grand := child.CreateChild()
	root.ClockRate(0, frac.Zero)

	m.Set(1000)
	require.Equal(t, int64(0), root.Micros())
	require.Equal(t, int64(500), child.Micros())

	root.ClockSeek(1000, 10_000)
	assert.Equal(t, int64(10_000), root.Micros())
	assert.Equal(t, int64(10_500), child.Micros())
	assert.Equal(t, int64(10_500), grand.Micros())
	assert.Equal(t, frac.Zero, child.Rate())

	m.Set(5000)
	assert.Equal(t, int64(500), child.Micros()-root.Micros(), "still frozen together")
}

func TestRateComposition(t *testing.T) {
	root, _ := newPlayingRoot(t)
	root.ClockRate(0, frac.Frac{Num: 2, Den: 1})
	child := root.CreateChild()
	child.ClockRate(0, frac.Frac{Num: 3, Den: 2})
	grand := child.CreateChild()

	assert.Equal(t, frac.Frac{Num: 3, Den: 1}, child.Rate())
	assert.Equal(t, frac.Frac{Num: 3, Den: 1}, grand.Rate())

	root.ClockRate(0, frac.Frac{Num: 1, Den: 3})
	assert.Equal(t, frac.Frac{Num: 1, Den: 2}, child.Rate())
	assert.Equal(t, frac.Frac{Num: 1, Den: 2}, grand.Rate())

	_, requested := child.Requested()
	assert.Equal(t, frac.Frac{Num: 3, Den: 2}, requested)

	child.ClockRate(0, frac.Frac{Num: 4, Den: -6})
	_, requested = child.Requested()
	assert.Equal(t, frac.Frac{Num: -2, Den: 3}, requested)
	assert.Equal(t, frac.Frac{Num: -2, Den: 9}, child.Rate())
}

func TestDegenerateRatesAreAccepted(t *testing.T) {
	root, m := newPlayingRoot(t)
	frozen := root.CreateChild()
	reverse := root.CreateChild()

	m.Set(1000)
	frozen.ClockRate(1000, frac.NaN)
	reverse.ClockRate(1000, frac.Frac{Num: -1, Den: 1})

	m.Set(3000)
	assert.True(t, frozen.IsPlaying())
	assert.Equal(t, int64(1000), frozen.Micros())
	assert.True(t, reverse.IsPlaying())
	assert.Equal(t, int64(-1000), reverse.Micros())
}

func TestListenersNotifiedTopDown(t *testing.T) {
	m := clock.NewManualClock(0)
	root := NewFullClock(m)
	child := root.CreateChild()
	grand := child.CreateChild()

	var log []string
	root.AddListener(&logListener{name: "root", log: &log})
	child.AddListener(&logListener{name: "child", log: &log})
	grand.AddListener(&logListener{name: "grand", log: &log})

	root.ClockStart(10)
	root.ClockRate(20, frac.Frac{Num: 2, Den: 1})
	root.ClockSeek(30, 100)

	assert.Equal(t, []string{
		"root start 10",
		"child start 10",
		"grand start 10",
		"root rate 20 2/1",
		"child rate 20 2/1",
		"grand rate 20 2/1",
		"root seek 30 100",
		"child seek 30 100",
		"grand seek 30 100",
	}, log)
}

func TestRepeatedCommandsDoNotNotify(t *testing.T) {
	root, _ := newPlayingRoot(t)

	var log []string
	root.AddListener(&logListener{name: "root", log: &log})

	root.ClockStart(100)
	root.ClockRate(100, frac.Frac{Num: 2, Den: 2})
	assert.Empty(t, log)
}

func TestAttachReplaysState(t *testing.T) {
	m := clock.NewManualClock(0)
	root := NewFullClock(m)
	root.ClockSeek(0, 500)

	var events []Event
	root.Attach(recordEvents(&events))
	root.ClockStart(100)

	assert.Equal(t, []Event{
		{Kind: EventStop, Exec: 0},
		{Kind: EventRate, Exec: 0, Rate: frac.One},
		{Kind: EventSeek, Exec: 0, Target: 500},
		{Kind: EventStart, Exec: 100},
	}, events)
}

func TestRemoveListener(t *testing.T) {
	root, _ := newPlayingRoot(t)

	var log []string
	a := &logListener{name: "a", log: &log}
	b := &logListener{name: "b", log: &log}
	root.AddListener(a)
	root.AddListener(b)
	root.RemoveListener(a)
	root.RemoveListener(&logListener{name: "a", log: &log})

	root.ClockStop(10)
	assert.Equal(t, []string{"b stop 10"}, log)
}

func TestApplyToSameTreeDoesNotDeadlock(t *testing.T) {
	root, m := newPlayingRoot(t)
	root.ClockSeek(0, 7000)
	mirror := root.CreateChild()
	mirror.ClockStop(0)

	done := make(chan struct{})
	go func() {
		var target SyncClockControl = mirror
		root.ApplyTo(target)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ApplyTo deadlocked")
	}
	m.Set(1000)
	assert.True(t, mirror.IsPlaying())
}

func TestDeadChildrenArePruned(t *testing.T) {
	root, _ := newPlayingRoot(t)
	kept := root.CreateChild()

	func() {
		for i := 0; i < 10; i++ {
			root.CreateChild()
		}
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		root.ClockSeek(0, 0)
		return len(root.Children()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Same(t, kept, root.Children()[0])
}

func TestChildOutlivesParent(t *testing.T) {
	m := clock.NewManualClock(0)
	child := func() *FullClock {
		root := NewFullClock(m)
		root.ClockStart(0)
		return root.CreateChild()
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return child.ParentClock() == nil
	}, 2*time.Second, 10*time.Millisecond)

	m.Set(500)
	assert.Equal(t, int64(500), child.Micros())
	child.ClockStop(500)
	assert.False(t, child.IsPlaying())
}

func TestConcurrentCommandsKeepTreeConsistent(t *testing.T) {
	root := NewFullClock(clock.NewHostClock())
	children := make([]*FullClock, 4)
	for i := range children {
		children[i] = root.CreateChild()
	}

	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				exec := child.MasterMicros()
				switch (i + j) % 4 {
				case 0:
					child.ClockStart(exec)
				case 1:
					child.ClockRate(exec, frac.Frac{Num: int32(j%3 + 1), Den: 2})
				case 2:
					child.ClockSeek(exec, int64(j))
				case 3:
					child.ClockStop(exec)
				}
				_ = child.Micros()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			exec := root.MasterMicros()
			if j%2 == 0 {
				root.ClockStart(exec)
			} else {
				root.ClockStop(exec)
			}
			root.ClockRate(exec, frac.Frac{Num: int32(j%2 + 1), Den: 1})
			_ = root.Children()
		}
	}()
	wg.Wait()

	rootPlaying := root.IsPlaying()
	rootRate := root.Rate()
	for _, child := range children {
		playing, rate := child.Requested()
		assert.Equal(t, playing && rootPlaying, child.IsPlaying())
		want, _ := frac.Mul(rootRate, rate)
		assert.Equal(t, want, child.Rate())
	}
}
