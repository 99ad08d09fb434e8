// ABOUTME: Hierarchical play clock package
// ABOUTME: Time-base state, control protocol and the clock tree
// Package playclock tracks whether a clock is playing, at what rate, and what
// time it shows, relative to a master microsecond source.
//
// ClockState is the arithmetic for one clock. FullClock arranges clocks in a
// tree: a command on any node is applied to that node and cascaded to every
// live descendant, each translating the change through its own rate.
//
// Every command names the master time at which it executes:
//
//	root := playclock.NewFullClock(master)
//	root.ClockSeek(0, 1000)
//	root.ClockStart(0)
//	video := root.CreateChild()
//	video.ClockRate(master.Micros(), frac.Frac{Num: 1, Den: 2})
//
// AsyncControl resolves the execution time itself, a short delay ahead of
// the master clock.
//
// All nodes of one tree share a single lock. Listeners run while it is held
// and must not call back into the same tree.
package playclock
