// ABOUTME: Playback driver package
// ABOUTME: Advances a clock tree's master time under a chosen policy
// Package playback drives the master clock beneath a playclock tree.
//
// A Controller owns the root FullClock and, except in manual mode, the
// ManualClock it reads. Each Tick moves that clock according to the mode and
// then notifies registered Tickers. Run ticks on a timer until its context
// ends.
package playback
