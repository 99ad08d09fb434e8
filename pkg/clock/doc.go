// ABOUTME: Time source package
// ABOUTME: Clock interface and the concrete microsecond sources
// Package clock provides the microsecond time sources that play clocks
// measure against.
//
// Nothing in this module reads a process-wide default clock. Callers pass a
// Clock explicitly; NewSystemClock is what a clock tree falls back to when it
// is built without one.
package clock
