// ABOUTME: Exact rational arithmetic package
// ABOUTME: Provides canonical fractions and overflow-safe time scaling
// Package frac implements exact rational numbers for playback rates and
// drift-free time-base conversion.
//
// A Frac keeps a 32-bit numerator and denominator. Every value returned by
// this package is canonical: the sign lives in the numerator, zero is 0/1 and
// the reserved forms -1/0, 0/0 and 1/0 encode -Inf, NaN and +Inf.
//
// Timestamps are rescaled with MultiplyScaledTime, which never overflows in
// intermediate steps and rounds exactly as requested:
//
//	rate := frac.Frac{Num: 2, Den: 1}
//	local := frac.ScaleTime(elapsedMicros, rate)
//
//	f, exact := frac.Reduce(355, 113, 100) // 22/7, false
package frac
