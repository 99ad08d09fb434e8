// ABOUTME: Overflow-safe rescaling of 64-bit timestamps by a ratio
// ABOUTME: 128-bit intermediate product with selectable rounding
package frac

import (
	"math"
	"math/bits"
)

// Rounding selects how MultiplyScaledTime rounds inexact results.
type Rounding uint32

const (
	RoundZero    Rounding = 0 // toward zero
	RoundInf     Rounding = 1 // away from zero
	RoundDown    Rounding = 2 // toward -Inf
	RoundUp      Rounding = 3 // toward +Inf
	RoundNearInf Rounding = 5 // to nearest, halfway cases away from zero

	// RoundPassMinMax may be OR'd with a mode to return MinInt64 and MaxInt64
	// unchanged instead of rescaling them, so "distant past" and "distant
	// future" sentinels survive rate conversions.
	RoundPassMinMax Rounding = 8192
)

// ScaleTime rescales val by f, rounding to nearest.
func ScaleTime(val int64, f Frac) int64 {
	return MultiplyScaledTime(val, f.Num, f.Den, RoundNearInf)
}

// MultiplyScaledTime computes val*num/den with the requested rounding without
// overflowing in intermediate steps. A zero den saturates to MinInt64 or
// MaxInt64 by sign (or returns 0 for a zero product). Results that do not fit
// in an int64 saturate the same way.
func MultiplyScaledTime(val int64, num, den int32, rnd Rounding) int64 {
	if den == 0 {
		if val == 0 || num == 0 {
			return 0
		}
		if (val < 0) != (num < 0) {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	if val == 0 || num == 0 {
		return 0
	}

	if rnd&RoundPassMinMax != 0 {
		if val == math.MinInt64 || val == math.MaxInt64 {
			return val
		}
		rnd &^= RoundPassMinMax
	}

	n := int64(num)
	d := int64(den)

	g := GCD(val, d)
	val /= g
	d /= g
	g = GCD(n, d)
	n /= g
	d /= g

	negative := (n < 0) != (d < 0)
	numAbs := uint64(abs64(n))
	denAbs := uint64(abs64(d))

	// Magnitude as unsigned so that MinInt64 keeps its full value.
	mag := uint64(val)
	if val < 0 {
		negative = !negative
		mag = -mag
	}

	// Work on magnitudes: rounding toward -Inf on a negative result is
	// rounding away from zero on its magnitude.
	if negative {
		rnd ^= (rnd >> 1) & 1
	}

	var r uint64
	if rnd == RoundNearInf {
		r = denAbs / 2
	} else if rnd&1 != 0 {
		r = denAbs - 1
	}

	hi, lo := bits.Mul64(mag, numAbs)
	var carry uint64
	lo, carry = bits.Add64(lo, r, 0)
	hi += carry

	if hi >= denAbs {
		return saturate(negative)
	}
	q, _ := bits.Div64(hi, lo, denAbs)

	if negative {
		if q > 1<<63 {
			return math.MinInt64
		}
		return int64(-q)
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

func saturate(negative bool) int64 {
	if negative {
		return math.MinInt64
	}
	return math.MaxInt64
}
