// ABOUTME: Greatest common divisor and canonical reduction of ratios
// ABOUTME: Approximates oversized ratios with continued-fraction convergents
package frac

import "math"

// GCD computes the greatest common divisor of a and b using Euclid's method.
//
// The result is non-negative except when it would be 2^63, which has no
// int64 form: GCD(MinInt64, MinInt64), GCD(MinInt64, 0) and GCD(0, MinInt64)
// return MinInt64.
func GCD(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func gcd32(a, b int32) int32 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// abs64 mirrors two's complement negation: abs64(MinInt64) == MinInt64.
func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// IsCanonical reports whether num/den is the unique canonical representation
// of its value:
//   - den >= 0; the sign is carried by the numerator
//   - num == 0 implies den == 1
//   - den == 0 implies num is -1, 0 or 1 (-Inf, NaN, +Inf)
//   - gcd(num, den) == 1
//
// Fractions with MinInt32 in either position cannot be canonical.
func IsCanonical(num, den int32) bool {
	if den == 0 {
		return num >= -1 && num <= 1
	}
	if den < 0 {
		return false
	}
	if num == 0 {
		return den == 1
	}
	if gcd32(num, den) != 1 {
		return false
	}
	return num != math.MinInt32
}

// Reduce returns the canonical fraction nearest to num/den whose numerator
// and denominator do not exceed max in magnitude. The second result is true
// iff no approximation was needed.
//
// A zero den yields -Inf, NaN or +Inf by the sign of num. Ratios that are
// still too large after removing their gcd are approximated by walking the
// continued-fraction convergents of num/den, stopping at the first term that
// would exceed max and back-solving the largest multiplier that fits.
//
// max must be positive; Reduce panics otherwise.
func Reduce(num, den int64, max int32) (Frac, bool) {
	if max <= 0 {
		panic("frac: Reduce called with non-positive max")
	}

	if den == 0 {
		switch {
		case num < 0:
			return NegInf, true
		case num == 0:
			return NaN, true
		default:
			return PosInf, true
		}
	}
	if num == 0 {
		return Zero, true
	}

	maxLong := int64(max)
	exact := true
	negate := (num < 0) != (den < 0)

	g := GCD(abs64(num), abs64(den))
	switch {
	case g == math.MinInt64:
		// Only reachable when num == den == MinInt64.
		return One, true
	case g > 1:
		num = abs64(num / g)
		den = abs64(den / g)
	case num != math.MinInt64 && den != math.MinInt64:
		num = abs64(num)
		den = abs64(den)
	case den == 1 || den == -1:
		// |num| is 2^63, beyond any bound.
		if negate {
			return Frac{Num: -max, Den: 1}, false
		}
		return Frac{Num: max, Den: 1}, false
	case num == 1 || num == -1:
		// 1/2^63 is nearer zero than the smallest bounded fraction.
		return Zero, false
	default:
		// MinInt64 cannot be negated; halve both and note the lost bit.
		exact = (num|den)&1 == 0
		num = abs64(num >> 1)
		den = abs64(den >> 1)
	}

	if num <= maxLong && den <= maxLong {
		if negate {
			num = -num
		}
		return Frac{Num: int32(num), Den: int32(den)}, exact
	}

	var (
		prevNum int64 = 0
		prevDen int64 = 1
		thisNum int64 = 1
		thisDen int64 = 0
	)

	for den != 0 {
		x := num / den
		nextRem := num - den*x
		nextNum := x*thisNum + prevNum
		nextDen := x*thisDen + prevDen

		if nextNum > maxLong || nextDen > maxLong {
			if thisNum != 0 {
				x = (maxLong - prevNum) / thisNum
			}
			if thisDen != 0 {
				x = min(x, (maxLong-prevDen)/thisDen)
			}
			if den*(2*x*thisDen+prevDen) > num*thisDen {
				thisNum = x*thisNum + prevNum
				thisDen = x*thisDen + prevDen
			}
			break
		}

		prevNum, prevDen = thisNum, thisDen
		thisNum, thisDen = nextNum, nextDen
		num, den = den, nextRem
	}

	if negate {
		thisNum = -thisNum
	}
	return Frac{Num: int32(thisNum), Den: int32(thisDen)}, false
}
