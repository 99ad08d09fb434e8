// ABOUTME: Tests for overflow-safe timestamp scaling
// ABOUTME: Covers rounding modes, sentinel pass-through and 128-bit products
package frac

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiplyScaledTimeRounding(t *testing.T) {
	tests := []struct {
		name string
		val  int64
		rnd  Rounding
		want int64
	}{
		{"zero positive", 5, RoundZero, 2},
		{"zero negative", -5, RoundZero, -2},
		{"inf positive", 5, RoundInf, 3},
		{"inf negative", -5, RoundInf, -3},
		{"down positive", 5, RoundDown, 2},
		{"down negative", -5, RoundDown, -3},
		{"up positive", 5, RoundUp, 3},
		{"up negative", -5, RoundUp, -2},
		{"near positive", 5, RoundNearInf, 3},
		{"near negative", -5, RoundNearInf, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// val * 1/2
			assert.Equal(t, tt.want, MultiplyScaledTime(tt.val, 1, 2, tt.rnd))
		})
	}
}

func TestMultiplyScaledTimeNegativeScale(t *testing.T) {
	// 5 * -1/2 = -2.5: up means toward +Inf regardless of which operand is negative.
	assert.Equal(t, int64(-2), MultiplyScaledTime(5, -1, 2, RoundUp))
	assert.Equal(t, int64(-3), MultiplyScaledTime(5, -1, 2, RoundDown))
	assert.Equal(t, int64(-2), MultiplyScaledTime(5, 1, -2, RoundUp))
	assert.Equal(t, int64(3), MultiplyScaledTime(-5, -1, 2, RoundUp))
	assert.Equal(t, int64(2), MultiplyScaledTime(-5, 1, -2, RoundDown))
}

func TestMultiplyScaledTimeIdentity(t *testing.T) {
	values := []int64{0, 1, -1, 7, -999, 1 << 40, -(1 << 52), math.MaxInt64, math.MinInt64, math.MinInt64 + 1, math.MaxInt64 - 1}
	scales := []int32{1, 2, 3, 1000, 1001, math.MaxInt32, -1, -7}

	for _, v := range values {
		for _, n := range scales {
			assert.Equal(t, v, MultiplyScaledTime(v, n, n, RoundNearInf), "val=%d n=d=%d", v, n)
		}
	}
}

func TestMultiplyScaledTimeLargeProduct(t *testing.T) {
	val := int64(1) << 62
	assert.Equal(t, int64(3)<<60, MultiplyScaledTime(val, 3, 4, RoundNearInf))

	// 1e18*1000 does not fit in 64 bits and 1001 shares no factor with 1e18.
	assert.Equal(t, int64(999000999000999000), MultiplyScaledTime(1_000_000_000_000_000_000, 1000, 1001, RoundDown))
	assert.Equal(t, int64(999000999000999001), MultiplyScaledTime(1_000_000_000_000_000_000, 1000, 1001, RoundNearInf))
	assert.Equal(t, int64(-999000999000999001), MultiplyScaledTime(-1_000_000_000_000_000_000, 1000, 1001, RoundDown))

	// (2^31-1) divides 2^62-1, so the pre-shrink leaves an exact product.
	assert.Equal(t, int64(2147483649)*2147483629, MultiplyScaledTime(4611686018427387903, 2147483629, 2147483647, RoundDown))
}

func TestMultiplyScaledTimeSaturates(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), MultiplyScaledTime(math.MaxInt64/2, 3, 1, RoundNearInf))
	assert.Equal(t, int64(math.MinInt64), MultiplyScaledTime(math.MaxInt64/2, -3, 1, RoundNearInf))
}

func TestMultiplyScaledTimeZeroDenominator(t *testing.T) {
	assert.Equal(t, int64(0), MultiplyScaledTime(0, 1, 0, RoundNearInf))
	assert.Equal(t, int64(0), MultiplyScaledTime(10, 0, 0, RoundNearInf))
	assert.Equal(t, int64(math.MaxInt64), MultiplyScaledTime(10, 1, 0, RoundNearInf))
	assert.Equal(t, int64(math.MinInt64), MultiplyScaledTime(-10, 1, 0, RoundNearInf))
	assert.Equal(t, int64(math.MinInt64), MultiplyScaledTime(10, -1, 0, RoundNearInf))
}

func TestMultiplyScaledTimePassMinMax(t *testing.T) {
	rnd := RoundNearInf | RoundPassMinMax
	assert.Equal(t, int64(math.MinInt64), MultiplyScaledTime(math.MinInt64, 1, 2, rnd))
	assert.Equal(t, int64(math.MaxInt64), MultiplyScaledTime(math.MaxInt64, 1, 2, rnd))
	assert.Equal(t, int64(50), MultiplyScaledTime(100, 1, 2, rnd))

	// Without the flag the sentinel is rescaled like any other value.
	assert.Equal(t, int64(math.MinInt64/2), MultiplyScaledTime(math.MinInt64, 1, 2, RoundNearInf))
}

func TestScaleTime(t *testing.T) {
	assert.Equal(t, int64(1000), ScaleTime(500, Frac{2, 1}))
	assert.Equal(t, int64(333), ScaleTime(1000, Frac{1, 3}))
	assert.Equal(t, int64(-667), ScaleTime(-2000, Frac{1, 3}))
	assert.Equal(t, int64(0), ScaleTime(12345, Zero))
}
