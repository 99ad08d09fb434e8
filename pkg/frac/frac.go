// ABOUTME: Frac value type with exact multiply, add and compare
// ABOUTME: Includes float conversion, parsing and text encoding as "num/den"
package frac

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrSyntax is returned when a string cannot be parsed as a fraction.
var ErrSyntax = errors.New("frac: invalid syntax")

// Frac is a rational number num/den. It is a small value type: copy it, do
// not share pointers to it.
type Frac struct {
	Num int32
	Den int32
}

// Reserved canonical values.
var (
	Zero   = Frac{Num: 0, Den: 1}
	One    = Frac{Num: 1, Den: 1}
	NaN    = Frac{Num: 0, Den: 0}
	PosInf = Frac{Num: 1, Den: 0}
	NegInf = Frac{Num: -1, Den: 0}
)

// New returns the canonical form of num/den, approximated if it does not fit
// in 32 bits.
func New(num, den int64) Frac {
	f, _ := Reduce(num, den, math.MaxInt32)
	return f
}

// IsCanonical reports whether f is in canonical form.
func (f Frac) IsCanonical() bool {
	return IsCanonical(f.Num, f.Den)
}

// Canonical returns the canonical form of f.
func (f Frac) Canonical() Frac {
	if IsCanonical(f.Num, f.Den) {
		return f
	}
	return New(int64(f.Num), int64(f.Den))
}

// IsNaN reports whether f is of the form 0/0.
func (f Frac) IsNaN() bool {
	return f.Num == 0 && f.Den == 0
}

// IsInf reports whether f is +Inf or -Inf.
func (f Frac) IsInf() bool {
	return f.Den == 0 && f.Num != 0
}

// Sign returns -1, 0 or 1. NaN reports 0.
func (f Frac) Sign() int {
	s := 0
	if f.Num > 0 {
		s = 1
	} else if f.Num < 0 {
		s = -1
	}
	if f.Den < 0 {
		s = -s
	}
	return s
}

// Inv returns 1/f in canonical form.
func (f Frac) Inv() Frac {
	return New(int64(f.Den), int64(f.Num))
}

// Float64 converts f to the nearest float64.
func (f Frac) Float64() float64 {
	if f.Den != 0 {
		return float64(f.Num) / float64(f.Den)
	}
	switch {
	case f.Num == 0:
		return math.NaN()
	case f.Num < 0:
		return math.Inf(-1)
	default:
		return math.Inf(1)
	}
}

func (f Frac) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// Mul returns a*b reduced to canonical form. The second result is false if
// the product had to be approximated.
func Mul(a, b Frac) (Frac, bool) {
	return Reduce(
		int64(a.Num)*int64(b.Num),
		int64(a.Den)*int64(b.Den),
		math.MaxInt32,
	)
}

// Add returns a+b reduced to canonical form. The second result is false if
// the sum had to be approximated.
func Add(a, b Frac) (Frac, bool) {
	return Reduce(
		int64(a.Num)*int64(b.Den)+int64(b.Num)*int64(a.Den),
		int64(a.Den)*int64(b.Den),
		math.MaxInt32,
	)
}

// Compare returns -1 if a < b, 1 if a > b and 0 if they are equal. Any
// operand of the form 0/0 compares equal to everything.
func Compare(a, b Frac) int {
	tmp := int64(a.Num)*int64(b.Den) - int64(b.Num)*int64(a.Den)
	if tmp != 0 {
		return int((tmp^int64(a.Den)^int64(b.Den))>>63) | 1
	}
	if a.Den != 0 && b.Den != 0 {
		return 0
	}
	if a.Num != 0 && b.Num != 0 {
		return int(a.Num>>31) - int(b.Num>>31)
	}
	return 0
}

// FromFloat64 returns the best rational approximation of d whose numerator
// and denominator do not exceed max. NaN maps to 0/0 and magnitudes beyond
// the 32-bit range map to signed infinity.
func FromFloat64(d float64, max int32) Frac {
	if math.IsNaN(d) {
		return NaN
	}
	if math.Abs(d) > math.MaxInt32+3 {
		if d < 0 {
			return NegInf
		}
		return PosInf
	}

	exponent := 0
	if d != 0 {
		exponent = max0(math.Ilogb(d))
	}
	den := int64(1) << (61 - exponent)
	f, _ := Reduce(int64(math.Floor(d*float64(den)+0.5)), den, max)
	return f
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// Parse reads a fraction written as "num/den", an integer, or a decimal
// number. Decimals are converted with FromFloat64 bounded by MaxInt32.
func Parse(s string) (Frac, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Frac{}, fmt.Errorf("%w: empty string", ErrSyntax)
	}

	if numStr, denStr, ok := strings.Cut(s, "/"); ok {
		num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
		if err != nil {
			return Frac{}, fmt.Errorf("%w: numerator %q", ErrSyntax, numStr)
		}
		den, err := strconv.ParseInt(strings.TrimSpace(denStr), 10, 64)
		if err != nil {
			return Frac{}, fmt.Errorf("%w: denominator %q", ErrSyntax, denStr)
		}
		return New(num, den), nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return New(n, 1), nil
	}

	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Frac{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	return FromFloat64(d, math.MaxInt32), nil
}

// MarshalText encodes f as "num/den".
func (f Frac) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText accepts any form understood by Parse.
func (f *Frac) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
