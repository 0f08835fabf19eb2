package clock

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rational is an exact frequency in Hz.
type Rational struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// Hz returns the integer frequency f as a Rational.
func Hz(f int64) Rational { return Rational{Num: f, Den: 1} }

// NewRational returns num/den in lowest terms.
func NewRational(num, den int64) Rational {
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd(abs(num), den)
	if g == 0 {
		return Rational{Num: 0, Den: 1}
	}
	return Rational{Num: num / g, Den: den / g}
}

func (r Rational) Decimal() decimal.Decimal {
	if r.Den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(r.Num).DivRound(decimal.NewFromInt(r.Den), 6)
}

// Float64 is only meant for display and ratio estimates.
func (r Rational) Float64() float64 {
	f, _ := r.Decimal().Float64()
	return f
}

// Period returns the period in nanoseconds rounded to three decimals.
func (r Rational) Period() decimal.Decimal {
	if r.Num == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(1_000_000_000).Mul(decimal.NewFromInt(r.Den)).
		DivRound(decimal.NewFromInt(r.Num), 3)
}

// Within reports whether r is within ppm parts-per-million of target.
func (r Rational) Within(target, ppm int64) bool {
	diff := abs(r.Num - target*r.Den)
	return diff*1_000_000 <= target*r.Den*ppm
}

func (r Rational) Equal(o Rational) bool { return r.Num*o.Den == o.Num*r.Den }

func (r Rational) String() string {
	return fmt.Sprintf("%sMHz", r.Decimal().Div(decimal.NewFromInt(1_000_000)).Round(6).String())
}

// ParseFrequency parses a frequency such as "100e6", "48000000" or "27.5e6"
// into whole Hz.
func ParseFrequency(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("invalid frequency %q: must be positive", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("invalid frequency %q: not a whole number of Hz", s)
	}
	return d.IntPart(), nil
}

// FormatFrequency renders f the way board files and flags write it, e.g. 100e6.
func FormatFrequency(f int64) string {
	d := decimal.NewFromInt(f)
	exp := int32(0)
	for f != 0 && f%10 == 0 {
		f /= 10
		exp++
	}
	for exp%3 != 0 {
		f *= 10
		exp--
	}
	if exp == 0 {
		return d.String()
	}
	return fmt.Sprintf("%de%d", f, exp)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(a int64) int64 {
	if a < 0 {
		return -a
	}
	return a
}
