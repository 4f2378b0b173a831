// Package odds provides stateless conversions between decimal, American,
// fractional, and implied-probability odds, plus a fair-value adjustment
// pipeline used for analytics. The conversions are invertible: a round
// trip decimal→American→decimal returns the original value within
// rounding tolerance.
//
// All monetary values use shopspring/decimal — never float64 for money.
package odds

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDecimalOdds is returned for decimal odds not greater than 1.
	ErrInvalidDecimalOdds = errors.New("odds: decimal odds must be greater than 1")

	// ErrInvalidAmericanOdds is returned for American odds inside (-100, 100).
	ErrInvalidAmericanOdds = errors.New("odds: american odds must be >= 100 or <= -100")

	// ErrInvalidProbability is returned for probabilities outside (0, 1).
	ErrInvalidProbability = errors.New("odds: probability must be in (0, 1)")

	// ErrInvalidFraction is returned for non-positive fractional odds terms.
	ErrInvalidFraction = errors.New("odds: fraction terms must be positive")
)

// Scale is the number of decimal places for odds rounding.
const Scale int32 = 8

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// DecimalToImplied converts decimal odds to implied probability: 1/odds.
func DecimalToImplied(d decimal.Decimal) (decimal.Decimal, error) {
	if d.LessThanOrEqual(one) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidDecimalOdds, d)
	}
	return one.DivRound(d, Scale), nil
}

// ImpliedToDecimal converts an implied probability to decimal odds: 1/p.
func ImpliedToDecimal(p decimal.Decimal) (decimal.Decimal, error) {
	if p.LessThanOrEqual(decimal.Zero) || p.GreaterThanOrEqual(one) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidProbability, p)
	}
	return one.DivRound(p, Scale), nil
}

// DecimalToAmerican converts decimal odds to American odds:
//
//	d >= 2.00 → +(d−1) × 100
//	d <  2.00 → −100 / (d−1)
func DecimalToAmerican(d decimal.Decimal) (decimal.Decimal, error) {
	if d.LessThanOrEqual(one) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidDecimalOdds, d)
	}
	if d.GreaterThanOrEqual(two) {
		return d.Sub(one).Mul(hundred).Round(Scale), nil
	}
	return hundred.Neg().DivRound(d.Sub(one), Scale), nil
}

// AmericanToDecimal converts American odds to decimal odds:
//
//	a > 0 → 1 + a/100
//	a < 0 → 1 + 100/|a|
func AmericanToDecimal(a decimal.Decimal) (decimal.Decimal, error) {
	if a.Abs().LessThan(hundred) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmericanOdds, a)
	}
	if a.IsPositive() {
		return one.Add(a.DivRound(hundred, Scale)), nil
	}
	return one.Add(hundred.DivRound(a.Neg(), Scale)), nil
}

// Fraction is fractional odds num/den, always in lowest terms.
type Fraction struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// String formats the fraction as "num/den".
func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// Decimal returns the fraction's decimal-odds value: 1 + num/den.
func (f Fraction) Decimal() decimal.Decimal {
	return one.Add(decimal.NewFromInt(f.Num).DivRound(decimal.NewFromInt(f.Den), Scale))
}

// maxFractionIterations caps the continued-fraction search for determinism.
const maxFractionIterations = 32

// maxDenominator bounds the fractions the search may produce.
const maxDenominator int64 = 1000

// DecimalToFractional approximates decimal odds as fractional odds using
// a bounded continued-fraction expansion of d−1, capped at
// maxFractionIterations steps and maxDenominator. The result is reduced
// with an iterative Euclidean GCD.
func DecimalToFractional(d decimal.Decimal) (Fraction, error) {
	if d.LessThanOrEqual(one) {
		return Fraction{}, fmt.Errorf("%w: %s", ErrInvalidDecimalOdds, d)
	}

	target := d.Sub(one)

	// Continued-fraction convergents: h_n = a_n·h_{n−1} + h_{n−2},
	// k_n likewise. Stop when the denominator bound or iteration cap is
	// reached, or the remainder is exhausted.
	var (
		h0, k0 int64 = 0, 1
		h1, k1 int64 = 1, 0
	)
	x := target
	bestNum, bestDen := int64(1), int64(1)

	for i := 0; i < maxFractionIterations; i++ {
		a := x.Floor()
		ai := a.IntPart()

		h2 := ai*h1 + h0
		k2 := ai*k1 + k0
		if k2 > maxDenominator || k2 <= 0 {
			break
		}
		bestNum, bestDen = h2, k2

		frac := x.Sub(a)
		if frac.IsZero() {
			break
		}
		x = one.DivRound(frac, Scale)
		h0, k0 = h1, k1
		h1, k1 = h2, k2
	}

	if bestNum <= 0 {
		bestNum = 1
	}
	g := gcd(bestNum, bestDen)
	return Fraction{Num: bestNum / g, Den: bestDen / g}, nil
}

// FractionalToDecimal converts fractional odds to decimal odds.
func FractionalToDecimal(num, den int64) (decimal.Decimal, error) {
	if num <= 0 || den <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %d/%d", ErrInvalidFraction, num, den)
	}
	return Fraction{Num: num, Den: den}.Decimal(), nil
}

// gcd computes the greatest common divisor iteratively.
func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}
