package odds

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var tolerance = d(0.000001)

// --- Implied probability ---

func TestDecimalToImplied(t *testing.T) {
	p, err := DecimalToImplied(d(2.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(d(0.5)) {
		t.Errorf("expected 0.5, got %s", p)
	}

	p, _ = DecimalToImplied(d(4.0))
	if !p.Equal(d(0.25)) {
		t.Errorf("expected 0.25, got %s", p)
	}
}

func TestDecimalToImplied_Invalid(t *testing.T) {
	for _, f := range []float64{1.0, 0.5, 0, -2} {
		if _, err := DecimalToImplied(d(f)); !errors.Is(err, ErrInvalidDecimalOdds) {
			t.Errorf("expected ErrInvalidDecimalOdds for %v, got %v", f, err)
		}
	}
}

func TestImpliedToDecimal(t *testing.T) {
	p, err := ImpliedToDecimal(d(0.25))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(d(4.0)) {
		t.Errorf("expected 4.0, got %s", p)
	}
}

func TestImpliedToDecimal_Invalid(t *testing.T) {
	for _, f := range []float64{0, 1, 1.5, -0.3} {
		if _, err := ImpliedToDecimal(d(f)); !errors.Is(err, ErrInvalidProbability) {
			t.Errorf("expected ErrInvalidProbability for %v, got %v", f, err)
		}
	}
}

// --- American odds ---

func TestDecimalToAmerican(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{2.5, 150},  // favorite side of even: +(d−1)×100
		{3.0, 200},
		{2.0, 100},
		{1.5, -200}, // −100/(d−1)
		{1.8, -125},
	}
	for _, tt := range tests {
		got, err := DecimalToAmerican(d(tt.in))
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", tt.in, err)
		}
		if !got.Equal(d(tt.want)) {
			t.Errorf("DecimalToAmerican(%v): expected %v, got %s", tt.in, tt.want, got)
		}
	}
}

func TestAmericanToDecimal(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{150, 2.5},
		{200, 3.0},
		{100, 2.0},
		{-200, 1.5},
		{-125, 1.8},
	}
	for _, tt := range tests {
		got, err := AmericanToDecimal(d(tt.in))
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", tt.in, err)
		}
		if !got.Equal(d(tt.want)) {
			t.Errorf("AmericanToDecimal(%v): expected %v, got %s", tt.in, tt.want, got)
		}
	}
}

func TestAmericanToDecimal_Invalid(t *testing.T) {
	for _, f := range []float64{0, 50, -99, 99.99} {
		if _, err := AmericanToDecimal(d(f)); !errors.Is(err, ErrInvalidAmericanOdds) {
			t.Errorf("expected ErrInvalidAmericanOdds for %v, got %v", f, err)
		}
	}
}

func TestAmericanRoundTrip(t *testing.T) {
	for _, f := range []float64{1.2, 1.5, 1.8, 2.0, 2.5, 3.75, 11.0} {
		a, err := DecimalToAmerican(d(f))
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", f, err)
		}
		back, err := AmericanToDecimal(a)
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", f, err)
		}
		if back.Sub(d(f)).Abs().GreaterThan(tolerance) {
			t.Errorf("round trip %v → %s → %s drifted", f, a, back)
		}
	}
}

// --- Fractional odds ---

func TestDecimalToFractional(t *testing.T) {
	tests := []struct {
		in       float64
		num, den int64
	}{
		{2.0, 1, 1},
		{2.5, 3, 2},
		{3.0, 2, 1},
		{1.5, 1, 2},
		{1.25, 1, 4},
		{11.0, 10, 1},
	}
	for _, tt := range tests {
		f, err := DecimalToFractional(d(tt.in))
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", tt.in, err)
		}
		if f.Num != tt.num || f.Den != tt.den {
			t.Errorf("DecimalToFractional(%v): expected %d/%d, got %s", tt.in, tt.num, tt.den, f)
		}
	}
}

func TestDecimalToFractional_BoundedDenominator(t *testing.T) {
	// An awkward value must still produce a fraction within the
	// denominator bound that approximates the input closely.
	in := d(1.83333333)
	f, err := DecimalToFractional(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Den <= 0 || f.Den > 1000 {
		t.Fatalf("denominator out of bounds: %s", f)
	}
	if f.Decimal().Sub(in).Abs().GreaterThan(d(0.01)) {
		t.Errorf("approximation too far: %s ≈ %s vs %s", f, f.Decimal(), in)
	}
}

func TestDecimalToFractional_Invalid(t *testing.T) {
	if _, err := DecimalToFractional(d(1.0)); !errors.Is(err, ErrInvalidDecimalOdds) {
		t.Errorf("expected ErrInvalidDecimalOdds, got %v", err)
	}
}

func TestFractionalToDecimal(t *testing.T) {
	got, err := FractionalToDecimal(3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d(2.5)) {
		t.Errorf("expected 2.5, got %s", got)
	}

	if _, err := FractionalToDecimal(0, 2); !errors.Is(err, ErrInvalidFraction) {
		t.Errorf("expected ErrInvalidFraction, got %v", err)
	}
	if _, err := FractionalToDecimal(3, -1); !errors.Is(err, ErrInvalidFraction) {
		t.Errorf("expected ErrInvalidFraction, got %v", err)
	}
}

func TestFractionalRoundTrip(t *testing.T) {
	for _, f := range []float64{1.5, 2.0, 2.5, 3.0, 4.333} {
		frac, err := DecimalToFractional(d(f))
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", f, err)
		}
		back := frac.Decimal()
		if back.Sub(d(f)).Abs().GreaterThan(d(0.01)) {
			t.Errorf("round trip %v → %s → %s drifted", f, frac, back)
		}
	}
}

func TestGCD(t *testing.T) {
	tests := []struct{ a, b, want int64 }{
		{12, 8, 4},
		{8, 12, 4},
		{7, 13, 1},
		{0, 5, 5},
		{5, 0, 5},
		{0, 0, 1},
		{-12, 8, 4},
	}
	for _, tt := range tests {
		if got := gcd(tt.a, tt.b); got != tt.want {
			t.Errorf("gcd(%d, %d): expected %d, got %d", tt.a, tt.b, tt.want, got)
		}
	}
}

// --- Fair-odds pipeline ---

func TestFairOdds_BalancedBookIsFixedPoint(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	inputs := []OptionInput{
		{OptionID: "a", Price: d(2.0), MinPrice: d(1.01), MaxPrice: d(100)},
		{OptionID: "b", Price: d(2.0), MinPrice: d(1.01), MaxPrice: d(100)},
	}
	// Even prices, zero flow: every pipeline stage is a no-op.
	out, err := c.FairOdds(inputs, FormatDecimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	for _, fv := range out {
		if !fv.Probability.Equal(d(0.5)) {
			t.Errorf("expected probability 0.5, got %s", fv.Probability)
		}
		if !fv.Price.Equal(d(2.0)) {
			t.Errorf("expected price 2.0, got %s", fv.Price)
		}
	}
}

func TestFairOdds_FlowMovesProbabilities(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	inputs := []OptionInput{
		{OptionID: "a", Price: d(2.0), FlowDelta: d(1), MinPrice: d(1.01), MaxPrice: d(100)},
		{OptionID: "b", Price: d(2.0), FlowDelta: d(-1), MinPrice: d(1.01), MaxPrice: d(100)},
	}
	out, err := c.FairOdds(inputs, FormatDecimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out[0].Probability.GreaterThan(d(0.5)) {
		t.Errorf("buy pressure should raise fair probability, got %s", out[0].Probability)
	}
	if !out[1].Probability.LessThan(d(0.5)) {
		t.Errorf("sell pressure should lower fair probability, got %s", out[1].Probability)
	}
	// Rescaling keeps the book near the target overround.
	sum := out[0].Probability.Add(out[1].Probability)
	if sum.Sub(d(1.0)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("probabilities should sum near 1.0, got %s", sum)
	}
}

func TestFairOdds_MaxAdjustmentCapsMove(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlowSensitivity = d(1.0)  // extreme sensitivity
	cfg.MaxAdjustment = d(0.05)   // tight cap
	c := NewCalculator(cfg)

	inputs := []OptionInput{
		{OptionID: "a", Price: d(2.0), FlowDelta: d(1), MinPrice: d(1.01), MaxPrice: d(100)},
		{OptionID: "b", Price: d(2.0), FlowDelta: d(-1), MinPrice: d(1.01), MaxPrice: d(100)},
	}
	out, err := c.FairOdds(inputs, FormatDecimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Original probability 0.5, cap 5%: moves are pinned to ±0.025.
	if !out[0].Probability.Equal(d(0.525)) {
		t.Errorf("expected capped probability 0.525, got %s", out[0].Probability)
	}
	if !out[1].Probability.Equal(d(0.475)) {
		t.Errorf("expected capped probability 0.475, got %s", out[1].Probability)
	}
}

func TestFairOdds_RespectsPriceBounds(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	inputs := []OptionInput{
		{OptionID: "a", Price: d(2.0), FlowDelta: d(-1), MinPrice: d(1.95), MaxPrice: d(2.05)},
		{OptionID: "b", Price: d(2.0), FlowDelta: d(1), MinPrice: d(1.95), MaxPrice: d(2.05)},
	}
	out, err := c.FairOdds(inputs, FormatDecimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, fv := range out {
		if fv.Price.LessThan(d(1.95)) || fv.Price.GreaterThan(d(2.05)) {
			t.Errorf("fair price %s violates option bounds", fv.Price)
		}
	}
}

func TestFairOdds_Formats(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	inputs := []OptionInput{
		{OptionID: "a", Price: d(2.0), MinPrice: d(1.01), MaxPrice: d(100)},
		{OptionID: "b", Price: d(2.0), MinPrice: d(1.01), MaxPrice: d(100)},
	}

	tests := []struct {
		format Format
		want   string
	}{
		{FormatDecimal, "2"},
		{FormatAmerican, "+100"},
		{FormatFractional, "1/1"},
		{FormatImplied, "0.5"},
		{"", "2"}, // empty defaults to decimal
	}
	for _, tt := range tests {
		out, err := c.FairOdds(inputs, tt.format)
		if err != nil {
			t.Fatalf("unexpected error for format %q: %v", tt.format, err)
		}
		if out[0].Odds != tt.want {
			t.Errorf("format %q: expected %q, got %q", tt.format, tt.want, out[0].Odds)
		}
	}
}

func TestFairOdds_UnknownFormat(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	inputs := []OptionInput{
		{OptionID: "a", Price: d(2.0), MinPrice: d(1.01), MaxPrice: d(100)},
	}
	_, err := c.FairOdds(inputs, "martian")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestFairOdds_InvalidPrice(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	inputs := []OptionInput{
		{OptionID: "a", Price: d(1.0), MinPrice: d(1.01), MaxPrice: d(100)},
	}
	_, err := c.FairOdds(inputs, FormatDecimal)
	if !errors.Is(err, ErrInvalidDecimalOdds) {
		t.Errorf("expected ErrInvalidDecimalOdds, got %v", err)
	}
}

func TestFairOdds_EmptyInput(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	out, err := c.FairOdds(nil, FormatDecimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil output for empty input, got %v", out)
	}
}
