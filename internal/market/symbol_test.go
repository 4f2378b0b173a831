package market

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Symbol parsing ---

func TestParseSymbol_Valid(t *testing.T) {
	s, err := ParseSymbol("PM-epl4421-WINNER-3-20260901")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.EventID != "epl4421" {
		t.Errorf("expected event epl4421, got %s", s.EventID)
	}
	if s.Category != CategoryWinner {
		t.Errorf("expected WINNER, got %s", s.Category)
	}
	if s.Outcomes != 3 {
		t.Errorf("expected 3 outcomes, got %d", s.Outcomes)
	}
	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !s.CloseDate.Equal(want) {
		t.Errorf("expected close date %s, got %s", want, s.CloseDate)
	}
	if s.Binary() {
		t.Error("3-outcome symbol must not be binary")
	}
}

func TestParseSymbol_Binary(t *testing.T) {
	s, err := ParseSymbol("PM-ufc321-WINNER-2-20261115")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Binary() {
		t.Error("2-outcome symbol should be binary")
	}
}

func TestParseSymbol_Invalid(t *testing.T) {
	tests := []struct {
		symbol string
		want   error
	}{
		{"", ErrInvalidSymbol},
		{"XX-epl4421-WINNER-3-20260901", ErrInvalidSymbol},
		{"PM-epl4421-WINNER-3", ErrInvalidSymbol},
		{"PM-epl4421-WINNER-3-2026091", ErrInvalidSymbol}, // 7-digit date
		{"PM-epl!441-WINNER-3-20260901", ErrInvalidSymbol},
		{"PM-epl4421-BOGUS-3-20260901", ErrInvalidCategory},
		{"PM-epl4421-WINNER-1-20260901", ErrInvalidOutcomes},
		{"PM-epl4421-WINNER-0-20260901", ErrInvalidOutcomes},
		{"PM-epl4421-WINNER-3-20269999", ErrInvalidSymbol}, // impossible date
	}
	for _, tt := range tests {
		_, err := ParseSymbol(tt.symbol)
		if !errors.Is(err, tt.want) {
			t.Errorf("ParseSymbol(%q): expected %v, got %v", tt.symbol, tt.want, err)
		}
	}
}

func TestParseSymbol_AllCategories(t *testing.T) {
	for _, cat := range []string{CategoryWinner, CategoryTotals, CategoryHandicap, CategoryProps} {
		if _, err := ParseSymbol("PM-ev1-" + cat + "-2-20260901"); err != nil {
			t.Errorf("category %s should parse, got %v", cat, err)
		}
	}
}

// --- Option spec normalization ---

func TestNormalize_Defaults(t *testing.T) {
	spec := OptionSpec{Name: "Home"}
	if err := spec.Normalize(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !spec.MinPrice.Equal(DefaultMinPrice) {
		t.Errorf("expected default min, got %s", spec.MinPrice)
	}
	if !spec.MaxPrice.Equal(DefaultMaxPrice) {
		t.Errorf("expected default max, got %s", spec.MaxPrice)
	}
	// Even money for 2 outcomes: decimal odds 2.
	if !spec.InitialPrice.Equal(d(2)) {
		t.Errorf("expected initial price 2, got %s", spec.InitialPrice)
	}
}

func TestNormalize_EvenMoneyScalesWithOutcomes(t *testing.T) {
	spec := OptionSpec{Name: "Draw"}
	if err := spec.Normalize(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !spec.InitialPrice.Equal(d(3)) {
		t.Errorf("expected initial price 3 for 3 outcomes, got %s", spec.InitialPrice)
	}
}

func TestNormalize_KeepsExplicitValues(t *testing.T) {
	spec := OptionSpec{Name: "Home", InitialPrice: d(1.8), MinPrice: d(1.2), MaxPrice: d(10)}
	if err := spec.Normalize(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !spec.InitialPrice.Equal(d(1.8)) || !spec.MinPrice.Equal(d(1.2)) || !spec.MaxPrice.Equal(d(10)) {
		t.Errorf("explicit values must be preserved: %+v", spec)
	}
}

func TestNormalize_InvalidBounds(t *testing.T) {
	tests := []OptionSpec{
		{MinPrice: d(1.0), MaxPrice: d(10)}, // min must exceed 1
		{MinPrice: d(0.5), MaxPrice: d(10)},
		{MinPrice: d(10), MaxPrice: d(2)}, // inverted
		{MinPrice: d(5), MaxPrice: d(5)},  // equal
	}
	for i, spec := range tests {
		if err := spec.Normalize(2); !errors.Is(err, ErrInvalidBounds) {
			t.Errorf("case %d: expected ErrInvalidBounds, got %v", i, err)
		}
	}
}

func TestNormalize_ClampsInitialToBounds(t *testing.T) {
	spec := OptionSpec{Name: "Longshot", InitialPrice: d(500), MaxPrice: d(50)}
	if err := spec.Normalize(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !spec.InitialPrice.Equal(d(50)) {
		t.Errorf("initial price should clamp to max, got %s", spec.InitialPrice)
	}
}
