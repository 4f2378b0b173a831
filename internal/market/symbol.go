// Package market handles market symbol parsing, validation, and
// kind-tagged option metadata. Metadata is a tagged union keyed by market
// kind and validated at construction — no untyped metadata maps.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Supported market categories.
const (
	CategoryWinner   = "WINNER"
	CategoryTotals   = "TOTALS"
	CategoryHandicap = "HANDICAP"
	CategoryProps    = "PROPS"
)

var validCategories = map[string]bool{
	CategoryWinner:   true,
	CategoryTotals:   true,
	CategoryHandicap: true,
	CategoryProps:    true,
}

// symbolRegex matches: PM-{eventID}-{category}-{outcomes}-{YYYYMMDD}
// Example: PM-epl4421-WINNER-3-20260901
var symbolRegex = regexp.MustCompile(
	`^PM-([0-9a-zA-Z]+)-([A-Z]+)-(\d+)-(\d{8})$`,
)

var (
	ErrInvalidSymbol   = errors.New("market: invalid symbol format")
	ErrInvalidCategory = errors.New("market: unsupported category")
	ErrInvalidOutcomes = errors.New("market: outcome count must be at least 2")
	ErrInvalidBounds   = errors.New("market: price bounds must satisfy 1 < min < max")
)

// Symbol is a parsed market symbol.
type Symbol struct {
	Raw       string    `json:"raw"`
	EventID   string    `json:"event_id"`
	Category  string    `json:"category"`
	Outcomes  int       `json:"outcomes"`
	CloseDate time.Time `json:"close_date"`
}

// Binary reports whether the symbol describes a two-outcome market.
func (s *Symbol) Binary() bool {
	return s.Outcomes == 2
}

// ParseSymbol parses and validates a market symbol string.
// Format: PM-{eventID}-{category}-{outcomes}-{YYYYMMDD}
func ParseSymbol(symbol string) (*Symbol, error) {
	matches := symbolRegex.FindStringSubmatch(symbol)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected PM-{event}-{category}-{outcomes}-{YYYYMMDD})",
			ErrInvalidSymbol, symbol)
	}

	eventID := matches[1]
	category := matches[2]
	outcomesStr := matches[3]
	dateStr := matches[4]

	if !validCategories[category] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}

	outcomes, err := strconv.Atoi(outcomesStr)
	if err != nil || outcomes < 2 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutcomes, outcomesStr)
	}

	closeDate, err := time.Parse("20060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidSymbol, dateStr)
	}

	return &Symbol{
		Raw:       symbol,
		EventID:   eventID,
		Category:  category,
		Outcomes:  outcomes,
		CloseDate: closeDate,
	}, nil
}

// OptionSpec describes one outcome option at market creation.
type OptionSpec struct {
	Name         string          `json:"name"`
	InitialPrice decimal.Decimal `json:"initial_price"` // 0 → derived from outcome count
	MinPrice     decimal.Decimal `json:"min_price"`     // 0 → DefaultMinPrice
	MaxPrice     decimal.Decimal `json:"max_price"`     // 0 → DefaultMaxPrice
}

var (
	// DefaultMinPrice is the lowest allowed decimal-odds price.
	// Prevents degenerate markets where an outcome appears certain.
	DefaultMinPrice = decimal.NewFromFloat(1.01)

	// DefaultMaxPrice is the highest allowed decimal-odds price.
	DefaultMaxPrice = decimal.NewFromInt(100)
)

// Normalize fills defaults and validates a spec against the symbol's
// outcome count: defaulted initial price is the even-money price for n
// outcomes (decimal odds n, implied probability 1/n).
func (s *OptionSpec) Normalize(outcomes int) error {
	if s.MinPrice.IsZero() {
		s.MinPrice = DefaultMinPrice
	}
	if s.MaxPrice.IsZero() {
		s.MaxPrice = DefaultMaxPrice
	}
	if s.MinPrice.LessThanOrEqual(decimal.NewFromInt(1)) || s.MinPrice.GreaterThanOrEqual(s.MaxPrice) {
		return ErrInvalidBounds
	}
	if s.InitialPrice.IsZero() {
		s.InitialPrice = decimal.NewFromInt(int64(outcomes))
	}
	if s.InitialPrice.LessThan(s.MinPrice) {
		s.InitialPrice = s.MinPrice
	}
	if s.InitialPrice.GreaterThan(s.MaxPrice) {
		s.InitialPrice = s.MaxPrice
	}
	return nil
}
