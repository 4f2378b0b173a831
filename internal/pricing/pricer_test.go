package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// invariantTolerance absorbs scale-8 rounding in the probability math.
var invariantTolerance = d(0.000001)

func option(id string, price float64) *model.MarketOption {
	return &model.MarketOption{
		ID:           id,
		MarketID:     "m1",
		CurrentPrice: d(price),
		MinPrice:     d(1.01),
		MaxPrice:     d(100),
	}
}

func binaryMarket(overround float64) *model.Market {
	return &model.Market{
		ID:        "m1",
		Kind:      model.KindBinary,
		Overround: d(overround),
	}
}

func multiMarket() *model.Market {
	return &model.Market{
		ID:   "m1",
		Kind: model.KindMulti,
	}
}

// impliedSum returns 1/priceA + 1/priceB at scale 8.
func impliedSum(priceA, priceB decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	return one.DivRound(priceA, 8).Add(one.DivRound(priceB, 8))
}

func bookWith(bid, ask float64) *model.OrderBook {
	ob := &model.OrderBook{}
	if bid > 0 {
		ob.Bids = []model.PriceLevel{{Price: d(bid), Quantity: d(10)}}
	}
	if ask > 0 {
		ob.Asks = []model.PriceLevel{{Price: d(ask), Quantity: d(10)}}
	}
	return ob
}

// --- Impact tier tests ---

func TestProcessMarketOrder_SmallOrderImpact(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 3.0), option("c", 4.0)}

	updates, err := p.ProcessMarketOrder(multiMarket(), "a", model.SideBuy, d(50), options)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update for multi market, got %d", len(updates))
	}
	// 2.0 × (1 + 0.005) = 2.01
	if !updates[0].NewPrice.Equal(d(2.01)) {
		t.Errorf("expected 2.01, got %s", updates[0].NewPrice)
	}
}

func TestProcessMarketOrder_MediumOrderImpact(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 3.0), option("c", 4.0)}

	updates, err := p.ProcessMarketOrder(multiMarket(), "a", model.SideBuy, d(500), options)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2.0 × (1 + 0.02) = 2.04
	if !updates[0].NewPrice.Equal(d(2.04)) {
		t.Errorf("expected 2.04, got %s", updates[0].NewPrice)
	}
}

func TestProcessMarketOrder_LargeOrderImpact(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 3.0), option("c", 4.0)}

	updates, err := p.ProcessMarketOrder(multiMarket(), "a", model.SideBuy, d(1000), options)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2.0 × (1 + 0.04) = 2.08
	if !updates[0].NewPrice.Equal(d(2.08)) {
		t.Errorf("expected 2.08, got %s", updates[0].NewPrice)
	}
}

func TestProcessMarketOrder_SellMovesDown(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 3.0), option("c", 4.0)}

	updates, err := p.ProcessMarketOrder(multiMarket(), "a", model.SideSell, d(50), options)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updates[0].NewPrice.Equal(d(1.99)) {
		t.Errorf("expected 1.99, got %s", updates[0].NewPrice)
	}
}

func TestProcessMarketOrder_ClampsAtBounds(t *testing.T) {
	p := NewPricer(DefaultConfig())
	opt := option("a", 1.011)
	options := []*model.MarketOption{opt, option("b", 3.0), option("c", 4.0)}

	// 1.011 × 0.96 = 0.97056, below min 1.01: clamped, not rejected.
	updates, err := p.ProcessMarketOrder(multiMarket(), "a", model.SideSell, d(5000), options)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updates[0].NewPrice.Equal(d(1.01)) {
		t.Errorf("expected clamp to 1.01, got %s", updates[0].NewPrice)
	}
}

func TestProcessMarketOrder_UnknownOption(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0)}

	_, err := p.ProcessMarketOrder(multiMarket(), "zzz", model.SideBuy, d(10), options)
	if !errors.Is(err, ErrOptionNotFound) {
		t.Errorf("expected ErrOptionNotFound, got %v", err)
	}
}

// --- Binary rebalancing tests ---

func TestProcessMarketOrder_BinaryInvariantHolds(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 2.0)}
	market := binaryMarket(1.0)

	updates, err := p.ProcessMarketOrder(market, "a", model.SideBuy, d(50), options)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates for binary market, got %d", len(updates))
	}

	sum := impliedSum(updates[0].NewPrice, updates[1].NewPrice)
	if sum.Sub(market.Overround).Abs().GreaterThan(invariantTolerance) {
		t.Errorf("implied probabilities must sum to overround: got %s", sum)
	}

	// Buying a pushes its price up, so the sibling's must come down.
	if updates[0].NewPrice.LessThanOrEqual(d(2.0)) {
		t.Errorf("bought option price should rise, got %s", updates[0].NewPrice)
	}
	if updates[1].NewPrice.GreaterThanOrEqual(d(2.0)) {
		t.Errorf("sibling price should fall, got %s", updates[1].NewPrice)
	}
}

func TestProcessMarketOrder_BinaryInvariantWithOverround(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 1.9), option("b", 2.2)}
	market := binaryMarket(1.05)

	updates, err := p.ProcessMarketOrder(market, "b", model.SideSell, d(200), options)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := impliedSum(updates[0].NewPrice, updates[1].NewPrice)
	if sum.Sub(market.Overround).Abs().GreaterThan(invariantTolerance) {
		t.Errorf("implied probabilities must sum to 1.05: got %s", sum)
	}
}

func TestProcessMarketOrder_ClampShiftsBoundToSibling(t *testing.T) {
	p := NewPricer(DefaultConfig())
	// Sibling floor at 1.9 means its implied probability caps at ~0.5263.
	sibling := option("b", 2.0)
	sibling.MinPrice = d(1.9)
	moved := option("a", 2.5)
	options := []*model.MarketOption{moved, sibling}
	market := binaryMarket(1.0)

	// Selling hard on a drives its probability down; the sibling would
	// need to absorb more than its floor allows, so it clamps at 1.9 and
	// a's price is recomputed backward.
	updates, err := p.ProcessMarketOrder(market, "a", model.SideSell, d(5000), options)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updates[1].NewPrice.Equal(d(1.9)) {
		t.Errorf("expected sibling clamped at floor 1.9, got %s", updates[1].NewPrice)
	}
	sum := impliedSum(updates[0].NewPrice, updates[1].NewPrice)
	if sum.Sub(market.Overround).Abs().GreaterThan(invariantTolerance) {
		t.Errorf("invariant must survive clamping: got %s", sum)
	}
}

// --- Book-driven repricing tests ---

func TestUpdateMarketPrices_Midpoint(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 3.0), option("c", 4.0)}
	books := map[string]*model.OrderBook{
		"a": bookWith(1.9, 2.1),
		"b": bookWith(0, 0),
		"c": bookWith(0, 0),
	}

	updates, err := p.UpdateMarketPrices(multiMarket(), options, books)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updates[0].NewPrice.Equal(d(2.0)) {
		t.Errorf("expected midpoint 2.0, got %s", updates[0].NewPrice)
	}
	// Empty books keep the current price.
	if !updates[1].NewPrice.Equal(d(3.0)) {
		t.Errorf("expected unchanged 3.0, got %s", updates[1].NewPrice)
	}
}

func TestUpdateMarketPrices_OneSidedBook(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 3.0), option("c", 4.0)}
	books := map[string]*model.OrderBook{
		"a": bookWith(1.9, 0), // bid only
		"b": bookWith(0, 3.5), // ask only
		"c": bookWith(0, 0),
	}

	updates, err := p.UpdateMarketPrices(multiMarket(), options, books)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updates[0].NewPrice.Equal(d(1.9)) {
		t.Errorf("expected bid price 1.9, got %s", updates[0].NewPrice)
	}
	if !updates[1].NewPrice.Equal(d(3.5)) {
		t.Errorf("expected ask price 3.5, got %s", updates[1].NewPrice)
	}
}

func TestUpdateMarketPrices_MissingBook(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 3.0)}
	books := map[string]*model.OrderBook{"a": bookWith(1.9, 2.1)}

	_, err := p.UpdateMarketPrices(multiMarket(), options, books)
	if !errors.Is(err, ErrBookNotFound) {
		t.Errorf("expected ErrBookNotFound, got %v", err)
	}
}

func TestUpdateMarketPrices_BinaryRescale(t *testing.T) {
	p := NewPricer(DefaultConfig())
	options := []*model.MarketOption{option("a", 2.0), option("b", 2.0)}
	market := binaryMarket(1.0)
	// Midpoints 2.5 and 2.5 imply 0.4 + 0.4 = 0.8, well short of 1.0:
	// both must be rescaled proportionally.
	books := map[string]*model.OrderBook{
		"a": bookWith(2.4, 2.6),
		"b": bookWith(2.4, 2.6),
	}

	updates, err := p.UpdateMarketPrices(market, options, books)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := impliedSum(updates[0].NewPrice, updates[1].NewPrice)
	if sum.Sub(market.Overround).Abs().GreaterThan(invariantTolerance) {
		t.Errorf("rescaled probabilities must sum to overround: got %s", sum)
	}
	// Symmetric inputs rescale symmetrically: both near 2.0.
	if updates[0].NewPrice.Sub(d(2.0)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("expected symmetric rescale near 2.0, got %s", updates[0].NewPrice)
	}
}
