// Package pricing computes displayed prices for market options after
// trades and book changes: order-size impact tiers, min/max bound
// clamping, and binary-market rebalancing so the two options' implied
// probabilities always sum to the market's overround target.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

var (
	// ErrOptionNotFound is returned when the requested option id is not
	// among the supplied market options.
	ErrOptionNotFound = errors.New("pricing: option not found")

	// ErrBookNotFound is returned when no order book was supplied for an
	// option that needs repricing.
	ErrBookNotFound = errors.New("pricing: order book not found")
)

// PriceScale is the number of decimal places for price rounding.
const PriceScale int32 = 8

// Config holds the order-size impact policy. The breakpoints and factors
// are tunable policy, not a contract.
type Config struct {
	SmallOrderMax decimal.Decimal // orders up to this quantity are "small"
	LargeOrderMin decimal.Decimal // orders from this quantity are "large"
	SmallImpact   decimal.Decimal // fraction of current price, e.g. 0.005
	MediumImpact  decimal.Decimal // e.g. 0.02
	LargeImpact   decimal.Decimal // e.g. 0.04
}

// DefaultConfig returns the standard impact tiers: 0.5% below 100 units,
// 2% up to 1000, 4% above.
func DefaultConfig() Config {
	return Config{
		SmallOrderMax: decimal.NewFromInt(100),
		LargeOrderMin: decimal.NewFromInt(1000),
		SmallImpact:   decimal.NewFromFloat(0.005),
		MediumImpact:  decimal.NewFromFloat(0.02),
		LargeImpact:   decimal.NewFromFloat(0.04),
	}
}

// Pricer applies the impact policy to market options. It is stateless —
// option state is passed as arguments, not stored.
type Pricer struct {
	cfg Config
}

// NewPricer creates a pricer with the given impact configuration.
func NewPricer(cfg Config) *Pricer {
	return &Pricer{cfg: cfg}
}

// PriceUpdate records one option's price change.
type PriceUpdate struct {
	OptionID string          `json:"option_id"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

// impactFactor returns the price-impact fraction for an order size.
func (p *Pricer) impactFactor(quantity decimal.Decimal) decimal.Decimal {
	switch {
	case quantity.LessThanOrEqual(p.cfg.SmallOrderMax):
		return p.cfg.SmallImpact
	case quantity.LessThan(p.cfg.LargeOrderMin):
		return p.cfg.MediumImpact
	default:
		return p.cfg.LargeImpact
	}
}

// ProcessMarketOrder moves the traded option's price by
// currentPrice × impactFactor — up for buys, down for sells — clamps it
// to the option's bounds, and, for binary markets, rebalances the
// sibling so implied probabilities sum to the overround target exactly.
//
// The returned updates carry the new prices; the supplied options are
// not mutated. Out-of-range computed prices are clamped, never rejected.
func (p *Pricer) ProcessMarketOrder(
	market *model.Market,
	optionID string,
	side model.OrderSide,
	quantity decimal.Decimal,
	options []*model.MarketOption,
) ([]PriceUpdate, error) {
	moved := findOption(options, optionID)
	if moved == nil {
		return nil, fmt.Errorf("%w: %s", ErrOptionNotFound, optionID)
	}

	impact := p.impactFactor(quantity)
	delta := moved.CurrentPrice.Mul(impact)
	newPrice := moved.CurrentPrice.Add(delta)
	if side == model.SideSell {
		newPrice = moved.CurrentPrice.Sub(delta)
	}
	newPrice = clamp(newPrice.Round(PriceScale), moved.MinPrice, moved.MaxPrice)

	updates := []PriceUpdate{{
		OptionID: moved.ID,
		OldPrice: moved.CurrentPrice,
		NewPrice: newPrice,
	}}

	if market.Kind != model.KindBinary || len(options) != 2 {
		return updates, nil
	}

	sibling := siblingOf(options, optionID)
	movedPrice, siblingPrice := rebalanceBinary(market.Overround, newPrice, sibling)
	updates[0].NewPrice = movedPrice
	updates = append(updates, PriceUpdate{
		OptionID: sibling.ID,
		OldPrice: sibling.CurrentPrice,
		NewPrice: siblingPrice,
	})

	return updates, nil
}

// UpdateMarketPrices recomputes each option's price from its order book:
// mid-point when both best bid and best ask exist, the available side
// when only one does, the current price when the book is empty. For
// binary markets the two prices are then rescaled proportionally so
// implied probabilities sum to the overround target.
//
// books is keyed by option id; a missing entry for a market option is a
// lookup error.
func (p *Pricer) UpdateMarketPrices(
	market *model.Market,
	options []*model.MarketOption,
	books map[string]*model.OrderBook,
) ([]PriceUpdate, error) {
	updates := make([]PriceUpdate, 0, len(options))
	two := decimal.NewFromInt(2)

	for _, opt := range options {
		ob, ok := books[opt.ID]
		if !ok {
			return nil, fmt.Errorf("%w: option %s", ErrBookNotFound, opt.ID)
		}

		price := opt.CurrentPrice
		bid, hasBid := ob.BestBid()
		ask, hasAsk := ob.BestAsk()
		switch {
		case hasBid && hasAsk:
			price = bid.Add(ask).DivRound(two, PriceScale)
		case hasBid:
			price = bid
		case hasAsk:
			price = ask
		}

		updates = append(updates, PriceUpdate{
			OptionID: opt.ID,
			OldPrice: opt.CurrentPrice,
			NewPrice: clamp(price, opt.MinPrice, opt.MaxPrice),
		})
	}

	if market.Kind == model.KindBinary && len(updates) == 2 {
		rescaleBinaryUpdates(market.Overround, updates, options)
	}

	return updates, nil
}

// rebalanceBinary derives the sibling price from the moved option's new
// price so that 1/movedPrice + 1/siblingPrice equals the overround
// target. The sibling is clamped to its own bounds; if clamping was
// needed, the moved price is recomputed backward from the clamped
// sibling so the invariant still holds exactly — clamping only shifts
// which option absorbs the bound.
func rebalanceBinary(overround, movedPrice decimal.Decimal, sibling *model.MarketOption) (decimal.Decimal, decimal.Decimal) {
	one := decimal.NewFromInt(1)

	movedProb := one.DivRound(movedPrice, PriceScale)
	siblingProb := overround.Sub(movedProb)

	// Probability bounds follow from the sibling's price bounds:
	// price ∈ [min, max] ⇒ probability ∈ [1/max, 1/min].
	minProb := one.DivRound(sibling.MaxPrice, PriceScale)
	maxProb := one.DivRound(sibling.MinPrice, PriceScale)

	clamped := false
	if siblingProb.LessThan(minProb) {
		siblingProb = minProb
		clamped = true
	} else if siblingProb.GreaterThan(maxProb) {
		siblingProb = maxProb
		clamped = true
	}

	siblingPrice := one.DivRound(siblingProb, PriceScale)
	if clamped {
		movedProb = overround.Sub(siblingProb)
		movedPrice = one.DivRound(movedProb, PriceScale)
	}
	return movedPrice, siblingPrice
}

// rescaleBinaryUpdates scales both implied probabilities proportionally
// so they sum to the overround target, then clamps; a clamped side is
// absorbed by recomputing the other backward.
func rescaleBinaryUpdates(overround decimal.Decimal, updates []PriceUpdate, options []*model.MarketOption) {
	one := decimal.NewFromInt(1)

	probA := one.DivRound(updates[0].NewPrice, PriceScale)
	probB := one.DivRound(updates[1].NewPrice, PriceScale)
	sum := probA.Add(probB)
	if sum.IsZero() || sum.Sub(overround).Abs().LessThanOrEqual(decimal.New(1, -PriceScale)) {
		return
	}

	factor := overround.DivRound(sum, PriceScale)
	probA = probA.Mul(factor)

	optA := findOption(options, updates[0].OptionID)
	optB := findOption(options, updates[1].OptionID)

	priceA := clamp(one.DivRound(probA, PriceScale), optA.MinPrice, optA.MaxPrice)
	priceA, priceB := rebalanceBinary(overround, priceA, optB)

	updates[0].NewPrice = priceA
	updates[1].NewPrice = priceB
}

func findOption(options []*model.MarketOption, id string) *model.MarketOption {
	for _, o := range options {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func siblingOf(options []*model.MarketOption, id string) *model.MarketOption {
	for _, o := range options {
		if o.ID != id {
			return o
		}
	}
	return nil
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
