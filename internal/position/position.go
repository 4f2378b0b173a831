// Package position implements cost-basis accounting for trader positions:
// weighted-average entry price on increases, realized P&L on reductions,
// and mark-to-market valuation.
//
// All functions are pure — the caller owns loading, locking, and saving.
// All monetary values use shopspring/decimal — never float64 for money.
package position

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

// ErrOverReduction is returned when a trade would reduce a position by
// more than the currently held quantity. Positions never flip through
// zero to the opposite side in one trade.
var ErrOverReduction = errors.New("position: reduction exceeds held quantity")

// PriceScale is the number of decimal places for average-price rounding.
const PriceScale int32 = 8

// TradeParams describes one executed fill to apply to a position.
type TradeParams struct {
	UserID     string
	MarketID   string
	OptionID   string
	Side       model.OrderSide
	Price      decimal.Decimal
	Quantity   decimal.Decimal // always positive; Side carries direction
	ExecutedAt time.Time
}

// Apply computes the position after one trade. The existing position may
// be nil (first trade for the triple). The input position is never
// mutated; on error the caller's state is unchanged.
func Apply(p TradeParams, existing *model.Position) (*model.Position, error) {
	delta := p.Quantity
	if p.Side == model.SideSell {
		delta = delta.Neg()
	}

	if existing == nil || existing.Quantity.IsZero() {
		pos := &model.Position{
			UserID:            p.UserID,
			MarketID:          p.MarketID,
			OptionID:          p.OptionID,
			Quantity:          delta,
			AverageEntryPrice: p.Price,
			RealizedPnL:       decimal.Zero,
			UpdatedAt:         p.ExecutedAt,
		}
		if existing != nil {
			pos.RealizedPnL = existing.RealizedPnL
		}
		return pos, nil
	}

	next := *existing
	next.UpdatedAt = p.ExecutedAt

	sameDirection := existing.Quantity.Sign() == delta.Sign()
	if sameDirection {
		// Increase: new average = total cost / total quantity.
		oldAbs := existing.Quantity.Abs()
		addAbs := delta.Abs()
		totalCost := existing.AverageEntryPrice.Mul(oldAbs).Add(p.Price.Mul(addAbs))
		next.Quantity = existing.Quantity.Add(delta)
		next.AverageEntryPrice = totalCost.DivRound(oldAbs.Add(addAbs), PriceScale)
		return &next, nil
	}

	// Reduction: capped at the held quantity.
	reduceAbs := delta.Abs()
	heldAbs := existing.Quantity.Abs()
	if reduceAbs.GreaterThan(heldAbs) {
		return nil, ErrOverReduction
	}

	// Realized P&L per unit is (trade − entry) for longs and
	// (entry − trade) for shorts.
	perUnit := p.Price.Sub(existing.AverageEntryPrice)
	if existing.Quantity.Sign() < 0 {
		perUnit = perUnit.Neg()
	}
	next.RealizedPnL = existing.RealizedPnL.Add(perUnit.Mul(reduceAbs))
	next.Quantity = existing.Quantity.Add(delta)

	// Average price is unchanged while quantity remains nonzero and
	// undefined (zero) once the position is flat.
	if next.Quantity.IsZero() {
		next.AverageEntryPrice = decimal.Zero
	}
	return &next, nil
}

// Valuation is a position snapshot marked to a current price.
type Valuation struct {
	Quantity           decimal.Decimal `json:"quantity"`
	AverageEntryPrice  decimal.Decimal `json:"average_entry_price"`
	RealizedPnL        decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL      decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL           decimal.Decimal `json:"total_pnl"`
	CurrentMarketValue decimal.Decimal `json:"current_market_value"`
	CostBasis          decimal.Decimal `json:"cost_basis"`
}

// Value marks a position to the given current price.
//
//	costBasis          = quantity × averageEntryPrice
//	currentMarketValue = quantity × currentPrice
//	unrealizedPnl      = currentMarketValue − costBasis
//	totalPnl           = unrealizedPnl + realizedPnl
func Value(pos *model.Position, currentPrice decimal.Decimal) Valuation {
	if pos == nil {
		return Valuation{}
	}
	costBasis := pos.Quantity.Mul(pos.AverageEntryPrice)
	marketValue := pos.Quantity.Mul(currentPrice)
	unrealized := marketValue.Sub(costBasis)

	return Valuation{
		Quantity:           pos.Quantity,
		AverageEntryPrice:  pos.AverageEntryPrice,
		RealizedPnL:        pos.RealizedPnL,
		UnrealizedPnL:      unrealized,
		TotalPnL:           unrealized.Add(pos.RealizedPnL),
		CurrentMarketValue: marketValue,
		CostBasis:          costBasis,
	}
}
