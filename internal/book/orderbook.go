package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

// Snapshot aggregates all open/partially-filled orders for one
// (market, option) into per-side price levels, bids descending and asks
// ascending. Last-trade fields come from the most recently updated order
// that has any fill.
func Snapshot(marketID, optionID string, orders []*model.Order) *model.OrderBook {
	ob := &model.OrderBook{
		MarketID: marketID,
		OptionID: optionID,
		Bids:     []model.PriceLevel{},
		Asks:     []model.PriceLevel{},
	}

	bidLevels := make(map[string]*model.PriceLevel)
	askLevels := make(map[string]*model.PriceLevel)
	var lastTouched *model.Order

	for _, o := range orders {
		if o.MarketID != marketID || o.OptionID != optionID {
			continue
		}

		if o.FilledQuantity.IsPositive() &&
			(o.Status == model.StatusFilled || o.Status == model.StatusPartiallyFilled) {
			if lastTouched == nil || o.UpdatedAt.After(lastTouched.UpdatedAt) {
				lastTouched = o
			}
		}

		if o.Status != model.StatusOpen && o.Status != model.StatusPartiallyFilled {
			continue
		}
		remaining := o.Remaining()
		if remaining.LessThanOrEqual(decimal.Zero) {
			continue
		}

		levels := bidLevels
		if o.Side == model.SideSell {
			levels = askLevels
		}
		key := o.Price.String()
		lvl, ok := levels[key]
		if !ok {
			lvl = &model.PriceLevel{Price: o.Price}
			levels[key] = lvl
		}
		lvl.Quantity = lvl.Quantity.Add(remaining)
		lvl.OrderCount++
	}

	ob.Bids = sortLevels(bidLevels, true)
	ob.Asks = sortLevels(askLevels, false)

	if lastTouched != nil {
		ob.LastTradePrice = lastTouched.Price
		ob.LastTradeQuantity = lastTouched.FilledQuantity
		t := lastTouched.UpdatedAt
		ob.LastTradeAt = &t
	}

	return ob
}

// sortLevels flattens a level map, best price first.
func sortLevels(levels map[string]*model.PriceLevel, descending bool) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// MarkExpired transitions open/partially-filled orders whose expiry has
// passed to the expired status, returning the orders it changed. Expiry
// is a lazy status transition, not a background sweep.
func MarkExpired(orders []*model.Order, now time.Time) []*model.Order {
	var changed []*model.Order
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		if o.Expired(now) {
			o.Status = model.StatusExpired
			o.UpdatedAt = now
			changed = append(changed, o)
		}
	}
	return changed
}
