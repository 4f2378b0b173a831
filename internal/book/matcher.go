// Package book implements continuous double-auction order matching with
// strict price-time priority for one (market, option) order book.
//
// Matching is a pure computation over the set of resting orders: the caller
// supplies the current book contents and is responsible for serializing
// calls per book and for persisting the returned state. Every match
// executes at the maker's (resting order's) price.
//
// All monetary values use shopspring/decimal — never float64 for money.
package book

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned when an order's quantity is not positive.
	ErrInvalidQuantity = errors.New("book: quantity must be positive")

	// ErrInvalidPrice is returned when a limit order's price is not positive.
	ErrInvalidPrice = errors.New("book: limit price must be positive")
)

// PriceScale is the number of decimal places for average-price rounding.
const PriceScale int32 = 8

// NewOrderParams describes an incoming (taker) order.
type NewOrderParams struct {
	UserID    string
	MarketID  string
	OptionID  string
	Type      model.OrderType
	Side      model.OrderSide
	Price     decimal.Decimal // ignored for market orders
	Quantity  decimal.Decimal
	ExpiresAt *time.Time
}

// Match records one fill between the taker and a maker.
type Match struct {
	MakerOrderID string          `json:"maker_order_id"`
	MakerUserID  string          `json:"maker_user_id"`
	Price        decimal.Decimal `json:"price"` // the maker's price
	Quantity     decimal.Decimal `json:"quantity"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// TradeResult summarises the outcome of submitting one order.
type TradeResult struct {
	OrderID           string          `json:"order_id"`
	Matches           []Match         `json:"matches"`
	FilledQuantity    decimal.Decimal `json:"filled_quantity"`
	AveragePrice      decimal.Decimal `json:"average_price"` // quantity-weighted mean of match prices
	Status            model.OrderStatus `json:"status"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
}

// CreateOrder validates params, builds the taker order, and matches it
// against the resting orders under price-time priority.
//
// Makers touched by a fill are mutated in place (filled quantity and
// status); the caller persists them alongside the returned taker order.
// Validation failures occur before any mutation.
//
// Market orders use an explicit matching mode that crosses any resting
// price — there is no sentinel price. They are immediate-or-cancel: an
// unfilled remainder is cancelled rather than rested, so a market order
// never sits on the book with a meaningless zero price.
func CreateOrder(params NewOrderParams, resting []*model.Order, now time.Time) (*model.Order, *TradeResult, error) {
	if params.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, nil, ErrInvalidQuantity
	}
	if params.Type == model.OrderTypeLimit && params.Price.LessThanOrEqual(decimal.Zero) {
		return nil, nil, ErrInvalidPrice
	}

	order := &model.Order{
		ID:             uuid.New().String(),
		UserID:         params.UserID,
		MarketID:       params.MarketID,
		OptionID:       params.OptionID,
		Type:           params.Type,
		Side:           params.Side,
		Price:          params.Price,
		Quantity:       params.Quantity,
		FilledQuantity: decimal.Zero,
		Status:         model.StatusOpen,
		ExpiresAt:      params.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if params.Type == model.OrderTypeMarket {
		order.Price = decimal.Zero
	}

	candidates := eligibleMakers(order, resting, now)
	sortByPriority(candidates, order.Side)

	result := &TradeResult{
		OrderID:        order.ID,
		FilledQuantity: decimal.Zero,
		AveragePrice:   decimal.Zero,
	}
	totalValue := decimal.Zero

	for _, maker := range candidates {
		remaining := order.Remaining()
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}

		qty := decimal.Min(remaining, maker.Remaining())
		if qty.LessThanOrEqual(decimal.Zero) {
			continue
		}

		maker.FilledQuantity = maker.FilledQuantity.Add(qty)
		if maker.FilledQuantity.Equal(maker.Quantity) {
			maker.Status = model.StatusFilled
		} else {
			maker.Status = model.StatusPartiallyFilled
		}
		maker.UpdatedAt = now

		order.FilledQuantity = order.FilledQuantity.Add(qty)
		totalValue = totalValue.Add(maker.Price.Mul(qty))

		result.Matches = append(result.Matches, Match{
			MakerOrderID: maker.ID,
			MakerUserID:  maker.UserID,
			Price:        maker.Price,
			Quantity:     qty,
			ExecutedAt:   now,
		})
	}

	switch {
	case order.FilledQuantity.Equal(order.Quantity):
		order.Status = model.StatusFilled
	case order.Type == model.OrderTypeMarket:
		// Immediate-or-cancel: the unfilled remainder never rests.
		order.Status = model.StatusCancelled
	case order.FilledQuantity.IsZero():
		order.Status = model.StatusOpen
	default:
		order.Status = model.StatusPartiallyFilled
	}

	result.FilledQuantity = order.FilledQuantity
	result.RemainingQuantity = order.Remaining()
	result.Status = order.Status
	if order.FilledQuantity.IsPositive() {
		result.AveragePrice = totalValue.DivRound(order.FilledQuantity, PriceScale)
	}

	return order, result, nil
}

// eligibleMakers selects the resting orders the taker may match against:
// opposite side, same (market, option), not the taker's own (no
// self-trade), not terminal, not expired, and crossing in price.
func eligibleMakers(taker *model.Order, resting []*model.Order, now time.Time) []*model.Order {
	var out []*model.Order
	for _, o := range resting {
		if o.MarketID != taker.MarketID || o.OptionID != taker.OptionID {
			continue
		}
		if o.Side != taker.Side.Opposite() {
			continue
		}
		// Market orders never rest; one in the resting set carries no
		// price and must not be matched against.
		if o.Type == model.OrderTypeMarket {
			continue
		}
		if o.UserID == taker.UserID {
			continue
		}
		if o.Status.Terminal() || o.Expired(now) {
			continue
		}
		if o.Remaining().LessThanOrEqual(decimal.Zero) {
			continue
		}
		if !crosses(taker, o) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// crosses reports whether the maker's price satisfies the taker's limit.
// Market orders accept any resting price.
func crosses(taker, maker *model.Order) bool {
	if taker.Type == model.OrderTypeMarket {
		return true
	}
	if taker.Side == model.SideBuy {
		return maker.Price.LessThanOrEqual(taker.Price)
	}
	return maker.Price.GreaterThanOrEqual(taker.Price)
}

// sortByPriority orders makers by most favorable price to the taker
// (lowest ask for a buy, highest bid for a sell), tie-broken by earliest
// creation time (strict FIFO within a price level), then by ID for
// determinism.
func sortByPriority(makers []*model.Order, takerSide model.OrderSide) {
	sort.SliceStable(makers, func(i, j int) bool {
		a, b := makers[i], makers[j]
		if !a.Price.Equal(b.Price) {
			if takerSide == model.SideBuy {
				return a.Price.LessThan(b.Price)
			}
			return a.Price.GreaterThan(b.Price)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
