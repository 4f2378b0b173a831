// Package model defines the core domain types shared across the exchange engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType selects how an order crosses the book.
type OrderType string

const (
	// OrderTypeLimit rests at its price until matched or cancelled.
	OrderTypeLimit OrderType = "limit"

	// OrderTypeMarket consumes the best available resting prices
	// unconditionally. Market orders carry no price of their own and are
	// immediate-or-cancel: any unfilled remainder is cancelled, never
	// rested on the book.
	OrderTypeMarket OrderType = "market"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of an order.
// open → partially_filled → filled, or → cancelled/rejected/expired.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Order is owned exclusively by the engine while open and becomes
// immutable history once terminal.
type Order struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	MarketID       string          `json:"market_id" db:"market_id"`
	OptionID       string          `json:"option_id" db:"option_id"`
	Type           OrderType       `json:"type" db:"type"`
	Side           OrderSide       `json:"side" db:"side"`
	Price          decimal.Decimal `json:"price" db:"price"` // zero for market orders; never consulted
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity" db:"filled_quantity"`
	Status         OrderStatus     `json:"status" db:"status"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Expired reports whether the order has an expiry in the past. Expiry is
// an eligibility precondition for matching, not an interrupt.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// Trade is an immutable record of one match. The execution price is
// always the maker's (resting order's) price. Append-only.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	OptionID     string          `json:"option_id" db:"option_id"`
	TakerOrderID string          `json:"taker_order_id" db:"taker_order_id"`
	MakerOrderID string          `json:"maker_order_id" db:"maker_order_id"`
	TakerUserID  string          `json:"taker_user_id" db:"taker_user_id"`
	MakerUserID  string          `json:"maker_user_id" db:"maker_user_id"`
	TakerSide    OrderSide       `json:"taker_side" db:"taker_side"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	ExecutedAt   time.Time       `json:"executed_at" db:"executed_at"`
}

// Position is a trader's holding in one (user, market, option) triple.
// Quantity is signed: positive long, negative short. AverageEntryPrice is
// meaningful only while Quantity is nonzero. Never deleted, only driven
// to zero quantity.
type Position struct {
	UserID            string          `json:"user_id" db:"user_id"`
	MarketID          string          `json:"market_id" db:"market_id"`
	OptionID          string          `json:"option_id" db:"option_id"`
	Quantity          decimal.Decimal `json:"quantity" db:"quantity"`
	AverageEntryPrice decimal.Decimal `json:"average_entry_price" db:"average_entry_price"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// MarketKind tags the market's outcome structure.
type MarketKind string

const (
	// KindBinary has exactly two options whose implied probabilities must
	// sum to the market's overround target after every price update.
	KindBinary MarketKind = "binary"

	// KindMulti has three or more options.
	KindMulti MarketKind = "multi"
)

// MarketStatus is the trading state of a market.
type MarketStatus string

const (
	MarketOpen      MarketStatus = "open"
	MarketSuspended MarketStatus = "suspended"
	MarketSettled   MarketStatus = "settled"
)

// Market groups a set of mutually exclusive outcome options.
type Market struct {
	ID        string          `json:"id" db:"id"`
	Symbol    string          `json:"symbol" db:"symbol"` // PM-{event}-{category}-{outcomes}-{YYYYMMDD}
	EventID   string          `json:"event_id" db:"event_id"`
	Name      string          `json:"name" db:"name"`
	Kind      MarketKind      `json:"kind" db:"kind"`
	Overround decimal.Decimal `json:"overround" db:"overround"` // target Σ implied probabilities
	Status    MarketStatus    `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// MarketOption is one tradable outcome. Prices are decimal odds (> 1);
// implied probability is 1/price.
type MarketOption struct {
	ID             string          `json:"id" db:"id"`
	MarketID       string          `json:"market_id" db:"market_id"`
	Name           string          `json:"name" db:"name"`
	CurrentPrice   decimal.Decimal `json:"current_price" db:"current_price"`
	MinPrice       decimal.Decimal `json:"min_price" db:"min_price"`
	MaxPrice       decimal.Decimal `json:"max_price" db:"max_price"`
	LastTradePrice decimal.Decimal `json:"last_trade_price" db:"last_trade_price"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// ImpliedProbability returns 1/CurrentPrice.
func (o *MarketOption) ImpliedProbability() decimal.Decimal {
	if o.CurrentPrice.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(o.CurrentPrice, 8)
}

// PriceLevel aggregates all open orders on one side at one price.
// Derived, never stored independently.
type PriceLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"` // total remaining
	OrderCount int             `json:"order_count"`
}

// OrderBook is a point-in-time snapshot of one (market, option) book.
// Bids are sorted descending, asks ascending (best first on both sides).
type OrderBook struct {
	MarketID          string          `json:"market_id"`
	OptionID          string          `json:"option_id"`
	Bids              []PriceLevel    `json:"bids"`
	Asks              []PriceLevel    `json:"asks"`
	LastTradePrice    decimal.Decimal `json:"last_trade_price"`
	LastTradeQuantity decimal.Decimal `json:"last_trade_quantity"`
	LastTradeAt       *time.Time      `json:"last_trade_at,omitempty"`
}

// BestBid returns the highest bid price, or false if no bids rest.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask price, or false if no asks rest.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}
