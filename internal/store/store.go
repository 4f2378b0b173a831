// Package store defines the persistence interface for the exchange
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Markets and options ---

	// CreateMarket persists a new market and its options.
	CreateMarket(ctx context.Context, m *model.Market, options []*model.MarketOption) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketBySymbol retrieves a market by its symbol.
	GetMarketBySymbol(ctx context.Context, symbol string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// GetMarketOptions returns a market's options.
	GetMarketOptions(ctx context.Context, marketID string) ([]*model.MarketOption, error)

	// UpdateOptionPrice updates an option's displayed and last-trade prices.
	UpdateOptionPrice(ctx context.Context, optionID string, price, lastTradePrice decimal.Decimal) error

	// --- Orders ---

	// InsertOrder persists a new order.
	InsertOrder(ctx context.Context, o *model.Order) error

	// UpdateOrder persists an order's mutable fields (filled quantity,
	// status, updated timestamp).
	UpdateOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// OpenOrders returns the open/partially-filled orders for one
	// (market, option) book.
	OpenOrders(ctx context.Context, marketID, optionID string) ([]*model.Order, error)

	// UserOrders returns all orders for a user.
	UserOrders(ctx context.Context, userID string) ([]model.Order, error)

	// --- Immutable trade history ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// TradesByMarket returns all trades for a market.
	TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// TradesByUser returns all trades a user took part in.
	TradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Positions ---

	// GetPosition retrieves one (user, market, option) position, or
	// ErrNotFound if the user has never traded the option.
	GetPosition(ctx context.Context, userID, marketID, optionID string) (*model.Position, error)

	// UpsertPosition creates or replaces a position.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// UserPositions returns all positions for a user.
	UserPositions(ctx context.Context, userID string) ([]model.Position, error)
}
