package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Orders and trades pass through uncached: the matching path must always
// see the live book.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market, options []*model.MarketOption) error {
	if err := s.primary.CreateMarket(ctx, m, options); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateOptionPrice(ctx context.Context, optionID string, price, lastTradePrice decimal.Decimal) error {
	if err := s.primary.UpdateOptionPrice(ctx, optionID, price, lastTradePrice); err != nil {
		return err
	}
	// Invalidate option cache; next read will re-populate.
	s.rdb.Del(ctx, optionOwnerKeys(ctx, s.rdb, optionID)...)
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketBySymbol(ctx context.Context, symbol string) (*model.Market, error) {
	// Try cache via symbol→marketID mapping.
	marketID, err := s.rdb.Get(ctx, symbolKey(symbol)).Result()
	if err == nil {
		return s.GetMarket(ctx, marketID)
	}

	m, err := s.primary.GetMarketBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketOptions(ctx context.Context, marketID string) ([]*model.MarketOption, error) {
	data, err := s.rdb.Get(ctx, optionsKey(marketID)).Bytes()
	if err == nil {
		var options []*model.MarketOption
		if json.Unmarshal(data, &options) == nil {
			return options, nil
		}
	}

	options, err := s.primary.GetMarketOptions(ctx, marketID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(options); err == nil {
		s.rdb.Set(ctx, optionsKey(marketID), data, s.ttl)
		for _, o := range options {
			s.rdb.Set(ctx, optionOwnerKey(o.ID), marketID, s.ttl)
		}
	}
	return options, nil
}

func (s *CachedStore) UserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.UserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	return s.primary.InsertOrder(ctx, o)
}

func (s *CachedStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	return s.primary.UpdateOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) OpenOrders(ctx context.Context, marketID, optionID string) ([]*model.Order, error) {
	return s.primary.OpenOrders(ctx, marketID, optionID)
}

func (s *CachedStore) UserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return s.primary.UserOrders(ctx, userID)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.TradesByMarket(ctx, marketID)
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.TradesByUser(ctx, userID)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, marketID, optionID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, marketID, optionID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
		s.rdb.Set(ctx, symbolKey(m.Symbol), m.ID, s.ttl)
	}
}

// optionOwnerKeys resolves the cache keys to drop when an option's price
// changes: the per-market options blob plus the owner mapping itself.
func optionOwnerKeys(ctx context.Context, rdb *redis.Client, optionID string) []string {
	keys := []string{optionOwnerKey(optionID)}
	if marketID, err := rdb.Get(ctx, optionOwnerKey(optionID)).Result(); err == nil {
		keys = append(keys, optionsKey(marketID))
	}
	return keys
}

func marketKey(id string) string      { return fmt.Sprintf("market:%s", id) }
func symbolKey(symbol string) string  { return fmt.Sprintf("symbol:%s", symbol) }
func optionsKey(marketID string) string { return fmt.Sprintf("options:%s", marketID) }
func optionOwnerKey(optionID string) string { return fmt.Sprintf("option-market:%s", optionID) }
func positionsKey(uid string) string  { return fmt.Sprintf("positions:%s", uid) }
