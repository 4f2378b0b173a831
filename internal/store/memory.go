package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	options   map[string]*model.MarketOption // by option ID
	orders    map[string]*model.Order
	trades    []model.Trade
	positions map[string]*model.Position // key: userID/marketID/optionID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		options:   make(map[string]*model.MarketOption),
		orders:    make(map[string]*model.Order),
		positions: make(map[string]*model.Position),
	}
}

func positionKey(userID, marketID, optionID string) string {
	return userID + "/" + marketID + "/" + optionID
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, options []*model.MarketOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.markets {
		if existing.Symbol == m.Symbol {
			return fmt.Errorf("market for symbol %s already exists", m.Symbol)
		}
	}

	// Store copies to avoid external mutation.
	mc := *m
	s.markets[m.ID] = &mc
	for _, o := range options {
		oc := *o
		s.options[o.ID] = &oc
	}
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	mc := *m
	return &mc, nil
}

func (s *MemoryStore) GetMarketBySymbol(_ context.Context, symbol string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.Symbol == symbol {
			mc := *m
			return &mc, nil
		}
	}
	return nil, fmt.Errorf("market for symbol %s: %w", symbol, ErrNotFound)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) GetMarketOptions(_ context.Context, marketID string) ([]*model.MarketOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var options []*model.MarketOption
	for _, o := range s.options {
		if o.MarketID == marketID {
			oc := *o
			options = append(options, &oc)
		}
	}
	if options == nil {
		return nil, fmt.Errorf("options for market %s: %w", marketID, ErrNotFound)
	}
	return options, nil
}

func (s *MemoryStore) UpdateOptionPrice(_ context.Context, optionID string, price, lastTradePrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.options[optionID]
	if !ok {
		return fmt.Errorf("option %s: %w", optionID, ErrNotFound)
	}
	o.CurrentPrice = price
	o.LastTradePrice = lastTradePrice
	return nil
}

func (s *MemoryStore) InsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oc := *o
	s.orders[o.ID] = &oc
	return nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	oc := *o
	s.orders[o.ID] = &oc
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	oc := *o
	return &oc, nil
}

func (s *MemoryStore) OpenOrders(_ context.Context, marketID, optionID string) ([]*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []*model.Order
	for _, o := range s.orders {
		if o.MarketID != marketID || o.OptionID != optionID {
			continue
		}
		if o.Status != model.StatusOpen && o.Status != model.StatusPartiallyFilled {
			continue
		}
		oc := *o
		orders = append(orders, &oc)
	}
	return orders, nil
}

func (s *MemoryStore) UserOrders(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.TakerUserID == userID || t.MakerUserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID, optionID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey(userID, marketID, optionID)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s/%s: %w", userID, marketID, optionID, ErrNotFound)
	}
	pc := *p
	return &pc, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc := *p
	s.positions[positionKey(p.UserID, p.MarketID, p.OptionID)] = &pc
	return nil
}

func (s *MemoryStore) UserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			positions = append(positions, *p)
		}
	}
	return positions, nil
}
