package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func notFoundErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, options []*model.MarketOption) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, symbol, event_id, name, kind, overround, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
		m.ID, m.Symbol, m.EventID, m.Name, m.Kind, m.Overround.String(), m.Status, m.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, o := range options {
		_, err = tx.Exec(ctx,
			`INSERT INTO market_options (id, market_id, name, current_price, min_price, max_price, last_trade_price, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
			o.ID, o.MarketID, o.Name,
			o.CurrentPrice.String(), o.MinPrice.String(), o.MaxPrice.String(),
			o.LastTradePrice.String(), o.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

const marketColumns = `id, symbol, event_id, name, kind, overround::TEXT, status, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var overround string
	if err := row.Scan(&m.ID, &m.Symbol, &m.EventID, &m.Name, &m.Kind,
		&overround, &m.Status, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Overround, _ = decimal.NewFromString(overround)
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundErr(err, "get market "+id)
	}
	return m, nil
}

func (s *PostgresStore) GetMarketBySymbol(ctx context.Context, symbol string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE symbol = $1`, symbol))
	if err != nil {
		return nil, notFoundErr(err, "get market by symbol "+symbol)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) GetMarketOptions(ctx context.Context, marketID string) ([]*model.MarketOption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, name,
		        current_price::TEXT, min_price::TEXT, max_price::TEXT, last_trade_price::TEXT,
		        updated_at
		 FROM market_options WHERE market_id = $1 ORDER BY id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var options []*model.MarketOption
	for rows.Next() {
		var o model.MarketOption
		var current, min, max, last string
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Name,
			&current, &min, &max, &last, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.CurrentPrice, _ = decimal.NewFromString(current)
		o.MinPrice, _ = decimal.NewFromString(min)
		o.MaxPrice, _ = decimal.NewFromString(max)
		o.LastTradePrice, _ = decimal.NewFromString(last)
		options = append(options, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if options == nil {
		return nil, fmt.Errorf("options for market %s: %w", marketID, ErrNotFound)
	}
	return options, nil
}

func (s *PostgresStore) UpdateOptionPrice(ctx context.Context, optionID string, price, lastTradePrice decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_options
		 SET current_price = $2::NUMERIC, last_trade_price = $3::NUMERIC, updated_at = NOW()
		 WHERE id = $1`,
		optionID, price.String(), lastTradePrice.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("option %s: %w", optionID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, market_id, option_id, type, side, price, quantity, filled_quantity, status, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13)`,
		o.ID, o.UserID, o.MarketID, o.OptionID, o.Type, o.Side,
		o.Price.String(), o.Quantity.String(), o.FilledQuantity.String(),
		o.Status, o.ExpiresAt, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders
		 SET filled_quantity = $2::NUMERIC, status = $3, updated_at = $4
		 WHERE id = $1`,
		o.ID, o.FilledQuantity.String(), o.Status, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

const orderColumns = `id, user_id, market_id, option_id, type, side,
        price::TEXT, quantity::TEXT, filled_quantity::TEXT,
        status, expires_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var price, qty, filled string
	if err := row.Scan(&o.ID, &o.UserID, &o.MarketID, &o.OptionID, &o.Type, &o.Side,
		&price, &qty, &filled,
		&o.Status, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Price, _ = decimal.NewFromString(price)
	o.Quantity, _ = decimal.NewFromString(qty)
	o.FilledQuantity, _ = decimal.NewFromString(filled)
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundErr(err, "get order "+id)
	}
	return o, nil
}

func (s *PostgresStore) OpenOrders(ctx context.Context, marketID, optionID string) ([]*model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE market_id = $1 AND option_id = $2 AND status IN ('open', 'partially_filled')
		 ORDER BY created_at`, marketID, optionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) UserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, market_id, option_id, taker_order_id, maker_order_id, taker_user_id, maker_user_id, taker_side, price, quantity, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11)`,
		t.ID, t.MarketID, t.OptionID, t.TakerOrderID, t.MakerOrderID,
		t.TakerUserID, t.MakerUserID, t.TakerSide,
		t.Price.String(), t.Quantity.String(), t.ExecutedAt,
	)
	return err
}

const tradeColumns = `id, market_id, option_id, taker_order_id, maker_order_id,
        taker_user_id, maker_user_id, taker_side, price::TEXT, quantity::TEXT, executed_at`

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, qty string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.OptionID, &t.TakerOrderID, &t.MakerOrderID,
			&t.TakerUserID, &t.MakerUserID, &t.TakerSide,
			&price, &qty, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Quantity, _ = decimal.NewFromString(qty)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) TradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = $1 ORDER BY executed_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades WHERE taker_user_id = $1 OR maker_user_id = $1 ORDER BY executed_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID, optionID string) (*model.Position, error) {
	var p model.Position
	var qty, avg, pnl string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, market_id, option_id,
		        quantity::TEXT, average_entry_price::TEXT, realized_pnl::TEXT,
		        updated_at
		 FROM positions WHERE user_id = $1 AND market_id = $2 AND option_id = $3`,
		userID, marketID, optionID).
		Scan(&p.UserID, &p.MarketID, &p.OptionID, &qty, &avg, &pnl, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundErr(err, fmt.Sprintf("get position %s/%s/%s", userID, marketID, optionID))
	}

	p.Quantity, _ = decimal.NewFromString(qty)
	p.AverageEntryPrice, _ = decimal.NewFromString(avg)
	p.RealizedPnL, _ = decimal.NewFromString(pnl)
	return &p, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, option_id, quantity, average_entry_price, realized_pnl, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (user_id, market_id, option_id) DO UPDATE SET
		   quantity = EXCLUDED.quantity,
		   average_entry_price = EXCLUDED.average_entry_price,
		   realized_pnl = EXCLUDED.realized_pnl,
		   updated_at = EXCLUDED.updated_at`,
		p.UserID, p.MarketID, p.OptionID,
		p.Quantity.String(), p.AverageEntryPrice.String(), p.RealizedPnL.String(),
		p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, option_id,
		        quantity::TEXT, average_entry_price::TEXT, realized_pnl::TEXT,
		        updated_at
		 FROM positions WHERE user_id = $1 ORDER BY market_id, option_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qty, avg, pnl string
		if err := rows.Scan(&p.UserID, &p.MarketID, &p.OptionID,
			&qty, &avg, &pnl, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qty)
		p.AverageEntryPrice, _ = decimal.NewFromString(avg)
		p.RealizedPnL, _ = decimal.NewFromString(pnl)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
