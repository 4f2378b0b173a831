// Package exchange provides the HTTP handlers and business logic for
// creating markets, submitting and cancelling orders, and querying books,
// positions, and fair odds.
//
// All monetary values use shopspring/decimal — never float64 for money.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predx/exchange-engine/internal/book"
	"github.com/predx/exchange-engine/internal/market"
	"github.com/predx/exchange-engine/internal/metrics"
	"github.com/predx/exchange-engine/internal/model"
	"github.com/predx/exchange-engine/internal/odds"
	"github.com/predx/exchange-engine/internal/position"
	"github.com/predx/exchange-engine/internal/pricing"
	"github.com/predx/exchange-engine/internal/risk"
	"github.com/predx/exchange-engine/internal/store"
)

// Service handles exchange operations. All order-submission and
// book-mutation operations are serialized per (market, option) via a
// lazily created mutex per book; operations on independent books proceed
// in parallel. Position read-modify-writes happen inside the same
// critical section, so they never interleave.
type Service struct {
	store   store.Store
	pricer  *pricing.Pricer
	fair    *odds.Calculator
	limiter *risk.Limiter
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts

	bookLocks sync.Map // map[string]*sync.Mutex, key marketID+"/"+optionID
}

// NewService creates a new exchange service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, pricer *pricing.Pricer, fair *odds.Calculator, limiter *risk.Limiter, hub *WSHub) *Service {
	return &Service{
		store:   st,
		pricer:  pricer,
		fair:    fair,
		limiter: limiter,
		wsHub:   hub,
	}
}

func (s *Service) bookLock(marketID, optionID string) *sync.Mutex {
	lock, _ := s.bookLocks.LoadOrStore(marketID+"/"+optionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Symbol    string              `json:"symbol"` // PM-{event}-{category}-{outcomes}-{YYYYMMDD}
	Name      string              `json:"name"`
	Overround decimal.Decimal     `json:"overround"` // 0 → default 1.00
	Options   []market.OptionSpec `json:"options"`
}

// SubmitOrderRequest is the JSON body for POST /orders.
type SubmitOrderRequest struct {
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	OptionID  string          `json:"option_id"`
	Type      model.OrderType `json:"type"`
	Side      model.OrderSide `json:"side"`
	Price     decimal.Decimal `json:"price,omitempty"` // required for limit orders
	Quantity  decimal.Decimal `json:"quantity"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// SubmitOrderResponse is the JSON body returned from POST /orders.
type SubmitOrderResponse struct {
	Order  *model.Order      `json:"order"`
	Result *book.TradeResult `json:"result"`
}

// CancelOrderRequest is the JSON body for POST /orders/{orderID}/cancel.
type CancelOrderRequest struct {
	UserID string `json:"user_id"`
}

// PositionResponse is a position snapshot with its mark-to-market valuation.
type PositionResponse struct {
	Position  *model.Position    `json:"position"`
	Valuation position.Valuation `json:"valuation"`
}

// PortfolioResponse aggregates all of a user's positions.
type PortfolioResponse struct {
	UserID          string             `json:"user_id"`
	Positions       []PositionResponse `json:"positions"`
	TotalRealized   decimal.Decimal    `json:"total_realized_pnl"`
	TotalUnrealized decimal.Decimal    `json:"total_unrealized_pnl"`
	TotalValue      decimal.Decimal    `json:"total_market_value"`
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	parsed, err := market.ParseSymbol(req.Symbol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Options) != parsed.Outcomes {
		writeError(w, "option count does not match symbol outcome count", http.StatusBadRequest)
		return
	}

	overround := req.Overround
	if overround.LessThanOrEqual(decimal.Zero) {
		overround = decimal.NewFromInt(1) // default: fair book
	}

	kind := model.KindMulti
	if parsed.Binary() {
		kind = model.KindBinary
	}

	now := time.Now().UTC()
	m := &model.Market{
		ID:        uuid.New().String(),
		Symbol:    req.Symbol,
		EventID:   parsed.EventID,
		Name:      req.Name,
		Kind:      kind,
		Overround: overround,
		Status:    model.MarketOpen,
		CreatedAt: now,
	}

	options := make([]*model.MarketOption, 0, len(req.Options))
	for i := range req.Options {
		spec := req.Options[i]
		if err := spec.Normalize(parsed.Outcomes); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		options = append(options, &model.MarketOption{
			ID:           uuid.New().String(),
			MarketID:     m.ID,
			Name:         spec.Name,
			CurrentPrice: spec.InitialPrice,
			MinPrice:     spec.MinPrice,
			MaxPrice:     spec.MaxPrice,
			UpdatedAt:    now,
		})
	}

	if err := s.store.CreateMarket(r.Context(), m, options); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("market created",
		"id", m.ID,
		"symbol", m.Symbol,
		"kind", string(m.Kind),
		"options", len(options),
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"market":  m,
		"options": options,
	})
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	options, err := s.store.GetMarketOptions(r.Context(), marketID)
	if err != nil {
		writeError(w, "market options not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market":  m,
		"options": options,
	})
}

// GetMarketBySymbol handles GET /api/v1/markets/symbol/{symbol}
func (s *Service) GetMarketBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	m, err := s.store.GetMarketBySymbol(r.Context(), symbol)
	if err != nil {
		writeError(w, "market not found for symbol "+symbol, http.StatusNotFound)
		return
	}
	options, err := s.store.GetMarketOptions(r.Context(), m.ID)
	if err != nil {
		writeError(w, "market options not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market":  m,
		"options": options,
	})
}

// --- Order handlers ---

// SubmitOrder handles POST /api/v1/orders
// Validates, matches against the resting book under the per-book lock,
// persists the results, updates positions, and reprices the market.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if req.Type != model.OrderTypeLimit && req.Type != model.OrderTypeMarket {
		writeError(w, "type must be limit or market", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()

	mkt, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		writeError(w, "market not found: "+req.MarketID, http.StatusNotFound)
		return
	}
	if mkt.Status != model.MarketOpen {
		writeError(w, "market is not open for trading", http.StatusConflict)
		metrics.OrderRejections.WithLabelValues("market_closed").Inc()
		return
	}

	options, err := s.store.GetMarketOptions(ctx, req.MarketID)
	if err != nil {
		writeError(w, "market options not found", http.StatusNotFound)
		return
	}
	opt := findOption(options, req.OptionID)
	if opt == nil {
		writeError(w, "option not found: "+req.OptionID, http.StatusNotFound)
		return
	}

	// Serialize all mutation of this (market, option) book.
	lock := s.bookLock(req.MarketID, req.OptionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()

	resting, err := s.store.OpenOrders(ctx, req.MarketID, req.OptionID)
	if err != nil {
		writeError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}
	resting = s.retireExpired(ctx, resting, now)

	// --- Business-rule checks, before any mutation ---
	if err := s.checkReduction(ctx, &req, resting); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		metrics.OrderRejections.WithLabelValues("over_reduction").Inc()
		return
	}
	if err := s.checkExposure(ctx, mkt, &req); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		metrics.OrderRejections.WithLabelValues("exposure_limit").Inc()
		return
	}

	// --- Match ---
	order, result, err := book.CreateOrder(book.NewOrderParams{
		UserID:    req.UserID,
		MarketID:  req.MarketID,
		OptionID:  req.OptionID,
		Type:      req.Type,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		ExpiresAt: req.ExpiresAt,
	}, resting, now)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		metrics.OrderRejections.WithLabelValues("validation").Inc()
		return
	}

	// --- Persist taker, makers, trades, positions ---
	if err := s.store.InsertOrder(ctx, order); err != nil {
		writeError(w, "failed to record order", http.StatusInternalServerError)
		return
	}

	makersByID := make(map[string]*model.Order, len(resting))
	for _, m := range resting {
		makersByID[m.ID] = m
	}

	for _, match := range result.Matches {
		maker := makersByID[match.MakerOrderID]
		if err := s.store.UpdateOrder(ctx, maker); err != nil {
			writeError(w, "failed to update maker order", http.StatusInternalServerError)
			return
		}

		trade := &model.Trade{
			ID:           uuid.New().String(),
			MarketID:     req.MarketID,
			OptionID:     req.OptionID,
			TakerOrderID: order.ID,
			MakerOrderID: match.MakerOrderID,
			TakerUserID:  req.UserID,
			MakerUserID:  match.MakerUserID,
			TakerSide:    req.Side,
			Price:        match.Price,
			Quantity:     match.Quantity,
			ExecutedAt:   match.ExecutedAt,
		}
		if err := s.store.InsertTrade(ctx, trade); err != nil {
			writeError(w, "failed to record trade", http.StatusInternalServerError)
			return
		}

		s.applyPositionUpdate(ctx, req.MarketID, req.OptionID, req.UserID, req.Side, match)
		s.applyPositionUpdate(ctx, req.MarketID, req.OptionID, match.MakerUserID, req.Side.Opposite(), match)

		metrics.TradesTotal.WithLabelValues(string(req.Side)).Inc()
	}

	// --- Reprice after the trades are recorded ---
	s.reprice(ctx, mkt, opt, options, order, result)

	metrics.OrdersTotal.WithLabelValues(string(req.Side), string(req.Type)).Inc()
	metrics.MatchLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())
	if result.FilledQuantity.IsPositive() {
		metrics.MarketVolume.WithLabelValues(req.MarketID, string(req.Side)).
			Add(result.FilledQuantity.InexactFloat64())
	}

	slog.Info("order processed",
		"order_id", order.ID,
		"user", req.UserID,
		"market", req.MarketID,
		"option", req.OptionID,
		"side", string(req.Side),
		"type", string(req.Type),
		"qty", req.Quantity.String(),
		"filled", result.FilledQuantity.String(),
		"avg_price", result.AveragePrice.String(),
		"status", string(result.Status),
	)

	writeJSON(w, http.StatusOK, SubmitOrderResponse{Order: order, Result: result})
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
// Only the owning user may cancel; only non-terminal orders may be cancelled.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Locate the book before taking its lock.
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}

	lock := s.bookLock(o.MarketID, o.OptionID)
	lock.Lock()
	defer lock.Unlock()

	// Reload under the lock; a concurrent fill may have terminated it.
	o, err = s.store.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}
	if o.UserID != req.UserID {
		writeError(w, "order belongs to another user", http.StatusForbidden)
		return
	}
	if o.Status.Terminal() {
		writeError(w, "order is already "+string(o.Status), http.StatusConflict)
		return
	}

	o.Status = model.StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateOrder(ctx, o); err != nil {
		writeError(w, "failed to cancel order", http.StatusInternalServerError)
		return
	}

	metrics.CancelsTotal.Inc()
	slog.Info("order cancelled", "order_id", o.ID, "user", o.UserID)

	// The book changed shape: recompute mid-point prices.
	s.repriceFromBooks(ctx, o.MarketID)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "book_update",
			MarketID: o.MarketID,
			OptionID: o.OptionID,
		})
	}

	writeJSON(w, http.StatusOK, o)
}

// GetOrderBook handles GET /api/v1/markets/{marketID}/options/{optionID}/book
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	optionID := chi.URLParam(r, "optionID")
	ctx := r.Context()

	orders, err := s.store.OpenOrders(ctx, marketID, optionID)
	if err != nil {
		writeError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}
	orders = s.retireExpired(ctx, orders, time.Now().UTC())

	writeJSON(w, http.StatusOK, book.Snapshot(marketID, optionID, orders))
}

// GetUserOrders handles GET /api/v1/orders/user/{userID}
func (s *Service) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	orders, err := s.store.UserOrders(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetTrades handles GET /api/v1/markets/{marketID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	trades, err := s.store.TradesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetUserTrades handles GET /api/v1/trades/user/{userID}
// Returns trades where the user was on either side.
func (s *Service) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	trades, err := s.store.TradesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Position handlers ---

// GetPosition handles GET /api/v1/positions/{userID}/{marketID}/{optionID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	marketID := chi.URLParam(r, "marketID")
	optionID := chi.URLParam(r, "optionID")
	ctx := r.Context()

	pos, err := s.store.GetPosition(ctx, userID, marketID, optionID)
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	options, err := s.store.GetMarketOptions(ctx, marketID)
	if err != nil {
		writeError(w, "market options not found", http.StatusNotFound)
		return
	}
	opt := findOption(options, optionID)
	if opt == nil {
		writeError(w, "option not found: "+optionID, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, PositionResponse{
		Position:  pos,
		Valuation: position.Value(pos, opt.CurrentPrice),
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns all positions with valuations at current option prices.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	positions, err := s.store.UserPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	resp := PortfolioResponse{
		UserID:    userID,
		Positions: []PositionResponse{},
	}
	optionPrices := make(map[string]decimal.Decimal)

	for i := range positions {
		p := positions[i]
		price, ok := optionPrices[p.OptionID]
		if !ok {
			options, err := s.store.GetMarketOptions(ctx, p.MarketID)
			if err != nil {
				slog.Error("portfolio option lookup failed",
					"user_id", userID, "market_id", p.MarketID, "error", err)
				writeError(w, "failed to load market options", http.StatusInternalServerError)
				return
			}
			for _, o := range options {
				optionPrices[o.ID] = o.CurrentPrice
			}
			price = optionPrices[p.OptionID]
		}

		val := position.Value(&p, price)
		resp.Positions = append(resp.Positions, PositionResponse{Position: &positions[i], Valuation: val})
		resp.TotalRealized = resp.TotalRealized.Add(val.RealizedPnL)
		resp.TotalUnrealized = resp.TotalUnrealized.Add(val.UnrealizedPnL)
		resp.TotalValue = resp.TotalValue.Add(val.CurrentMarketValue)
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Analytics ---

// GetFairOdds handles GET /api/v1/markets/{marketID}/fair-odds?format=decimal
// Computes fair-value odds from current prices and book order flow. This
// is an analytics view and never posts trades.
func (s *Service) GetFairOdds(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	format := odds.Format(r.URL.Query().Get("format"))
	ctx := r.Context()

	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	options, err := s.store.GetMarketOptions(ctx, marketID)
	if err != nil {
		writeError(w, "market options not found", http.StatusNotFound)
		return
	}

	inputs := make([]odds.OptionInput, 0, len(options))
	for _, opt := range options {
		orders, err := s.store.OpenOrders(ctx, marketID, opt.ID)
		if err != nil {
			writeError(w, "failed to load order book", http.StatusInternalServerError)
			return
		}
		inputs = append(inputs, odds.OptionInput{
			OptionID:  opt.ID,
			Price:     opt.CurrentPrice,
			FlowDelta: flowDelta(orders),
			MinPrice:  opt.MinPrice,
			MaxPrice:  opt.MaxPrice,
		})
	}

	values, err := s.fair.FairOdds(inputs, format)
	if err != nil {
		if errors.Is(err, odds.ErrInvalidFormat) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, values)
}

// --- Internal helpers ---

// retireExpired lazily transitions expired orders and returns the still
// live remainder.
func (s *Service) retireExpired(ctx context.Context, orders []*model.Order, now time.Time) []*model.Order {
	expired := book.MarkExpired(orders, now)
	for _, o := range expired {
		if err := s.store.UpdateOrder(ctx, o); err != nil {
			slog.Error("failed to expire order", "order_id", o.ID, "err", err)
		}
	}
	if len(expired) == 0 {
		return orders
	}
	live := orders[:0]
	for _, o := range orders {
		if !o.Status.Terminal() {
			live = append(live, o)
		}
	}
	return live
}

// checkReduction rejects sells (or covers) that would reduce the user's
// position past zero, accounting for quantity already committed to the
// user's other open orders on the same side. Because every order passes
// this check at submit time, maker fills can never over-reduce later.
func (s *Service) checkReduction(ctx context.Context, req *SubmitOrderRequest, resting []*model.Order) error {
	pos, err := s.store.GetPosition(ctx, req.UserID, req.MarketID, req.OptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil // no position: the order opens one
		}
		return err
	}
	if pos.Quantity.IsZero() {
		return nil
	}

	reducing := (pos.Quantity.Sign() > 0 && req.Side == model.SideSell) ||
		(pos.Quantity.Sign() < 0 && req.Side == model.SideBuy)
	if !reducing {
		return nil
	}

	reserved := decimal.Zero
	for _, o := range resting {
		if o.UserID == req.UserID && o.Side == req.Side {
			reserved = reserved.Add(o.Remaining())
		}
	}

	available := pos.Quantity.Abs().Sub(reserved)
	if req.Quantity.GreaterThan(available) {
		return position.ErrOverReduction
	}
	return nil
}

// checkExposure runs the risk limiter over the user's current positions.
func (s *Service) checkExposure(ctx context.Context, mkt *model.Market, req *SubmitOrderRequest) error {
	if s.limiter == nil {
		return nil
	}

	positions, err := s.store.UserPositions(ctx, req.UserID)
	if err != nil {
		return err
	}

	eventByMarket := map[string]string{mkt.ID: mkt.EventID}
	exposures := make([]risk.Exposure, 0, len(positions))
	for _, p := range positions {
		eventID, ok := eventByMarket[p.MarketID]
		if !ok {
			if m, err := s.store.GetMarket(ctx, p.MarketID); err == nil {
				eventID = m.EventID
			}
			eventByMarket[p.MarketID] = eventID
		}
		exposures = append(exposures, risk.Exposure{
			EventID:  eventID,
			OptionID: p.OptionID,
			Net:      p.Quantity,
		})
	}

	delta := req.Quantity
	if req.Side == model.SideSell {
		delta = delta.Neg()
	}
	return s.limiter.Check(mkt.EventID, req.OptionID, delta, exposures)
}

// applyPositionUpdate applies one fill to one side's position. The
// submit-time reduction check makes over-reduction here unreachable; if
// it surfaces anyway it indicates ledger inconsistency and is logged
// loudly rather than unwinding recorded trades.
func (s *Service) applyPositionUpdate(ctx context.Context, marketID, optionID, userID string, side model.OrderSide, match book.Match) {
	existing, err := s.store.GetPosition(ctx, userID, marketID, optionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to load position", "user", userID, "err", err)
		return
	}

	next, err := position.Apply(position.TradeParams{
		UserID:     userID,
		MarketID:   marketID,
		OptionID:   optionID,
		Side:       side,
		Price:      match.Price,
		Quantity:   match.Quantity,
		ExecutedAt: match.ExecutedAt,
	}, existing)
	if err != nil {
		slog.Error("position update failed", "user", userID, "market", marketID, "option", optionID, "err", err)
		return
	}

	if err := s.store.UpsertPosition(ctx, next); err != nil {
		slog.Error("failed to save position", "user", userID, "err", err)
	}
}

// reprice recomputes displayed prices after an order: trade impact when
// the order filled, book mid-points when it only rested. Price updates
// are applied after the trades are recorded, so displayed prices always
// correspond to committed trades.
func (s *Service) reprice(ctx context.Context, mkt *model.Market, opt *model.MarketOption, options []*model.MarketOption, order *model.Order, result *book.TradeResult) {
	var updates []pricing.PriceUpdate
	var err error

	if result.FilledQuantity.IsPositive() {
		updates, err = s.pricer.ProcessMarketOrder(mkt, opt.ID, order.Side, result.FilledQuantity, options)
	} else {
		books, berr := s.loadBooks(ctx, mkt.ID, options)
		if berr != nil {
			slog.Error("failed to load books for repricing", "market", mkt.ID, "err", berr)
			return
		}
		updates, err = s.pricer.UpdateMarketPrices(mkt, options, books)
	}
	if err != nil {
		slog.Error("repricing failed", "market", mkt.ID, "err", err)
		return
	}

	for _, u := range updates {
		lastTrade := decimal.Zero
		if o := findOption(options, u.OptionID); o != nil {
			lastTrade = o.LastTradePrice
		}
		if u.OptionID == opt.ID && result.FilledQuantity.IsPositive() {
			lastTrade = result.AveragePrice
		}
		s.persistPriceUpdate(ctx, mkt.ID, u, lastTrade)
	}

	if s.wsHub != nil && result.FilledQuantity.IsPositive() {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade",
			MarketID: mkt.ID,
			OptionID: opt.ID,
			Price:    result.AveragePrice.String(),
			Side:     string(order.Side),
			Quantity: result.FilledQuantity.String(),
		})
	}
}

// repriceFromBooks recomputes all of a market's prices from current book
// mid-points. Used after cancellations, where no trade supplies an impact.
func (s *Service) repriceFromBooks(ctx context.Context, marketID string) {
	mkt, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		slog.Error("failed to load market for repricing", "market", marketID, "err", err)
		return
	}
	options, err := s.store.GetMarketOptions(ctx, marketID)
	if err != nil {
		slog.Error("failed to load options for repricing", "market", marketID, "err", err)
		return
	}
	books, err := s.loadBooks(ctx, marketID, options)
	if err != nil {
		slog.Error("failed to load books for repricing", "market", marketID, "err", err)
		return
	}

	updates, err := s.pricer.UpdateMarketPrices(mkt, options, books)
	if err != nil {
		slog.Error("repricing failed", "market", marketID, "err", err)
		return
	}
	for _, u := range updates {
		lastTrade := decimal.Zero
		if o := findOption(options, u.OptionID); o != nil {
			lastTrade = o.LastTradePrice
		}
		s.persistPriceUpdate(ctx, marketID, u, lastTrade)
	}
}

// loadBooks snapshots the order book of every option in a market.
func (s *Service) loadBooks(ctx context.Context, marketID string, options []*model.MarketOption) (map[string]*model.OrderBook, error) {
	books := make(map[string]*model.OrderBook, len(options))
	for _, o := range options {
		orders, err := s.store.OpenOrders(ctx, marketID, o.ID)
		if err != nil {
			return nil, err
		}
		books[o.ID] = book.Snapshot(marketID, o.ID, orders)
	}
	return books, nil
}

// persistPriceUpdate saves one option's new price and broadcasts it.
func (s *Service) persistPriceUpdate(ctx context.Context, marketID string, u pricing.PriceUpdate, lastTrade decimal.Decimal) {
	if err := s.store.UpdateOptionPrice(ctx, u.OptionID, u.NewPrice, lastTrade); err != nil {
		slog.Error("failed to update option price", "option", u.OptionID, "err", err)
		return
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "price_update",
			MarketID: marketID,
			OptionID: u.OptionID,
			Price:    u.NewPrice.String(),
		})
	}
}

// flowDelta measures net order-flow imbalance for one book in [-1, 1]:
// (buy volume − sell volume) / total volume over remaining open quantity.
func flowDelta(orders []*model.Order) decimal.Decimal {
	buy, sell := decimal.Zero, decimal.Zero
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		if o.Side == model.SideBuy {
			buy = buy.Add(o.Remaining())
		} else {
			sell = sell.Add(o.Remaining())
		}
	}
	total := buy.Add(sell)
	if total.IsZero() {
		return decimal.Zero
	}
	return buy.Sub(sell).DivRound(total, 8)
}

func findOption(options []*model.MarketOption, id string) *model.MarketOption {
	for _, o := range options {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
