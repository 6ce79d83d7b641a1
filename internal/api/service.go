// Package api provides the HTTP handlers for games, portfolios, trades,
// standing orders, and stock lookups.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/engine"
	"github.com/stockpit/portfolio-engine/internal/marketdata"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

const dateLayout = "2006-01-02"

// Service handles game and trading operations over HTTP. All mutations go
// through the engine, which serializes per-portfolio state changes.
type Service struct {
	store   store.Store
	engine  *engine.Engine
	gateway marketdata.Gateway
	clock   calendar.Clock
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, eng *engine.Engine, gw marketdata.Gateway, clock calendar.Clock, hub *WSHub) *Service {
	return &Service{
		store:   st,
		engine:  eng,
		gateway: gw,
		clock:   clock,
		wsHub:   hub,
	}
}

// --- Request/Response types ---

// CreateGameRequest is the JSON body for POST /games.
type CreateGameRequest struct {
	CreatorID      string          `json:"creator_id"`
	Name           string          `json:"name"`
	Password       string          `json:"password,omitempty"` // empty = public
	StartDate      string          `json:"start_date"`         // YYYY-MM-DD
	EndDate        string          `json:"end_date,omitempty"` // empty = open-ended
	StartingCash   decimal.Decimal `json:"starting_cash"`
	TransactionFee decimal.Decimal `json:"transaction_fee"`
	FeeType        string          `json:"fee_type"`
}

// JoinGameRequest is the JSON body for POST /games/{gameID}/join.
type JoinGameRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password,omitempty"`
}

// TradeRequest is the JSON body for POST /trades.
type TradeRequest struct {
	PortfolioID string `json:"portfolio_id"`
	Ticker      string `json:"ticker"`
	Type        string `json:"type"` // "buy" or "sell"
	Shares      int64  `json:"shares"`
}

// TradeResponse is the JSON body returned from POST /trades.
type TradeResponse struct {
	Transaction   model.Transaction `json:"transaction"`
	Ticker        string            `json:"ticker"`
	AvailableCash decimal.Decimal   `json:"available_cash"`
	CurrentValue  decimal.Decimal   `json:"current_value"`
}

// SubmitOrderRequest is the JSON body for POST /orders.
type SubmitOrderRequest struct {
	PortfolioID string           `json:"portfolio_id"`
	Ticker      string           `json:"ticker"`
	Type        string           `json:"type"`
	Shares      int64            `json:"shares"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty"`
	ExpiresOn   string           `json:"expires_on,omitempty"` // YYYY-MM-DD
}

// --- Game handlers ---

// CreateGame handles POST /api/v1/games
func (s *Service) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	var end *time.Time
	if req.EndDate != "" {
		e, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			writeError(w, "end_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		end = &e
	}

	game, err := s.engine.CreateGame(r.Context(), engine.CreateGameRequest{
		CreatorID:      req.CreatorID,
		Name:           req.Name,
		Password:       req.Password,
		StartDate:      start,
		EndDate:        end,
		StartingCash:   req.StartingCash,
		TransactionFee: req.TransactionFee,
		FeeType:        model.FeeType(req.FeeType),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("game created",
		"id", game.ID,
		"name", game.Name,
		"creator", game.CreatorID,
		"status", game.Status,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(game)
}

// ListGames handles GET /api/v1/games
// Returns all games sorted by participant count, optionally filtered by
// ?status=<status>.
func (s *Service) ListGames(w http.ResponseWriter, r *http.Request) {
	var games []model.Game
	var err error

	if status := r.URL.Query().Get("status"); status != "" {
		games, err = s.store.ListGamesByStatus(r.Context(), model.GameStatus(status))
	} else {
		games, err = s.store.ListGames(r.Context())
	}
	if err != nil {
		writeError(w, "failed to list games", http.StatusInternalServerError)
		return
	}
	if games == nil {
		games = []model.Game{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(games)
}

// GetGame handles GET /api/v1/games/{gameID}
func (s *Service) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	game, err := s.store.GetGame(r.Context(), gameID)
	if err != nil {
		writeError(w, "game not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(game)
}

// JoinGame handles POST /api/v1/games/{gameID}/join
func (s *Service) JoinGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	var req JoinGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	portfolio, err := s.engine.JoinGame(r.Context(), gameID, req.UserID, req.Password)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("player joined game", "game", gameID, "user", req.UserID, "portfolio", portfolio.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(portfolio)
}

// GetLeaderboard handles GET /api/v1/games/{gameID}/leaderboard
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	entries, err := s.engine.Leaderboard(r.Context(), gameID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetGameHistory handles GET /api/v1/games/{gameID}/history
// Returns end-of-day closing values for every portfolio in the game.
func (s *Service) GetGameHistory(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	if _, err := s.store.GetGame(r.Context(), gameID); err != nil {
		writeError(w, "game not found", http.StatusNotFound)
		return
	}

	history, err := s.store.ListClosingHistoryByGame(r.Context(), gameID)
	if err != nil {
		writeError(w, "failed to get game history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.ClosingHistory{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// GetGameIntraday handles GET /api/v1/games/{gameID}/intraday
// Returns today's intraday value snapshots for every portfolio in the game.
// Outside market hours "today" is the most recent trading date.
func (s *Service) GetGameIntraday(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	if _, err := s.store.GetGame(r.Context(), gameID); err != nil {
		writeError(w, "game not found", http.StatusNotFound)
		return
	}

	date := calendar.MarketDate(s.clock.Now())
	history, err := s.store.ListDailyHistoryByGame(r.Context(), gameID, date)
	if err != nil {
		writeError(w, "failed to get intraday history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.DailyHistory{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// --- Portfolio handlers ---

// GetPortfolio handles GET /api/v1/portfolios/{portfolioID}
// Returns the full dashboard view: holdings, open orders, and the ledger.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	snapshot, err := s.engine.Snapshot(r.Context(), portfolioID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// ListPortfolioOrders handles GET /api/v1/portfolios/{portfolioID}/orders
func (s *Service) ListPortfolioOrders(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	orders, err := s.store.ListOrdersByPortfolio(r.Context(), portfolioID)
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// --- Trade handlers ---

// ExecuteTrade handles POST /api/v1/trades
// Buys or sells at the current market price and returns the ledger entry.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PortfolioID == "" {
		writeError(w, "portfolio_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	tx, err := s.engine.Trade(ctx, req.PortfolioID, req.Ticker, model.TradeType(req.Type), req.Shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	portfolio, err := s.store.GetPortfolio(ctx, req.PortfolioID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	ticker := marketdata.NormalizeTicker(req.Ticker)
	resp := TradeResponse{
		Transaction:   *tx,
		Ticker:        ticker,
		AvailableCash: portfolio.AvailableCash,
		CurrentValue:  portfolio.CurrentValue,
	}

	slog.Info("trade executed",
		"transaction", tx.ID,
		"portfolio", req.PortfolioID,
		"ticker", ticker,
		"type", tx.Type,
		"shares", tx.Shares,
		"total", tx.TotalValue.String(),
	)

	// Broadcast so dashboards watching this game refresh immediately.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "trade_executed",
			GameID:      portfolio.GameID,
			PortfolioID: portfolio.ID,
			Ticker:      ticker,
			TradeType:   string(tx.Type),
			Shares:      tx.Shares,
			Value:       portfolio.CurrentValue.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Order handlers ---

// SubmitOrder handles POST /api/v1/orders
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PortfolioID == "" {
		writeError(w, "portfolio_id is required", http.StatusBadRequest)
		return
	}

	var expires *time.Time
	if req.ExpiresOn != "" {
		e, err := time.Parse(dateLayout, req.ExpiresOn)
		if err != nil {
			writeError(w, "expires_on must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		expires = &e
	}

	order, err := s.engine.SubmitOrder(r.Context(), engine.SubmitOrderRequest{
		PortfolioID: req.PortfolioID,
		Ticker:      req.Ticker,
		Type:        model.OrderType(req.Type),
		Shares:      req.Shares,
		TargetPrice: req.TargetPrice,
		ExpiresOn:   expires,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("order placed",
		"order", order.ID,
		"portfolio", order.PortfolioID,
		"type", order.Type,
		"shares", order.Shares,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := s.engine.CancelOrder(r.Context(), orderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// --- Stock handlers ---

// GetStock handles GET /api/v1/stocks/{ticker}
// Fetches a fresh quote and returns the tracked stock record.
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	stock, err := s.engine.EnsureStock(r.Context(), ticker)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stock)
}

// GetStockHistory handles GET /api/v1/stocks/{ticker}/history
// Returns a historical price series, period selected by ?period= (default 1mo).
func (s *Service) GetStockHistory(w http.ResponseWriter, r *http.Request) {
	ticker := marketdata.NormalizeTicker(chi.URLParam(r, "ticker"))

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1mo"
	}

	bars, err := s.gateway.History(r.Context(), ticker, period)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if bars == nil {
		bars = []marketdata.Bar{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bars)
}

// GetStockNews handles GET /api/v1/stocks/{ticker}/news
func (s *Service) GetStockNews(w http.ResponseWriter, r *http.Request) {
	ticker := marketdata.NormalizeTicker(chi.URLParam(r, "ticker"))

	articles, err := s.gateway.News(r.Context(), ticker)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if articles == nil {
		articles = []marketdata.Article{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(articles)
}

// --- Error mapping ---

// writeEngineError maps engine and store errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var valErr *engine.ValidationError
	var termErr *engine.TerminalStateError
	var lookupErr *marketdata.LookupError

	switch {
	case errors.As(err, &valErr):
		writeError(w, valErr.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrWrongPassword):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientHoldings):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, engine.ErrMarketClosed),
		errors.Is(err, engine.ErrGameNotActive),
		errors.Is(err, engine.ErrAlreadyJoined),
		errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &termErr):
		writeError(w, termErr.Error(), http.StatusConflict)
	case errors.As(err, &lookupErr):
		writeError(w, lookupErr.Error(), http.StatusBadGateway)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
