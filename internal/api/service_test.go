package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/api"
	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/engine"
	"github.com/stockpit/portfolio-engine/internal/marketdata"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// tradingTime is a Wednesday mid-session.
var tradingTime = time.Date(2025, 6, 11, 10, 30, 0, 0, time.UTC)

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	gw := marketdata.NewStaticGateway(
		marketdata.Quote{Ticker: "AAPL", Price: d(200), Open: d(198), PreviousClose: d(197), CompanyName: "Apple Inc.", Currency: "USD"},
	)
	clock := calendar.FixedClock{T: tradingTime}
	eng := engine.New(ms, gw, clock)
	svc := api.NewService(ms, eng, gw, clock, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/games", svc.CreateGame)
	r.Get("/api/v1/games", svc.ListGames)
	r.Get("/api/v1/games/{gameID}", svc.GetGame)
	r.Post("/api/v1/games/{gameID}/join", svc.JoinGame)
	r.Get("/api/v1/games/{gameID}/leaderboard", svc.GetLeaderboard)
	r.Get("/api/v1/games/{gameID}/history", svc.GetGameHistory)
	r.Get("/api/v1/games/{gameID}/intraday", svc.GetGameIntraday)
	r.Get("/api/v1/portfolios/{portfolioID}", svc.GetPortfolio)
	r.Get("/api/v1/portfolios/{portfolioID}/orders", svc.ListPortfolioOrders)
	r.Post("/api/v1/trades", svc.ExecuteTrade)
	r.Post("/api/v1/orders", svc.SubmitOrder)
	r.Delete("/api/v1/orders/{orderID}", svc.CancelOrder)
	r.Get("/api/v1/stocks/{ticker}", svc.GetStock)

	return ms, r
}

// seedGame creates an in-progress game directly in the store.
func seedGame(t *testing.T, ms *store.MemoryStore, name string) *model.Game {
	t.Helper()
	g := &model.Game{
		ID:             "game-" + strings.ReplaceAll(name, " ", "-"),
		CreatorID:      "creator",
		Name:           name,
		StartDate:      tradingTime.AddDate(0, 0, -7),
		Status:         model.GameInProgress,
		StartingCash:   d(10000),
		TransactionFee: d(5),
		FeeType:        model.FeeFlat,
		CreatedAt:      tradingTime,
	}
	if err := ms.CreateGame(context.Background(), g); err != nil {
		t.Fatalf("failed to seed game: %v", err)
	}
	return g
}

// seedPortfolio creates a portfolio directly in the store.
func seedPortfolio(t *testing.T, ms *store.MemoryStore, gameID, userID string) *model.Portfolio {
	t.Helper()
	p := &model.Portfolio{
		ID:             "pf-" + userID,
		UserID:         userID,
		GameID:         gameID,
		AvailableCash:  d(10000),
		CurrentValue:   d(10000),
		LastCloseValue: d(10000),
		CreatedAt:      tradingTime,
	}
	if err := ms.CreatePortfolio(context.Background(), p); err != nil {
		t.Fatalf("failed to seed portfolio: %v", err)
	}
	return p
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Game tests ---

func TestCreateGame_Valid(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/games", api.CreateGameRequest{
		CreatorID:      "alice",
		Name:           "Summer Showdown",
		StartDate:      "2025-06-11",
		EndDate:        "2025-07-11",
		StartingCash:   d(10000),
		TransactionFee: d(5),
		FeeType:        string(model.FeeFlat),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var game model.Game
	json.Unmarshal(w.Body.Bytes(), &game)

	if game.ID == "" {
		t.Error("expected non-empty game id")
	}
	if game.Status != model.GameInProgress {
		t.Errorf("game starting today should be in progress, got %s", game.Status)
	}
	if game.Participants != 1 {
		t.Errorf("creator should auto-join, participants = %d", game.Participants)
	}
}

func TestCreateGame_BadDate(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/games", api.CreateGameRequest{
		CreatorID:    "alice",
		Name:         "Bad Dates",
		StartDate:    "June 11th",
		StartingCash: d(10000),
		FeeType:      string(model.FeeFlat),
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unparseable date, got %d", w.Code)
	}
}

func TestCreateGame_ValidationError(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/games", api.CreateGameRequest{
		CreatorID:    "alice",
		Name:         "",
		StartDate:    "2025-06-11",
		StartingCash: d(10000),
		FeeType:      string(model.FeeFlat),
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank name, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListGames_StatusFilter(t *testing.T) {
	ms, router := newTestEnv(t)
	seedGame(t, ms, "live one")
	g := seedGame(t, ms, "done one")
	g.Status = model.GameCompleted
	if err := ms.UpdateGame(context.Background(), g); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, "GET", "/api/v1/games?status=In+Progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var games []model.Game
	json.Unmarshal(w.Body.Bytes(), &games)
	if len(games) != 1 {
		t.Fatalf("expected 1 in-progress game, got %d", len(games))
	}
	if games[0].Name != "live one" {
		t.Errorf("unexpected game: %s", games[0].Name)
	}
}

func TestJoinGame(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "open game")

	w := doJSON(t, router, "POST", "/api/v1/games/"+g.ID+"/join", api.JoinGameRequest{UserID: "bob"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var p model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.UserID != "bob" {
		t.Errorf("expected user_id=bob, got %s", p.UserID)
	}
	if !p.AvailableCash.Equal(d(10000)) {
		t.Errorf("expected starting cash 10000, got %s", p.AvailableCash)
	}

	// Second join is a conflict.
	w = doJSON(t, router, "POST", "/api/v1/games/"+g.ID+"/join", api.JoinGameRequest{UserID: "bob"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for double join, got %d", w.Code)
	}
}

func TestJoinGame_WrongPassword(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "private game")
	g.Password = "hunter2"
	if err := ms.UpdateGame(context.Background(), g); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, "POST", "/api/v1/games/"+g.ID+"/join", api.JoinGameRequest{
		UserID:   "mallory",
		Password: "guess",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for wrong password, got %d: %s", w.Code, w.Body.String())
	}
}

func TestJoinGame_NotFound(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/games/nope/join", api.JoinGameRequest{UserID: "bob"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Trade tests ---

func TestExecuteTrade_Buy(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "trading game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	w := doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		PortfolioID: p.ID,
		Ticker:      "aapl",
		Type:        "buy",
		Shares:      10,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Ticker != "AAPL" {
		t.Errorf("ticker should be normalized, got %s", resp.Ticker)
	}
	if resp.Transaction.Shares != 10 {
		t.Errorf("expected 10 shares, got %d", resp.Transaction.Shares)
	}
	// 10 × 200 + 5 flat fee.
	if !resp.AvailableCash.Equal(d(7995)) {
		t.Errorf("expected cash 7995, got %s", resp.AvailableCash)
	}
}

func TestExecuteTrade_InsufficientFunds(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "trading game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	w := doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		PortfolioID: p.ID,
		Ticker:      "AAPL",
		Type:        "buy",
		Shares:      1000,
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteTrade_InvalidType(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "trading game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	w := doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		PortfolioID: p.ID,
		Ticker:      "AAPL",
		Type:        "hold",
		Shares:      10,
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestExecuteTrade_UnknownTicker(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "trading game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	w := doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		PortfolioID: p.ID,
		Ticker:      "NOPE",
		Type:        "buy",
		Shares:      10,
	})

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for failed lookup, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Order tests ---

func TestSubmitAndCancelOrder(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "order game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	target := d(180)
	w := doJSON(t, router, "POST", "/api/v1/orders", api.SubmitOrderRequest{
		PortfolioID: p.ID,
		Ticker:      "AAPL",
		Type:        string(model.OrderLimitBuy),
		Shares:      5,
		TargetPrice: &target,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var order model.Order
	json.Unmarshal(w.Body.Bytes(), &order)
	if order.Status != model.OrderPending {
		t.Errorf("expected pending, got %s", order.Status)
	}

	w = doJSON(t, router, "DELETE", "/api/v1/orders/"+order.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var cancelled model.Order
	json.Unmarshal(w.Body.Bytes(), &cancelled)
	if cancelled.Status != model.OrderCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	// Cancelling again conflicts with the terminal state.
	w = doJSON(t, router, "DELETE", "/api/v1/orders/"+order.ID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for double cancel, got %d", w.Code)
	}
}

func TestSubmitOrder_MissingTarget(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "order game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	w := doJSON(t, router, "POST", "/api/v1/orders", api.SubmitOrderRequest{
		PortfolioID: p.ID,
		Ticker:      "AAPL",
		Type:        string(model.OrderLimitBuy),
		Shares:      5,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for limit order without target, got %d", w.Code)
	}
}

func TestListPortfolioOrders(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "order game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	target := d(180)
	doJSON(t, router, "POST", "/api/v1/orders", api.SubmitOrderRequest{
		PortfolioID: p.ID, Ticker: "AAPL", Type: string(model.OrderLimitBuy),
		Shares: 5, TargetPrice: &target,
	})

	w := doJSON(t, router, "GET", "/api/v1/portfolios/"+p.ID+"/orders", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var orders []model.Order
	json.Unmarshal(w.Body.Bytes(), &orders)
	if len(orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(orders))
	}
}

// --- Portfolio and stock tests ---

func TestGetPortfolio_Snapshot(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "dash game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	doJSON(t, router, "POST", "/api/v1/trades", api.TradeRequest{
		PortfolioID: p.ID, Ticker: "AAPL", Type: "buy", Shares: 10,
	})

	w := doJSON(t, router, "GET", "/api/v1/portfolios/"+p.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var snap model.PortfolioSnapshot
	json.Unmarshal(w.Body.Bytes(), &snap)

	if snap.GameName != "dash game" {
		t.Errorf("expected game name, got %s", snap.GameName)
	}
	if len(snap.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(snap.Holdings))
	}
	if snap.Holdings[0].Ticker != "AAPL" {
		t.Errorf("expected AAPL holding, got %s", snap.Holdings[0].Ticker)
	}
	if len(snap.Transactions) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(snap.Transactions))
	}
}

func TestGetPortfolio_NotFound(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/portfolios/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetStock(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/stocks/aapl", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var stock model.Stock
	json.Unmarshal(w.Body.Bytes(), &stock)
	if stock.Ticker != "AAPL" {
		t.Errorf("expected AAPL, got %s", stock.Ticker)
	}
	if !stock.CurrentPrice.Equal(d(200)) {
		t.Errorf("expected price 200, got %s", stock.CurrentPrice)
	}
}

func TestGetGameIntraday(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "plot game")
	p := seedPortfolio(t, ms, g.ID, "alice")

	today := calendar.MarketDate(tradingTime)
	err := ms.InsertDailyHistory(context.Background(), &model.DailyHistory{
		ID:          "dh-1",
		PortfolioID: p.ID,
		Date:        today,
		RecordedAt:  tradingTime,
		Value:       d(10100),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, "GET", "/api/v1/games/"+g.ID+"/intraday", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var history []model.DailyHistory
	json.Unmarshal(w.Body.Bytes(), &history)
	if len(history) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(history))
	}
	if !history[0].Value.Equal(d(10100)) {
		t.Errorf("expected value 10100, got %s", history[0].Value)
	}
}

func TestGetLeaderboard(t *testing.T) {
	ms, router := newTestEnv(t)
	g := seedGame(t, ms, "rank game")
	seedPortfolio(t, ms, g.ID, "alice")

	w := doJSON(t, router, "GET", "/api/v1/games/"+g.ID+"/leaderboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var entries []model.LeaderboardEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].UserID != "alice" {
		t.Errorf("expected alice, got %s", entries[0].UserID)
	}
}
