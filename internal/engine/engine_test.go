package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/engine"
	"github.com/stockpit/portfolio-engine/internal/marketdata"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// tradingTime is a Wednesday mid-session; the engine treats the time's own
// wall clock as exchange-local.
var tradingTime = time.Date(2025, 6, 11, 10, 30, 0, 0, time.UTC)

type testEnv struct {
	eng     *engine.Engine
	ms      *store.MemoryStore
	gateway *marketdata.StaticGateway
	clock   *calendar.FixedClock
}

func newTestEnv(t *testing.T, opts ...engine.Option) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	gw := marketdata.NewStaticGateway(
		marketdata.Quote{Ticker: "AAPL", Price: d(200), Open: d(198), PreviousClose: d(197), CompanyName: "Apple Inc.", Currency: "USD"},
		marketdata.Quote{Ticker: "MSFT", Price: d(400), Open: d(399), PreviousClose: d(398), CompanyName: "Microsoft Corp.", Currency: "USD"},
	)
	clock := &calendar.FixedClock{T: tradingTime}
	return &testEnv{
		eng:     engine.New(ms, gw, clock, opts...),
		ms:      ms,
		gateway: gw,
		clock:   clock,
	}
}

// seedGame creates an in-progress game directly in the store.
func seedGame(t *testing.T, ms *store.MemoryStore, name string, feeType model.FeeType, fee float64) *model.Game {
	t.Helper()
	g := &model.Game{
		ID:             "game-" + name,
		CreatorID:      "creator",
		Name:           name,
		Participants:   0,
		StartDate:      tradingTime.AddDate(0, 0, -7),
		Status:         model.GameInProgress,
		StartingCash:   d(10000),
		TransactionFee: d(fee),
		FeeType:        feeType,
		CreatedAt:      tradingTime.AddDate(0, 0, -7),
		LastUpdated:    tradingTime.AddDate(0, 0, -7),
	}
	if err := ms.CreateGame(context.Background(), g); err != nil {
		t.Fatalf("seed game: %v", err)
	}
	return g
}

// seedPortfolio creates a portfolio with the given cash directly in the store.
func seedPortfolio(t *testing.T, ms *store.MemoryStore, g *model.Game, userID string, cash float64) *model.Portfolio {
	t.Helper()
	p := &model.Portfolio{
		ID:             "pf-" + userID,
		UserID:         userID,
		GameID:         g.ID,
		AvailableCash:  d(cash),
		CurrentValue:   d(cash),
		LastCloseValue: d(cash),
		CreatedAt:      tradingTime.AddDate(0, 0, -7),
		LastUpdated:    tradingTime.AddDate(0, 0, -7),
	}
	if err := ms.CreatePortfolio(context.Background(), p); err != nil {
		t.Fatalf("seed portfolio: %v", err)
	}
	return p
}

func getPortfolio(t *testing.T, ms *store.MemoryStore, id string) *model.Portfolio {
	t.Helper()
	p, err := ms.GetPortfolio(context.Background(), id)
	if err != nil {
		t.Fatalf("get portfolio: %v", err)
	}
	return p
}

func getStockByTicker(t *testing.T, ms *store.MemoryStore, ticker string) *model.Stock {
	t.Helper()
	st, err := ms.GetStockByTicker(context.Background(), ticker)
	if err != nil {
		t.Fatalf("get stock %s: %v", ticker, err)
	}
	return st
}

func mustEqual(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", label, got, want)
	}
}
