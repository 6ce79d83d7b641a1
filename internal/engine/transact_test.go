package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stockpit/portfolio-engine/internal/engine"
	"github.com/stockpit/portfolio-engine/internal/marketdata"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

func TestTrade_BuyFlatFee(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 5)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)
	ctx := context.Background()

	txn, err := env.eng.Trade(ctx, p.ID, "aapl", model.TradeBuy, 10)
	if err != nil {
		t.Fatalf("Trade: %v", err)
	}

	// 10 × 200 + 5 flat fee.
	mustEqual(t, txn.TotalValue, "2005", "total value")
	if txn.ProfitLoss != nil {
		t.Error("buy should not record profit/loss")
	}

	p = getPortfolio(t, env.ms, p.ID)
	mustEqual(t, p.AvailableCash, "7995", "cash after buy")
	// Cash and position cancel at the trade price, so value drops by the fee.
	mustEqual(t, p.CurrentValue, "9995", "value after buy")

	stock := getStockByTicker(t, env.ms, "AAPL")
	h, err := env.ms.GetHolding(ctx, p.ID, stock.ID)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if h.SharesOwned != 10 {
		t.Errorf("shares = %d, want 10", h.SharesOwned)
	}
	mustEqual(t, h.AveragePrice, "200", "average price")
}

func TestTrade_BuyPercentageFee(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "pct", model.FeePercentage, 0.01)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)

	txn, err := env.eng.Trade(context.Background(), p.ID, "AAPL", model.TradeBuy, 10)
	if err != nil {
		t.Fatalf("Trade: %v", err)
	}

	// 10 × 200 × 1.01.
	mustEqual(t, txn.TotalValue, "2020", "total value")
	p = getPortfolio(t, env.ms, p.ID)
	mustEqual(t, p.AvailableCash, "7980", "cash after buy")
}

func TestTrade_BuyInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 5)
	p := seedPortfolio(t, env.ms, g, "alice", 100)

	_, err := env.eng.Trade(context.Background(), p.ID, "AAPL", model.TradeBuy, 1000)
	if !errors.Is(err, engine.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// Nothing moved.
	p = getPortfolio(t, env.ms, p.ID)
	mustEqual(t, p.AvailableCash, "100", "cash unchanged")
	if txns, _ := env.ms.ListTransactionsByPortfolio(context.Background(), p.ID); len(txns) != 0 {
		t.Errorf("ledger should be empty, got %d rows", len(txns))
	}
}

func TestTrade_WeightedAverageCostBasis(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	p := seedPortfolio(t, env.ms, g, "alice", 100000)
	ctx := context.Background()

	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeBuy, 10); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	env.gateway.SetPrice("AAPL", d(300))
	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeBuy, 10); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	stock := getStockByTicker(t, env.ms, "AAPL")
	h, err := env.ms.GetHolding(ctx, p.ID, stock.ID)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if h.SharesOwned != 20 {
		t.Errorf("shares = %d, want 20", h.SharesOwned)
	}
	// (10×200 + 10×300) / 20.
	mustEqual(t, h.AveragePrice, "250", "average price")
}

func TestTrade_SellRecordsProfitLoss(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 5)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)
	ctx := context.Background()

	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeBuy, 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	env.gateway.SetPrice("AAPL", d(250))

	txn, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeSell, 4)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	// 4 × 250 − 5 flat fee.
	mustEqual(t, txn.TotalValue, "995", "proceeds")
	if txn.ProfitLoss == nil {
		t.Fatal("sell should record profit/loss")
	}
	// (250 − 200) × 4.
	mustEqual(t, *txn.ProfitLoss, "200", "profit/loss")

	stock := getStockByTicker(t, env.ms, "AAPL")
	h, err := env.ms.GetHolding(ctx, p.ID, stock.ID)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if h.SharesOwned != 6 {
		t.Errorf("shares = %d, want 6", h.SharesOwned)
	}
	// Cost basis untouched by sells.
	mustEqual(t, h.AveragePrice, "200", "average price")
}

func TestTrade_SellEntirePositionDeletesHolding(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)
	ctx := context.Background()

	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeBuy, 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeSell, 10); err != nil {
		t.Fatalf("sell: %v", err)
	}

	stock := getStockByTicker(t, env.ms, "AAPL")
	if _, err := env.ms.GetHolding(ctx, p.ID, stock.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("holding should be gone, got err = %v", err)
	}

	p = getPortfolio(t, env.ms, p.ID)
	mustEqual(t, p.AvailableCash, "10000", "cash back to start with zero fee")
}

func TestTrade_SellMoreThanOwned(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)
	ctx := context.Background()

	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeBuy, 5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeSell, 6); !errors.Is(err, engine.ErrInsufficientHoldings) {
		t.Fatalf("err = %v, want ErrInsufficientHoldings", err)
	}

	// Never owned it at all.
	if _, err := env.eng.Trade(ctx, p.ID, "MSFT", model.TradeSell, 1); !errors.Is(err, engine.ErrInsufficientHoldings) {
		t.Fatalf("err = %v, want ErrInsufficientHoldings", err)
	}
}

func TestTrade_MarketClosed(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)

	// Saturday.
	env.clock.T = time.Date(2025, 6, 14, 10, 30, 0, 0, time.UTC)
	if _, err := env.eng.Trade(context.Background(), p.ID, "AAPL", model.TradeBuy, 1); !errors.Is(err, engine.ErrMarketClosed) {
		t.Fatalf("err = %v, want ErrMarketClosed", err)
	}

	// Weekday before the bell.
	env.clock.T = time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	if _, err := env.eng.Trade(context.Background(), p.ID, "AAPL", model.TradeBuy, 1); !errors.Is(err, engine.ErrMarketClosed) {
		t.Fatalf("err = %v, want ErrMarketClosed", err)
	}
}

func TestTrade_GameNotActive(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "done", model.FeeFlat, 0)
	g.Status = model.GameCompleted
	if err := env.ms.UpdateGame(context.Background(), g); err != nil {
		t.Fatalf("update game: %v", err)
	}
	p := seedPortfolio(t, env.ms, g, "alice", 10000)

	if _, err := env.eng.Trade(context.Background(), p.ID, "AAPL", model.TradeBuy, 1); !errors.Is(err, engine.ErrGameNotActive) {
		t.Fatalf("err = %v, want ErrGameNotActive", err)
	}
}

func TestTrade_InvalidInputs(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)
	ctx := context.Background()

	var vErr *engine.ValidationError
	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeBuy, 0); !errors.As(err, &vErr) {
		t.Errorf("zero shares: err = %v, want ValidationError", err)
	}
	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeBuy, -3); !errors.As(err, &vErr) {
		t.Errorf("negative shares: err = %v, want ValidationError", err)
	}
	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", "hold", 1); !errors.As(err, &vErr) {
		t.Errorf("bad type: err = %v, want ValidationError", err)
	}
	if _, err := env.eng.Trade(ctx, p.ID, "  ", model.TradeBuy, 1); !errors.As(err, &vErr) {
		t.Errorf("blank ticker: err = %v, want ValidationError", err)
	}
}

func TestTrade_UnknownTicker(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)

	_, err := env.eng.Trade(context.Background(), p.ID, "NOPE", model.TradeBuy, 1)
	var lErr *marketdata.LookupError
	if !errors.As(err, &lErr) {
		t.Fatalf("err = %v, want LookupError", err)
	}
	if lErr.Ticker != "NOPE" {
		t.Errorf("lookup error ticker = %s, want NOPE", lErr.Ticker)
	}
}
