package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stockpit/portfolio-engine/internal/engine"
	"github.com/stockpit/portfolio-engine/internal/model"
)

func createReq(name string) engine.CreateGameRequest {
	return engine.CreateGameRequest{
		CreatorID:      "creator",
		Name:           name,
		StartDate:      tradingTime,
		StartingCash:   d(10000),
		TransactionFee: d(5),
		FeeType:        model.FeeFlat,
	}
}

func TestCreateGame(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	g, err := env.eng.CreateGame(ctx, createReq("summer league"))
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if g.Status != model.GameInProgress {
		t.Errorf("status = %s, want In Progress for a game starting today", g.Status)
	}
	if g.Participants != 1 {
		t.Errorf("participants = %d, want 1 (creator auto-joins)", g.Participants)
	}

	// Creator got a portfolio at the starting cash.
	p, err := env.ms.GetPortfolioByUserAndGame(ctx, "creator", g.ID)
	if err != nil {
		t.Fatalf("creator portfolio: %v", err)
	}
	mustEqual(t, p.AvailableCash, "10000", "creator cash")
	mustEqual(t, p.LastCloseValue, "10000", "creator baseline")
}

func TestCreateGame_FutureStartIsNotStarted(t *testing.T) {
	env := newTestEnv(t)
	req := createReq("autumn league")
	req.StartDate = tradingTime.AddDate(0, 0, 7)

	g, err := env.eng.CreateGame(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if g.Status != model.GameNotStarted {
		t.Errorf("status = %s, want Not Started", g.Status)
	}
}

func TestCreateGame_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*engine.CreateGameRequest)
	}{
		{"empty name", func(r *engine.CreateGameRequest) { r.Name = "   " }},
		{"empty creator", func(r *engine.CreateGameRequest) { r.CreatorID = "" }},
		{"zero cash", func(r *engine.CreateGameRequest) { r.StartingCash = d(0) }},
		{"negative fee", func(r *engine.CreateGameRequest) { r.TransactionFee = d(-1) }},
		{"bad fee type", func(r *engine.CreateGameRequest) { r.FeeType = "tiered" }},
		{"percentage fee of 100%", func(r *engine.CreateGameRequest) {
			r.FeeType = model.FeePercentage
			r.TransactionFee = d(1)
		}},
		{"past start", func(r *engine.CreateGameRequest) { r.StartDate = tradingTime.AddDate(0, 0, -1) }},
		{"end before start", func(r *engine.CreateGameRequest) {
			end := r.StartDate
			r.EndDate = &end
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createReq("game-" + tt.name)
			tt.mutate(&req)
			var vErr *engine.ValidationError
			if _, err := env.eng.CreateGame(ctx, req); !errors.As(err, &vErr) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateGame_DuplicateName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.eng.CreateGame(ctx, createReq("taken")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	req := createReq("taken")
	req.CreatorID = "someone-else"
	var vErr *engine.ValidationError
	if _, err := env.eng.CreateGame(ctx, req); !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError for duplicate name", err)
	}
}

func TestJoinGame(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	g, err := env.eng.CreateGame(ctx, createReq("open league"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	p, err := env.eng.JoinGame(ctx, g.ID, "bob", "")
	if err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	mustEqual(t, p.AvailableCash, "10000", "joiner cash")

	g2, _ := env.ms.GetGame(ctx, g.ID)
	if g2.Participants != 2 {
		t.Errorf("participants = %d, want 2", g2.Participants)
	}

	// Same user cannot join twice.
	if _, err := env.eng.JoinGame(ctx, g.ID, "bob", ""); !errors.Is(err, engine.ErrAlreadyJoined) {
		t.Fatalf("err = %v, want ErrAlreadyJoined", err)
	}
}

func TestJoinGame_PrivateGamePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := createReq("private league")
	req.Password = "hunter2"
	g, err := env.eng.CreateGame(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := env.eng.JoinGame(ctx, g.ID, "bob", "wrong"); !errors.Is(err, engine.ErrWrongPassword) {
		t.Fatalf("err = %v, want ErrWrongPassword", err)
	}
	if _, err := env.eng.JoinGame(ctx, g.ID, "bob", "hunter2"); err != nil {
		t.Fatalf("join with password: %v", err)
	}
}

func TestJoinGame_CompletedGame(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "over", model.FeeFlat, 0)
	g.Status = model.GameCompleted
	ctx := context.Background()
	if err := env.ms.UpdateGame(ctx, g); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := env.eng.JoinGame(ctx, g.ID, "bob", ""); !errors.Is(err, engine.ErrGameNotActive) {
		t.Fatalf("err = %v, want ErrGameNotActive", err)
	}
}

func TestStartDueGames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	due := seedGame(t, env.ms, "due", model.FeeFlat, 0)
	due.Status = model.GameNotStarted
	due.StartDate = tradingTime
	env.ms.UpdateGame(ctx, due)

	future := seedGame(t, env.ms, "future", model.FeeFlat, 0)
	future.Status = model.GameNotStarted
	future.StartDate = tradingTime.AddDate(0, 0, 3)
	env.ms.UpdateGame(ctx, future)

	if err := env.eng.StartDueGames(ctx); err != nil {
		t.Fatalf("StartDueGames: %v", err)
	}

	g, _ := env.ms.GetGame(ctx, due.ID)
	if g.Status != model.GameInProgress {
		t.Errorf("due game status = %s, want In Progress", g.Status)
	}
	g, _ = env.ms.GetGame(ctx, future.ID)
	if g.Status != model.GameNotStarted {
		t.Errorf("future game status = %s, want Not Started", g.Status)
	}
}

func TestCompleteDueGames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Ended yesterday: completes. End dates are inclusive, so a game
	// ending today plays through today's close.
	ended := seedGame(t, env.ms, "ended", model.FeeFlat, 0)
	y := tradingTime.AddDate(0, 0, -1)
	ended.EndDate = &y
	env.ms.UpdateGame(ctx, ended)

	endsToday := seedGame(t, env.ms, "ends-today", model.FeeFlat, 0)
	today := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	endsToday.EndDate = &today
	env.ms.UpdateGame(ctx, endsToday)

	openEnded := seedGame(t, env.ms, "open-ended", model.FeeFlat, 0)

	if err := env.eng.CompleteDueGames(ctx); err != nil {
		t.Fatalf("CompleteDueGames: %v", err)
	}

	g, _ := env.ms.GetGame(ctx, ended.ID)
	if g.Status != model.GameCompleted {
		t.Errorf("ended game status = %s, want Completed", g.Status)
	}
	g, _ = env.ms.GetGame(ctx, endsToday.ID)
	if g.Status != model.GameInProgress {
		t.Errorf("ends-today game status = %s, want In Progress", g.Status)
	}
	g, _ = env.ms.GetGame(ctx, openEnded.ID)
	if g.Status != model.GameInProgress {
		t.Errorf("open-ended game status = %s, want In Progress", g.Status)
	}
}

func TestResetDayBaselines(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)
	ctx := context.Background()

	// Simulate a prior session's gains.
	stored := getPortfolio(t, env.ms, p.ID)
	stored.CurrentValue = d(10500)
	stored.DayChange = d(500)
	env.ms.UpdatePortfolio(ctx, stored)

	if err := env.eng.ResetDayBaselines(ctx, g.ID); err != nil {
		t.Fatalf("ResetDayBaselines: %v", err)
	}

	got := getPortfolio(t, env.ms, p.ID)
	mustEqual(t, got.LastCloseValue, "10500", "baseline rolled forward")
	mustEqual(t, got.DayChange, "0", "day change reset")
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	seedPortfolio(t, env.ms, g, "alice", 11000)
	seedPortfolio(t, env.ms, g, "bob", 9500)
	ctx := context.Background()

	if err := env.eng.RevalueGame(ctx, g.ID); err != nil {
		t.Fatalf("revalue: %v", err)
	}
	entries, err := env.eng.Leaderboard(ctx, g.ID)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].UserID != "alice" || entries[0].Rank != 1 {
		t.Errorf("first entry = %s rank %d, want alice rank 1", entries[0].UserID, entries[0].Rank)
	}
	// (11000 − 10000) / 10000 × 100.
	mustEqual(t, entries[0].ChangePct, "10", "alice change pct")
	mustEqual(t, entries[1].ChangePct, "-5", "bob change pct")
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	g := seedGame(t, env.ms, "flat", model.FeeFlat, 0)
	p := seedPortfolio(t, env.ms, g, "alice", 10000)
	ctx := context.Background()

	if _, err := env.eng.Trade(ctx, p.ID, "AAPL", model.TradeBuy, 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	target := d(300)
	if _, err := env.eng.SubmitOrder(ctx, engine.SubmitOrderRequest{
		PortfolioID: p.ID, Ticker: "AAPL", Type: model.OrderLimitSell,
		Shares: 5, TargetPrice: &target,
	}); err != nil {
		t.Fatalf("submit order: %v", err)
	}

	snap, err := env.eng.Snapshot(ctx, p.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.GameName != g.Name {
		t.Errorf("game name = %s, want %s", snap.GameName, g.Name)
	}
	if len(snap.Holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(snap.Holdings))
	}
	h := snap.Holdings[0]
	if h.Ticker != "AAPL" || h.SharesOwned != 10 {
		t.Errorf("holding = %+v, want 10 AAPL", h)
	}
	mustEqual(t, h.MarketValue, "2000", "market value")
	if len(snap.OpenOrders) != 1 {
		t.Errorf("open orders = %d, want 1", len(snap.OpenOrders))
	}
	if len(snap.Transactions) != 1 {
		t.Errorf("transactions = %d, want 1", len(snap.Transactions))
	}
	mustEqual(t, snap.Profit, "0", "profit with zero fee")
}
