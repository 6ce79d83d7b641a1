package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/metrics"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// CreateGameRequest carries the inputs for creating a game.
type CreateGameRequest struct {
	CreatorID      string
	Name           string
	Password       string // empty = public
	StartDate      time.Time
	EndDate        *time.Time // nil = open-ended
	StartingCash   decimal.Decimal
	TransactionFee decimal.Decimal
	FeeType        model.FeeType
}

// CreateGame validates and stores a new game. The creator automatically
// joins with the first portfolio. A game starting today opens in progress
// immediately; a future start date leaves it waiting for the scheduler.
func (e *Engine) CreateGame(ctx context.Context, req CreateGameRequest) (*model.Game, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if req.CreatorID == "" {
		return nil, &ValidationError{Field: "creator_id", Reason: "must not be empty"}
	}
	if req.StartingCash.LessThanOrEqual(decimal.Zero) {
		return nil, &ValidationError{Field: "starting_cash", Reason: "must be positive"}
	}
	if req.TransactionFee.IsNegative() {
		return nil, &ValidationError{Field: "transaction_fee", Reason: "must not be negative"}
	}
	if !req.FeeType.Valid() {
		return nil, &ValidationError{Field: "fee_type", Reason: fmt.Sprintf("unknown fee type %q", req.FeeType)}
	}
	if req.FeeType == model.FeePercentage && req.TransactionFee.GreaterThanOrEqual(one) {
		return nil, &ValidationError{Field: "transaction_fee", Reason: "percentage fee must be below 1"}
	}

	today := calendar.DateOf(e.clock.Now())
	start := calendar.DateOf(req.StartDate)
	if start.Before(today) {
		return nil, &ValidationError{Field: "start_date", Reason: "must not be in the past"}
	}
	if req.EndDate != nil && !calendar.DateOf(*req.EndDate).After(start) {
		return nil, &ValidationError{Field: "end_date", Reason: "must be after the start date"}
	}

	status := model.GameNotStarted
	if start.Equal(today) {
		status = model.GameInProgress
	}

	now := e.clock.Now().UTC()
	g := &model.Game{
		ID:             uuid.New().String(),
		CreatorID:      req.CreatorID,
		Name:           name,
		Password:       req.Password,
		Participants:   1,
		StartDate:      start,
		EndDate:        req.EndDate,
		Status:         status,
		StartingCash:   req.StartingCash.Round(2),
		TransactionFee: req.TransactionFee,
		FeeType:        req.FeeType,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	if err := e.store.CreateGame(ctx, g); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &ValidationError{Field: "name", Reason: "a game with this name already exists"}
		}
		return nil, err
	}
	if _, err := e.createPortfolio(ctx, g, req.CreatorID); err != nil {
		return nil, err
	}

	slog.Info("game created", "id", g.ID, "name", g.Name, "status", g.Status)
	e.refreshActiveGamesGauge(ctx)
	return g, nil
}

// JoinGame adds a user to a game with a fresh portfolio at the game's
// starting cash. Completed games cannot be joined; private games check the
// password; a second join by the same user is rejected.
func (e *Engine) JoinGame(ctx context.Context, gameID, userID, password string) (*model.Portfolio, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status == model.GameCompleted {
		return nil, ErrGameNotActive
	}
	if g.Password != "" && g.Password != password {
		return nil, ErrWrongPassword
	}

	p, err := e.createPortfolio(ctx, g, userID)
	if err != nil {
		return nil, err
	}

	g.Participants++
	g.LastUpdated = e.clock.Now().UTC()
	if err := e.store.UpdateGame(ctx, g); err != nil {
		return nil, err
	}
	slog.Info("user joined game", "game_id", g.ID, "user_id", userID)
	return p, nil
}

func (e *Engine) createPortfolio(ctx context.Context, g *model.Game, userID string) (*model.Portfolio, error) {
	now := e.clock.Now().UTC()
	p := &model.Portfolio{
		ID:             uuid.New().String(),
		UserID:         userID,
		GameID:         g.ID,
		AvailableCash:  g.StartingCash,
		CurrentValue:   g.StartingCash,
		LastCloseValue: g.StartingCash,
		DayChange:      decimal.Zero,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	if err := e.store.CreatePortfolio(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyJoined
		}
		return nil, err
	}
	return p, nil
}

// StartDueGames advances games whose start date has arrived from
// "Not Started" to "In Progress". Runs at market open.
func (e *Engine) StartDueGames(ctx context.Context) error {
	games, err := e.store.ListGamesByStatus(ctx, model.GameNotStarted)
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}
	today := calendar.DateOf(e.clock.Now())

	for i := range games {
		g := &games[i]
		if calendar.DateOf(g.StartDate).After(today) {
			continue
		}
		g.Status = model.GameInProgress
		g.LastUpdated = e.clock.Now().UTC()
		if err := e.store.UpdateGame(ctx, g); err != nil {
			slog.Error("start game", "game_id", g.ID, "error", err)
			continue
		}
		slog.Info("game started", "game_id", g.ID, "name", g.Name)
	}
	e.refreshActiveGamesGauge(ctx)
	return nil
}

// CompleteDueGames advances games whose end date has passed from
// "In Progress" to "Completed". Runs at market close, after the closing
// snapshot, so the final day's values are recorded.
func (e *Engine) CompleteDueGames(ctx context.Context) error {
	games, err := e.store.ListGamesByStatus(ctx, model.GameInProgress)
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}
	today := calendar.DateOf(e.clock.Now())

	for i := range games {
		g := &games[i]
		if g.EndDate == nil || !calendar.DateOf(*g.EndDate).Before(today) {
			continue
		}
		g.Status = model.GameCompleted
		g.LastUpdated = e.clock.Now().UTC()
		if err := e.store.UpdateGame(ctx, g); err != nil {
			slog.Error("complete game", "game_id", g.ID, "error", err)
			continue
		}
		slog.Info("game completed", "game_id", g.ID, "name", g.Name)
	}
	e.refreshActiveGamesGauge(ctx)
	return nil
}

// ResetDayBaselines rolls every portfolio's current value into its
// day-change baseline. Runs at market open so day change measures the
// session about to begin.
func (e *Engine) ResetDayBaselines(ctx context.Context, gameID string) error {
	portfolios, err := e.store.ListPortfoliosByGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("list portfolios: %w", err)
	}
	now := e.clock.Now().UTC()

	for _, p := range portfolios {
		id := p.ID
		err := e.store.RunInPortfolioTx(ctx, id, func(st store.Store) error {
			p, err := st.GetPortfolio(ctx, id)
			if err != nil {
				return err
			}
			p.LastCloseValue = p.CurrentValue
			p.DayChange = decimal.Zero
			p.LastUpdated = now
			return st.UpdatePortfolio(ctx, p)
		})
		if err != nil {
			slog.Error("reset day baseline", "portfolio_id", id, "error", err)
		}
	}
	return nil
}

// Leaderboard returns the game's ranking table, ordered by overall rank.
func (e *Engine) Leaderboard(ctx context.Context, gameID string) ([]model.LeaderboardEntry, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	portfolios, err := e.store.ListPortfoliosByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	today := calendar.DateOf(e.clock.Now())
	entries := make([]model.LeaderboardEntry, 0, len(portfolios))
	for _, p := range portfolios {
		entry := model.LeaderboardEntry{
			Rank:         p.OverallRank,
			PortfolioID:  p.ID,
			UserID:       p.UserID,
			Value:        p.CurrentValue,
			ChangePct:    percentChange(p.CurrentValue, g.StartingCash),
			DayChange:    p.DayChange,
			DayChangePct: percentChange(p.CurrentValue, p.LastCloseValue),
			PortfolioAge: int(today.Sub(calendar.DateOf(p.CreatedAt)).Hours() / 24),
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rank != entries[j].Rank {
			return entries[i].Rank < entries[j].Rank
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

// Snapshot assembles the full dashboard view of one portfolio: positions
// joined with prices, open orders, and the transaction ledger.
func (e *Engine) Snapshot(ctx context.Context, portfolioID string) (*model.PortfolioSnapshot, error) {
	p, err := e.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	g, err := e.store.GetGame(ctx, p.GameID)
	if err != nil {
		return nil, err
	}
	holdings, err := e.store.ListHoldingsByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	orders, err := e.store.ListOrdersByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	txns, err := e.store.ListTransactionsByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	snap := &model.PortfolioSnapshot{
		Portfolio:    *p,
		GameName:     g.Name,
		GameStatus:   g.Status,
		StartingCash: g.StartingCash,
		Profit:       p.CurrentValue.Sub(g.StartingCash).Round(2),
		ChangePct:    percentChange(p.CurrentValue, g.StartingCash),
		Transactions: txns,
	}
	for _, o := range orders {
		if o.Status == model.OrderPending {
			snap.OpenOrders = append(snap.OpenOrders, o)
		}
	}
	for _, h := range holdings {
		stock, err := e.store.GetStock(ctx, h.StockID)
		if err != nil {
			slog.Error("snapshot: load stock", "stock_id", h.StockID, "error", err)
			continue
		}
		shares := decimal.NewFromInt(h.SharesOwned)
		snap.Holdings = append(snap.Holdings, model.HoldingSnapshot{
			Ticker:       stock.Ticker,
			CompanyName:  stock.CompanyName,
			SharesOwned:  h.SharesOwned,
			AveragePrice: h.AveragePrice,
			CurrentPrice: stock.CurrentPrice,
			MarketValue:  stock.CurrentPrice.Mul(shares).Round(2),
			ReturnPct:    percentChange(stock.CurrentPrice, h.AveragePrice),
		})
	}
	return snap, nil
}

// percentChange returns (current−base)/base × 100, rounded to 2 places.
// Zero when the base is zero.
func percentChange(current, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return current.Sub(base).Div(base).Mul(hundred).Round(2)
}

func (e *Engine) refreshActiveGamesGauge(ctx context.Context) {
	games, err := e.store.ListGamesByStatus(ctx, model.GameInProgress)
	if err != nil {
		return
	}
	metrics.ActiveGames.Set(float64(len(games)))
}
