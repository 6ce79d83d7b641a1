// Package schedule drives the engine through the trading day: a market
// open job, a periodic revaluation pass every five minutes during the
// session, and a market close job.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/engine"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

// jobDeadline bounds a single job run. A run that cannot finish inside it
// is cut off rather than bleeding into the next slot.
const jobDeadline = 5 * time.Minute

// Jobs holds the scheduled work units. Each is safe to invoke directly,
// which is how tests and manual triggers use them.
type Jobs struct {
	Store  store.Store
	Engine *engine.Engine
	Clock  calendar.Clock

	// OnRevalued, when set, is called after each game's periodic
	// revaluation, e.g. to push a WebSocket tick.
	OnRevalued func(gameID string)
}

// RunAtOpen prepares the new session: starts games whose date has arrived,
// rolls day-change baselines, purges intraday history from prior dates,
// and runs an initial revaluation pass.
func (j *Jobs) RunAtOpen(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jobDeadline)
	defer cancel()

	if err := j.Engine.StartDueGames(ctx); err != nil {
		slog.Error("open: start due games", "error", err)
	}

	games, err := j.activeGames(ctx)
	if err != nil {
		return err
	}
	for _, g := range games {
		if err := j.Engine.ResetDayBaselines(ctx, g.ID); err != nil {
			slog.Error("open: reset baselines", "game_id", g.ID, "error", err)
		}
	}

	today := calendar.DateOf(j.Clock.Now())
	if err := j.Store.DeleteDailyHistoryBefore(ctx, today); err != nil {
		slog.Error("open: purge intraday history", "error", err)
	}

	return j.revalue(ctx, games)
}

// RunPeriodic refreshes prices, fills triggered orders, and revalues every
// active game. Runs every five minutes during the session.
func (j *Jobs) RunPeriodic(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jobDeadline)
	defer cancel()

	games, err := j.activeGames(ctx)
	if err != nil {
		return err
	}
	return j.revalue(ctx, games)
}

// RunAtClose records the final pass of the day: one last revaluation,
// closing snapshots, game completions, and order expiry.
func (j *Jobs) RunAtClose(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jobDeadline)
	defer cancel()

	games, err := j.activeGames(ctx)
	if err != nil {
		return err
	}
	if err := j.revalue(ctx, games); err != nil {
		return err
	}
	for _, g := range games {
		if err := j.Engine.SnapshotClosing(ctx, g.ID); err != nil {
			slog.Error("close: closing snapshot", "game_id", g.ID, "error", err)
		}
	}

	if err := j.Engine.CompleteDueGames(ctx); err != nil {
		slog.Error("close: complete due games", "error", err)
	}
	if err := j.Engine.ExpireOrders(ctx); err != nil {
		slog.Error("close: expire orders", "error", err)
	}
	return nil
}

// revalue is the shared core of every pass: fresh prices, order matching,
// then per-game valuation and an intraday snapshot.
func (j *Jobs) revalue(ctx context.Context, games []model.Game) error {
	if len(games) == 0 {
		return nil
	}
	if err := j.Engine.RefreshPrices(ctx); err != nil {
		slog.Error("refresh prices", "error", err)
	}
	if err := j.Engine.MatchPendingOrders(ctx); err != nil {
		slog.Error("match pending orders", "error", err)
	}
	for _, g := range games {
		if err := j.Engine.RevalueGame(ctx, g.ID); err != nil {
			slog.Error("revalue game", "game_id", g.ID, "error", err)
			continue
		}
		if err := j.Engine.SnapshotDaily(ctx, g.ID); err != nil {
			slog.Error("daily snapshot", "game_id", g.ID, "error", err)
		}
		if j.OnRevalued != nil {
			j.OnRevalued(g.ID)
		}
	}
	return nil
}

func (j *Jobs) activeGames(ctx context.Context) ([]model.Game, error) {
	games, err := j.Store.ListGamesByStatus(ctx, model.GameInProgress)
	if err != nil {
		return nil, fmt.Errorf("list active games: %w", err)
	}
	return games, nil
}
