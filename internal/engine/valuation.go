package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/metrics"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

// RefreshPrices batch-quotes every tracked stock and stores the updated
// prices. Tickers the provider cannot resolve keep their last known price;
// a stale price beats no price for valuation.
func (e *Engine) RefreshPrices(ctx context.Context) error {
	stocks, err := e.store.ListStocks(ctx)
	if err != nil {
		return fmt.Errorf("list stocks: %w", err)
	}
	if len(stocks) == 0 {
		return nil
	}

	tickers := make([]string, len(stocks))
	for i, st := range stocks {
		tickers[i] = st.Ticker
	}
	points, err := e.gateway.BatchQuote(ctx, tickers)
	if err != nil {
		return fmt.Errorf("batch quote: %w", err)
	}

	now := e.clock.Now().UTC()
	for i := range stocks {
		st := &stocks[i]
		pt, ok := points[st.Ticker]
		if !ok {
			metrics.QuoteFetchFailures.Inc()
			slog.Warn("quote unavailable, keeping last price", "ticker", st.Ticker)
			continue
		}
		st.CurrentPrice = pt.Price
		st.OpeningPrice = pt.Open
		st.PreviousClose = pt.PreviousClose
		st.LastUpdated = now
		if err := e.store.UpsertStock(ctx, st); err != nil {
			slog.Error("store stock price", "ticker", st.Ticker, "error", err)
		}
	}
	return nil
}

// RevalueGame recomputes every portfolio's current value and day change
// from stored prices, then reassigns overall and daily ranks. Each
// portfolio's value update runs in its own transaction so it cannot race a
// trade settling at the same time.
func (e *Engine) RevalueGame(ctx context.Context, gameID string) error {
	portfolios, err := e.store.ListPortfoliosByGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("list portfolios: %w", err)
	}

	prices, err := e.priceIndex(ctx)
	if err != nil {
		return err
	}

	now := e.clock.Now().UTC()
	for i := range portfolios {
		id := portfolios[i].ID
		err := e.store.RunInPortfolioTx(ctx, id, func(st store.Store) error {
			p, err := st.GetPortfolio(ctx, id)
			if err != nil {
				return err
			}
			holdings, err := st.ListHoldingsByPortfolio(ctx, id)
			if err != nil {
				return err
			}

			value := p.AvailableCash
			for _, h := range holdings {
				price, ok := prices[h.StockID]
				if !ok {
					continue // unpriced stock, counted at zero
				}
				value = value.Add(price.Mul(decimal.NewFromInt(h.SharesOwned)))
			}
			p.CurrentValue = value.Round(2)
			p.DayChange = p.CurrentValue.Sub(p.LastCloseValue).Round(2)
			p.LastUpdated = now

			portfolios[i] = *p
			return st.UpdatePortfolio(ctx, p)
		})
		if err != nil {
			slog.Error("revalue portfolio", "portfolio_id", id, "error", err)
		}
	}

	if err := e.assignRanks(ctx, portfolios); err != nil {
		return err
	}

	// The game itself carries the timestamp of its latest valuation pass.
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("stamp game: %w", err)
	}
	g.LastUpdated = now
	if err := e.store.UpdateGame(ctx, g); err != nil {
		return fmt.Errorf("stamp game: %w", err)
	}
	return nil
}

// assignRanks writes competition ranks for the game: by current value for
// the overall rank and by day change for the daily rank. Tied portfolios
// share a rank and the next distinct value takes the position after the
// tied block (1, 1, 3).
func (e *Engine) assignRanks(ctx context.Context, portfolios []model.Portfolio) error {
	overall := competitionRanks(portfolios, func(p *model.Portfolio) decimal.Decimal { return p.CurrentValue })
	daily := competitionRanks(portfolios, func(p *model.Portfolio) decimal.Decimal { return p.DayChange })

	for i := range portfolios {
		id := portfolios[i].ID
		err := e.store.RunInPortfolioTx(ctx, id, func(st store.Store) error {
			p, err := st.GetPortfolio(ctx, id)
			if err != nil {
				return err
			}
			p.OverallRank = overall[id]
			p.DailyRank = daily[id]
			return st.UpdatePortfolio(ctx, p)
		})
		if err != nil {
			slog.Error("assign ranks", "portfolio_id", id, "error", err)
		}
	}
	return nil
}

// competitionRanks maps portfolio ID to rank under the given metric,
// descending.
func competitionRanks(portfolios []model.Portfolio, metric func(*model.Portfolio) decimal.Decimal) map[string]int {
	sorted := make([]model.Portfolio, len(portfolios))
	copy(sorted, portfolios)
	sort.SliceStable(sorted, func(i, j int) bool {
		return metric(&sorted[i]).GreaterThan(metric(&sorted[j]))
	})

	ranks := make(map[string]int, len(sorted))
	for i := range sorted {
		rank := i + 1
		if i > 0 && metric(&sorted[i]).Equal(metric(&sorted[i-1])) {
			rank = ranks[sorted[i-1].ID]
		}
		ranks[sorted[i].ID] = rank
	}
	return ranks
}

// SnapshotDaily appends an intraday value point for every portfolio in the
// game, stamped with the current trading date.
func (e *Engine) SnapshotDaily(ctx context.Context, gameID string) error {
	portfolios, err := e.store.ListPortfoliosByGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("list portfolios: %w", err)
	}

	now := e.clock.Now()
	date := calendar.MarketDate(now)
	for _, p := range portfolios {
		h := &model.DailyHistory{
			ID:          uuid.New().String(),
			PortfolioID: p.ID,
			Date:        date,
			RecordedAt:  now.UTC(),
			Value:       p.CurrentValue,
		}
		if err := e.store.InsertDailyHistory(ctx, h); err != nil {
			slog.Error("daily snapshot", "portfolio_id", p.ID, "error", err)
		}
	}
	return nil
}

// SnapshotClosing appends the end-of-day value for every portfolio in the
// game and rolls it into LastCloseValue for the next session's day-change
// baseline.
func (e *Engine) SnapshotClosing(ctx context.Context, gameID string) error {
	portfolios, err := e.store.ListPortfoliosByGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("list portfolios: %w", err)
	}

	date := calendar.MarketDate(e.clock.Now())
	for _, p := range portfolios {
		h := &model.ClosingHistory{
			ID:          uuid.New().String(),
			PortfolioID: p.ID,
			Date:        date,
			Value:       p.CurrentValue,
		}
		if err := e.store.InsertClosingHistory(ctx, h); err != nil {
			slog.Error("closing snapshot", "portfolio_id", p.ID, "error", err)
		}
	}
	return nil
}

// priceIndex loads all stock prices keyed by stock ID.
func (e *Engine) priceIndex(ctx context.Context) (map[string]decimal.Decimal, error) {
	stocks, err := e.store.ListStocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(stocks))
	for _, st := range stocks {
		prices[st.ID] = st.CurrentPrice
	}
	return prices, nil
}
