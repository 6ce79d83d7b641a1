package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/marketdata"
	"github.com/stockpit/portfolio-engine/internal/metrics"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

// Trade executes a market trade immediately at the current quoted price.
// The full read-modify-write runs inside the portfolio's transaction, so a
// concurrent scheduled fill against the same portfolio cannot interleave.
func (e *Engine) Trade(ctx context.Context, portfolioID, ticker string, tt model.TradeType, shares int64) (*model.Transaction, error) {
	if shares <= 0 {
		return nil, &ValidationError{Field: "shares", Reason: "must be a positive whole number"}
	}
	if tt != model.TradeBuy && tt != model.TradeSell {
		return nil, &ValidationError{Field: "type", Reason: "must be buy or sell"}
	}
	if !calendar.IsMarketOpen(e.clock.Now()) {
		return nil, ErrMarketClosed
	}

	stock, err := e.EnsureStock(ctx, ticker)
	if err != nil {
		return nil, err
	}

	var txn *model.Transaction
	err = e.store.RunInPortfolioTx(ctx, portfolioID, func(st store.Store) error {
		p, err := st.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		g, err := st.GetGame(ctx, p.GameID)
		if err != nil {
			return err
		}
		if g.Status != model.GameInProgress {
			return ErrGameNotActive
		}

		txn, err = applyTrade(ctx, st, g, p, stock, tt, shares, e.clock.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(tt)).Inc()
	return txn, nil
}

// applyTrade settles one trade against a portfolio: checks funds or
// holdings, moves cash, updates the position, and appends the ledger row.
// The fee is charged exactly once, inside buyCost/sellProceeds. Callers
// hold the portfolio lock.
func applyTrade(ctx context.Context, st store.Store, g *model.Game, p *model.Portfolio, stock *model.Stock, tt model.TradeType, shares int64, now time.Time) (*model.Transaction, error) {
	price := stock.CurrentPrice
	txn := &model.Transaction{
		ID:            uuid.New().String(),
		PortfolioID:   p.ID,
		StockID:       stock.ID,
		Type:          tt,
		Shares:        shares,
		PricePerShare: price,
		ExecutedAt:    now,
	}

	switch tt {
	case model.TradeBuy:
		cost := buyCost(g, shares, price)
		if cost.GreaterThan(p.AvailableCash) {
			return nil, ErrInsufficientFunds
		}
		txn.TotalValue = cost

		h, err := st.GetHolding(ctx, p.ID, stock.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			h = &model.Holding{
				ID:           uuid.New().String(),
				PortfolioID:  p.ID,
				StockID:      stock.ID,
				SharesOwned:  shares,
				AveragePrice: price.Round(2),
			}
		case err != nil:
			return nil, err
		default:
			// Weighted-average cost basis, recomputed on buys only.
			oldQty := decimal.NewFromInt(h.SharesOwned)
			newQty := decimal.NewFromInt(h.SharesOwned + shares)
			h.AveragePrice = h.AveragePrice.Mul(oldQty).
				Add(price.Mul(decimal.NewFromInt(shares))).
				Div(newQty).Round(2)
			h.SharesOwned += shares
		}
		if err := st.SaveHolding(ctx, h); err != nil {
			return nil, err
		}
		p.AvailableCash = p.AvailableCash.Sub(cost).Round(2)

	case model.TradeSell:
		h, err := st.GetHolding(ctx, p.ID, stock.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInsufficientHoldings
		}
		if err != nil {
			return nil, err
		}
		if h.SharesOwned < shares {
			return nil, ErrInsufficientHoldings
		}

		proceeds := sellProceeds(g, shares, price)
		txn.TotalValue = proceeds
		pl := price.Sub(h.AveragePrice).Mul(decimal.NewFromInt(shares)).Round(2)
		txn.ProfitLoss = &pl

		if h.SharesOwned == shares {
			if err := st.DeleteHolding(ctx, p.ID, stock.ID); err != nil {
				return nil, err
			}
		} else {
			h.SharesOwned -= shares
			if err := st.SaveHolding(ctx, h); err != nil {
				return nil, err
			}
		}
		p.AvailableCash = p.AvailableCash.Add(proceeds).Round(2)
	}

	// The position and cash legs cancel out at the trade price, so the
	// portfolio's value moves by the fee alone.
	fee := feeCharged(g, shares, price)
	p.CurrentValue = p.CurrentValue.Sub(fee).Round(2)
	p.LastUpdated = now
	if err := st.UpdatePortfolio(ctx, p); err != nil {
		return nil, err
	}
	if err := st.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// EnsureStock resolves a ticker to a tracked stock, creating or refreshing
// it from the market data provider. Stocks are shared across portfolios
// and created lazily on first use.
func (e *Engine) EnsureStock(ctx context.Context, ticker string) (*model.Stock, error) {
	ticker = marketdata.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, &ValidationError{Field: "ticker", Reason: "must not be empty"}
	}

	q, err := e.gateway.Quote(ctx, ticker)
	if err != nil {
		metrics.QuoteFetchFailures.Inc()
		return nil, fmt.Errorf("quote %s: %w", ticker, err)
	}

	stock := &model.Stock{
		ID:            uuid.New().String(),
		Ticker:        ticker,
		CompanyName:   q.CompanyName,
		Sector:        q.Sector,
		Industry:      q.Industry,
		Currency:      q.Currency,
		PreviousClose: q.PreviousClose,
		OpeningPrice:  q.Open,
		CurrentPrice:  q.Price,
		LastUpdated:   e.clock.Now().UTC(),
	}
	// UpsertStock keeps the existing ID when the ticker is already tracked.
	if err := e.store.UpsertStock(ctx, stock); err != nil {
		return nil, err
	}
	return stock, nil
}
