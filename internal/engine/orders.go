package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/metrics"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

// SubmitOrderRequest carries the inputs for placing a standing order.
type SubmitOrderRequest struct {
	PortfolioID string
	Ticker      string
	Type        model.OrderType
	Shares      int64
	TargetPrice *decimal.Decimal
	ExpiresOn   *time.Time
}

// SubmitOrder validates and stores a standing order in pending state. A buy
// must be affordable and a sell must be covered by the current holding at
// submit time; nothing is reserved, so execution re-checks against the
// state the portfolio is in then.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*model.Order, error) {
	if req.Shares <= 0 {
		return nil, &ValidationError{Field: "shares", Reason: "must be a positive whole number"}
	}
	if !req.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown order type %q", req.Type)}
	}
	if req.Type.IsMarket() {
		if req.TargetPrice != nil {
			return nil, &ValidationError{Field: "target_price", Reason: "market orders take no target price"}
		}
	} else {
		if req.TargetPrice == nil || req.TargetPrice.LessThanOrEqual(decimal.Zero) {
			return nil, &ValidationError{Field: "target_price", Reason: "must be a positive price"}
		}
	}

	now := e.clock.Now()
	if req.ExpiresOn != nil && req.ExpiresOn.Before(calendar.DateOf(now)) {
		return nil, &ValidationError{Field: "expires_on", Reason: "must not be in the past"}
	}

	p, err := e.store.GetPortfolio(ctx, req.PortfolioID)
	if err != nil {
		return nil, err
	}
	g, err := e.store.GetGame(ctx, p.GameID)
	if err != nil {
		return nil, err
	}
	if g.Status == model.GameCompleted {
		return nil, ErrGameNotActive
	}

	stock, err := e.EnsureStock(ctx, req.Ticker)
	if err != nil {
		return nil, err
	}

	if req.Type.IsBuy() {
		// Affordability at the target price, or the current price for
		// market buys.
		price := stock.CurrentPrice
		if req.TargetPrice != nil {
			price = *req.TargetPrice
		}
		if buyCost(g, req.Shares, price).GreaterThan(p.AvailableCash) {
			return nil, ErrInsufficientFunds
		}
	} else {
		h, err := e.store.GetHolding(ctx, p.ID, stock.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrInsufficientHoldings
		case err != nil:
			return nil, err
		case h.SharesOwned < req.Shares:
			return nil, ErrInsufficientHoldings
		}
	}

	o := &model.Order{
		ID:          uuid.New().String(),
		PortfolioID: p.ID,
		StockID:     stock.ID,
		Type:        req.Type,
		Shares:      req.Shares,
		TargetPrice: req.TargetPrice,
		Status:      model.OrderPending,
		ExpiresOn:   req.ExpiresOn,
		PlacedAt:    now.UTC(),
	}
	if err := e.store.InsertOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// CancelOrder moves a pending order to cancelled. Orders that already
// reached a terminal status are rejected with TerminalStateError.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, &TerminalStateError{OrderID: o.ID, Status: o.Status}
	}
	if err := e.store.UpdateOrderStatus(ctx, o.ID, model.OrderCancelled); err != nil {
		return nil, err
	}
	o.Status = model.OrderCancelled
	return o, nil
}

// shouldTrigger reports whether a pending order's price condition is met.
// Market orders trigger unconditionally on the next matching pass.
func (e *Engine) shouldTrigger(o *model.Order, price decimal.Decimal) bool {
	if o.Type.IsMarket() {
		return true
	}
	if o.TargetPrice == nil {
		return false
	}
	switch o.Type {
	case model.OrderLimitBuy:
		return price.LessThanOrEqual(*o.TargetPrice)
	case model.OrderLimitSell:
		return price.GreaterThanOrEqual(*o.TargetPrice)
	case model.OrderStopLoss:
		if e.stopLossAbove {
			return price.GreaterThanOrEqual(*o.TargetPrice)
		}
		return price.LessThanOrEqual(*o.TargetPrice)
	}
	return false
}

// MatchPendingOrders scans all pending orders against current stock prices
// and executes those whose conditions are met. Failures on one order are
// logged and do not stop the pass.
func (e *Engine) MatchPendingOrders(ctx context.Context) error {
	pending, err := e.store.ListPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}

	stocks := make(map[string]*model.Stock)
	for i := range pending {
		o := &pending[i]
		stock, ok := stocks[o.StockID]
		if !ok {
			stock, err = e.store.GetStock(ctx, o.StockID)
			if err != nil {
				slog.Error("order match: load stock", "order_id", o.ID, "stock_id", o.StockID, "error", err)
				continue
			}
			stocks[o.StockID] = stock
		}

		if !e.shouldTrigger(o, stock.CurrentPrice) {
			continue
		}
		if err := e.ExecuteOrder(ctx, o.ID); err != nil {
			slog.Error("order execution failed", "order_id", o.ID, "error", err)
		}
	}
	return nil
}

// ExecuteOrder fills one triggered order inside its portfolio's
// transaction. The order is re-read under the lock so a concurrent cancel
// wins cleanly. Fills are best-effort against current state:
//
//   - a buy fills as many shares as the cash covers, fee included;
//   - a sell fills at most the shares still owned;
//   - zero executable shares cancels the order;
//   - fewer than requested marks it partially filled.
func (e *Engine) ExecuteOrder(ctx context.Context, orderID string) error {
	var final model.OrderStatus

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	err = e.store.RunInPortfolioTx(ctx, o.PortfolioID, func(st store.Store) error {
		o, err := st.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderPending {
			return nil // lost to a concurrent cancel or fill
		}
		p, err := st.GetPortfolio(ctx, o.PortfolioID)
		if err != nil {
			return err
		}
		g, err := st.GetGame(ctx, p.GameID)
		if err != nil {
			return err
		}
		if g.Status != model.GameInProgress {
			return nil // expiry pass will resolve it
		}
		stock, err := st.GetStock(ctx, o.StockID)
		if err != nil {
			return err
		}

		var exec int64
		var tt model.TradeType
		if o.Type.IsBuy() {
			tt = model.TradeBuy
			exec = min64(o.Shares, maxAffordableShares(g, p.AvailableCash, stock.CurrentPrice))
		} else {
			tt = model.TradeSell
			h, err := st.GetHolding(ctx, p.ID, o.StockID)
			switch {
			case err == nil:
				exec = min64(o.Shares, h.SharesOwned)
			case errors.Is(err, store.ErrNotFound):
				exec = 0 // position sold off since the order was placed
			default:
				return err
			}
		}

		if exec == 0 {
			final = model.OrderCancelled
			return st.UpdateOrderStatus(ctx, o.ID, final)
		}

		if _, err := applyTrade(ctx, st, g, p, stock, tt, exec, e.clock.Now().UTC()); err != nil {
			return err
		}
		if exec < o.Shares {
			final = model.OrderPartiallyFilled
		} else {
			final = model.OrderFilled
		}
		return st.UpdateOrderStatus(ctx, o.ID, final)
	})
	if err != nil {
		return err
	}

	if final != "" {
		metrics.OrdersResolvedTotal.WithLabelValues(string(final)).Inc()
		slog.Info("order resolved", "order_id", orderID, "status", final)
		if e.onOrderResolved != nil {
			e.onOrderResolved(*o, final)
		}
	}
	return nil
}

// ExpireOrders resolves pending orders whose game has completed or whose
// expiration date has arrived. Runs at market close.
func (e *Engine) ExpireOrders(ctx context.Context) error {
	pending, err := e.store.ListPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	today := calendar.DateOf(e.clock.Now())

	games := make(map[string]*model.Game)
	for i := range pending {
		o := &pending[i]

		expired := o.ExpiresOn != nil && !o.ExpiresOn.After(today)
		if !expired {
			p, err := e.store.GetPortfolio(ctx, o.PortfolioID)
			if err != nil {
				slog.Error("order expiry: load portfolio", "order_id", o.ID, "error", err)
				continue
			}
			g, ok := games[p.GameID]
			if !ok {
				g, err = e.store.GetGame(ctx, p.GameID)
				if err != nil {
					slog.Error("order expiry: load game", "order_id", o.ID, "error", err)
					continue
				}
				games[p.GameID] = g
			}
			expired = g.Status == model.GameCompleted
		}
		if !expired {
			continue
		}

		if err := e.store.UpdateOrderStatus(ctx, o.ID, model.OrderExpired); err != nil {
			slog.Error("order expiry: update status", "order_id", o.ID, "error", err)
			continue
		}
		metrics.OrdersResolvedTotal.WithLabelValues(string(model.OrderExpired)).Inc()
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
