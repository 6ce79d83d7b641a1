// Package engine implements the trading rules of the portfolio game:
// executing trades against portfolios, filling standing orders, valuing
// and ranking portfolios, and moving games through their lifecycle.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Money is rounded to 2 decimal places at every mutation point; share
// counts are whole numbers.
package engine

import (
	"github.com/stockpit/portfolio-engine/internal/calendar"
	"github.com/stockpit/portfolio-engine/internal/marketdata"
	"github.com/stockpit/portfolio-engine/internal/model"
	"github.com/stockpit/portfolio-engine/internal/store"
)

// Engine executes trades and order fills. All portfolio mutations run
// inside store.RunInPortfolioTx, so concurrent trades and scheduled fills
// against the same portfolio serialize at the store.
type Engine struct {
	store   store.Store
	gateway marketdata.Gateway
	clock   calendar.Clock

	// stopLossAbove flips the stop-loss trigger from "price at or below
	// target" (a protective sell stop, the default) to "price at or
	// above target".
	stopLossAbove bool

	// onOrderResolved, when set, is called after a pending order reaches
	// a terminal state during execution. Used for WebSocket broadcasts.
	onOrderResolved func(o model.Order, status model.OrderStatus)
}

// Option configures an Engine.
type Option func(*Engine)

// WithStopLossTriggerAbove makes stop-loss orders fill when the price
// rises to the target instead of falling to it.
func WithStopLossTriggerAbove() Option {
	return func(e *Engine) { e.stopLossAbove = true }
}

// WithOrderResolvedHook registers a callback invoked whenever order
// execution resolves a pending order (filled, partially filled, or
// cancelled). The callback runs outside the portfolio transaction.
func WithOrderResolvedHook(fn func(o model.Order, status model.OrderStatus)) Option {
	return func(e *Engine) { e.onOrderResolved = fn }
}

// New creates an Engine.
func New(st store.Store, gw marketdata.Gateway, clock calendar.Clock, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		gateway: gw,
		clock:   clock,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
