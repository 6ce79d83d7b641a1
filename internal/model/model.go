// Package model defines the core domain types shared across the portfolio
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// GameStatus is the lifecycle state of a game. Status only ever advances
// forward: NotStarted → InProgress → Completed.
type GameStatus string

const (
	GameNotStarted GameStatus = "Not Started"
	GameInProgress GameStatus = "In Progress"
	GameCompleted  GameStatus = "Completed"
)

// FeeType determines how a game's transaction fee is applied.
type FeeType string

const (
	FeeFlat       FeeType = "Flat Fee"
	FeePercentage FeeType = "Percentage"
)

// Valid reports whether ft is a recognised fee type.
func (ft FeeType) Valid() bool {
	return ft == FeeFlat || ft == FeePercentage
}

// TradeType is the direction of an executed trade.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// OrderType is the kind of standing order a user can place.
type OrderType string

const (
	OrderLimitBuy   OrderType = "limit buy"
	OrderLimitSell  OrderType = "limit sell"
	OrderStopLoss   OrderType = "stop-loss"
	OrderMarketBuy  OrderType = "market buy"
	OrderMarketSell OrderType = "market sell"
)

// Valid reports whether ot is one of the five recognised order types.
func (ot OrderType) Valid() bool {
	switch ot {
	case OrderLimitBuy, OrderLimitSell, OrderStopLoss, OrderMarketBuy, OrderMarketSell:
		return true
	}
	return false
}

// IsBuy reports whether the order acquires shares when executed.
func (ot OrderType) IsBuy() bool {
	return ot == OrderLimitBuy || ot == OrderMarketBuy
}

// IsMarket reports whether the order executes unconditionally on the next
// matching pass, without a target price.
func (ot OrderType) IsMarket() bool {
	return ot == OrderMarketBuy || ot == OrderMarketSell
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (os OrderStatus) Terminal() bool {
	return os != OrderPending
}

// Game is a time-boxed trading competition with a shared starting cash
// balance and fee schedule. Portfolios belong to exactly one game.
type Game struct {
	ID             string          `json:"id" db:"id"`
	CreatorID      string          `json:"creator_id" db:"creator_id"`
	Name           string          `json:"name" db:"name"`
	Password       string          `json:"-" db:"password"` // empty = public game
	Participants   int             `json:"participants" db:"participants"`
	StartDate      time.Time       `json:"start_date" db:"start_date"`
	EndDate        *time.Time      `json:"end_date,omitempty" db:"end_date"` // nil = open-ended
	Status         GameStatus      `json:"status" db:"status"`
	StartingCash   decimal.Decimal `json:"starting_cash" db:"starting_cash"`
	TransactionFee decimal.Decimal `json:"transaction_fee" db:"transaction_fee"`
	FeeType        FeeType         `json:"fee_type" db:"fee_type"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	LastUpdated    time.Time       `json:"last_updated" db:"last_updated"`
}

// Portfolio is one participant's cash and holdings state within a game.
// One portfolio per user per game.
//
// Invariant after every valuation pass:
//
//	CurrentValue == AvailableCash + Σ(holding.SharesOwned × stock.CurrentPrice)
type Portfolio struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	GameID         string          `json:"game_id" db:"game_id"`
	AvailableCash  decimal.Decimal `json:"available_cash" db:"available_cash"`
	CurrentValue   decimal.Decimal `json:"current_value" db:"current_value"`
	LastCloseValue decimal.Decimal `json:"last_close_value" db:"last_close_value"`
	DayChange      decimal.Decimal `json:"day_change" db:"day_change"`
	OverallRank    int             `json:"overall_rank" db:"overall_rank"`
	DailyRank      int             `json:"daily_rank" db:"daily_rank"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	LastUpdated    time.Time       `json:"last_updated" db:"last_updated"`
}

// Stock is a tracked equity, created lazily on first quote or trade and
// shared across portfolios.
type Stock struct {
	ID            string          `json:"id" db:"id"`
	Ticker        string          `json:"ticker" db:"ticker"` // upper-cased, unique
	CompanyName   string          `json:"company_name" db:"company_name"`
	Sector        string          `json:"sector" db:"sector"`
	Industry      string          `json:"industry" db:"industry"`
	Currency      string          `json:"currency" db:"currency"`
	PreviousClose decimal.Decimal `json:"previous_close" db:"previous_close"`
	OpeningPrice  decimal.Decimal `json:"opening_price" db:"opening_price"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	LastUpdated   time.Time       `json:"last_updated" db:"last_updated"`
}

// Holding is a portfolio's position in one stock. SharesOwned is always > 0
// while the record exists; selling a position down to zero deletes it.
// AveragePrice is the weighted-average cost basis, recomputed on buys only.
type Holding struct {
	ID           string          `json:"id" db:"id"`
	PortfolioID  string          `json:"portfolio_id" db:"portfolio_id"`
	StockID      string          `json:"stock_id" db:"stock_id"`
	SharesOwned  int64           `json:"shares_owned" db:"shares_owned"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
}

// Transaction is an immutable record of an executed trade.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID            string           `json:"id" db:"id"`
	PortfolioID   string           `json:"portfolio_id" db:"portfolio_id"`
	StockID       string           `json:"stock_id" db:"stock_id"`
	Type          TradeType        `json:"type" db:"type"`
	Shares        int64            `json:"shares" db:"shares"`
	PricePerShare decimal.Decimal  `json:"price_per_share" db:"price_per_share"`
	TotalValue    decimal.Decimal  `json:"total_value" db:"total_value"`
	ProfitLoss    *decimal.Decimal `json:"profit_loss,omitempty" db:"profit_loss"` // sells only
	ExecutedAt    time.Time        `json:"executed_at" db:"executed_at"`
}

// Order is a standing conditional instruction to trade when a price
// condition is met. TargetPrice is nil for market orders; ExpiresOn is nil
// for orders that live until their game completes.
type Order struct {
	ID          string           `json:"id" db:"id"`
	PortfolioID string           `json:"portfolio_id" db:"portfolio_id"`
	StockID     string           `json:"stock_id" db:"stock_id"`
	Type        OrderType        `json:"type" db:"type"`
	Shares      int64            `json:"shares" db:"shares"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty" db:"target_price"`
	Status      OrderStatus      `json:"status" db:"status"`
	ExpiresOn   *time.Time       `json:"expires_on,omitempty" db:"expires_on"` // date, exchange-local
	PlacedAt    time.Time        `json:"placed_at" db:"placed_at"`
}

// DailyHistory is an intraday value snapshot. Many per portfolio per trading
// date; prior dates are purged at the next market open.
type DailyHistory struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	Date        time.Time       `json:"date" db:"date"`
	RecordedAt  time.Time       `json:"recorded_at" db:"recorded_at"`
	Value       decimal.Decimal `json:"value" db:"value"`
}

// ClosingHistory is the end-of-day value snapshot: at most one per portfolio
// per trading date, append-only.
type ClosingHistory struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	Date        time.Time       `json:"date" db:"date"`
	Value       decimal.Decimal `json:"value" db:"value"`
}

// LeaderboardEntry is one row of a game's ranking table.
type LeaderboardEntry struct {
	Rank         int             `json:"rank"`
	PortfolioID  string          `json:"portfolio_id"`
	UserID       string          `json:"user_id"`
	Value        decimal.Decimal `json:"value"`
	ChangePct    decimal.Decimal `json:"change_pct"` // vs the game's starting cash
	DayChange    decimal.Decimal `json:"day_change"`
	DayChangePct decimal.Decimal `json:"day_change_pct"`
	PortfolioAge int             `json:"portfolio_age_days"`
}

// HoldingSnapshot is a holding joined with its stock for display.
type HoldingSnapshot struct {
	Ticker       string          `json:"ticker"`
	CompanyName  string          `json:"company_name"`
	SharesOwned  int64           `json:"shares_owned"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	ReturnPct    decimal.Decimal `json:"return_pct"`
}

// PortfolioSnapshot is the full dashboard view of one portfolio.
type PortfolioSnapshot struct {
	Portfolio    Portfolio         `json:"portfolio"`
	GameName     string            `json:"game_name"`
	GameStatus   GameStatus        `json:"game_status"`
	StartingCash decimal.Decimal   `json:"starting_cash"`
	Profit       decimal.Decimal   `json:"profit"`
	ChangePct    decimal.Decimal   `json:"change_pct"`
	Holdings     []HoldingSnapshot `json:"holdings"`
	OpenOrders   []Order           `json:"open_orders"`
	Transactions []Transaction     `json:"transactions"`
}
