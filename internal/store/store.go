// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stockpit/portfolio-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness rule
	// (game name, one portfolio per user per game, stock ticker).
	ErrDuplicate = errors.New("store: duplicate record")

	// ErrConflict is returned when a transaction loses a serialization
	// race and should be retried by the caller.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// Store is the persistence interface. All money is decimal; implementations
// must round nothing — callers round at mutation points.
type Store interface {
	// --- Games ---

	CreateGame(ctx context.Context, g *model.Game) error
	GetGame(ctx context.Context, id string) (*model.Game, error)
	GetGameByName(ctx context.Context, name string) (*model.Game, error)
	ListGames(ctx context.Context) ([]model.Game, error)
	ListGamesByStatus(ctx context.Context, status model.GameStatus) ([]model.Game, error)
	UpdateGame(ctx context.Context, g *model.Game) error

	// --- Portfolios ---

	CreatePortfolio(ctx context.Context, p *model.Portfolio) error
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)
	GetPortfolioByUserAndGame(ctx context.Context, userID, gameID string) (*model.Portfolio, error)
	ListPortfoliosByGame(ctx context.Context, gameID string) ([]model.Portfolio, error)
	UpdatePortfolio(ctx context.Context, p *model.Portfolio) error

	// --- Stocks ---

	UpsertStock(ctx context.Context, s *model.Stock) error
	GetStock(ctx context.Context, id string) (*model.Stock, error)
	GetStockByTicker(ctx context.Context, ticker string) (*model.Stock, error)
	ListStocks(ctx context.Context) ([]model.Stock, error)

	// --- Holdings ---

	GetHolding(ctx context.Context, portfolioID, stockID string) (*model.Holding, error)
	ListHoldingsByPortfolio(ctx context.Context, portfolioID string) ([]model.Holding, error)
	SaveHolding(ctx context.Context, h *model.Holding) error
	DeleteHolding(ctx context.Context, portfolioID, stockID string) error

	// --- Immutable transaction ledger ---

	InsertTransaction(ctx context.Context, t *model.Transaction) error
	ListTransactionsByPortfolio(ctx context.Context, portfolioID string) ([]model.Transaction, error)

	// --- Orders ---

	InsertOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error
	ListPendingOrders(ctx context.Context) ([]model.Order, error)
	ListPendingOrdersByGame(ctx context.Context, gameID string) ([]model.Order, error)
	ListOrdersByPortfolio(ctx context.Context, portfolioID string) ([]model.Order, error)

	// --- History snapshots ---

	InsertDailyHistory(ctx context.Context, h *model.DailyHistory) error
	DeleteDailyHistoryBefore(ctx context.Context, date time.Time) error
	ListDailyHistoryByGame(ctx context.Context, gameID string, date time.Time) ([]model.DailyHistory, error)
	InsertClosingHistory(ctx context.Context, h *model.ClosingHistory) error
	ListClosingHistoryByGame(ctx context.Context, gameID string) ([]model.ClosingHistory, error)

	// --- Transactional boundary ---

	// RunInPortfolioTx executes fn against a transactional view of the
	// store with the given portfolio's row locked for the duration. Every
	// read-modify-write of a portfolio's cash, holdings, or order fills
	// goes through here so a user trade and a scheduled order execution
	// against the same portfolio serialize instead of losing updates.
	RunInPortfolioTx(ctx context.Context, portfolioID string, fn func(Store) error) error
}
