package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockpit/portfolio-engine/internal/model"
)

var _ Store = (*CachedStore)(nil)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Only hot read paths are
// cached: stocks (hit on every quote and valuation) and games. Portfolio
// state is never cached; it is the thing the locks protect.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func gameKey(id string) string       { return fmt.Sprintf("game:%s", id) }
func gameNameKey(name string) string { return fmt.Sprintf("game:name:%s", name) }
func stockKey(id string) string      { return fmt.Sprintf("stock:%s", id) }
func tickerKey(t string) string      { return fmt.Sprintf("stock:ticker:%s", t) }

// --- Games ---

func (s *CachedStore) CreateGame(ctx context.Context, g *model.Game) error {
	if err := s.primary.CreateGame(ctx, g); err != nil {
		return err
	}
	s.cacheGame(ctx, g)
	return nil
}

func (s *CachedStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	data, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == nil {
		var g model.Game
		if json.Unmarshal(data, &g) == nil {
			return &g, nil
		}
	}

	g, err := s.primary.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheGame(ctx, g)
	return g, nil
}

func (s *CachedStore) GetGameByName(ctx context.Context, name string) (*model.Game, error) {
	// Name→ID mapping, then the regular ID path.
	id, err := s.rdb.Get(ctx, gameNameKey(name)).Result()
	if err == nil {
		return s.GetGame(ctx, id)
	}

	g, err := s.primary.GetGameByName(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cacheGame(ctx, g)
	s.rdb.Set(ctx, gameNameKey(name), g.ID, s.ttl)
	return g, nil
}

func (s *CachedStore) ListGames(ctx context.Context) ([]model.Game, error) {
	return s.primary.ListGames(ctx)
}

func (s *CachedStore) ListGamesByStatus(ctx context.Context, status model.GameStatus) ([]model.Game, error) {
	return s.primary.ListGamesByStatus(ctx, status)
}

func (s *CachedStore) UpdateGame(ctx context.Context, g *model.Game) error {
	if err := s.primary.UpdateGame(ctx, g); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, gameKey(g.ID))
	return nil
}

func (s *CachedStore) cacheGame(ctx context.Context, g *model.Game) {
	if data, err := json.Marshal(g); err == nil {
		s.rdb.Set(ctx, gameKey(g.ID), data, s.ttl)
	}
}

// --- Stocks ---

func (s *CachedStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	if err := s.primary.UpsertStock(ctx, st); err != nil {
		return err
	}
	s.cacheStock(ctx, st)
	return nil
}

func (s *CachedStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	data, err := s.rdb.Get(ctx, stockKey(id)).Bytes()
	if err == nil {
		var st model.Stock
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetStock(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheStock(ctx, st)
	return st, nil
}

func (s *CachedStore) GetStockByTicker(ctx context.Context, ticker string) (*model.Stock, error) {
	id, err := s.rdb.Get(ctx, tickerKey(ticker)).Result()
	if err == nil {
		return s.GetStock(ctx, id)
	}

	st, err := s.primary.GetStockByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.cacheStock(ctx, st)
	return st, nil
}

func (s *CachedStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	return s.primary.ListStocks(ctx)
}

func (s *CachedStore) cacheStock(ctx context.Context, st *model.Stock) {
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, stockKey(st.ID), data, s.ttl)
		s.rdb.Set(ctx, tickerKey(st.Ticker), st.ID, s.ttl)
	}
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	return s.primary.CreatePortfolio(ctx, p)
}

func (s *CachedStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	return s.primary.GetPortfolio(ctx, id)
}

func (s *CachedStore) GetPortfolioByUserAndGame(ctx context.Context, userID, gameID string) (*model.Portfolio, error) {
	return s.primary.GetPortfolioByUserAndGame(ctx, userID, gameID)
}

func (s *CachedStore) ListPortfoliosByGame(ctx context.Context, gameID string) ([]model.Portfolio, error) {
	return s.primary.ListPortfoliosByGame(ctx, gameID)
}

func (s *CachedStore) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	return s.primary.UpdatePortfolio(ctx, p)
}

func (s *CachedStore) GetHolding(ctx context.Context, portfolioID, stockID string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, portfolioID, stockID)
}

func (s *CachedStore) ListHoldingsByPortfolio(ctx context.Context, portfolioID string) ([]model.Holding, error) {
	return s.primary.ListHoldingsByPortfolio(ctx, portfolioID)
}

func (s *CachedStore) SaveHolding(ctx context.Context, h *model.Holding) error {
	return s.primary.SaveHolding(ctx, h)
}

func (s *CachedStore) DeleteHolding(ctx context.Context, portfolioID, stockID string) error {
	return s.primary.DeleteHolding(ctx, portfolioID, stockID)
}

func (s *CachedStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, t)
}

func (s *CachedStore) ListTransactionsByPortfolio(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByPortfolio(ctx, portfolioID)
}

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	return s.primary.InsertOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	return s.primary.UpdateOrderStatus(ctx, id, status)
}

func (s *CachedStore) ListPendingOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.ListPendingOrders(ctx)
}

func (s *CachedStore) ListPendingOrdersByGame(ctx context.Context, gameID string) ([]model.Order, error) {
	return s.primary.ListPendingOrdersByGame(ctx, gameID)
}

func (s *CachedStore) ListOrdersByPortfolio(ctx context.Context, portfolioID string) ([]model.Order, error) {
	return s.primary.ListOrdersByPortfolio(ctx, portfolioID)
}

func (s *CachedStore) InsertDailyHistory(ctx context.Context, h *model.DailyHistory) error {
	return s.primary.InsertDailyHistory(ctx, h)
}

func (s *CachedStore) DeleteDailyHistoryBefore(ctx context.Context, date time.Time) error {
	return s.primary.DeleteDailyHistoryBefore(ctx, date)
}

func (s *CachedStore) ListDailyHistoryByGame(ctx context.Context, gameID string, date time.Time) ([]model.DailyHistory, error) {
	return s.primary.ListDailyHistoryByGame(ctx, gameID, date)
}

func (s *CachedStore) InsertClosingHistory(ctx context.Context, h *model.ClosingHistory) error {
	return s.primary.InsertClosingHistory(ctx, h)
}

func (s *CachedStore) ListClosingHistoryByGame(ctx context.Context, gameID string) ([]model.ClosingHistory, error) {
	return s.primary.ListClosingHistoryByGame(ctx, gameID)
}

// RunInPortfolioTx delegates to the primary. The callback sees the primary's
// transactional view directly, so tx writes bypass the cache; UpdateGame and
// UpsertStock invalidations happen on the non-tx paths that follow.
func (s *CachedStore) RunInPortfolioTx(ctx context.Context, portfolioID string, fn func(Store) error) error {
	return s.primary.RunInPortfolioTx(ctx, portfolioID, fn)
}
