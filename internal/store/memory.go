package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stockpit/portfolio-engine/internal/model"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	games        map[string]*model.Game
	portfolios   map[string]*model.Portfolio
	stocks       map[string]*model.Stock
	holdings     map[string]*model.Holding // key: portfolioID + "/" + stockID
	transactions []model.Transaction
	orders       map[string]*model.Order
	daily        []model.DailyHistory
	closing      []model.ClosingHistory

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex // per-portfolio tx locks
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:      make(map[string]*model.Game),
		portfolios: make(map[string]*model.Portfolio),
		stocks:     make(map[string]*model.Stock),
		holdings:   make(map[string]*model.Holding),
		orders:     make(map[string]*model.Order),
		locks:      make(map[string]*sync.Mutex),
	}
}

func holdingKey(portfolioID, stockID string) string {
	return portfolioID + "/" + stockID
}

// --- Games ---

func (s *MemoryStore) CreateGame(_ context.Context, g *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.games {
		if existing.Name == g.Name {
			return ErrDuplicate
		}
	}
	cp := *g
	s.games[g.ID] = &cp
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) GetGameByName(_ context.Context, name string) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.games {
		if g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListGames(_ context.Context) ([]model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	games := make([]model.Game, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, *g)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].Participants > games[j].Participants })
	return games, nil
}

func (s *MemoryStore) ListGamesByStatus(_ context.Context, status model.GameStatus) ([]model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var games []model.Game
	for _, g := range s.games {
		if g.Status == status {
			games = append(games, *g)
		}
	}
	return games, nil
}

func (s *MemoryStore) UpdateGame(_ context.Context, g *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; !ok {
		return ErrNotFound
	}
	cp := *g
	s.games[g.ID] = &cp
	return nil
}

// --- Portfolios ---

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.portfolios {
		if existing.UserID == p.UserID && existing.GameID == p.GameID {
			return ErrDuplicate
		}
	}
	cp := *p
	s.portfolios[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPortfolioByUserAndGame(_ context.Context, userID, gameID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.portfolios {
		if p.UserID == userID && p.GameID == gameID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListPortfoliosByGame(_ context.Context, gameID string) ([]model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Portfolio
	for _, p := range s.portfolios {
		if p.GameID == gameID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.portfolios[p.ID] = &cp
	return nil
}

// --- Stocks ---

func (s *MemoryStore) UpsertStock(_ context.Context, st *model.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert by ticker: keep the original ID if the ticker exists.
	for _, existing := range s.stocks {
		if existing.Ticker == st.Ticker {
			st.ID = existing.ID
			cp := *st
			s.stocks[existing.ID] = &cp
			return nil
		}
	}
	cp := *st
	s.stocks[st.ID] = &cp
	return nil
}

func (s *MemoryStore) GetStock(_ context.Context, id string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) GetStockByTicker(_ context.Context, ticker string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.stocks {
		if st.Ticker == ticker {
			cp := *st
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListStocks(_ context.Context) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]model.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		stocks = append(stocks, *st)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Ticker < stocks[j].Ticker })
	return stocks, nil
}

// --- Holdings ---

func (s *MemoryStore) GetHolding(_ context.Context, portfolioID, stockID string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey(portfolioID, stockID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldingsByPortfolio(_ context.Context, portfolioID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Holding
	for _, h := range s.holdings {
		if h.PortfolioID == portfolioID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockID < out[j].StockID })
	return out, nil
}

func (s *MemoryStore) SaveHolding(_ context.Context, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *h
	s.holdings[holdingKey(h.PortfolioID, h.StockID)] = &cp
	return nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, portfolioID, stockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey(portfolioID, stockID)
	if _, ok := s.holdings[key]; !ok {
		return ErrNotFound
	}
	delete(s.holdings, key)
	return nil
}

// --- Transactions ---

func (s *MemoryStore) InsertTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = append(s.transactions, *t)
	return nil
}

func (s *MemoryStore) ListTransactionsByPortfolio(_ context.Context, portfolioID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for _, t := range s.transactions {
		if t.PortfolioID == portfolioID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return out, nil
}

// --- Orders ---

func (s *MemoryStore) InsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, status model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	return nil
}

func (s *MemoryStore) ListPendingOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderPending {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

func (s *MemoryStore) ListPendingOrdersByGame(ctx context.Context, gameID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if o.Status != model.OrderPending {
			continue
		}
		p, ok := s.portfolios[o.PortfolioID]
		if ok && p.GameID == gameID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

func (s *MemoryStore) ListOrdersByPortfolio(_ context.Context, portfolioID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if o.PortfolioID == portfolioID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	return out, nil
}

// --- History ---

func (s *MemoryStore) InsertDailyHistory(_ context.Context, h *model.DailyHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.daily = append(s.daily, *h)
	return nil
}

func (s *MemoryStore) DeleteDailyHistoryBefore(_ context.Context, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.daily[:0]
	for _, h := range s.daily {
		if !h.Date.Before(date) {
			kept = append(kept, h)
		}
	}
	s.daily = kept
	return nil
}

func (s *MemoryStore) ListDailyHistoryByGame(_ context.Context, gameID string, date time.Time) ([]model.DailyHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DailyHistory
	for _, h := range s.daily {
		if !h.Date.Equal(date) {
			continue
		}
		p, ok := s.portfolios[h.PortfolioID]
		if ok && p.GameID == gameID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (s *MemoryStore) InsertClosingHistory(_ context.Context, h *model.ClosingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closing = append(s.closing, *h)
	return nil
}

func (s *MemoryStore) ListClosingHistoryByGame(_ context.Context, gameID string) ([]model.ClosingHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ClosingHistory
	for _, h := range s.closing {
		p, ok := s.portfolios[h.PortfolioID]
		if ok && p.GameID == gameID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// --- Transactional boundary ---

// RunInPortfolioTx serializes mutations per portfolio with a dedicated
// mutex. The callback sees the store itself; if it returns an error, the
// portfolio's row, holdings, orders, and transaction ledger entries are
// restored to their pre-callback state.
func (s *MemoryStore) RunInPortfolioTx(_ context.Context, portfolioID string, fn func(Store) error) error {
	s.lockMu.Lock()
	l, ok := s.locks[portfolioID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[portfolioID] = l
	}
	s.lockMu.Unlock()

	l.Lock()
	defer l.Unlock()

	snap := s.snapshotPortfolio(portfolioID)
	if err := fn(s); err != nil {
		s.restorePortfolio(portfolioID, snap)
		return err
	}
	return nil
}

// portfolioSnapshot captures every row RunInPortfolioTx may mutate.
type portfolioSnapshot struct {
	portfolio    *model.Portfolio
	holdings     map[string]model.Holding
	orders       map[string]model.Order
	transactions []model.Transaction
}

func (s *MemoryStore) snapshotPortfolio(portfolioID string) portfolioSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := portfolioSnapshot{
		holdings: make(map[string]model.Holding),
		orders:   make(map[string]model.Order),
	}
	if p, ok := s.portfolios[portfolioID]; ok {
		cp := *p
		snap.portfolio = &cp
	}
	for k, h := range s.holdings {
		if h.PortfolioID == portfolioID {
			snap.holdings[k] = *h
		}
	}
	for k, o := range s.orders {
		if o.PortfolioID == portfolioID {
			snap.orders[k] = *o
		}
	}
	for _, t := range s.transactions {
		if t.PortfolioID == portfolioID {
			snap.transactions = append(snap.transactions, t)
		}
	}
	return snap
}

func (s *MemoryStore) restorePortfolio(portfolioID string, snap portfolioSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.portfolio != nil {
		cp := *snap.portfolio
		s.portfolios[portfolioID] = &cp
	} else {
		delete(s.portfolios, portfolioID)
	}

	for k, h := range s.holdings {
		if h.PortfolioID == portfolioID {
			delete(s.holdings, k)
		}
	}
	for k, h := range snap.holdings {
		cp := h
		s.holdings[k] = &cp
	}

	for k, o := range s.orders {
		if o.PortfolioID == portfolioID {
			delete(s.orders, k)
		}
	}
	for k, o := range snap.orders {
		cp := o
		s.orders[k] = &cp
	}

	kept := s.transactions[:0]
	for _, t := range s.transactions {
		if t.PortfolioID != portfolioID {
			kept = append(kept, t)
		}
	}
	s.transactions = append(kept, snap.transactions...)
}
