package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/model"
)

var _ Store = (*PostgresStore)(nil)

// schema is applied at startup. Idempotent; a real migration tool takes
// over once the schema starts changing.
const schema = `
CREATE TABLE IF NOT EXISTS games (
	id              UUID PRIMARY KEY,
	creator_id      TEXT NOT NULL,
	name            TEXT NOT NULL UNIQUE,
	password        TEXT NOT NULL DEFAULT '',
	participants    INT NOT NULL DEFAULT 0,
	start_date      DATE NOT NULL,
	end_date        DATE,
	status          TEXT NOT NULL,
	starting_cash   NUMERIC NOT NULL,
	transaction_fee NUMERIC NOT NULL,
	fee_type        TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	last_updated    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolios (
	id               UUID PRIMARY KEY,
	user_id          TEXT NOT NULL,
	game_id          UUID NOT NULL REFERENCES games(id),
	available_cash   NUMERIC NOT NULL,
	current_value    NUMERIC NOT NULL,
	last_close_value NUMERIC NOT NULL,
	day_change       NUMERIC NOT NULL,
	overall_rank     INT NOT NULL DEFAULT 0,
	daily_rank       INT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	last_updated     TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, game_id)
);

CREATE TABLE IF NOT EXISTS stocks (
	id             UUID PRIMARY KEY,
	ticker         TEXT NOT NULL UNIQUE,
	company_name   TEXT NOT NULL DEFAULT '',
	sector         TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	currency       TEXT NOT NULL DEFAULT 'USD',
	previous_close NUMERIC NOT NULL DEFAULT 0,
	opening_price  NUMERIC NOT NULL DEFAULT 0,
	current_price  NUMERIC NOT NULL DEFAULT 0,
	last_updated   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS holdings (
	id            UUID PRIMARY KEY,
	portfolio_id  UUID NOT NULL REFERENCES portfolios(id),
	stock_id      UUID NOT NULL REFERENCES stocks(id),
	shares_owned  BIGINT NOT NULL,
	average_price NUMERIC NOT NULL,
	UNIQUE (portfolio_id, stock_id)
);

CREATE TABLE IF NOT EXISTS transactions (
	id              UUID PRIMARY KEY,
	portfolio_id    UUID NOT NULL REFERENCES portfolios(id),
	stock_id        UUID NOT NULL REFERENCES stocks(id),
	type            TEXT NOT NULL,
	shares          BIGINT NOT NULL,
	price_per_share NUMERIC NOT NULL,
	total_value     NUMERIC NOT NULL,
	profit_loss     NUMERIC,
	executed_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_portfolio ON transactions (portfolio_id, executed_at DESC);

CREATE TABLE IF NOT EXISTS orders (
	id           UUID PRIMARY KEY,
	portfolio_id UUID NOT NULL REFERENCES portfolios(id),
	stock_id     UUID NOT NULL REFERENCES stocks(id),
	type         TEXT NOT NULL,
	shares       BIGINT NOT NULL,
	target_price NUMERIC,
	status       TEXT NOT NULL,
	expires_on   DATE,
	placed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders (status) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_orders_portfolio ON orders (portfolio_id, placed_at DESC);

CREATE TABLE IF NOT EXISTS daily_history (
	id           UUID PRIMARY KEY,
	portfolio_id UUID NOT NULL REFERENCES portfolios(id),
	date         DATE NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	value        NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_daily_history_date ON daily_history (date);

CREATE TABLE IF NOT EXISTS closing_history (
	id           UUID PRIMARY KEY,
	portfolio_id UUID NOT NULL REFERENCES portfolios(id),
	date         DATE NOT NULL,
	value        NUMERIC NOT NULL,
	UNIQUE (portfolio_id, date)
);
`

// pgxQuerier is the subset of pgxpool.Pool and pgx.Tx the store uses, so
// the same query methods run against either.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   pgxQuerier
	inTx bool
}

// NewPostgresStore creates a PostgreSQL-backed store and applies the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool, db: pool}, nil
}

// mapError converts pgx errors into the store's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrDuplicate
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrConflict
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Games ---

const gameColumns = `id, creator_id, name, password, participants, start_date, end_date, status,
	starting_cash::TEXT, transaction_fee::TEXT, fee_type, created_at, last_updated`

func scanGame(rs rowScanner) (*model.Game, error) {
	var g model.Game
	var startingCash, fee string

	if err := rs.Scan(&g.ID, &g.CreatorID, &g.Name, &g.Password, &g.Participants,
		&g.StartDate, &g.EndDate, &g.Status,
		&startingCash, &fee, &g.FeeType, &g.CreatedAt, &g.LastUpdated); err != nil {
		return nil, err
	}
	g.StartingCash, _ = decimal.NewFromString(startingCash)
	g.TransactionFee, _ = decimal.NewFromString(fee)
	return &g, nil
}

func (s *PostgresStore) CreateGame(ctx context.Context, g *model.Game) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO games (id, creator_id, name, password, participants, start_date, end_date, status,
		                    starting_cash, transaction_fee, fee_type, created_at, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13)`,
		g.ID, g.CreatorID, g.Name, g.Password, g.Participants, g.StartDate, g.EndDate, g.Status,
		g.StartingCash.String(), g.TransactionFee.String(), g.FeeType, g.CreatedAt, g.LastUpdated,
	)
	return mapError(err)
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	g, err := scanGame(s.db.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", id, mapError(err))
	}
	return g, nil
}

func (s *PostgresStore) GetGameByName(ctx context.Context, name string) (*model.Game, error) {
	g, err := scanGame(s.db.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE name = $1`, name))
	if err != nil {
		return nil, fmt.Errorf("get game by name %q: %w", name, mapError(err))
	}
	return g, nil
}

func (s *PostgresStore) ListGames(ctx context.Context) ([]model.Game, error) {
	return s.queryGames(ctx, `SELECT `+gameColumns+` FROM games ORDER BY participants DESC, created_at DESC`)
}

func (s *PostgresStore) ListGamesByStatus(ctx context.Context, status model.GameStatus) ([]model.Game, error) {
	return s.queryGames(ctx, `SELECT `+gameColumns+` FROM games WHERE status = $1 ORDER BY created_at`, status)
}

func (s *PostgresStore) queryGames(ctx context.Context, sql string, args ...any) ([]model.Game, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

func (s *PostgresStore) UpdateGame(ctx context.Context, g *model.Game) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE games
		 SET participants = $2, start_date = $3, end_date = $4, status = $5, last_updated = $6
		 WHERE id = $1`,
		g.ID, g.Participants, g.StartDate, g.EndDate, g.Status, g.LastUpdated,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Portfolios ---

const portfolioColumns = `id, user_id, game_id,
	available_cash::TEXT, current_value::TEXT, last_close_value::TEXT, day_change::TEXT,
	overall_rank, daily_rank, created_at, last_updated`

func scanPortfolio(rs rowScanner) (*model.Portfolio, error) {
	var p model.Portfolio
	var cash, value, lastClose, dayChange string

	if err := rs.Scan(&p.ID, &p.UserID, &p.GameID,
		&cash, &value, &lastClose, &dayChange,
		&p.OverallRank, &p.DailyRank, &p.CreatedAt, &p.LastUpdated); err != nil {
		return nil, err
	}
	p.AvailableCash, _ = decimal.NewFromString(cash)
	p.CurrentValue, _ = decimal.NewFromString(value)
	p.LastCloseValue, _ = decimal.NewFromString(lastClose)
	p.DayChange, _ = decimal.NewFromString(dayChange)
	return &p, nil
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO portfolios (id, user_id, game_id, available_cash, current_value,
		                         last_close_value, day_change, overall_rank, daily_rank,
		                         created_at, last_updated)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11)`,
		p.ID, p.UserID, p.GameID,
		p.AvailableCash.String(), p.CurrentValue.String(),
		p.LastCloseValue.String(), p.DayChange.String(),
		p.OverallRank, p.DailyRank, p.CreatedAt, p.LastUpdated,
	)
	return mapError(err)
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	p, err := scanPortfolio(s.db.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", id, mapError(err))
	}
	return p, nil
}

func (s *PostgresStore) GetPortfolioByUserAndGame(ctx context.Context, userID, gameID string) (*model.Portfolio, error) {
	p, err := scanPortfolio(s.db.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE user_id = $1 AND game_id = $2`, userID, gameID))
	if err != nil {
		return nil, fmt.Errorf("get portfolio user=%s game=%s: %w", userID, gameID, mapError(err))
	}
	return p, nil
}

func (s *PostgresStore) ListPortfoliosByGame(ctx context.Context, gameID string) ([]model.Portfolio, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE game_id = $1 ORDER BY id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE portfolios
		 SET available_cash = $2::NUMERIC, current_value = $3::NUMERIC,
		     last_close_value = $4::NUMERIC, day_change = $5::NUMERIC,
		     overall_rank = $6, daily_rank = $7, last_updated = $8
		 WHERE id = $1`,
		p.ID, p.AvailableCash.String(), p.CurrentValue.String(),
		p.LastCloseValue.String(), p.DayChange.String(),
		p.OverallRank, p.DailyRank, p.LastUpdated,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Stocks ---

const stockColumns = `id, ticker, company_name, sector, industry, currency,
	previous_close::TEXT, opening_price::TEXT, current_price::TEXT, last_updated`

func scanStock(rs rowScanner) (*model.Stock, error) {
	var st model.Stock
	var prevClose, open, current string

	if err := rs.Scan(&st.ID, &st.Ticker, &st.CompanyName, &st.Sector, &st.Industry, &st.Currency,
		&prevClose, &open, &current, &st.LastUpdated); err != nil {
		return nil, err
	}
	st.PreviousClose, _ = decimal.NewFromString(prevClose)
	st.OpeningPrice, _ = decimal.NewFromString(open)
	st.CurrentPrice, _ = decimal.NewFromString(current)
	return &st, nil
}

func (s *PostgresStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	// Inserting a ticker that already exists updates the price fields and
	// keeps the existing row's ID.
	err := s.db.QueryRow(ctx,
		`INSERT INTO stocks (id, ticker, company_name, sector, industry, currency,
		                     previous_close, opening_price, current_price, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)
		 ON CONFLICT (ticker) DO UPDATE
		 SET company_name = EXCLUDED.company_name,
		     sector = EXCLUDED.sector,
		     industry = EXCLUDED.industry,
		     currency = EXCLUDED.currency,
		     previous_close = EXCLUDED.previous_close,
		     opening_price = EXCLUDED.opening_price,
		     current_price = EXCLUDED.current_price,
		     last_updated = EXCLUDED.last_updated
		 RETURNING id`,
		st.ID, st.Ticker, st.CompanyName, st.Sector, st.Industry, st.Currency,
		st.PreviousClose.String(), st.OpeningPrice.String(), st.CurrentPrice.String(),
		st.LastUpdated,
	).Scan(&st.ID)
	return mapError(err)
}

func (s *PostgresStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	st, err := scanStock(s.db.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stocks WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", id, mapError(err))
	}
	return st, nil
}

func (s *PostgresStore) GetStockByTicker(ctx context.Context, ticker string) (*model.Stock, error) {
	st, err := scanStock(s.db.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stocks WHERE ticker = $1`, ticker))
	if err != nil {
		return nil, fmt.Errorf("get stock by ticker %s: %w", ticker, mapError(err))
	}
	return st, nil
}

func (s *PostgresStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	rows, err := s.db.Query(ctx, `SELECT `+stockColumns+` FROM stocks ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Stock
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- Holdings ---

func scanHolding(rs rowScanner) (*model.Holding, error) {
	var h model.Holding
	var avg string

	if err := rs.Scan(&h.ID, &h.PortfolioID, &h.StockID, &h.SharesOwned, &avg); err != nil {
		return nil, err
	}
	h.AveragePrice, _ = decimal.NewFromString(avg)
	return &h, nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, portfolioID, stockID string) (*model.Holding, error) {
	h, err := scanHolding(s.db.QueryRow(ctx,
		`SELECT id, portfolio_id, stock_id, shares_owned, average_price::TEXT
		 FROM holdings WHERE portfolio_id = $1 AND stock_id = $2`, portfolioID, stockID))
	if err != nil {
		return nil, fmt.Errorf("get holding portfolio=%s stock=%s: %w", portfolioID, stockID, mapError(err))
	}
	return h, nil
}

func (s *PostgresStore) ListHoldingsByPortfolio(ctx context.Context, portfolioID string) ([]model.Holding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT h.id, h.portfolio_id, h.stock_id, h.shares_owned, h.average_price::TEXT
		 FROM holdings h
		 JOIN stocks st ON st.id = h.stock_id
		 WHERE h.portfolio_id = $1
		 ORDER BY st.ticker`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveHolding(ctx context.Context, h *model.Holding) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO holdings (id, portfolio_id, stock_id, shares_owned, average_price)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC)
		 ON CONFLICT (portfolio_id, stock_id) DO UPDATE
		 SET shares_owned = EXCLUDED.shares_owned,
		     average_price = EXCLUDED.average_price`,
		h.ID, h.PortfolioID, h.StockID, h.SharesOwned, h.AveragePrice.String(),
	)
	return mapError(err)
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, portfolioID, stockID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM holdings WHERE portfolio_id = $1 AND stock_id = $2`, portfolioID, stockID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Transactions ---

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	var profitLoss *string
	if t.ProfitLoss != nil {
		v := t.ProfitLoss.String()
		profitLoss = &v
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO transactions (id, portfolio_id, stock_id, type, shares,
		                           price_per_share, total_value, profit_loss, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.PortfolioID, t.StockID, t.Type, t.Shares,
		t.PricePerShare.String(), t.TotalValue.String(), profitLoss, t.ExecutedAt,
	)
	return mapError(err)
}

func (s *PostgresStore) ListTransactionsByPortfolio(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, portfolio_id, stock_id, type, shares,
		        price_per_share::TEXT, total_value::TEXT, profit_loss::TEXT, executed_at
		 FROM transactions WHERE portfolio_id = $1 ORDER BY executed_at DESC`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price, total string
		var profitLoss *string

		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.StockID, &t.Type, &t.Shares,
			&price, &total, &profitLoss, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.PricePerShare, _ = decimal.NewFromString(price)
		t.TotalValue, _ = decimal.NewFromString(total)
		if profitLoss != nil {
			pl, _ := decimal.NewFromString(*profitLoss)
			t.ProfitLoss = &pl
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Orders ---

const orderColumns = `id, portfolio_id, stock_id, type, shares, target_price::TEXT, status, expires_on, placed_at`

func scanOrder(rs rowScanner) (*model.Order, error) {
	var o model.Order
	var target *string

	if err := rs.Scan(&o.ID, &o.PortfolioID, &o.StockID, &o.Type, &o.Shares,
		&target, &o.Status, &o.ExpiresOn, &o.PlacedAt); err != nil {
		return nil, err
	}
	if target != nil {
		tp, _ := decimal.NewFromString(*target)
		o.TargetPrice = &tp
	}
	return &o, nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	var target *string
	if o.TargetPrice != nil {
		v := o.TargetPrice.String()
		target = &v
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO orders (id, portfolio_id, stock_id, type, shares, target_price, status, expires_on, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9)`,
		o.ID, o.PortfolioID, o.StockID, o.Type, o.Shares, target, o.Status, o.ExpiresOn, o.PlacedAt,
	)
	return mapError(err)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, mapError(err))
	}
	return o, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPendingOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = 'pending' ORDER BY placed_at`)
}

func (s *PostgresStore) ListPendingOrdersByGame(ctx context.Context, gameID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT o.id, o.portfolio_id, o.stock_id, o.type, o.shares,
		        o.target_price::TEXT, o.status, o.expires_on, o.placed_at
		 FROM orders o
		 JOIN portfolios p ON p.id = o.portfolio_id
		 WHERE o.status = 'pending' AND p.game_id = $1
		 ORDER BY o.placed_at`, gameID)
}

func (s *PostgresStore) ListOrdersByPortfolio(ctx context.Context, portfolioID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE portfolio_id = $1 ORDER BY placed_at DESC`, portfolioID)
}

func (s *PostgresStore) queryOrders(ctx context.Context, sql string, args ...any) ([]model.Order, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// --- History ---

func (s *PostgresStore) InsertDailyHistory(ctx context.Context, h *model.DailyHistory) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO daily_history (id, portfolio_id, date, recorded_at, value)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC)`,
		h.ID, h.PortfolioID, h.Date, h.RecordedAt, h.Value.String(),
	)
	return mapError(err)
}

func (s *PostgresStore) DeleteDailyHistoryBefore(ctx context.Context, date time.Time) error {
	_, err := s.db.Exec(ctx, `DELETE FROM daily_history WHERE date < $1`, date)
	return mapError(err)
}

func (s *PostgresStore) ListDailyHistoryByGame(ctx context.Context, gameID string, date time.Time) ([]model.DailyHistory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT h.id, h.portfolio_id, h.date, h.recorded_at, h.value::TEXT
		 FROM daily_history h
		 JOIN portfolios p ON p.id = h.portfolio_id
		 WHERE p.game_id = $1 AND h.date = $2
		 ORDER BY h.recorded_at`, gameID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyHistory
	for rows.Next() {
		var h model.DailyHistory
		var value string
		if err := rows.Scan(&h.ID, &h.PortfolioID, &h.Date, &h.RecordedAt, &value); err != nil {
			return nil, err
		}
		h.Value, _ = decimal.NewFromString(value)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertClosingHistory(ctx context.Context, h *model.ClosingHistory) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO closing_history (id, portfolio_id, date, value)
		 VALUES ($1, $2, $3, $4::NUMERIC)`,
		h.ID, h.PortfolioID, h.Date, h.Value.String(),
	)
	return mapError(err)
}

func (s *PostgresStore) ListClosingHistoryByGame(ctx context.Context, gameID string) ([]model.ClosingHistory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT h.id, h.portfolio_id, h.date, h.value::TEXT
		 FROM closing_history h
		 JOIN portfolios p ON p.id = h.portfolio_id
		 WHERE p.game_id = $1
		 ORDER BY h.date`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClosingHistory
	for rows.Next() {
		var h model.ClosingHistory
		var value string
		if err := rows.Scan(&h.ID, &h.PortfolioID, &h.Date, &value); err != nil {
			return nil, err
		}
		h.Value, _ = decimal.NewFromString(value)
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- Transactional boundary ---

// RunInPortfolioTx opens a transaction, locks the portfolio row with
// SELECT ... FOR UPDATE, and runs fn against a store view bound to that
// transaction. Nested calls reuse the enclosing transaction.
func (s *PostgresStore) RunInPortfolioTx(ctx context.Context, portfolioID string, fn func(Store) error) error {
	if s.inTx {
		if err := s.lockPortfolio(ctx, s.db, portfolioID); err != nil {
			return err
		}
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.lockPortfolio(ctx, tx, portfolioID); err != nil {
		return err
	}

	txStore := &PostgresStore{pool: s.pool, db: tx, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *PostgresStore) lockPortfolio(ctx context.Context, q pgxQuerier, portfolioID string) error {
	var id string
	err := q.QueryRow(ctx,
		`SELECT id FROM portfolios WHERE id = $1 FOR UPDATE`, portfolioID).Scan(&id)
	if err != nil {
		return fmt.Errorf("lock portfolio %s: %w", portfolioID, mapError(err))
	}
	return nil
}
