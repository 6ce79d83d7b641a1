// Package marketdata wraps the external quote provider: single and batched
// price lookups, historical series, and news. Provider calls are blocking,
// rate-limited I/O; a failed lookup for one ticker is reported per ticker
// and never aborts work on the rest of a batch.
package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the full quote for one ticker.
type Quote struct {
	Ticker        string          `json:"ticker"`
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Sector        string          `json:"sector"`
	Industry      string          `json:"industry"`
	Currency      string          `json:"currency"`
	CompanyName   string          `json:"company_name"`
	High52Week    decimal.Decimal `json:"high_52_week"`
	Low52Week     decimal.Decimal `json:"low_52_week"`
}

// PricePoint is a compact price-only quote used for batch refreshes.
type PricePoint struct {
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	PreviousClose decimal.Decimal `json:"previous_close"`
}

// Bar is one entry of a historical price series.
type Bar struct {
	Date  time.Time       `json:"date"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// Article is one news item for a ticker.
type Article struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Gateway is the market data provider consumed by the engine and scheduler.
type Gateway interface {
	// Quote returns the full quote for one ticker.
	Quote(ctx context.Context, ticker string) (*Quote, error)

	// BatchQuote returns price points for many tickers in one request.
	// Tickers the provider could not resolve are absent from the result;
	// only a transport-level failure returns an error.
	BatchQuote(ctx context.Context, tickers []string) (map[string]PricePoint, error)

	// History returns a historical close series for the given period
	// (e.g. "1mo", "1y", "5y").
	History(ctx context.Context, ticker, period string) ([]Bar, error)

	// News returns recent articles for the ticker.
	News(ctx context.Context, ticker string) ([]Article, error)
}

// LookupError reports a provider failure scoped to a single ticker.
type LookupError struct {
	Ticker string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("market data lookup for %s: %v", e.Ticker, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// NormalizeTicker upper-cases and trims a user-supplied ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// StaticGateway serves quotes from a fixed in-memory table. Used in tests
// and local development without provider credentials.
type StaticGateway struct {
	Quotes map[string]Quote
}

// NewStaticGateway creates a StaticGateway over the given quotes, keyed by
// normalized ticker.
func NewStaticGateway(quotes ...Quote) *StaticGateway {
	m := make(map[string]Quote, len(quotes))
	for _, q := range quotes {
		m[NormalizeTicker(q.Ticker)] = q
	}
	return &StaticGateway{Quotes: m}
}

// SetPrice replaces the current price for a ticker.
func (g *StaticGateway) SetPrice(ticker string, price decimal.Decimal) {
	key := NormalizeTicker(ticker)
	q, ok := g.Quotes[key]
	if !ok {
		q = Quote{Ticker: key, Open: price, PreviousClose: price}
	}
	q.Price = price
	g.Quotes[key] = q
}

func (g *StaticGateway) Quote(_ context.Context, ticker string) (*Quote, error) {
	q, ok := g.Quotes[NormalizeTicker(ticker)]
	if !ok {
		return nil, &LookupError{Ticker: ticker, Err: fmt.Errorf("unknown ticker")}
	}
	return &q, nil
}

func (g *StaticGateway) BatchQuote(_ context.Context, tickers []string) (map[string]PricePoint, error) {
	result := make(map[string]PricePoint, len(tickers))
	for _, t := range tickers {
		if q, ok := g.Quotes[NormalizeTicker(t)]; ok {
			result[NormalizeTicker(t)] = PricePoint{
				Price:         q.Price,
				Open:          q.Open,
				PreviousClose: q.PreviousClose,
			}
		}
	}
	return result, nil
}

func (g *StaticGateway) History(_ context.Context, ticker, _ string) ([]Bar, error) {
	if _, ok := g.Quotes[NormalizeTicker(ticker)]; !ok {
		return nil, &LookupError{Ticker: ticker, Err: fmt.Errorf("unknown ticker")}
	}
	return nil, nil
}

func (g *StaticGateway) News(_ context.Context, ticker string) ([]Article, error) {
	if _, ok := g.Quotes[NormalizeTicker(ticker)]; !ok {
		return nil, &LookupError{Ticker: ticker, Err: fmt.Errorf("unknown ticker")}
	}
	return nil, nil
}
