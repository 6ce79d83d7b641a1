package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is the HTTP implementation of Gateway against a quote provider's
// REST API. Requests are rate limited and retried on 5xx responses.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewClient creates a Client for the provider at baseURL. requestsPerMinute
// bounds the outbound request rate; timeout applies per HTTP request.
func NewClient(baseURL string, timeout time.Duration, requestsPerMinute int) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: NewRateLimiter(requestsPerMinute),
	}
}

// quotePayload mirrors the provider's quote response.
type quotePayload struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previousClose"`
	Sector        string  `json:"sector"`
	Industry      string  `json:"industry"`
	Currency      string  `json:"currency"`
	CompanyName   string  `json:"companyName"`
	High52Week    float64 `json:"fiftyTwoWeekHigh"`
	Low52Week     float64 `json:"fiftyTwoWeekLow"`
}

func (c *Client) Quote(ctx context.Context, ticker string) (*Quote, error) {
	ticker = NormalizeTicker(ticker)

	var payload quotePayload
	u := fmt.Sprintf("%s/v1/quote/%s", c.baseURL, url.PathEscape(ticker))
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, &LookupError{Ticker: ticker, Err: err}
	}
	if payload.Price <= 0 {
		return nil, &LookupError{Ticker: ticker, Err: fmt.Errorf("no current price in response")}
	}

	return &Quote{
		Ticker:        ticker,
		Price:         decimalFrom(payload.Price),
		Open:          decimalFrom(payload.Open),
		PreviousClose: decimalFrom(payload.PreviousClose),
		Sector:        payload.Sector,
		Industry:      payload.Industry,
		Currency:      payload.Currency,
		CompanyName:   payload.CompanyName,
		High52Week:    decimalFrom(payload.High52Week),
		Low52Week:     decimalFrom(payload.Low52Week),
	}, nil
}

func (c *Client) BatchQuote(ctx context.Context, tickers []string) (map[string]PricePoint, error) {
	if len(tickers) == 0 {
		return map[string]PricePoint{}, nil
	}

	normalized := make([]string, 0, len(tickers))
	for _, t := range tickers {
		normalized = append(normalized, NormalizeTicker(t))
	}

	var payload map[string]quotePayload
	u := fmt.Sprintf("%s/v1/quotes?symbols=%s", c.baseURL, url.QueryEscape(strings.Join(normalized, ",")))
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, fmt.Errorf("batch quote: %w", err)
	}

	result := make(map[string]PricePoint, len(payload))
	for symbol, q := range payload {
		if q.Price <= 0 {
			// Unresolvable ticker in an otherwise good batch: skip it, the
			// caller keeps the previous price.
			continue
		}
		result[NormalizeTicker(symbol)] = PricePoint{
			Price:         decimalFrom(q.Price),
			Open:          decimalFrom(q.Open),
			PreviousClose: decimalFrom(q.PreviousClose),
		}
	}
	return result, nil
}

// barPayload mirrors one entry of the provider's history response.
type barPayload struct {
	Date  string  `json:"date"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

func (c *Client) History(ctx context.Context, ticker, period string) ([]Bar, error) {
	ticker = NormalizeTicker(ticker)

	var payload []barPayload
	u := fmt.Sprintf("%s/v1/history/%s?period=%s", c.baseURL, url.PathEscape(ticker), url.QueryEscape(period))
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, &LookupError{Ticker: ticker, Err: err}
	}

	bars := make([]Bar, 0, len(payload))
	for _, b := range payload {
		date, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{
			Date:  date,
			Open:  decimalFrom(b.Open),
			High:  decimalFrom(b.High),
			Low:   decimalFrom(b.Low),
			Close: decimalFrom(b.Close),
		})
	}
	return bars, nil
}

func (c *Client) News(ctx context.Context, ticker string) ([]Article, error) {
	ticker = NormalizeTicker(ticker)

	var payload []Article
	u := fmt.Sprintf("%s/v1/news/%s", c.baseURL, url.PathEscape(ticker))
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, &LookupError{Ticker: ticker, Err: err}
	}
	return payload, nil
}

// getJSON performs a rate-limited GET with bounded retries on server errors.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		} else if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return fmt.Errorf("unexpected status: %d", resp.StatusCode)
		} else {
			defer resp.Body.Close()
			return json.NewDecoder(resp.Body).Decode(out)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	return lastErr
}

// decimalFrom converts a provider float into a money decimal.
func decimalFrom(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
