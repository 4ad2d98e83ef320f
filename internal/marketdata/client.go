package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ClientConfig contains configuration for the HTTP market data client
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client talks to a financialdatasets-style REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a rate-limited market data client
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.financialdatasets.ai"
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 120
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute),
		log:        log.With().Str("component", "marketdata").Logger(),
	}
}

// Prices fetches daily bars for [startDate, endDate]
func (c *Client) Prices(ctx context.Context, ticker, startDate, endDate string) ([]PriceBar, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("interval", "day")
	params.Set("interval_multiplier", "1")
	params.Set("start_date", startDate)
	params.Set("end_date", endDate)

	var resp struct {
		Prices []struct {
			Time   string  `json:"time"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume float64 `json:"volume"`
		} `json:"prices"`
	}
	if err := c.get(ctx, "/prices/", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch prices for %s: %w", ticker, err)
	}

	bars := make([]PriceBar, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		date := p.Time
		if len(date) > 10 {
			date = date[:10]
		}
		bars = append(bars, PriceBar{
			Ticker: ticker,
			Date:   date,
			Open:   p.Open,
			High:   p.High,
			Low:    p.Low,
			Close:  p.Close,
			Volume: p.Volume,
		})
	}

	c.log.Debug().
		Str("ticker", ticker).
		Str("start", startDate).
		Str("end", endDate).
		Int("bars", len(bars)).
		Msg("Fetched price bars")

	return bars, nil
}

// FinancialMetrics fetches fundamental metric snapshots up to endDate
func (c *Client) FinancialMetrics(ctx context.Context, ticker, endDate, period string, limit int) ([]FinancialMetrics, error) {
	if period == "" {
		period = "ttm"
	}
	if limit == 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("report_period_lte", endDate)
	params.Set("period", period)
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		FinancialMetrics []FinancialMetrics `json:"financial_metrics"`
	}
	if err := c.get(ctx, "/financial-metrics/", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch financial metrics for %s: %w", ticker, err)
	}
	return resp.FinancialMetrics, nil
}

// InsiderTrades fetches insider transactions; startDate may be empty
func (c *Client) InsiderTrades(ctx context.Context, ticker, startDate, endDate string, limit int) ([]InsiderTrade, error) {
	if limit == 0 {
		limit = 50
	}

	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("filing_date_lte", endDate)
	if startDate != "" {
		params.Set("filing_date_gte", startDate)
	}
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		InsiderTrades []InsiderTrade `json:"insider_trades"`
	}
	if err := c.get(ctx, "/insider-trades/", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch insider trades for %s: %w", ticker, err)
	}
	return resp.InsiderTrades, nil
}

// CompanyNews fetches news articles; startDate may be empty
func (c *Client) CompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) ([]NewsArticle, error) {
	if limit == 0 {
		limit = 100
	}

	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("end_date", endDate)
	if startDate != "" {
		params.Set("start_date", startDate)
	}
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		News []NewsArticle `json:"news"`
	}
	if err := c.get(ctx, "/news/", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch news for %s: %w", ticker, err)
	}
	return resp.News, nil
}

// MarketCap fetches the market capitalization as of endDate
func (c *Client) MarketCap(ctx context.Context, ticker, endDate string) (float64, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("report_period", endDate)

	var resp struct {
		CompanyFacts struct {
			MarketCap float64 `json:"market_cap"`
		} `json:"company_facts"`
	}
	if err := c.get(ctx, "/company/facts/", params, &resp); err != nil {
		return 0, fmt.Errorf("failed to fetch market cap for %s: %w", ticker, err)
	}
	return resp.CompanyFacts.MarketCap, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

var _ Provider = (*Client)(nil)
