// Package marketdata defines the market data capability consumed by
// the analysis engine, with an HTTP implementation, a Redis cache
// layer and an exchange calendar.
package marketdata

import (
	"context"
	"time"
)

// PriceBar is one daily OHLCV bar. Immutable once produced.
type PriceBar struct {
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FinancialMetrics is a snapshot of fundamental metrics for a ticker
type FinancialMetrics struct {
	Ticker               string  `json:"ticker"`
	Period               string  `json:"period"`
	ReportDate           string  `json:"report_date"`
	PriceToEarningsRatio float64 `json:"price_to_earnings_ratio"`
	PriceToBookRatio     float64 `json:"price_to_book_ratio"`
	PriceToSalesRatio    float64 `json:"price_to_sales_ratio"`
	EVToEBITDA           float64 `json:"enterprise_value_to_ebitda_ratio"`
	NetMargin            float64 `json:"net_margin"`
	OperatingMargin      float64 `json:"operating_margin"`
	ReturnOnEquity       float64 `json:"return_on_equity"`
	DebtToEquity         float64 `json:"debt_to_equity"`
	CurrentRatio         float64 `json:"current_ratio"`
	RevenueGrowth        float64 `json:"revenue_growth"`
	EarningsGrowth       float64 `json:"earnings_growth"`
	FreeCashFlowYield    float64 `json:"free_cash_flow_yield"`
	PayoutRatio          float64 `json:"payout_ratio"`
	EarningsPerShare     float64 `json:"earnings_per_share"`
	BookValuePerShare    float64 `json:"book_value_per_share"`
	FreeCashFlowPerShare float64 `json:"free_cash_flow_per_share"`
}

// InsiderTrade is one reported insider transaction
type InsiderTrade struct {
	Ticker                   string  `json:"ticker"`
	Name                     string  `json:"name"`
	Title                    string  `json:"title"`
	TransactionDate          string  `json:"transaction_date"`
	TransactionShares        float64 `json:"transaction_shares"`
	TransactionPricePerShare float64 `json:"transaction_price_per_share"`
	SharesOwnedAfter         float64 `json:"shares_owned_after_transaction"`
}

// NewsArticle is one company news item with optional sentiment
type NewsArticle struct {
	Ticker    string `json:"ticker"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Source    string `json:"source"`
	Date      string `json:"date"`
	URL       string `json:"url"`
	Sentiment string `json:"sentiment"` // "positive", "negative", "neutral", or ""
}

// Provider is the market data capability contract
type Provider interface {
	Prices(ctx context.Context, ticker, startDate, endDate string) ([]PriceBar, error)
	FinancialMetrics(ctx context.Context, ticker, endDate, period string, limit int) ([]FinancialMetrics, error)
	InsiderTrades(ctx context.Context, ticker, startDate, endDate string, limit int) ([]InsiderTrade, error)
	CompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) ([]NewsArticle, error)
	MarketCap(ctx context.Context, ticker, endDate string) (float64, error)
}

// DateLayout is the wire format for all dates in this package
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date string
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
