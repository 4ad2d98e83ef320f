// Package marketdatatest provides in-memory market data fakes.
package marketdatatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantdesk/quantdesk/internal/marketdata"
)

// FakeProvider serves canned market data keyed by ticker
type FakeProvider struct {
	mu      sync.Mutex
	Bars    map[string][]marketdata.PriceBar
	Metrics map[string][]marketdata.FinancialMetrics
	Trades  map[string][]marketdata.InsiderTrade
	News    map[string][]marketdata.NewsArticle
	Caps    map[string]float64
	Errs    map[string]error // ticker -> forced error

	PriceCalls int
}

// NewFakeProvider creates an empty fake
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Bars:    make(map[string][]marketdata.PriceBar),
		Metrics: make(map[string][]marketdata.FinancialMetrics),
		Trades:  make(map[string][]marketdata.InsiderTrade),
		News:    make(map[string][]marketdata.NewsArticle),
		Caps:    make(map[string]float64),
		Errs:    make(map[string]error),
	}
}

// SetDailyBars installs bars for ticker; filtering by date range on
// read mirrors the real provider's behaviour
func (f *FakeProvider) SetDailyBars(ticker string, bars []marketdata.PriceBar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bars[ticker] = bars
}

func (f *FakeProvider) Prices(_ context.Context, ticker, startDate, endDate string) ([]marketdata.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.PriceCalls++
	if err := f.Errs[ticker]; err != nil {
		return nil, err
	}

	var out []marketdata.PriceBar
	for _, b := range f.Bars[ticker] {
		if b.Date >= startDate && b.Date <= endDate {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no price data for %s in [%s, %s]", ticker, startDate, endDate)
	}
	return out, nil
}

func (f *FakeProvider) FinancialMetrics(_ context.Context, ticker, endDate, period string, limit int) ([]marketdata.FinancialMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs[ticker]; err != nil {
		return nil, err
	}
	m := f.Metrics[ticker]
	if limit > 0 && len(m) > limit {
		m = m[:limit]
	}
	return m, nil
}

func (f *FakeProvider) InsiderTrades(_ context.Context, ticker, startDate, endDate string, limit int) ([]marketdata.InsiderTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs[ticker]; err != nil {
		return nil, err
	}
	t := f.Trades[ticker]
	if limit > 0 && len(t) > limit {
		t = t[:limit]
	}
	return t, nil
}

func (f *FakeProvider) CompanyNews(_ context.Context, ticker, startDate, endDate string, limit int) ([]marketdata.NewsArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs[ticker]; err != nil {
		return nil, err
	}
	n := f.News[ticker]
	if limit > 0 && len(n) > limit {
		n = n[:limit]
	}
	return n, nil
}

func (f *FakeProvider) MarketCap(_ context.Context, ticker, endDate string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs[ticker]; err != nil {
		return 0, err
	}
	return f.Caps[ticker], nil
}

var _ marketdata.Provider = (*FakeProvider)(nil)
