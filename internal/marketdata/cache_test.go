package marketdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	mu    sync.Mutex
	calls int
	bars  []PriceBar
}

func (p *countingProvider) Prices(context.Context, string, string, string) ([]PriceBar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.bars, nil
}

func (p *countingProvider) FinancialMetrics(context.Context, string, string, string, int) ([]FinancialMetrics, error) {
	return nil, nil
}
func (p *countingProvider) InsiderTrades(context.Context, string, string, string, int) ([]InsiderTrade, error) {
	return nil, nil
}
func (p *countingProvider) CompanyNews(context.Context, string, string, string, int) ([]NewsArticle, error) {
	return nil, nil
}
func (p *countingProvider) MarketCap(context.Context, string, string) (float64, error) {
	return 0, nil
}

func TestCachedProvider_ReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	inner := &countingProvider{bars: []PriceBar{
		{Ticker: "AAPL", Date: "2024-01-02", Close: 186.0},
	}}
	cached := NewCachedProvider(inner, client, time.Minute)

	bars, err := cached.Prices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 1, inner.calls)

	// Second read is served from Redis
	bars, err = cached.Prices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 186.0, bars[0].Close)
	assert.Equal(t, 1, inner.calls)

	// Different range is a separate key
	_, err = cached.Prices(context.Background(), "AAPL", "2024-01-01", "2024-01-06")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedProvider_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	inner := &countingProvider{bars: []PriceBar{{Ticker: "AAPL", Date: "2024-01-02", Close: 1}}}
	cached := NewCachedProvider(inner, client, time.Second)

	_, err := cached.Prices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = cached.Prices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestNewCachedProvider_NilClientPassesThrough(t *testing.T) {
	inner := &countingProvider{}
	assert.Same(t, Provider(inner), NewCachedProvider(inner, nil, time.Minute))
}
