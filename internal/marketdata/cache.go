package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CachedProvider wraps a Provider with a Redis read-through cache for
// price bars. Other lookups pass through uncached: fundamentals and
// news move slowly and are fetched once per day anyway.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
}

// NewCachedProvider creates the cache layer. A nil client returns the
// inner provider unwrapped.
func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration) Provider {
	if client == nil {
		return inner
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{inner: inner, client: client, ttl: ttl}
}

// Prices serves bars from cache when present, falling back to the
// inner provider. Cache failures degrade to a miss, never an error.
func (c *CachedProvider) Prices(ctx context.Context, ticker, startDate, endDate string) ([]PriceBar, error) {
	key := fmt.Sprintf("quantdesk:prices:%s:%s:%s", ticker, startDate, endDate)

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	cached, err := c.client.Get(cacheCtx, key).Result()
	cancel()
	if err == nil {
		var bars []PriceBar
		if err := json.Unmarshal([]byte(cached), &bars); err == nil {
			log.Debug().Str("key", key).Int("bars", len(bars)).Msg("Price cache hit")
			return bars, nil
		}
		log.Warn().Str("key", key).Msg("Failed to unmarshal cached bars, refetching")
	} else if err != redis.Nil {
		log.Debug().Err(err).Str("key", key).Msg("Redis get error, treating as cache miss")
	}

	bars, err := c.inner.Prices(ctx, ticker, startDate, endDate)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bars); err == nil {
		setCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		if err := c.client.Set(setCtx, key, data, c.ttl).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Failed to cache bars")
		}
		cancel()
	}

	return bars, nil
}

func (c *CachedProvider) FinancialMetrics(ctx context.Context, ticker, endDate, period string, limit int) ([]FinancialMetrics, error) {
	return c.inner.FinancialMetrics(ctx, ticker, endDate, period, limit)
}

func (c *CachedProvider) InsiderTrades(ctx context.Context, ticker, startDate, endDate string, limit int) ([]InsiderTrade, error) {
	return c.inner.InsiderTrades(ctx, ticker, startDate, endDate, limit)
}

func (c *CachedProvider) CompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) ([]NewsArticle, error) {
	return c.inner.CompanyNews(ctx, ticker, startDate, endDate, limit)
}

func (c *CachedProvider) MarketCap(ctx context.Context, ticker, endDate string) (float64, error) {
	return c.inner.MarketCap(ctx, ticker, endDate)
}

var _ Provider = (*CachedProvider)(nil)
