package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Prices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices/", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("ticker"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		_, _ = w.Write([]byte(`{"prices":[
			{"time":"2024-01-02T00:00:00Z","open":185.0,"high":186.5,"low":184.0,"close":186.0,"volume":1000000},
			{"time":"2024-01-03T00:00:00Z","open":186.2,"high":187.0,"low":185.5,"close":185.9,"volume":900000}
		]}`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"}, zerolog.Nop())
	bars, err := c.Prices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-01-02", bars[0].Date)
	assert.Equal(t, 186.0, bars[0].Close)
	assert.Equal(t, "AAPL", bars[1].Ticker)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown ticker"}`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL}, zerolog.Nop())
	_, err := c.Prices(context.Background(), "NOPE", "2024-01-01", "2024-01-05")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestClient_MarketCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"company_facts":{"market_cap":2900000000000}}`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL}, zerolog.Nop())
	cap, err := c.MarketCap(context.Background(), "AAPL", "2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, 2.9e12, cap)
}

func TestClient_RateLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"prices":[{"time":"2024-01-02","open":1,"high":1,"low":1,"close":1,"volume":1}]}`))
	}))
	defer server.Close()

	// Burst of 2: the third request has to wait for the limiter
	c := NewClient(ClientConfig{BaseURL: server.URL, RequestsPerMinute: 2}, zerolog.Nop())
	c.limiter.SetBurst(2)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for i := 0; i < 2; i++ {
		_, err := c.Prices(ctx, "AAPL", "2024-01-01", "2024-01-05")
		require.NoError(t, err)
	}
	_, err := c.Prices(ctx, "AAPL", "2024-01-01", "2024-01-05")
	assert.Error(t, err, "third call should exceed the burst and time out")
}
