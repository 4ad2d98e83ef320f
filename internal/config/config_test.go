package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: QuantDesk\n"))
	require.NoError(t, err)

	assert.Equal(t, "signal", cfg.Trading.Mode)
	assert.Equal(t, 100000.0, cfg.Trading.InitialCash)
	assert.Equal(t, 0.0, cfg.Trading.MarginRequirement)
	assert.True(t, cfg.Communications.Enabled)
	assert.Equal(t, 2, cfg.Communications.MaxCycles)
	assert.Equal(t, 400, cfg.Communications.MaxChars)
	assert.True(t, cfg.Notifications.Enabled)
	assert.Equal(t, "individual_review", cfg.Reflection.ReviewMode)
	assert.Equal(t, 4, cfg.Trading.MaxWorkers)
}

func TestLoad_FileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
trading:
  mode: portfolio
  tickers: ["AAPL"]
  initial_cash: 5000
  margin_requirement: 0.5
communications:
  max_cycles: 3
  max_chars: 200
reflection:
  review_mode: central_review
`))
	require.NoError(t, err)

	assert.Equal(t, "portfolio", cfg.Trading.Mode)
	assert.Equal(t, []string{"AAPL"}, cfg.Trading.Tickers)
	assert.Equal(t, 5000.0, cfg.Trading.InitialCash)
	assert.Equal(t, 0.5, cfg.Trading.MarginRequirement)
	assert.Equal(t, 3, cfg.Communications.MaxCycles)
	assert.Equal(t, 200, cfg.Communications.MaxChars)
	assert.Equal(t, "central_review", cfg.Reflection.ReviewMode)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad mode",
			yaml: "trading:\n  mode: yolo\n",
			want: "trading.mode",
		},
		{
			name: "negative cash",
			yaml: "trading:\n  initial_cash: -1\n",
			want: "initial_cash",
		},
		{
			name: "margin out of range",
			yaml: "trading:\n  margin_requirement: 1.5\n",
			want: "margin_requirement",
		},
		{
			name: "zero cycles",
			yaml: "communications:\n  max_cycles: 0\n",
			want: "max_cycles",
		},
		{
			name: "bad review mode",
			yaml: "reflection:\n  review_mode: sideways\n",
			want: "review_mode",
		},
		{
			name: "unknown analyst type",
			yaml: "trading:\n  analyst_types: [\"astrology\"]\n",
			want: "unknown analyst type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckConfigVersion(t *testing.T) {
	assert.NoError(t, CheckConfigVersion(""))
	assert.NoError(t, CheckConfigVersion("1.0.0"))
	assert.NoError(t, CheckConfigVersion("0.9.0"))
	assert.Error(t, CheckConfigVersion("2.0.0"))
	assert.Error(t, CheckConfigVersion("not-a-version"))
}

func TestSecrets_EnvFallback(t *testing.T) {
	t.Setenv("FINANCIAL_DATASETS_API_KEY", "fd-key")
	t.Setenv("NEWS_DATA_API_KEY", "news-key")

	s := NewSecrets(VaultConfig{Enabled: false})

	keys := s.APIKeys(t.Context())
	assert.Equal(t, "fd-key", keys[KeyFinancialData])
	assert.Equal(t, "news-key", keys[KeyNewsData])

	// Second lookup is served from cache even if the env changes
	t.Setenv("FINANCIAL_DATASETS_API_KEY", "other")
	assert.Equal(t, "fd-key", s.Get(t.Context(), KeyFinancialData))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
