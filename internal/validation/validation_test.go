package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Required(t *testing.T) {
	v := NewValidator()
	v.Required("field", "")
	require.True(t, v.HasErrors())
	assert.Equal(t, "field", v.Errors()[0].Field)
	assert.Contains(t, v.Errors()[0].Message, "required")

	v = NewValidator()
	v.Required("field", "  ")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Required("field", "value")
	assert.False(t, v.HasErrors())
}

func TestValidator_Ticker(t *testing.T) {
	valid := []string{"A", "AAPL", "GOOGL", "BRK.B"}
	invalid := []string{"", "aapl", "TOOLONGG", "AAPL!", "BRK.BB", "123"}

	for _, tk := range valid {
		v := NewValidator()
		v.Ticker("tickers", tk)
		assert.False(t, v.HasErrors(), tk)
	}
	for _, tk := range invalid {
		v := NewValidator()
		v.Ticker("tickers", tk)
		assert.True(t, v.HasErrors(), tk)
	}
}

func TestValidator_Date(t *testing.T) {
	v := NewValidator()
	v.Date("start_date", "2024-03-04")
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.Date("start_date", "03/04/2024")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Date("start_date", "")
	assert.True(t, v.HasErrors())
}

func TestValidator_DateRange(t *testing.T) {
	v := NewValidator()
	v.DateRange("start_date", "2024-03-04", "2024-03-01")
	require.True(t, v.HasErrors())
	assert.Contains(t, v.Errors()[0].Message, "precedes")

	v = NewValidator()
	v.DateRange("start_date", "2024-03-04", "2024-03-04")
	assert.False(t, v.HasErrors(), "single-day range is valid")
}

func TestValidateSession(t *testing.T) {
	good := SessionInput{
		StartDate:    "2024-03-04",
		EndDate:      "2024-03-08",
		Tickers:      []string{"AAPL", "MSFT"},
		Mode:         "portfolio",
		AnalystTypes: []string{"fundamental", "technical"},
		InitialCash:  10000,
	}
	assert.NoError(t, ValidateSession(good))

	bad := good
	bad.Mode = "yolo"
	bad.Tickers = nil
	bad.InitialCash = 0

	err := ValidateSession(bad)
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	assert.Len(t, verrs, 3, "every problem reported at once")
}

func TestValidateSession_UnknownAnalyst(t *testing.T) {
	in := SessionInput{
		StartDate:    "2024-03-04",
		EndDate:      "2024-03-08",
		Tickers:      []string{"AAPL"},
		Mode:         "signal",
		AnalystTypes: []string{"astrology"},
		InitialCash:  10000,
	}
	err := ValidateSession(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyst_types")
}

func TestNormalizeTickers(t *testing.T) {
	got := NormalizeTickers([]string{" aapl", "MSFT", "AAPL", "", "msft "})
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)
}
