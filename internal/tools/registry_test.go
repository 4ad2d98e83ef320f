package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantdesk/quantdesk/internal/marketdata/marketdatatest"
)

func TestRegistry_SpecsAndLookup(t *testing.T) {
	r := NewDefaultRegistry(marketdatatest.NewFakeProvider())

	assert.True(t, r.Has("rsi_momentum"))
	assert.False(t, r.Has("crystal_ball"))

	specs := r.Specs()
	assert.Len(t, specs, 10)
	for i := 1; i < len(specs); i++ {
		assert.Less(t, specs[i-1].Name, specs[i].Name, "specs sorted by name")
	}

	technical := r.SpecsByCategory(CategoryTechnical)
	assert.Len(t, technical, 4)
	for _, s := range technical {
		assert.Contains(t, s.RequiredParams, ParamStartDate)
	}

	fundamental := r.SpecsByCategory(CategoryFundamental)
	assert.Len(t, fundamental, 2)
	for _, s := range fundamental {
		assert.NotContains(t, s.RequiredParams, ParamStartDate)
		assert.Contains(t, s.RequiredParams, ParamEndDate)
	}
}

func TestResolveParams_KeyByCategory(t *testing.T) {
	tests := []struct {
		name      string
		category  Category
		wantKey   string
		wantStart string
	}{
		{"fundamental gets financial key", CategoryFundamental, "fin-key", ""},
		{"valuation gets financial key", CategoryValuation, "fin-key", ""},
		{"technical gets news key and start date", CategoryTechnical, "news-key", "2024-01-01"},
		{"sentiment gets news key and start date", CategorySentiment, "news-key", "2024-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ResolveParams(Spec{Category: tt.category}, "AAPL", "fin-key", "news-key", "2024-01-01", "2024-02-01")
			assert.Equal(t, "AAPL", p[ParamTicker])
			assert.Equal(t, tt.wantKey, p[ParamAPIKey])
			assert.Equal(t, "2024-02-01", p[ParamEndDate])
			assert.Equal(t, tt.wantStart, p[ParamStartDate])
		})
	}
}

func TestDefaultToolsFor_KnownInRegistry(t *testing.T) {
	r := NewDefaultRegistry(marketdatatest.NewFakeProvider())
	for _, c := range []Category{CategoryFundamental, CategoryTechnical, CategorySentiment, CategoryValuation, Category("comprehensive")} {
		for _, name := range DefaultToolsFor(c) {
			assert.True(t, r.Has(name), "default tool %s for %s must be registered", name, c)
		}
	}
}
