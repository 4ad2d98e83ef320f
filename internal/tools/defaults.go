package tools

import "github.com/quantdesk/quantdesk/internal/marketdata"

// NewDefaultRegistry builds the full tool catalog over one market
// data provider
func NewDefaultRegistry(data marketdata.Provider) *Registry {
	r := NewRegistry()
	r.Register(&FinancialMetricsTool{Data: data})
	r.Register(&GrowthAnalysisTool{Data: data})
	r.Register(&MovingAverage200Tool{Data: data})
	r.Register(&RSIMomentumTool{Data: data})
	r.Register(&MACDTrendTool{Data: data})
	r.Register(&BollingerBandsTool{Data: data})
	r.Register(&NewsSentimentTool{Data: data})
	r.Register(&InsiderActivityTool{Data: data})
	r.Register(&ValuationMultiplesTool{Data: data})
	r.Register(&FCFYieldTool{Data: data})
	return r
}

// DefaultToolsFor returns the fallback tool set used when a persona's
// tool selection comes back empty
func DefaultToolsFor(category Category) []string {
	switch category {
	case CategoryFundamental:
		return []string{"financial_metrics_analysis", "growth_analysis"}
	case CategoryTechnical:
		return []string{"rsi_momentum", "macd_trend", "bollinger_bands"}
	case CategorySentiment:
		return []string{"news_sentiment", "insider_activity"}
	case CategoryValuation:
		return []string{"valuation_multiples", "fcf_yield"}
	}
	return []string{"financial_metrics_analysis", "rsi_momentum", "news_sentiment", "valuation_multiples"}
}
