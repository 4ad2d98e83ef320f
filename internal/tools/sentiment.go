package tools

import (
	"context"
	"fmt"

	"github.com/quantdesk/quantdesk/internal/marketdata"
)

// NewsSentimentTool aggregates tagged sentiment over recent company
// news
type NewsSentimentTool struct {
	Data marketdata.Provider
}

func (t *NewsSentimentTool) Spec() Spec {
	return Spec{
		Name:           "news_sentiment",
		Category:       CategorySentiment,
		Description:    "Aggregates positive/negative sentiment over recent company news",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamStartDate, ParamEndDate},
		OptionalParams: []string{"limit"},
	}
}

func (t *NewsSentimentTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]

	articles, err := t.Data.CompanyNews(ctx, ticker, params[ParamStartDate], params[ParamEndDate], 50)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch company news: %w", err)
	}
	if len(articles) == 0 {
		return Result{}, fmt.Errorf("no news for %s in range", ticker)
	}

	var positive, negative, neutral int
	for _, a := range articles {
		switch a.Sentiment {
		case "positive":
			positive++
		case "negative":
			negative++
		default:
			neutral++
		}
	}

	tagged := positive + negative
	signal := SignalNeutral
	confidence := 50.0
	if tagged > 0 {
		balance := float64(positive-negative) / float64(tagged)
		switch {
		case balance > 0.2:
			signal = SignalBullish
			confidence = 50 + balance*40
		case balance < -0.2:
			signal = SignalBearish
			confidence = 50 - balance*40
		}
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics: map[string]float64{
			"articles": float64(len(articles)),
			"positive": float64(positive),
			"negative": float64(negative),
			"neutral":  float64(neutral),
		},
		Reasoning: fmt.Sprintf("%s news sentiment over %d articles: %d positive, %d negative, %d untagged",
			ticker, len(articles), positive, negative, neutral),
	}, nil
}

// InsiderActivityTool nets insider buys against sells over the window
type InsiderActivityTool struct {
	Data marketdata.Provider
}

func (t *InsiderActivityTool) Spec() Spec {
	return Spec{
		Name:           "insider_activity",
		Category:       CategorySentiment,
		Description:    "Nets insider buy volume against sell volume over the window",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamStartDate, ParamEndDate},
	}
}

func (t *InsiderActivityTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]

	trades, err := t.Data.InsiderTrades(ctx, ticker, params[ParamStartDate], params[ParamEndDate], 100)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch insider trades: %w", err)
	}
	if len(trades) == 0 {
		return Result{}, fmt.Errorf("no insider trades for %s in range", ticker)
	}

	var bought, sold float64
	for _, tr := range trades {
		value := tr.TransactionShares * tr.TransactionPricePerShare
		if tr.TransactionShares > 0 {
			bought += value
		} else {
			sold += -value
		}
	}

	total := bought + sold
	signal := SignalNeutral
	confidence := 50.0
	if total > 0 {
		balance := (bought - sold) / total
		switch {
		case balance > 0.3:
			signal = SignalBullish
			confidence = 55 + balance*30
		case balance < -0.3:
			signal = SignalBearish
			confidence = 55 - balance*30
		}
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics: map[string]float64{
			"transactions": float64(len(trades)),
			"bought_value": bought,
			"sold_value":   sold,
		},
		Reasoning: fmt.Sprintf("%s insiders bought %.0f vs sold %.0f across %d transactions",
			ticker, bought, sold, len(trades)),
	}, nil
}

var _ Tool = (*NewsSentimentTool)(nil)
var _ Tool = (*InsiderActivityTool)(nil)
