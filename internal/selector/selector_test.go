package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/gateway/gatewaytest"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/marketdata/marketdatatest"
	"github.com/quantdesk/quantdesk/internal/tools"
)

func newSelector(stub *gatewaytest.Stub, fake *marketdatatest.FakeProvider) *Selector {
	return New(stub, tools.NewExecutor(tools.NewDefaultRegistry(fake)))
}

func TestLoadPersona_BuiltIns(t *testing.T) {
	for _, analystType := range []string{"fundamental", "technical", "sentiment", "valuation", "comprehensive"} {
		p, err := LoadPersona(analystType)
		require.NoError(t, err, analystType)
		assert.Equal(t, analystType, p.ID)
		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.Description)
		assert.NotEmpty(t, p.FallbackTools())
		assert.Equal(t, analystType+"_analyst_agent", p.AgentID())
	}

	_, err := LoadPersona("astrologer")
	assert.Error(t, err)
}

func TestSelect_DropsUnknownTools(t *testing.T) {
	stub := gatewaytest.NewStub().Reply(`{
		"selected_tools": [
			{"tool_name": "rsi_momentum", "reason": "momentum check"},
			{"tool_name": "crystal_ball", "reason": "hallucinated"}
		],
		"analysis_strategy": "momentum_first",
		"synthesis_approach": "weighted",
		"tool_count": 2
	}`)
	s := newSelector(stub, marketdatatest.NewFakeProvider())
	persona, err := LoadPersona("technical")
	require.NoError(t, err)

	sel := s.Select(context.Background(), gateway.Request{Provider: gateway.ProviderOpenAI}, persona, "AAPL", "", "")
	assert.Equal(t, []string{"rsi_momentum"}, sel.Names())
	assert.Equal(t, 1, sel.ToolCount)
	assert.Equal(t, "momentum_first", sel.AnalysisStrategy)
}

func TestSelect_EmptyFallsBackToPersonaDefaults(t *testing.T) {
	stub := gatewaytest.NewStub().Reply(`{"selected_tools": [{"tool_name": "crystal_ball", "reason": "x"}]}`)
	s := newSelector(stub, marketdatatest.NewFakeProvider())
	persona, err := LoadPersona("valuation")
	require.NoError(t, err)

	sel := s.Select(context.Background(), gateway.Request{Provider: gateway.ProviderOpenAI}, persona, "AAPL", "", "")
	assert.Equal(t, []string{"valuation_multiples", "fcf_yield"}, sel.Names())
	assert.Equal(t, "persona_default", sel.AnalysisStrategy)
	assert.Equal(t, 2, sel.ToolCount)
}

func TestExecute_ResolvesParamsByCategory(t *testing.T) {
	fake := marketdatatest.NewFakeProvider()
	fake.Metrics["AAPL"] = []marketdata.FinancialMetrics{{ReturnOnEquity: 0.2}}
	s := newSelector(gatewaytest.NewStub(), fake)

	sel := Selection{SelectedTools: []SelectedTool{
		{ToolName: "financial_metrics_analysis"},
		{ToolName: "news_sentiment"},
	}}
	results := s.Execute(context.Background(), sel, "AAPL", ExecContext{
		FinancialAPIKey: "fin-key",
		NewsAPIKey:      "news-key",
		StartDate:       "2024-01-01",
		EndDate:         "2024-02-01",
	})

	require.Len(t, results, 2)
	assert.Empty(t, results[0].Error, "fundamental tool found its metrics")
	assert.NotEmpty(t, results[1].Error, "sentiment tool has no news scripted")
	assert.Equal(t, tools.SignalNeutral, results[1].Signal)
}

func TestSynthesize_ClampsConfidence(t *testing.T) {
	stub := gatewaytest.NewStub().Reply(`{"signal": "bullish", "confidence": 180, "reasoning": "strong across the board"}`)
	s := newSelector(stub, marketdatatest.NewFakeProvider())
	persona, err := LoadPersona("fundamental")
	require.NoError(t, err)

	syn := s.Synthesize(context.Background(), gateway.Request{Provider: gateway.ProviderOpenAI}, nil, Selection{SynthesisApproach: "weighted"}, persona, "AAPL")
	assert.Equal(t, tools.SignalBullish, syn.Signal)
	assert.Equal(t, 100.0, syn.Confidence)
	assert.Equal(t, "weighted", syn.SynthesisMethod)
}

func TestSynthesize_DegradedOnNonRetryableFailure(t *testing.T) {
	// a final (non-retryable) error short-circuits the retry loop and
	// yields the declared degraded synthesis
	stub := gatewaytest.NewStub().Fail(&gateway.CallError{Kind: gateway.KindFinal, Message: "bad request"})
	s := newSelector(stub, marketdatatest.NewFakeProvider())
	persona, err := LoadPersona("sentiment")
	require.NoError(t, err)

	syn := s.Synthesize(context.Background(), gateway.Request{Provider: gateway.ProviderOpenAI}, nil, Selection{}, persona, "AAPL")
	assert.Equal(t, tools.SignalNeutral, syn.Signal)
	assert.Equal(t, 50.0, syn.Confidence)
	assert.Equal(t, "Failed to synthesize", syn.Reasoning)
	assert.Equal(t, "error", syn.SynthesisMethod)
	assert.Equal(t, 1, stub.CallCount())
}
