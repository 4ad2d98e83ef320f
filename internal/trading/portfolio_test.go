package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalValue_MarksLongAndShortLegs(t *testing.T) {
	p := NewPortfolio(10000, 0.5, []string{"AAPL", "MSFT"})
	p.Positions["AAPL"] = &Position{Long: 10, LongCostBasis: 90}
	p.Positions["MSFT"] = &Position{Short: 5, ShortCostBasis: 200}

	prices := map[string]float64{"AAPL": 100, "MSFT": 180}

	// longs mark at price, shorts contribute entry-vs-mark P&L
	want := 10000 + 10*100.0 + 5*(200.0-180.0)
	assert.Equal(t, want, p.TotalValue(prices))
}

func TestTotalValue_SkipsUnpricedTickers(t *testing.T) {
	p := NewPortfolio(5000, 0, []string{"AAPL"})
	p.Positions["AAPL"] = &Position{Long: 3, LongCostBasis: 100}

	assert.Equal(t, 5000.0, p.TotalValue(nil), "no marks leaves cash only")
}

func TestPortfolio_DeepCopyIsIndependent(t *testing.T) {
	p := NewPortfolio(10000, 0.5, []string{"AAPL"})
	p.Positions["AAPL"].Long = 10

	cp := p.DeepCopy()
	cp.Cash = 0
	cp.Positions["AAPL"].Long = 99
	cp.Position("NVDA").Short = 1

	assert.Equal(t, 10000.0, p.Cash)
	assert.Equal(t, 10, p.Positions["AAPL"].Long)
	assert.NotContains(t, p.Positions, "NVDA")
}

func TestPosition_CreatesOnDemand(t *testing.T) {
	p := NewPortfolio(1000, 0, nil)
	pos := p.Position("AAPL")
	require.NotNil(t, pos)
	assert.True(t, pos.IsFlat())

	pos.Long = 1
	assert.False(t, p.Position("AAPL").IsFlat(), "same instance returned")
}

func TestParseSignalAndAction_DefaultOnGarbage(t *testing.T) {
	assert.Equal(t, SignalBullish, ParseSignal("bullish"))
	assert.Equal(t, SignalNeutral, ParseSignal("BULLISH"))
	assert.Equal(t, SignalNeutral, ParseSignal("moon"))

	assert.Equal(t, ActionShort, ParseAction("short"))
	assert.Equal(t, ActionHold, ParseAction("sell"))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-5))
	assert.Equal(t, 72.5, ClampConfidence(72.5))
	assert.Equal(t, 100.0, ClampConfidence(250))
}

func TestDecisionSet_ValidateNormalizes(t *testing.T) {
	ds := DecisionSet{Decisions: map[string]Decision{
		"AAPL": {Action: "buy", Quantity: -3, Confidence: 140},
	}}
	require.NoError(t, ds.Validate())

	got := ds.Decisions["AAPL"]
	assert.Equal(t, ActionHold, got.Action)
	assert.Zero(t, got.Quantity)
	assert.Equal(t, 100.0, got.Confidence)
}

func TestHoldAll(t *testing.T) {
	ds := HoldAll([]string{"AAPL", "MSFT"})
	require.Len(t, ds.Decisions, 2)
	for _, dec := range ds.Decisions {
		assert.Equal(t, ActionHold, dec.Action)
		assert.Zero(t, dec.Quantity)
		assert.Zero(t, dec.Confidence)
	}
	assert.False(t, ds.IsEmpty())
}

func TestCommunicationDecision_Validate(t *testing.T) {
	d := CommunicationDecision{CommunicationType: ""}
	require.NoError(t, d.Validate())
	assert.Equal(t, CommNone, d.CommunicationType)

	d = CommunicationDecision{CommunicationType: "shouting_match"}
	assert.Error(t, d.Validate())
}
