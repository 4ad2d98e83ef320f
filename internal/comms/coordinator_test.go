package comms

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/quantdesk/internal/agents"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/gateway/gatewaytest"
	"github.com/quantdesk/quantdesk/internal/memory"
	"github.com/quantdesk/quantdesk/internal/selector"
	"github.com/quantdesk/quantdesk/internal/trading"
)

func commDefaults() agents.ModelDefaults {
	return agents.ModelDefaults{Model: "gpt-4o", Provider: gateway.ProviderOpenAI, Temperature: 0.3}
}

func testPersonas(t *testing.T, types ...string) map[string]selector.Persona {
	t.Helper()
	out := make(map[string]selector.Persona)
	for _, typ := range types {
		p, err := selector.LoadPersona(typ)
		require.NoError(t, err)
		out[p.AgentID()] = p
	}
	return out
}

func stateWithRound1Signal() *trading.DayState {
	st := trading.NewDayState("sess", []string{"AAPL"}, "2024-03-04", "2024-02-03", nil)
	st.SetOutput("technical_analyst_agent", &trading.AgentOutput{
		Status: trading.StatusOK,
		Reports: map[string]*trading.TickerReport{
			"AAPL": {Ticker: "AAPL", Signal: trading.SignalBullish, Confidence: 80, Reasoning: "uptrend"},
		},
	})
	return st
}

func holdDecisions() map[string]trading.Decision {
	return map[string]trading.Decision{
		"AAPL": {Action: trading.ActionHold, Confidence: 50},
	}
}

func TestRun_NoCommunicationNeeded(t *testing.T) {
	stub := gatewaytest.NewStub().
		Reply(`{"should_communicate": false, "communication_type": "none", "reasoning": "consensus"}`)
	c := NewCoordinator(stub, nil, testPersonas(t, "technical"), Config{}, commDefaults())

	st := stateWithRound1Signal()
	decideCalls := 0
	got := c.Run(context.Background(), st, holdDecisions(), func(context.Context, *trading.DayState) map[string]trading.Decision {
		decideCalls++
		return nil
	})

	assert.Equal(t, holdDecisions(), got, "decisions pass through unchanged")
	assert.Zero(t, decideCalls)
	require.Len(t, st.CommLogs.CommunicationDecisions, 1)
	assert.False(t, st.CommLogs.CommunicationDecisions[0].ShouldCommunicate)
}

func TestRun_PrivateChatAdjustsSignalAndReinvokesPM(t *testing.T) {
	stub := gatewaytest.NewStub().
		Reply(`{"should_communicate": true, "communication_type": "private_chat", "target_analysts": ["technical_analyst_agent"], "discussion_topic": "AAPL conviction", "reasoning": "decision contradicts signal"}`).
		Reply(`Your bullish call assumed momentum. Does the pullback change it?`).
		Reply(`{"response": "Momentum broke; I am flipping.", "signal_adjustment": true, "adjusted_signal": {"ticker": "AAPL", "signal": "bearish", "confidence": 65, "reason": "trend break"}}`).
		Reply(`{"should_communicate": false, "communication_type": "none", "reasoning": "resolved"}`)

	c := NewCoordinator(stub, nil, testPersonas(t, "technical"), Config{}, commDefaults())

	st := stateWithRound1Signal()
	revised := map[string]trading.Decision{"AAPL": {Action: trading.ActionShort, Confidence: 65}}
	decideCalls := 0
	got := c.Run(context.Background(), st, holdDecisions(), func(_ context.Context, st *trading.DayState) map[string]trading.Decision {
		decideCalls++
		return revised
	})

	assert.Equal(t, 1, decideCalls, "adjustment re-invokes the portfolio manager")
	assert.Equal(t, revised, got)

	// the shared round-1 report was revised in place
	report := st.Output("technical_analyst_agent").Reports["AAPL"]
	assert.Equal(t, trading.SignalBearish, report.Signal)
	assert.Equal(t, 65.0, report.Confidence)

	require.Len(t, st.CommLogs.PrivateChats, 1)
	chat := st.CommLogs.PrivateChats[0]
	assert.Equal(t, trading.CommPrivateChat, chat.Type)
	assert.ElementsMatch(t, []string{trading.AgentPortfolioManager, "technical_analyst_agent"}, chat.Participants)
	require.Len(t, chat.Entries, 2, "one PM question, one analyst answer")
	assert.Equal(t, trading.AgentPortfolioManager, chat.Entries[0].Speaker)
	require.Len(t, chat.SignalAdjustments, 1)
	assert.Equal(t, "AAPL", chat.SignalAdjustments[0].Ticker)

	require.Len(t, st.CommLogs.CommunicationDecisions, 2, "second cycle gate ran and declined")
}

func TestRun_AdjustmentPrefersRound2Entry(t *testing.T) {
	stub := gatewaytest.NewStub().
		Reply(`{"should_communicate": true, "communication_type": "private_chat", "target_analysts": ["technical_analyst_agent"], "discussion_topic": "AAPL", "reasoning": "x"}`).
		Reply(`question`).
		Reply(`{"response": "flipping", "signal_adjustment": true, "adjusted_signal": {"ticker": "AAPL", "signal": "bearish", "confidence": 60, "reason": "y"}}`).
		Reply(`{"should_communicate": false, "communication_type": "none", "reasoning": "done"}`)

	c := NewCoordinator(stub, nil, testPersonas(t, "technical"), Config{}, commDefaults())

	st := stateWithRound1Signal()
	st.SetOutput(trading.Round2Key("technical_analyst_agent"), &trading.AgentOutput{
		Status: trading.StatusOK,
		Round2: &trading.SecondRoundAnalysis{
			AnalystID: "technical_analyst_agent",
			TickerSignals: []trading.TickerSignal{
				{Ticker: "AAPL", Signal: trading.SignalBullish, Confidence: 75},
			},
		},
	})

	c.Run(context.Background(), st, holdDecisions(), func(_ context.Context, st *trading.DayState) map[string]trading.Decision {
		return st.Decisions
	})

	r2 := st.Output(trading.Round2Key("technical_analyst_agent")).Round2
	assert.Equal(t, trading.SignalBearish, r2.TickerSignals[0].Signal, "round-2 entry revised")
	assert.Equal(t, trading.SignalBullish, st.Output("technical_analyst_agent").Reports["AAPL"].Signal,
		"round-1 report untouched when a round-2 entry exists")
}

func TestRun_MeetingPersistsTranscriptToAllParticipants(t *testing.T) {
	mem := memory.NewInMemoryStore()
	stub := gatewaytest.NewStub().
		Reply(`{"should_communicate": true, "communication_type": "meeting", "target_analysts": ["fundamental_analyst_agent", "technical_analyst_agent"], "discussion_topic": "earnings divergence", "reasoning": "split desk"}`).
		// fundamental analyst: memory query, then statement
		Reply(`{"query": "AAPL earnings quality"}`).
		Reply(`{"response": "Margins justify the bullish stance.", "signal_adjustment": false}`).
		// technical analyst: memory query, then statement
		Reply(`{"query": "AAPL trend strength"}`).
		Reply(`{"response": "Chart agrees, holding bullish.", "signal_adjustment": false}`).
		// PM closing summary
		Reply(`Both desks stay bullish on earnings divergence; no changes.`)

	c := NewCoordinator(stub, mem, testPersonas(t, "fundamental", "technical"), Config{}, commDefaults())

	st := stateWithRound1Signal()
	decideCalls := 0
	c.Run(context.Background(), st, holdDecisions(), func(context.Context, *trading.DayState) map[string]trading.Decision {
		decideCalls++
		return nil
	})

	assert.Zero(t, decideCalls, "no adjustments, no PM re-invocation")
	require.Len(t, st.CommLogs.Meetings, 1)
	meeting := st.CommLogs.Meetings[0]
	require.Len(t, meeting.Entries, 3, "two analyst statements plus the PM summary")
	assert.Equal(t, trading.AgentPortfolioManager, meeting.Entries[2].Speaker)
	assert.Empty(t, meeting.SignalAdjustments)

	// every participant can recall the meeting afterwards
	ctx := context.Background()
	for _, participant := range meeting.Participants {
		records, err := mem.Search(ctx, "earnings divergence meeting", participant, 5)
		require.NoError(t, err)
		require.NotEmpty(t, records, "participant %s has the transcript", participant)
		assert.Contains(t, records[0].Content, "earnings divergence")
	}
}

func TestRun_CycleBudgetExhausted(t *testing.T) {
	// every cycle wants a chat and every chat adjusts, so only the
	// cycle counter stops the loop
	stub := gatewaytest.NewStub()
	for i := 0; i < 2; i++ {
		stub.Reply(`{"should_communicate": true, "communication_type": "private_chat", "target_analysts": ["technical_analyst_agent"], "discussion_topic": "AAPL", "reasoning": "x"}`).
			Reply(`question`).
			Reply(`{"response": "adjusting again", "signal_adjustment": true, "adjusted_signal": {"ticker": "AAPL", "signal": "neutral", "confidence": 50, "reason": "z"}}`)
	}

	c := NewCoordinator(stub, nil, testPersonas(t, "technical"), Config{MaxCycles: 2}, commDefaults())

	st := stateWithRound1Signal()
	decideCalls := 0
	c.Run(context.Background(), st, holdDecisions(), func(_ context.Context, st *trading.DayState) map[string]trading.Decision {
		decideCalls++
		return st.Decisions
	})

	assert.Equal(t, 2, decideCalls)
	assert.Len(t, st.CommLogs.CommunicationDecisions, 2)
	assert.Len(t, st.CommLogs.PrivateChats, 2)
}

func TestRun_UnknownTargetsDropDialog(t *testing.T) {
	stub := gatewaytest.NewStub().
		Reply(`{"should_communicate": true, "communication_type": "private_chat", "target_analysts": ["nonexistent_agent"], "discussion_topic": "x", "reasoning": "y"}`)

	c := NewCoordinator(stub, nil, testPersonas(t, "technical"), Config{}, commDefaults())

	st := stateWithRound1Signal()
	decideCalls := 0
	c.Run(context.Background(), st, holdDecisions(), func(context.Context, *trading.DayState) map[string]trading.Decision {
		decideCalls++
		return nil
	})

	assert.Zero(t, decideCalls)
	assert.Empty(t, st.CommLogs.PrivateChats)
	require.Len(t, st.CommLogs.CommunicationDecisions, 1)
	assert.False(t, st.CommLogs.CommunicationDecisions[0].ShouldCommunicate, "unknown-only target list downgrades to none")
}

func TestRun_GateFailureDegradesToNone(t *testing.T) {
	stub := gatewaytest.NewStub().Fail(&gateway.CallError{Kind: gateway.KindFinal, Message: "model down"})
	c := NewCoordinator(stub, nil, testPersonas(t, "technical"), Config{}, commDefaults())

	st := stateWithRound1Signal()
	got := c.Run(context.Background(), st, holdDecisions(), func(context.Context, *trading.DayState) map[string]trading.Decision {
		t.Fatal("decide must not run when the gate degrades")
		return nil
	})

	assert.Equal(t, holdDecisions(), got)
	assert.Equal(t, trading.CommNone, st.CommLogs.CommunicationDecisions[0].CommunicationType)
}

func TestAnalystTurn_ResponseTruncatedToMaxChars(t *testing.T) {
	long := `{"response": "0123456789 0123456789 0123456789 0123456789", "signal_adjustment": false}`
	stub := gatewaytest.NewStub().
		Reply(`{"should_communicate": true, "communication_type": "private_chat", "target_analysts": ["technical_analyst_agent"], "discussion_topic": "x", "reasoning": "y"}`).
		Reply(`question`).
		Reply(long).
		Reply(`{"should_communicate": false, "communication_type": "none", "reasoning": "done"}`)

	c := NewCoordinator(stub, nil, testPersonas(t, "technical"), Config{MaxChars: 10}, commDefaults())

	st := stateWithRound1Signal()
	c.Run(context.Background(), st, holdDecisions(), func(context.Context, *trading.DayState) map[string]trading.Decision {
		return nil
	})

	require.Len(t, st.CommLogs.PrivateChats, 1)
	for _, e := range st.CommLogs.PrivateChats[0].Entries {
		assert.LessOrEqual(t, len(e.Content), 10)
	}
}

func TestTruncate_CountsRunesNotBytes(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10), "under the cap")
	assert.Equal(t, "héllo", truncate("héllo wörld", 5))
	assert.True(t, utf8.ValidString(truncate("ééééé", 3)), "never splits a rune")
	assert.Equal(t, "ééé", truncate("ééééé", 3))
	assert.Equal(t, "日本語", truncate("日本語の市場", 3))
}

func TestTurnResponseValidate(t *testing.T) {
	bad := turnResponse{Response: "x", SignalAdjustment: true}
	assert.Error(t, bad.Validate())

	ok := turnResponse{Response: "x", SignalAdjustment: true, AdjustedSignal: &adjustedSignal{Ticker: "AAPL", Signal: "bearish"}}
	assert.NoError(t, ok.Validate())
}
