package trading

import (
	"encoding/json"
	"fmt"
	"time"
)

// Output statuses recorded per agent in a day's state
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusNoResult = "no_result"
)

// Well-known agent ids that publish into AnalystOutputs
const (
	AgentRiskManager      = "risk_manager"
	AgentPortfolioManager = "portfolio_manager"
)

// Round2Key is the state key an analyst's round-2 revision is stored
// under
func Round2Key(agentID string) string { return agentID + "_round2" }

// AgentOutput is one agent's contribution to a day's state. Exactly one
// of the payload fields is set depending on which agent and round
// produced it.
type AgentOutput struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	Reports map[string]*TickerReport   `json:"reports,omitempty"` // round 1, by ticker
	Round2  *SecondRoundAnalysis       `json:"round2,omitempty"`
	Risk    map[string]*RiskAssessment `json:"risk,omitempty"` // risk manager, by ticker
}

// TradeRecord is one executed (or deferred-then-executed) trade
type TradeRecord struct {
	Ticker    string    `json:"ticker"`
	Action    Action    `json:"action"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// DeferredTrades holds live-mode decisions awaiting closing prices
type DeferredTrades struct {
	Date      string              `json:"date"`
	Decisions map[string]Decision `json:"decisions"`
}

// DayState is the single mutable state threaded through one trading
// day. Orchestrator phases own it exclusively; during the parallel
// analyst phases workers receive deep copies and their outputs are
// merged back under the orchestrator's lock.
type DayState struct {
	SessionID     string   `json:"session_id"`
	Tickers       []string `json:"tickers"`
	TradingDate   string   `json:"trading_date"`   // analysis day, YYYY-MM-DD
	LookbackStart string   `json:"lookback_start"` // data window start
	EndDate       string   `json:"end_date"`       // last completed trading day
	Mode          string   `json:"mode"`           // signal | portfolio
	IsLiveMode    bool     `json:"is_live_mode"`

	Portfolio      *Portfolio              `json:"portfolio"`
	AnalystOutputs map[string]*AgentOutput `json:"analyst_outputs"`
	CurrentPrices  map[string]float64      `json:"current_prices"`
	Decisions      map[string]Decision     `json:"decisions,omitempty"`
	ExecutedTrades []TradeRecord           `json:"executed_trades,omitempty"`
	TradesDeferred *DeferredTrades         `json:"trades_deferred,omitempty"`
	CommLogs       CommLogs                `json:"communication_logs"`

	// per-agent model overrides, agent id -> "provider/model"
	ModelOverrides map[string]string `json:"model_overrides,omitempty"`
}

// NewDayState initializes a day's state for the given universe
func NewDayState(sessionID string, tickers []string, tradingDate, lookbackStart string, portfolio *Portfolio) *DayState {
	return &DayState{
		SessionID:      sessionID,
		Tickers:        append([]string(nil), tickers...),
		TradingDate:    tradingDate,
		LookbackStart:  lookbackStart,
		Portfolio:      portfolio,
		AnalystOutputs: make(map[string]*AgentOutput),
		CurrentPrices:  make(map[string]float64),
	}
}

// DeepCopy clones the whole state through a JSON round trip. The state
// is plain data by construction, so the round trip is lossless.
func (s *DayState) DeepCopy() (*DayState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to copy day state: %w", err)
	}
	var out DayState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to copy day state: %w", err)
	}
	return &out, nil
}

// SetOutput records one agent's output, initializing the map when the
// state was deserialized without it
func (s *DayState) SetOutput(agentID string, out *AgentOutput) {
	if s.AnalystOutputs == nil {
		s.AnalystOutputs = make(map[string]*AgentOutput)
	}
	s.AnalystOutputs[agentID] = out
}

// Output returns an agent's recorded output, nil when absent
func (s *DayState) Output(agentID string) *AgentOutput {
	return s.AnalystOutputs[agentID]
}

// DayResult is the per-day outcome returned by the driver loop
type DayResult struct {
	Date           string              `json:"date"`
	Decisions      map[string]Decision `json:"decisions"`
	ExecutedTrades []TradeRecord       `json:"executed_trades"`
	PortfolioValue float64             `json:"portfolio_value"`
	Error          string              `json:"error,omitempty"`
}
