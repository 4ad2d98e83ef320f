package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// Executor applies portfolio decisions to the portfolio. It is the
// only writer of portfolio state.
type Executor struct {
	log zerolog.Logger
}

// NewExecutor creates the trade executor
func NewExecutor() *Executor {
	return &Executor{log: config.NewLogger("trade_executor")}
}

// Execute applies the decisions at the given prices, mutating p.
// Orders are downsized, never rejected outright: cash stays
// non-negative, share counts integral, and margin use within the
// margin requirement. A long decision against an open short leg
// covers the short first; a short decision against an open long leg
// sells the long first. Tickers without a price are skipped.
func (e *Executor) Execute(p *trading.Portfolio, decisions map[string]trading.Decision, prices map[string]float64) []trading.TradeRecord {
	var trades []trading.TradeRecord

	for _, ticker := range sortedTickers(decisions) {
		dec := decisions[ticker]
		if dec.Action == trading.ActionHold || dec.Quantity <= 0 {
			continue
		}
		price, ok := prices[ticker]
		if !ok || price <= 0 {
			e.log.Warn().Str("ticker", ticker).Msg("No price for decision; trade skipped")
			continue
		}

		var executed []trading.TradeRecord
		switch dec.Action {
		case trading.ActionLong:
			executed = e.executeLong(p, ticker, dec.Quantity, price)
		case trading.ActionShort:
			executed = e.executeShort(p, ticker, dec.Quantity, price)
		}
		trades = append(trades, executed...)
	}
	return trades
}

// executeLong covers any open short leg first, then buys with the
// remaining quantity
func (e *Executor) executeLong(p *trading.Portfolio, ticker string, quantity int, price float64) []trading.TradeRecord {
	var trades []trading.TradeRecord
	pos := p.Position(ticker)

	if pos.Short > 0 {
		cover := minInt(quantity, pos.Short)
		cover = minInt(cover, int(math.Floor(p.Cash/price)))
		if cover > 0 {
			p.Cash -= float64(cover) * price
			released := float64(cover) * pos.ShortCostBasis * p.MarginRequirement
			p.MarginUsed = math.Max(0, p.MarginUsed-released)
			pos.Short -= cover
			if pos.Short == 0 {
				pos.ShortCostBasis = 0
			}
			quantity -= cover
			trades = append(trades, e.record(ticker, trading.ActionLong, cover, price, "cover"))
		}
	}

	if quantity > 0 {
		affordable := int(math.Floor(p.Cash / price))
		buy := minInt(quantity, affordable)
		if buy > 0 {
			cost := float64(buy) * price
			pos.LongCostBasis = weightedBasis(pos.Long, pos.LongCostBasis, buy, price)
			pos.Long += buy
			p.Cash -= cost
			trades = append(trades, e.record(ticker, trading.ActionLong, buy, price, "open"))
		}
	}
	return trades
}

// executeShort sells any open long leg first, then opens a short with
// the remaining quantity when margin allows
func (e *Executor) executeShort(p *trading.Portfolio, ticker string, quantity int, price float64) []trading.TradeRecord {
	var trades []trading.TradeRecord
	pos := p.Position(ticker)

	if pos.Long > 0 {
		sell := minInt(quantity, pos.Long)
		p.Cash += float64(sell) * price
		pos.Long -= sell
		if pos.Long == 0 {
			pos.LongCostBasis = 0
		}
		quantity -= sell
		trades = append(trades, e.record(ticker, trading.ActionShort, sell, price, "close"))
	}

	if quantity > 0 {
		// shorting requires a margin account
		if p.MarginRequirement <= 0 {
			e.log.Warn().Str("ticker", ticker).Msg("Short rejected: no margin requirement configured")
			return trades
		}
		// cap the new notional so margin use stays within the
		// pre-trade cash capacity
		capacity := p.Cash/p.MarginRequirement - p.MarginUsed
		maxByMargin := int(math.Floor(capacity / price))
		short := minInt(quantity, maxByMargin)
		if short > 0 {
			proceeds := float64(short) * price
			pos.ShortCostBasis = weightedBasis(pos.Short, pos.ShortCostBasis, short, price)
			pos.Short += short
			p.Cash += proceeds
			p.MarginUsed += proceeds * p.MarginRequirement
			trades = append(trades, e.record(ticker, trading.ActionShort, short, price, "open"))
		}
	}
	return trades
}

func (e *Executor) record(ticker string, action trading.Action, quantity int, price float64, leg string) trading.TradeRecord {
	e.log.Info().
		Str("ticker", ticker).
		Str("action", string(action)).
		Str("leg", leg).
		Int("quantity", quantity).
		Float64("price", price).
		Msg("Trade executed")
	return trading.TradeRecord{
		Ticker:    ticker,
		Action:    action,
		Quantity:  quantity,
		Price:     price,
		Timestamp: time.Now(),
	}
}

func weightedBasis(existingQty int, existingBasis float64, newQty int, newPrice float64) float64 {
	total := existingQty + newQty
	if total == 0 {
		return 0
	}
	return (float64(existingQty)*existingBasis + float64(newQty)*newPrice) / float64(total)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func sortedTickers(decisions map[string]trading.Decision) []string {
	out := make([]string, 0, len(decisions))
	for t := range decisions {
		out = append(out, t)
	}
	// deterministic execution order
	sort.Strings(out)
	return out
}
