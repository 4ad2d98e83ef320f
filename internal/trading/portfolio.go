package trading

// Position holds the independent long and short legs for one ticker
type Position struct {
	Long           int     `json:"long"`
	Short          int     `json:"short"`
	LongCostBasis  float64 `json:"long_cost_basis"`
	ShortCostBasis float64 `json:"short_cost_basis"`
}

// IsFlat reports whether both legs are empty
func (p Position) IsFlat() bool { return p.Long == 0 && p.Short == 0 }

// Portfolio is the cash and position state carried across trading days
type Portfolio struct {
	Cash              float64              `json:"cash"`
	MarginRequirement float64              `json:"margin_requirement"`
	MarginUsed        float64              `json:"margin_used"`
	Positions         map[string]*Position `json:"positions"`
}

// NewPortfolio creates a flat portfolio for the given tickers
func NewPortfolio(initialCash, marginRequirement float64, tickers []string) *Portfolio {
	p := &Portfolio{
		Cash:              initialCash,
		MarginRequirement: marginRequirement,
		Positions:         make(map[string]*Position, len(tickers)),
	}
	for _, t := range tickers {
		p.Positions[t] = &Position{}
	}
	return p
}

// Position returns the ticker's position, creating an empty one when
// the ticker is new
func (p *Portfolio) Position(ticker string) *Position {
	if p.Positions == nil {
		p.Positions = make(map[string]*Position)
	}
	pos, ok := p.Positions[ticker]
	if !ok {
		pos = &Position{}
		p.Positions[ticker] = pos
	}
	return pos
}

// LongExposure is the mark-to-market value of the ticker's long leg
func (p *Portfolio) LongExposure(ticker string, price float64) float64 {
	return float64(p.Position(ticker).Long) * price
}

// TotalValue marks the portfolio to the given prices. Short legs
// contribute the entry-vs-mark P&L on top of cash.
func (p *Portfolio) TotalValue(prices map[string]float64) float64 {
	total := p.Cash
	for ticker, pos := range p.Positions {
		price, ok := prices[ticker]
		if !ok {
			continue
		}
		total += float64(pos.Long) * price
		if pos.Short > 0 {
			total += float64(pos.Short) * (pos.ShortCostBasis - price)
		}
	}
	return total
}

// DeepCopy clones the portfolio including its positions
func (p *Portfolio) DeepCopy() *Portfolio {
	out := &Portfolio{
		Cash:              p.Cash,
		MarginRequirement: p.MarginRequirement,
		MarginUsed:        p.MarginUsed,
		Positions:         make(map[string]*Position, len(p.Positions)),
	}
	for ticker, pos := range p.Positions {
		cp := *pos
		out.Positions[ticker] = &cp
	}
	return out
}
