package domain

import "time"

// PositionKey identifies a position: one per (market, outcome).
type PositionKey struct {
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
}

// Position is a holding owned by the portfolio ledger.
type Position struct {
	Key         PositionKey `json:"key"`
	TokenID     string      `json:"token_id"`
	Title       string      `json:"title"`
	Quantity    float64     `json:"quantity"`
	AvgPrice    float64     `json:"avg_price"`
	CostBasis   float64     `json:"cost_basis"`
	RealizedPnL float64     `json:"realized_pnl"`
	OpenedAt    time.Time   `json:"opened_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// PositionView is a position valued at its current mark.
type PositionView struct {
	Position
	MarkPrice     float64 `json:"mark_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PortfolioState is a consistent snapshot of the ledger.
type PortfolioState struct {
	InitialBalance   float64        `json:"initial_balance"`
	NetExternalFlows float64        `json:"net_external_flows"`
	Cash             float64        `json:"cash"`
	Positions        []PositionView `json:"positions"`
	RealizedPnL      float64        `json:"realized_pnl"`
	UnrealizedPnL    float64        `json:"unrealized_pnl"`
	Equity           float64        `json:"equity"`
	TakenAt          time.Time      `json:"taken_at"`
}

// Position returns the view for key, if held.
func (s PortfolioState) Position(key PositionKey) (PositionView, bool) {
	for _, p := range s.Positions {
		if p.Key == key {
			return p, true
		}
	}
	return PositionView{}, false
}

// MarketCost returns the cost basis held across all outcomes of a market.
func (s PortfolioState) MarketCost(marketID string) float64 {
	var total float64
	for _, p := range s.Positions {
		if p.Key.MarketID == marketID {
			total += p.CostBasis
		}
	}
	return total
}

// HoldsOtherOutcome reports whether a position exists in the market on another outcome.
func (s PortfolioState) HoldsOtherOutcome(marketID, outcome string) (string, bool) {
	for _, p := range s.Positions {
		if p.Key.MarketID == marketID && p.Key.Outcome != outcome && p.Quantity > 0 {
			return p.Key.Outcome, true
		}
	}
	return "", false
}

// TotalCost returns Σ cost basis over open positions.
func (s PortfolioState) TotalCost() float64 {
	var total float64
	for _, p := range s.Positions {
		total += p.CostBasis
	}
	return total
}

// ConservationGap returns Cash + Σ CostBasis − RealizedPnL − (Initial + Flows).
// A consistent ledger reports zero within float tolerance.
func (s PortfolioState) ConservationGap() float64 {
	return s.Cash + s.TotalCost() - s.RealizedPnL - (s.InitialBalance + s.NetExternalFlows)
}

// MarketIDs returns the distinct markets with open positions.
func (s PortfolioState) MarketIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range s.Positions {
		if !seen[p.Key.MarketID] {
			seen[p.Key.MarketID] = true
			ids = append(ids, p.Key.MarketID)
		}
	}
	return ids
}

// ExecutionMode distinguishes simulated from real fills.
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// Fill is an executed order as applied to the ledger.
type Fill struct {
	ID       string
	OrderID  string
	MarketID string
	Title    string
	Outcome  string
	TokenID  string
	Side     Side
	Price    float64
	Quantity float64
	Fee      float64
	Mode     ExecutionMode
	Source   OrderSource
	TradeID  string
	FilledAt time.Time
}

// Key returns the position key of the fill.
func (f Fill) Key() PositionKey {
	return PositionKey{MarketID: f.MarketID, Outcome: f.Outcome}
}

// Notional returns Price × Quantity.
func (f Fill) Notional() float64 {
	return f.Price * f.Quantity
}

// Settlement is the result of closing one position at market settlement.
type Settlement struct {
	Key         PositionKey
	Title       string
	TokenID     string
	Quantity    float64
	CostBasis   float64
	Payout      float64
	RealizedPnL float64
	Won         bool
	SettledAt   time.Time
}
