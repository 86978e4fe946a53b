package domain

import (
	"strings"
	"time"
)

// Side is the direction of a fill or order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// DetectedTrade is a fill by the target wallet as observed on the activity feed.
type DetectedTrade struct {
	ID        string
	Wallet    string
	MarketID  string
	Title     string
	Outcome   string
	TokenID   string
	Side      Side
	Price     float64
	Size      float64 // shares
	Timestamp time.Time
}

// Notional returns the USDC value of the trade.
func (t DetectedTrade) Notional() float64 {
	return t.Price * t.Size
}

// TargetExposure is what the target wallet currently holds in one market,
// in shares per outcome.
type TargetExposure struct {
	MarketID string
	Shares   map[string]float64
}

// Total returns the shares held across all outcomes.
func (e TargetExposure) Total() float64 {
	var sum float64
	for _, v := range e.Shares {
		sum += v
	}
	return sum
}

// Allocation returns the fraction of the target's shares on outcome, or 0
// when nothing is held.
func (e TargetExposure) Allocation(outcome string) float64 {
	total := e.Total()
	if total <= 0 {
		return 0
	}
	for name, v := range e.Shares {
		if strings.EqualFold(name, outcome) {
			return v / total
		}
	}
	return 0
}
