// Package decision turns detected trades and resolution verdicts into
// COPY/SKIP decisions. Every function here is pure: the same inputs always
// produce the same decision.
package decision

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	minLimitPrice = 0.01
	maxLimitPrice = 0.99
	epsilon       = 1e-9
)

// minDominanceShares is the target holding below which its split across
// outcomes says nothing.
const minDominanceShares = 10

type input struct {
	trade    domain.DetectedTrade
	exposure domain.TargetExposure
	pf       domain.PortfolioState
	market   domain.Market
	s        config.Settings
}

type filter func(in input) (domain.CopyDecision, bool)

// chain is evaluated in order; the first filter that rejects wins.
var chain = []filter{
	minSizeFilter,
	priceBandFilter,
	nearResolutionFilter,
	dominantSideFilter,
	oppositeSideFilter,
	budgetFilter,
}

// Evaluate runs the copy filter chain for one detected trade, without
// knowledge of the target's holdings.
func Evaluate(trade domain.DetectedTrade, pf domain.PortfolioState, m domain.Market, s config.Settings) domain.CopyDecision {
	return EvaluateWithExposure(trade, domain.TargetExposure{}, pf, m, s)
}

// EvaluateWithExposure runs the copy filter chain with the target's current
// holdings in the trade's market, used by the dominant-side policy.
func EvaluateWithExposure(trade domain.DetectedTrade, exp domain.TargetExposure, pf domain.PortfolioState, m domain.Market, s config.Settings) domain.CopyDecision {
	in := input{trade: trade, exposure: exp, pf: pf, market: m, s: s}
	for _, f := range chain {
		if d, rejected := f(in); rejected {
			return d
		}
	}
	return slippageFilter(in)
}

func minSizeFilter(in input) (domain.CopyDecision, bool) {
	t, s := in.trade, in.s
	if t.Notional() < s.MinTradeAmount {
		return domain.Skip(domain.ReasonBelowMinSize,
			fmt.Sprintf("notional $%.2f below minimum $%.2f", t.Notional(), s.MinTradeAmount)), true
	}
	return domain.CopyDecision{}, false
}

func priceBandFilter(in input) (domain.CopyDecision, bool) {
	t, s := in.trade, in.s
	if t.Price < s.MinPrice || t.Price > s.MaxPrice {
		return domain.Skip(domain.ReasonPriceOutOfBand,
			fmt.Sprintf("price %.3f outside [%.2f, %.2f]", t.Price, s.MinPrice, s.MaxPrice)), true
	}
	return domain.CopyDecision{}, false
}

// nearResolutionFilter refuses new buys once the book says the outcome is
// all but decided. Exits are never blocked.
func nearResolutionFilter(in input) (domain.CopyDecision, bool) {
	thr := in.s.NearResolutionThreshold
	if thr <= 0 || in.trade.Side != domain.Buy {
		return domain.CopyDecision{}, false
	}
	q, ok := in.market.Quote(in.trade.Outcome)
	if !ok {
		q, ok = in.market.QuoteByToken(in.trade.TokenID)
	}
	if !ok {
		return domain.CopyDecision{}, false
	}
	mark := q.Mark()
	if mark <= 0 {
		return domain.CopyDecision{}, false
	}
	if mark >= thr-epsilon || mark <= 1-thr+epsilon {
		return domain.Skip(domain.ReasonNearResolution,
			fmt.Sprintf("market price %.3f beyond %.2f: outcome all but decided", mark, thr)), true
	}
	return domain.CopyDecision{}, false
}

// dominantSideFilter copies buys only on the side the target is mostly
// holding. A balanced or small target position lets every buy through.
func dominantSideFilter(in input) (domain.CopyDecision, bool) {
	dom := in.s.DominantSideMin
	if dom <= 0 || in.trade.Side != domain.Buy {
		return domain.CopyDecision{}, false
	}
	if in.exposure.Total() < minDominanceShares {
		return domain.CopyDecision{}, false
	}
	alloc := in.exposure.Allocation(in.trade.Outcome)
	if alloc <= 1-dom+epsilon {
		return domain.Skip(domain.ReasonMinoritySide,
			fmt.Sprintf("target holds %.0f%% of its %.1f shares on %q", alloc*100, in.exposure.Total(), in.trade.Outcome)), true
	}
	return domain.CopyDecision{}, false
}

func oppositeSideFilter(in input) (domain.CopyDecision, bool) {
	t := in.trade
	if !in.s.SkipOppositeSide {
		return domain.CopyDecision{}, false
	}
	if other, ok := in.pf.HoldsOtherOutcome(t.MarketID, t.Outcome); ok {
		return domain.Skip(domain.ReasonOppositeSide,
			fmt.Sprintf("already holding %q in this market", other)), true
	}
	return domain.CopyDecision{}, false
}

func budgetFilter(in input) (domain.CopyDecision, bool) {
	t, pf, s := in.trade, in.pf, in.s
	if t.Side == domain.Sell {
		if held(pf, t) <= epsilon {
			return domain.Skip(domain.ReasonNoPosition,
				fmt.Sprintf("target sold %q but nothing is held", t.Outcome)), true
		}
		return domain.CopyDecision{}, false
	}
	if remaining := s.MaxTradeAmount - pf.MarketCost(t.MarketID); remaining <= epsilon {
		return domain.Skip(domain.ReasonPositionCap,
			fmt.Sprintf("market budget $%.2f exhausted", s.MaxTradeAmount)), true
	}
	return domain.CopyDecision{}, false
}

// slippageFilter is last: on success it also derives the order parameters.
func slippageFilter(in input) domain.CopyDecision {
	t, pf, m, s := in.trade, in.pf, in.market, in.s
	q, _ := m.Quote(t.Outcome)
	if q.TokenID == "" {
		q, _ = m.QuoteByToken(t.TokenID)
	}

	best := q.BestAsk
	if t.Side == domain.Sell {
		best = q.BestBid
	}

	limit := t.Price
	if best > 0 {
		if slip := Slippage(t.Side, t.Price, best, s.SlippageReference); slip > s.MaxSlippage+epsilon {
			return domain.Skip(domain.ReasonSlippageExceeded,
				fmt.Sprintf("best %.3f vs target %.3f: slippage %.1f%% > %.1f%%",
					best, t.Price, slip*100, s.MaxSlippage*100))
		}
		limit = best
	}
	limit = clamp(limit, minLimitPrice, maxLimitPrice)

	var size float64
	if t.Side == domain.Sell {
		size = math.Min(t.Size, held(pf, t))
	} else {
		remaining := s.MaxTradeAmount - pf.MarketCost(t.MarketID)
		size = math.Min(t.Size, remaining/limit)
	}
	size = roundShares(size)
	if size <= 0 {
		return domain.Skip(domain.ReasonPositionCap, "order size rounds to zero")
	}

	tokenID := t.TokenID
	if tokenID == "" {
		tokenID = q.TokenID
	}
	return domain.Copy(domain.OrderRequest{
		MarketID:   t.MarketID,
		Title:      t.Title,
		Outcome:    t.Outcome,
		TokenID:    tokenID,
		Side:       t.Side,
		LimitPrice: limit,
		Size:       size,
		NegRisk:    m.NegRisk,
		Source:     domain.SourceCopy,
		TradeID:    t.ID,
	})
}

// Slippage returns the adverse move from the target's price to the best
// obtainable quote, relative to the configured reference price. A move in
// our favour returns a negative value.
func Slippage(side domain.Side, target, best float64, ref config.SlippageReference) float64 {
	adverse := best - target
	if side == domain.Sell {
		adverse = target - best
	}
	base := target
	if ref == config.ReferenceMarketPrice {
		base = best
	}
	if base <= 0 {
		return math.Inf(1)
	}
	return adverse / base
}

func held(pf domain.PortfolioState, t domain.DetectedTrade) float64 {
	if p, ok := pf.Position(domain.PositionKey{MarketID: t.MarketID, Outcome: t.Outcome}); ok {
		return p.Quantity
	}
	return 0
}

// roundShares floors to the CLOB's 0.01 share tick.
func roundShares(v float64) float64 {
	return math.Floor(v*100+epsilon) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
