package decision

import (
	"fmt"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

// EvaluateEntry decides whether to buy the winning outcome of a market the
// oracles consider resolved. Filters, in order: resolution state and
// confidence, entry price, opposite side, per-market entry budget.
func EvaluateEntry(v domain.Verdict, pf domain.PortfolioState, m domain.Market, s config.Settings) domain.CopyDecision {
	if !v.AuthorizesEntry(s.ConfidenceThreshold) {
		return domain.Skip(domain.ReasonNotResolved,
			fmt.Sprintf("%s at confidence %.2f", v.State, v.Confidence))
	}
	if m.Status != domain.MarketOpen {
		return domain.Skip(domain.ReasonNotResolved, fmt.Sprintf("market is %s", m.Status))
	}

	q, ok := m.Quote(v.WinningOutcome)
	if !ok || q.BestAsk <= 0 {
		return domain.Skip(domain.ReasonMarketUnavailable,
			fmt.Sprintf("no ask for winning outcome %q", v.WinningOutcome))
	}
	if q.BestAsk > s.ResolutionMaxPrice {
		return domain.Skip(domain.ReasonPriceOutOfBand,
			fmt.Sprintf("ask %.3f above entry max %.2f", q.BestAsk, s.ResolutionMaxPrice))
	}

	if other, held := pf.HoldsOtherOutcome(m.ID, q.Name); held && s.SkipOppositeSide {
		return domain.Skip(domain.ReasonOppositeSide,
			fmt.Sprintf("already holding %q in this market", other))
	}

	remaining := s.ResolutionPositionSize - pf.MarketCost(m.ID)
	if remaining <= epsilon {
		return domain.Skip(domain.ReasonPositionCap,
			fmt.Sprintf("entry budget $%.2f exhausted", s.ResolutionPositionSize))
	}
	size := roundShares(remaining / q.BestAsk)
	if size <= 0 {
		return domain.Skip(domain.ReasonPositionCap, "entry size rounds to zero")
	}

	return domain.Copy(domain.OrderRequest{
		MarketID:   m.ID,
		Title:      m.Title,
		Outcome:    q.Name,
		TokenID:    q.TokenID,
		Side:       domain.Buy,
		LimitPrice: q.BestAsk,
		Size:       size,
		NegRisk:    m.NegRisk,
		Source:     domain.SourceResolution,
	})
}
