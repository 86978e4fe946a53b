package oracle

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const proposedConfidence = 0.95

// Platform reports the platform's own settlement state. It is the only
// authoritative source: its OFFICIALLY_RESOLVED decides and its dispute
// signal resets the verdict.
type Platform struct{}

// NewPlatform builds the platform settlement source.
func NewPlatform() *Platform { return &Platform{} }

func (p *Platform) ID() string { return SourcePlatform }

func (p *Platform) Authoritative() bool { return true }

func (p *Platform) CanHandle(domain.Market) bool { return true }

func (p *Platform) CheckResolution(_ context.Context, m domain.Market) (domain.OracleResult, error) {
	res := domain.OracleResult{SourceID: p.ID(), MarketID: m.ID}

	switch {
	case m.UMAStatus == "disputed":
		res.State = domain.Unknown
		res.Dispute = true
		res.Justification = "resolution proposal disputed"
	case m.Status == domain.MarketSettled && m.WinningOutcome != "":
		res.State = domain.OfficiallyResolved
		res.WinningOutcome = m.WinningOutcome
		res.Confidence = 1
		res.Justification = "settled: " + m.WinningOutcome
	case m.UMAStatus == "proposed":
		leader, ok := m.Leader()
		if !ok {
			return domain.UnknownResult(p.ID(), m.ID, "proposal without prices"), nil
		}
		res.State = domain.EffectivelyResolved
		res.WinningOutcome = leader.Name
		res.Confidence = proposedConfidence
		res.Justification = fmt.Sprintf("resolution proposed, %s at %.3f", leader.Name, leader.Mark())
	case m.Status == domain.MarketResolving:
		return domain.UnknownResult(p.ID(), m.ID, "closed, awaiting settlement"), nil
	default:
		return domain.UnknownResult(p.ID(), m.ID, "open"), nil
	}
	return res, nil
}
