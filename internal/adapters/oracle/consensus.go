package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Consensus reads the market's own prices as a weak resolution signal. It
// never reaches OFFICIALLY_RESOLVED.
type Consensus struct {
	likely    float64
	effective float64
	now       func() time.Time
}

// NewConsensus builds the fallback source. likely and effective are the
// leader prices for LIKELY and, past the end date, EFFECTIVELY_RESOLVED.
func NewConsensus(likely, effective float64) *Consensus {
	return &Consensus{likely: likely, effective: effective, now: time.Now}
}

func (c *Consensus) ID() string { return SourceConsensus }

func (c *Consensus) CanHandle(m domain.Market) bool {
	return m.Status == domain.MarketOpen && len(m.Outcomes) >= 2
}

func (c *Consensus) CheckResolution(_ context.Context, m domain.Market) (domain.OracleResult, error) {
	leader, ok := m.Leader()
	if !ok {
		return domain.UnknownResult(c.ID(), m.ID, "no prices"), nil
	}
	price := leader.Mark()
	res := domain.OracleResult{
		SourceID:       c.ID(),
		MarketID:       m.ID,
		WinningOutcome: leader.Name,
		Confidence:     price,
	}
	switch {
	case price >= c.effective && m.PastEnd(c.now()):
		res.State = domain.EffectivelyResolved
		res.Justification = fmt.Sprintf("%s at %.3f after end date", leader.Name, price)
	case price >= c.likely:
		res.State = domain.Likely
		res.Justification = fmt.Sprintf("%s leads at %.3f", leader.Name, price)
	default:
		return domain.UnknownResult(c.ID(), m.ID, fmt.Sprintf("leader %s at %.3f", leader.Name, price)), nil
	}
	return res, nil
}
