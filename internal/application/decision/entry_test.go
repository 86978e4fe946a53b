package decision_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycopy/internal/application/decision"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

func verdict(state domain.ResolutionState, winner string, conf float64) domain.Verdict {
	return domain.Verdict{MarketID: "m1", State: state, WinningOutcome: winner, Confidence: conf}
}

func TestEvaluateEntry_BuysWinnerBelowMaxPrice(t *testing.T) {
	d := decision.EvaluateEntry(verdict(domain.EffectivelyResolved, "Yes", 0.97), domain.PortfolioState{}, market(0.93, 0.94), settings())

	require.True(t, d.IsCopy())
	assert.Equal(t, "Yes", d.Order.Outcome)
	assert.Equal(t, domain.Buy, d.Order.Side)
	assert.Equal(t, domain.SourceResolution, d.Order.Source)
	assert.InDelta(t, 0.94, d.Order.LimitPrice, 1e-9)
	assert.InDelta(t, 53.19, d.Order.Size, 1e-9) // floor($50 / 0.94, 0.01)
}

func TestEvaluateEntry_RequiresResolutionAndConfidence(t *testing.T) {
	s := settings()
	for _, v := range []domain.Verdict{
		verdict(domain.Likely, "Yes", 0.99),
		verdict(domain.EffectivelyResolved, "Yes", 0.50),
		verdict(domain.EffectivelyResolved, "", 0.99),
	} {
		d := decision.EvaluateEntry(v, domain.PortfolioState{}, market(0.93, 0.94), s)
		assert.Equal(t, domain.ReasonNotResolved, d.Reason)
	}
}

func TestEvaluateEntry_AskAboveMax(t *testing.T) {
	d := decision.EvaluateEntry(verdict(domain.EffectivelyResolved, "Yes", 0.99), domain.PortfolioState{}, market(0.97, 0.98), settings())
	assert.Equal(t, domain.ReasonPriceOutOfBand, d.Reason)
}

func TestEvaluateEntry_ClosedMarket(t *testing.T) {
	m := market(0.93, 0.94)
	m.Status = domain.MarketSettled
	d := decision.EvaluateEntry(verdict(domain.OfficiallyResolved, "Yes", 1), domain.PortfolioState{}, m, settings())
	assert.Equal(t, domain.ReasonNotResolved, d.Reason)
}

func TestEvaluateEntry_BudgetAlreadyUsed(t *testing.T) {
	d := decision.EvaluateEntry(verdict(domain.EffectivelyResolved, "Yes", 0.99), holding("Yes", 60, 0.9), market(0.93, 0.94), settings())
	assert.Equal(t, domain.ReasonPositionCap, d.Reason)
}

func TestEvaluateEntry_OppositeSide(t *testing.T) {
	d := decision.EvaluateEntry(verdict(domain.EffectivelyResolved, "Yes", 0.99), holding("No", 10, 0.3), market(0.93, 0.94), settings())
	assert.Equal(t, domain.ReasonOppositeSide, d.Reason)
}
