package ledger_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycopy/internal/application/ledger"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

const tol = 1e-9

func fill(market, outcome string, side domain.Side, price, qty float64) domain.Fill {
	return domain.Fill{
		MarketID: market,
		Outcome:  outcome,
		TokenID:  market + "-" + outcome,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Mode:     domain.ModePaper,
	}
}

// --- Apply ---

func TestApply_BuyThenSettleWinning(t *testing.T) {
	l := ledger.New(1000)

	_, err := l.Apply(fill("m1", "Yes", domain.Buy, 0.98, 100))
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.InDelta(t, 902.0, snap.Cash, tol)
	pos, ok := snap.Position(domain.PositionKey{MarketID: "m1", Outcome: "Yes"})
	require.True(t, ok)
	assert.InDelta(t, 100.0, pos.Quantity, tol)
	assert.InDelta(t, 0.98, pos.AvgPrice, tol)

	settled, err := l.Settle("m1", "Yes")
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.InDelta(t, 2.0, settled[0].RealizedPnL, tol)
	assert.True(t, settled[0].Won)

	snap = l.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 1002.0, snap.Cash, tol)
	assert.InDelta(t, 2.0, snap.RealizedPnL, tol)
	assert.InDelta(t, 0, snap.ConservationGap(), tol)
}

func TestApply_WeightedAverageCost(t *testing.T) {
	l := ledger.New(1000)
	_, err := l.Apply(fill("m1", "Yes", domain.Buy, 0.40, 100))
	require.NoError(t, err)
	_, err = l.Apply(fill("m1", "Yes", domain.Buy, 0.60, 100))
	require.NoError(t, err)

	pos, ok := l.Snapshot().Position(domain.PositionKey{MarketID: "m1", Outcome: "Yes"})
	require.True(t, ok)
	assert.InDelta(t, 200.0, pos.Quantity, tol)
	assert.InDelta(t, 0.50, pos.AvgPrice, tol)
	assert.InDelta(t, 100.0, pos.CostBasis, tol)
}

func TestApply_PartialSellRealizesAgainstAverage(t *testing.T) {
	l := ledger.New(1000)
	_, err := l.Apply(fill("m1", "Yes", domain.Buy, 0.50, 100))
	require.NoError(t, err)

	booked, err := l.Apply(fill("m1", "Yes", domain.Sell, 0.60, 40))
	require.NoError(t, err)
	assert.InDelta(t, 40.0, booked.Quantity, tol)

	snap := l.Snapshot()
	assert.InDelta(t, 4.0, snap.RealizedPnL, tol) // (0.60-0.50)*40
	pos, ok := snap.Position(domain.PositionKey{MarketID: "m1", Outcome: "Yes"})
	require.True(t, ok)
	assert.InDelta(t, 60.0, pos.Quantity, tol)
	assert.InDelta(t, 0.50, pos.AvgPrice, tol)
	assert.InDelta(t, 4.0, pos.RealizedPnL, tol)
}

func TestApply_SellClampedToHeldAndClosesPosition(t *testing.T) {
	l := ledger.New(100)
	_, err := l.Apply(fill("m1", "No", domain.Buy, 0.20, 50))
	require.NoError(t, err)

	booked, err := l.Apply(fill("m1", "No", domain.Sell, 0.30, 80))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, booked.Quantity, tol, "sell never takes quantity below zero")

	snap := l.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 105.0, snap.Cash, tol)
	assert.InDelta(t, 5.0, snap.RealizedPnL, tol)
}

func TestApply_SellWithoutPosition(t *testing.T) {
	l := ledger.New(100)
	_, err := l.Apply(fill("m1", "Yes", domain.Sell, 0.5, 10))
	assert.ErrorIs(t, err, ledger.ErrNoPosition)
}

func TestApply_InsufficientBalanceLeavesStateUntouched(t *testing.T) {
	l := ledger.New(50)
	before := l.Snapshot()

	_, err := l.Apply(fill("m1", "Yes", domain.Buy, 0.60, 100))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	after := l.Snapshot()
	assert.Equal(t, before.Cash, after.Cash)
	assert.Empty(t, after.Positions)
}

func TestApplyMatched_BooksBeyondTrackedCash(t *testing.T) {
	l := ledger.New(100)

	booked, inflow, err := l.ApplyMatched(fill("m1", "Yes", domain.Buy, 0.5, 400))
	require.NoError(t, err)
	assert.InDelta(t, 400, booked.Quantity, tol)
	assert.InDelta(t, 100, inflow, tol)

	snap := l.Snapshot()
	assert.InDelta(t, 0, snap.Cash, tol)
	assert.InDelta(t, 100, snap.NetExternalFlows, tol)
	require.Len(t, snap.Positions, 1)
	assert.InDelta(t, 200, snap.Positions[0].CostBasis, tol)
	assert.InDelta(t, 0, snap.ConservationGap(), tol)
}

func TestApplyMatched_NoInflowWhenCovered(t *testing.T) {
	l := ledger.New(100)
	_, inflow, err := l.ApplyMatched(fill("m1", "Yes", domain.Buy, 0.5, 10))
	require.NoError(t, err)
	assert.Zero(t, inflow)
	assert.InDelta(t, 95, l.Cash(), tol)

	_, _, err = l.ApplyMatched(fill("m2", "Yes", domain.Sell, 0.5, 10))
	assert.ErrorIs(t, err, ledger.ErrNoPosition)
}

func TestReset_DropsPositionsAndRefunds(t *testing.T) {
	l := ledger.New(1000)
	_, err := l.Apply(fill("m1", "Yes", domain.Buy, 0.5, 100))
	require.NoError(t, err)
	require.NoError(t, l.AdjustCash(25))

	l.Reset(42)

	snap := l.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 42, snap.Cash, tol)
	assert.InDelta(t, 42, snap.InitialBalance, tol)
	assert.Zero(t, snap.NetExternalFlows)
	assert.Zero(t, snap.RealizedPnL)
	assert.Zero(t, l.Held(domain.PositionKey{MarketID: "m1", Outcome: "Yes"}))
}

func TestApply_RejectsMalformedFill(t *testing.T) {
	l := ledger.New(50)
	_, err := l.Apply(fill("m1", "Yes", domain.Buy, 1.5, 1))
	assert.ErrorIs(t, err, domain.ErrMalformed)
	_, err = l.Apply(fill("m1", "Yes", domain.Buy, 0.5, 0))
	assert.ErrorIs(t, err, domain.ErrMalformed)
}

func TestApply_FeeIsPartOfCostBasis(t *testing.T) {
	l := ledger.New(100)
	f := fill("m1", "Yes", domain.Buy, 0.50, 10)
	f.Fee = 0.10
	_, err := l.Apply(f)
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.InDelta(t, 94.90, snap.Cash, tol)
	assert.InDelta(t, 0, snap.ConservationGap(), tol)
}

// --- Settle ---

func TestSettle_LosingOutcomeRealizesFullLoss(t *testing.T) {
	l := ledger.New(1000)
	_, err := l.Apply(fill("m1", "Up", domain.Buy, 0.30, 100))
	require.NoError(t, err)
	_, err = l.Apply(fill("m2", "Yes", domain.Buy, 0.50, 10))
	require.NoError(t, err)

	settled, err := l.Settle("m1", "Down")
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.False(t, settled[0].Won)
	assert.InDelta(t, -30.0, settled[0].RealizedPnL, tol)

	snap := l.Snapshot()
	require.Len(t, snap.Positions, 1, "other markets stay open")
	assert.Equal(t, "m2", snap.Positions[0].Key.MarketID)
}

func TestSettle_UnknownMarket(t *testing.T) {
	l := ledger.New(10)
	_, err := l.Settle("nope", "Yes")
	assert.ErrorIs(t, err, ledger.ErrNoPosition)
}

// --- Snapshot ---

func TestSnapshot_UnrealizedFromMarks(t *testing.T) {
	l := ledger.New(1000)
	key := domain.PositionKey{MarketID: "m1", Outcome: "Yes"}
	_, err := l.Apply(fill("m1", "Yes", domain.Buy, 0.40, 100))
	require.NoError(t, err)

	assert.InDelta(t, 0, l.Snapshot().UnrealizedPnL, tol, "no mark: valued at cost")

	l.UpdateMark(key, 0.55)
	snap := l.Snapshot()
	assert.InDelta(t, 15.0, snap.UnrealizedPnL, tol)
	assert.InDelta(t, 1015.0, snap.Equity, tol)

	l.UpdateMark(domain.PositionKey{MarketID: "other", Outcome: "Yes"}, 0.9)
	assert.Len(t, l.Snapshot().Positions, 1)
}

func TestAdjustCash_TracksExternalFlows(t *testing.T) {
	l := ledger.New(100)
	require.NoError(t, l.AdjustCash(50))
	require.ErrorIs(t, l.AdjustCash(-500), domain.ErrInsufficientBalance)

	snap := l.Snapshot()
	assert.InDelta(t, 150.0, snap.Cash, tol)
	assert.InDelta(t, 50.0, snap.NetExternalFlows, tol)
	assert.InDelta(t, 0, snap.ConservationGap(), tol)
}

// --- Properties ---

func TestConservation_RandomSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := ledger.New(1000)
	markets := []string{"a", "b", "c"}
	outcomes := []string{"Yes", "No"}

	for i := 0; i < 500; i++ {
		m := markets[rng.Intn(len(markets))]
		o := outcomes[rng.Intn(len(outcomes))]
		price := 0.01 + rng.Float64()*0.98
		qty := 1 + rng.Float64()*50
		switch rng.Intn(5) {
		case 0, 1:
			_, _ = l.Apply(fill(m, o, domain.Buy, price, qty))
		case 2, 3:
			_, _ = l.Apply(fill(m, o, domain.Sell, price, qty))
		case 4:
			_, _ = l.Settle(m, outcomes[rng.Intn(2)])
		}
		snap := l.Snapshot()
		require.InDelta(t, 0, snap.ConservationGap(), 1e-6, "step %d", i)
		require.GreaterOrEqual(t, snap.Cash, 0.0)
		for _, p := range snap.Positions {
			require.Greater(t, p.Quantity, 0.0)
		}
	}
}

func TestApply_ConcurrentWritersSerialize(t *testing.T) {
	l := ledger.New(10000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Apply(fill("m1", "Yes", domain.Buy, 0.5, 2))
			_ = l.Snapshot()
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	pos, ok := snap.Position(domain.PositionKey{MarketID: "m1", Outcome: "Yes"})
	require.True(t, ok)
	assert.InDelta(t, 100.0, pos.Quantity, tol)
	assert.InDelta(t, 9950.0, snap.Cash, tol)
}
