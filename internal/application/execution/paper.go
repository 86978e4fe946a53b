package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// SlippageModel adjusts simulated fill prices against us.
type SlippageModel struct {
	Kind      string // "none" | "tiered"
	SmallBps  float64
	MediumBps float64
	LargeBps  float64
}

// Bps returns the slippage applied to an order of the given notional.
func (m SlippageModel) Bps(notional float64) float64 {
	if m.Kind != "tiered" {
		return 0
	}
	switch {
	case notional <= 10:
		return m.SmallBps
	case notional <= 50:
		return m.MediumBps
	default:
		return m.LargeBps
	}
}

// Adjust returns the simulated fill price: higher for BUY, lower for SELL.
func (m SlippageModel) Adjust(side domain.Side, price, notional float64) float64 {
	slip := m.Bps(notional) / 10000
	if side == domain.Sell {
		return clampPrice(price * (1 - slip))
	}
	return clampPrice(price * (1 + slip))
}

// Paper simulates fills against the ledger's virtual balance.
type Paper struct {
	ledger Ledger
	model  SlippageModel
	now    func() time.Time
}

// NewPaper creates a paper executor.
func NewPaper(ledger Ledger, model SlippageModel) *Paper {
	return &Paper{ledger: ledger, model: model, now: time.Now}
}

func (p *Paper) Mode() domain.ExecutionMode { return domain.ModePaper }

// Submit simulates the fill and books it. Balance and position change as
// one ledger call; on any error nothing is booked.
func (p *Paper) Submit(ctx context.Context, order domain.OrderRequest) (domain.Fill, error) {
	if err := ctx.Err(); err != nil {
		return domain.Fill{}, fmt.Errorf("execution.Paper.Submit: %w", err)
	}
	if order.Size <= 0 || order.LimitPrice <= 0 {
		return domain.Fill{}, rejected(domain.ReasonExecutionFailed,
			fmt.Errorf("size %.4f price %.4f: %w", order.Size, order.LimitPrice, domain.ErrMalformed))
	}

	price := p.model.Adjust(order.Side, order.LimitPrice, order.Notional())
	f := domain.Fill{
		ID:       uuid.New().String(),
		OrderID:  "paper-" + uuid.New().String(),
		MarketID: order.MarketID,
		Title:    order.Title,
		Outcome:  order.Outcome,
		TokenID:  order.TokenID,
		Side:     order.Side,
		Price:    price,
		Quantity: order.Size,
		Mode:     domain.ModePaper,
		Source:   order.Source,
		TradeID:  order.TradeID,
		FilledAt: p.now(),
	}

	booked, err := p.ledger.Apply(f)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return domain.Fill{}, rejected(domain.ReasonInsufficientBalance, err)
		}
		return domain.Fill{}, rejected(domain.ReasonExecutionFailed, err)
	}
	return booked, nil
}
