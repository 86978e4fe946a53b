package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

// RetryPolicy bounds the retries of transient order failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the wait before attempt n+1 (n starts at 1).
func (r RetryPolicy) Delay(n int) time.Duration {
	d := r.BaseDelay << (n - 1)
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}
	return d
}

// MatchedLedger books fills the venue already executed, reconciling cash
// the ledger did not know about.
type MatchedLedger interface {
	ApplyMatched(f domain.Fill) (domain.Fill, float64, error)
}

// Live places real fill-and-kill orders through the CLOB.
type Live struct {
	placer ports.OrderPlacer
	ledger MatchedLedger
	retry  RetryPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewLive creates a live executor.
func NewLive(placer ports.OrderPlacer, ledger MatchedLedger, retry RetryPolicy, logger *slog.Logger) *Live {
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{placer: placer, ledger: ledger, retry: retry, logger: logger, now: time.Now}
}

func (l *Live) Mode() domain.ExecutionMode { return domain.ModeLive }

// Submit places the order, retrying transient failures with exponential
// backoff. Authorization, balance and rejection errors are returned at once
// as execution_failed. A matched order is always booked, even when it cost
// more than the ledger's cash. If ctx is cancelled after the order matched,
// the fill is not booked and the error says so.
func (l *Live) Submit(ctx context.Context, order domain.OrderRequest) (domain.Fill, error) {
	lo := domain.LimitOrder{
		TokenID: order.TokenID,
		Side:    order.Side,
		Price:   clampPrice(order.LimitPrice),
		Size:    order.Size,
		NegRisk: order.NegRisk,
		Type:    domain.OrderFAK,
	}

	var placed domain.PlacedOrder
	var err error
	for attempt := 1; attempt <= l.retry.Attempts; attempt++ {
		placed, err = l.placer.PlaceOrder(ctx, lo)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrTransient) || attempt == l.retry.Attempts {
			return domain.Fill{}, rejected(domain.ReasonExecutionFailed, err)
		}
		wait := l.retry.Delay(attempt)
		l.logger.Warn("order placement failed, retrying",
			"token", order.TokenID, "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return domain.Fill{}, rejected(domain.ReasonExecutionFailed, ctx.Err())
		}
	}

	if placed.MatchedSize <= 0 {
		return domain.Fill{}, rejected(domain.ReasonExecutionFailed,
			fmt.Errorf("order %s not matched (status %q): %w", placed.OrderID, placed.Status, domain.ErrRejected))
	}

	price := placed.AvgPrice
	if price <= 0 {
		price = lo.Price
	}
	f := domain.Fill{
		ID:       uuid.New().String(),
		OrderID:  placed.OrderID,
		MarketID: order.MarketID,
		Title:    order.Title,
		Outcome:  order.Outcome,
		TokenID:  order.TokenID,
		Side:     order.Side,
		Price:    price,
		Quantity: placed.MatchedSize,
		Mode:     domain.ModeLive,
		Source:   order.Source,
		TradeID:  order.TradeID,
		FilledAt: l.now(),
	}

	if err := ctx.Err(); err != nil {
		l.logger.Error("live order matched after cancellation, fill not booked",
			"order_id", placed.OrderID, "token", order.TokenID, "qty", placed.MatchedSize, "price", price)
		return f, fmt.Errorf("execution.Live.Submit: order %s: %w", placed.OrderID, err)
	}

	booked, inflow, err := l.ledger.ApplyMatched(f)
	if err != nil {
		l.logger.Error("live fill could not be booked",
			"order_id", placed.OrderID, "err", err)
		return f, rejected(domain.ReasonExecutionFailed,
			fmt.Errorf("execution.Live.Submit: book %s: %w", placed.OrderID, err))
	}
	if inflow > 0 {
		l.logger.Warn("live fill exceeded tracked cash, balance reconciled",
			"order_id", placed.OrderID, "inflow", inflow)
	}
	return booked, nil
}
