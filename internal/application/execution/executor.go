// Package execution turns COPY decisions into fills, simulated or real.
// Both executors book fills through the same ledger code path.
package execution

import (
	"context"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Executor submits one order and returns the booked fill.
type Executor interface {
	Submit(ctx context.Context, order domain.OrderRequest) (domain.Fill, error)
	Mode() domain.ExecutionMode
}

// Ledger is the booking side of the portfolio ledger.
type Ledger interface {
	Apply(f domain.Fill) (domain.Fill, error)
}

const (
	minPrice = 0.01
	maxPrice = 0.99
)

func clampPrice(p float64) float64 {
	switch {
	case p < minPrice:
		return minPrice
	case p > maxPrice:
		return maxPrice
	}
	return p
}

func rejected(reason domain.SkipReason, err error) error {
	return &domain.ExecutionError{Reason: reason, Err: err}
}
