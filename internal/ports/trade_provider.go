package ports

import (
	"context"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// ActivityProvider reads a wallet's fills from the data API.
type ActivityProvider interface {
	// FetchWalletTrades returns one page of trades, newest first.
	// Entries that cannot be parsed are dropped by the implementation.
	FetchWalletTrades(ctx context.Context, wallet string, limit, offset int) ([]domain.DetectedTrade, error)
}

// PositionProvider reads what a wallet currently holds in a market.
type PositionProvider interface {
	FetchWalletExposure(ctx context.Context, wallet, marketID string) (domain.TargetExposure, error)
}
