package ports

import (
	"context"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// OrderPlacer signs and submits real orders to the Polymarket CLOB.
type OrderPlacer interface {
	// PlaceOrder submits a single attempt. Errors wrap domain.ErrTransient,
	// domain.ErrUnauthorized, domain.ErrInsufficientBalance or domain.ErrRejected.
	PlaceOrder(ctx context.Context, order domain.LimitOrder) (domain.PlacedOrder, error)

	// GetBalance returns the available USDC.e balance of the trading wallet.
	GetBalance(ctx context.Context) (float64, error)
}

// Redeemer converts winning conditional tokens back into collateral on-chain.
type Redeemer interface {
	// Redeem calls redeemPositions for a settled market.
	Redeem(ctx context.Context, marketID string, negRisk bool) (domain.RedeemResult, error)

	// EnsureApprovals verifies the ERC1155/ERC20 approvals the exchange needs.
	EnsureApprovals(ctx context.Context) error
}
