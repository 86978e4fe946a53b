package ports

import (
	"context"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// MarketProvider obtiene mercados desde Gamma, con quotes del CLOB.
type MarketProvider interface {
	// FetchMarket devuelve un mercado por condition id, con best bid/ask por outcome.
	// Devuelve domain.ErrNotFound si Gamma no lo conoce.
	FetchMarket(ctx context.Context, marketID string) (domain.Market, error)

	// FetchMarkets es la versión batch de FetchMarket. Los ids desconocidos se omiten.
	FetchMarkets(ctx context.Context, marketIDs []string) ([]domain.Market, error)

	// FetchResolutionCandidates devuelve mercados abiertos cuya fecha de fin ya pasó.
	FetchResolutionCandidates(ctx context.Context, limit int) ([]domain.Market, error)
}
