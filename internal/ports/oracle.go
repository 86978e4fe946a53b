package ports

import (
	"context"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// OracleSource is one independent judge of whether a market has resolved.
type OracleSource interface {
	ID() string
	CanHandle(m domain.Market) bool
	CheckResolution(ctx context.Context, m domain.Market) (domain.OracleResult, error)
}

// AuthoritativeSource is implemented by sources whose dispute signal is honored.
type AuthoritativeSource interface {
	OracleSource
	Authoritative() bool
}
