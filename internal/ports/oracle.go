package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// PriceOracle returns the reference price of the underlying asset.
// It never retries on staleness: callers decide what an old observation means.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset string) (domain.PriceObservation, error)
}

// TokenPricer returns the USD price of a stake token, used to normalize
// token-B bets into USD cents.
type TokenPricer interface {
	TokenPrice(ctx context.Context, token domain.Token) (domain.TokenPrice, error)
}
