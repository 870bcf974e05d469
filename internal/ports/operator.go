package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// RoundOperator is the keeper trigger surface. It is implemented in-process
// by the engine and remotely by the HTTP client, both acting as the admin.
type RoundOperator interface {
	// CurrentRound returns domain.ErrRoundNotFound when no round exists yet.
	CurrentRound(ctx context.Context) (domain.Round, error)
	ListRounds(ctx context.Context, limit int) ([]domain.Round, error)

	StartRound(ctx context.Context, duration time.Duration) (domain.Round, error)
	StartRoundManual(ctx context.Context, duration time.Duration, price uint64) (domain.Round, error)
	ResolveRound(ctx context.Context, roundID uint64) (domain.Round, error)
	ResolveRoundManual(ctx context.Context, roundID, price uint64) (domain.Round, error)

	CollectFees(ctx context.Context, roundID uint64) (domain.FeeSweep, error)
}
