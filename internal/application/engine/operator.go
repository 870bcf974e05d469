package engine

import (
	"context"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Operator drives the engine in-process on behalf of the admin identity.
// It is what an embedded keeper runs against.
type Operator struct {
	engine *Engine
	admin  string
}

var _ ports.RoundOperator = (*Operator)(nil)

func NewOperator(e *Engine, admin string) *Operator {
	return &Operator{engine: e, admin: admin}
}

func (o *Operator) CurrentRound(ctx context.Context) (domain.Round, error) {
	return o.engine.CurrentRound(ctx)
}

func (o *Operator) ListRounds(ctx context.Context, limit int) ([]domain.Round, error) {
	return o.engine.ListRounds(ctx, limit)
}

func (o *Operator) StartRound(ctx context.Context, duration time.Duration) (domain.Round, error) {
	return o.engine.StartRound(ctx, o.admin, duration)
}

func (o *Operator) StartRoundManual(ctx context.Context, duration time.Duration, price uint64) (domain.Round, error) {
	return o.engine.StartRoundManual(ctx, o.admin, duration, price)
}

func (o *Operator) ResolveRound(ctx context.Context, roundID uint64) (domain.Round, error) {
	return o.engine.ResolveRound(ctx, o.admin, roundID)
}

func (o *Operator) ResolveRoundManual(ctx context.Context, roundID, price uint64) (domain.Round, error) {
	return o.engine.ResolveRoundManual(ctx, o.admin, roundID, price)
}

func (o *Operator) CollectFees(ctx context.Context, roundID uint64) (domain.FeeSweep, error) {
	return o.engine.CollectFees(ctx, roundID)
}
