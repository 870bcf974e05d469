package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/google/uuid"
)

// Params are the economic and freshness knobs of the engine.
type Params struct {
	Asset            string        // oracle asset the rounds track
	FeeBps           uint64        // fee on top of each stake
	MinBetUSD        uint64        // cents
	MaxPriceAge      time.Duration // oracle observations older than this are stale
	TokenPriceMaxAge time.Duration // same, for token-B USD quotes
}

// DefaultParams mirrors the deployed program: 0.5% fee, $1 minimum bet.
func DefaultParams() Params {
	return Params{
		Asset:            "SOL/USD",
		FeeBps:           50,
		MinBetUSD:        100,
		MaxPriceAge:      60 * time.Second,
		TokenPriceMaxAge: 5 * time.Minute,
	}
}

// Engine is the round settlement orchestrator. Every mutating operation runs
// in one ledger transaction; operations touching the same round are also
// serialized in-process.
type Engine struct {
	params Params
	ledger ports.Ledger
	bank   ports.TransferBackend
	oracle ports.PriceOracle
	pricer ports.TokenPricer
	events ports.EventPublisher
	now    func() time.Time

	startMu sync.Mutex // guards the round id counter
	rounds  [roundLockStripes]sync.Mutex
}

// roundLockStripes bounds the per-round locks; rounds sharing a stripe
// just serialize with each other.
const roundLockStripes = 64

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvents publishes committed state changes to p.
func WithEvents(p ports.EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// New wires an Engine. oracle and pricer may be nil when only the manual
// paths and token-A bets are used.
func New(
	params Params,
	ledger ports.Ledger,
	bank ports.TransferBackend,
	oracle ports.PriceOracle,
	pricer ports.TokenPricer,
	opts ...Option,
) *Engine {
	e := &Engine{
		params: params,
		ledger: ledger,
		bank:   bank,
		oracle: oracle,
		pricer: pricer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Params returns the engine parameters.
func (e *Engine) Params() Params {
	return e.params
}

// lockRound serializes mutations of one round. Callers never hold two
// round locks at once.
func (e *Engine) lockRound(id uint64) func() {
	mu := &e.rounds[id%roundLockStripes]
	mu.Lock()
	return mu.Unlock
}

// freshPrice reads the oracle and rejects stale or zero observations.
func (e *Engine) freshPrice(ctx context.Context) (uint64, error) {
	if e.oracle == nil {
		return 0, fmt.Errorf("engine: no price oracle configured: %w", domain.ErrStalePrice)
	}
	obs, err := e.oracle.GetPrice(ctx, e.params.Asset)
	if err != nil {
		return 0, fmt.Errorf("engine: oracle %s: %w", e.params.Asset, err)
	}
	now := e.now()
	if obs.IsStale(now, e.params.MaxPriceAge) {
		return 0, fmt.Errorf("%w: %s observation is %s old (max %s)",
			domain.ErrStalePrice, e.params.Asset, obs.Age(now).Truncate(time.Second), e.params.MaxPriceAge)
	}
	if obs.Price == 0 {
		return 0, domain.ErrInvalidPrice
	}
	return obs.Price, nil
}

// tokenPrice returns the scaled USD price used to normalize a stake in t.
func (e *Engine) tokenPrice(ctx context.Context, t domain.Token) (uint64, error) {
	if t == domain.TokenA {
		return 0, nil
	}
	if e.pricer == nil {
		return 0, fmt.Errorf("engine: no token pricer configured: %w", domain.ErrStalePrice)
	}
	p, err := e.pricer.TokenPrice(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("engine: token price %s: %w", t, err)
	}
	if p.IsStale(e.now(), e.params.TokenPriceMaxAge) {
		return 0, fmt.Errorf("%w: %s quote from %s", domain.ErrStalePrice, t, p.ObservedAt.UTC().Format(time.RFC3339))
	}
	if p.PriceScaled == 0 {
		return 0, domain.ErrInvalidPrice
	}
	return p.PriceScaled, nil
}

// requireAdmin loads the config and checks the caller against it.
func requireAdmin(ctx context.Context, tx ports.LedgerTx, caller string) (domain.Config, error) {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return domain.Config{}, err
	}
	if !cfg.IsAdmin(caller) {
		return domain.Config{}, domain.ErrUnauthorized
	}
	return cfg, nil
}

func (e *Engine) audit(ctx context.Context, tx ports.LedgerTx, action, actor string, roundID uint64, detail string) error {
	return tx.AddAudit(ctx, domain.AuditEntry{
		ID:      uuid.NewString(),
		Action:  action,
		Actor:   actor,
		RoundID: roundID,
		Detail:  detail,
		At:      e.now().UTC(),
	})
}

func (e *Engine) transfer(ctx context.Context, tx ports.LedgerTx, roundID uint64, from, to string, t domain.Token, amount uint64, memo string) error {
	return e.bank.Transfer(ctx, tx, domain.Transfer{
		ID:      uuid.NewString(),
		RoundID: roundID,
		From:    from,
		To:      to,
		Token:   t,
		Amount:  amount,
		Memo:    memo,
		At:      e.now().UTC(),
	})
}

// publish emits ev after commit. Failures are logged, never returned.
func (e *Engine) publish(ctx context.Context, typ domain.EventType, roundID uint64, user string, data map[string]any) {
	if e.events == nil {
		return
	}
	ev := domain.Event{
		ID:      uuid.NewString(),
		Type:    typ,
		RoundID: roundID,
		User:    user,
		Data:    data,
		At:      e.now().UTC(),
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed", "type", typ, "round_id", roundID, "err", err)
	}
}
