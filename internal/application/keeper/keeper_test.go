package keeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/engine"
	"github.com/alejandrodnm/updown/internal/application/keeper"
	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeOperator keeps rounds in memory and can be told to answer StalePrice
// or to lose a resolution race.
type fakeOperator struct {
	clock *clock
	price uint64

	mu              sync.Mutex
	rounds          []domain.Round
	stale           bool
	raceResolve     bool
	failCurrent     error
	manualStarts    int
	manualResolves  int
	collected       []uint64
	collectFailures map[uint64]error
}

func (f *fakeOperator) CurrentRound(context.Context) (domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCurrent != nil {
		return domain.Round{}, f.failCurrent
	}
	if len(f.rounds) == 0 {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	return f.rounds[len(f.rounds)-1], nil
}

func (f *fakeOperator) ListRounds(_ context.Context, limit int) ([]domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Round
	for i := len(f.rounds) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.rounds[i])
	}
	return out, nil
}

func (f *fakeOperator) StartRound(ctx context.Context, d time.Duration) (domain.Round, error) {
	f.mu.Lock()
	stale := f.stale
	f.mu.Unlock()
	if stale {
		return domain.Round{}, domain.ErrStalePrice
	}
	return f.open(d, f.price)
}

func (f *fakeOperator) StartRoundManual(_ context.Context, d time.Duration, price uint64) (domain.Round, error) {
	f.mu.Lock()
	f.manualStarts++
	f.mu.Unlock()
	return f.open(d, price)
}

func (f *fakeOperator) open(d time.Duration, price uint64) (domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	if n := len(f.rounds); n > 0 && f.rounds[n-1].IsOpen(now) {
		return domain.Round{}, domain.ErrRoundAlreadyActive
	}
	r := domain.NewRound(uint64(len(f.rounds)), price, now, d)
	f.rounds = append(f.rounds, r)
	return r, nil
}

func (f *fakeOperator) ResolveRound(_ context.Context, id uint64) (domain.Round, error) {
	f.mu.Lock()
	stale := f.stale
	f.mu.Unlock()
	if stale {
		return domain.Round{}, domain.ErrStalePrice
	}
	return f.settle(id, f.price)
}

func (f *fakeOperator) ResolveRoundManual(_ context.Context, id, price uint64) (domain.Round, error) {
	f.mu.Lock()
	f.manualResolves++
	f.mu.Unlock()
	return f.settle(id, price)
}

func (f *fakeOperator) settle(id, price uint64) (domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &f.rounds[id]
	if f.raceResolve {
		r.Resolve(price)
		return domain.Round{}, domain.ErrRoundAlreadyResolved
	}
	if r.Resolved {
		return domain.Round{}, domain.ErrRoundAlreadyResolved
	}
	if r.Withdrawn {
		return domain.Round{}, domain.ErrVaultWithdrawn
	}
	if r.IsOpen(f.clock.Now()) {
		return domain.Round{}, domain.ErrRoundNotEnded
	}
	r.Resolve(price)
	return *r, nil
}

func (f *fakeOperator) CollectFees(_ context.Context, id uint64) (domain.FeeSweep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.collectFailures[id]; err != nil {
		return domain.FeeSweep{}, err
	}
	r := &f.rounds[id]
	if r.FeesCollected {
		return domain.FeeSweep{RoundID: id, AlreadyCollected: true}, nil
	}
	r.FeesCollected = true
	f.collected = append(f.collected, id)
	return domain.FeeSweep{RoundID: id}, nil
}

type fixedOracle struct {
	clock *clock
	price uint64
	age   time.Duration
	err   error
}

func (o *fixedOracle) GetPrice(_ context.Context, asset string) (domain.PriceObservation, error) {
	if o.err != nil {
		return domain.PriceObservation{}, o.err
	}
	return domain.PriceObservation{Asset: asset, Price: o.price, ObservedAt: o.clock.Now().Add(-o.age)}, nil
}

type tickRecorder struct {
	mu    sync.Mutex
	ticks []domain.KeeperTick
}

func (r *tickRecorder) NotifyTick(_ context.Context, t domain.KeeperTick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, t)
	return nil
}

func setup() (*clock, *fakeOperator, *fixedOracle, *keeper.Keeper) {
	c := &clock{t: t0}
	op := &fakeOperator{clock: c, price: 15000}
	oracle := &fixedOracle{clock: c, price: 14800}
	k := keeper.New(keeper.Config{
		RoundDuration:  180 * time.Second,
		Asset:          "SOL/USD",
		FallbackMaxAge: time.Minute,
	}, op, oracle, nil, keeper.WithClock(c.Now))
	return c, op, oracle, k
}

func TestTick_StartsFirstRound(t *testing.T) {
	_, op, _, k := setup()

	tick := k.Tick(context.Background())
	require.NoError(t, tick.Err)
	assert.Equal(t, domain.KeeperStarted, tick.Action)
	require.NotNil(t, tick.Started)
	assert.Equal(t, uint64(15000), tick.Started.LockedPrice)
	assert.Len(t, op.rounds, 1)
}

func TestTick_WaitsWhileOpen(t *testing.T) {
	c, op, _, k := setup()
	k.Tick(context.Background())
	c.Advance(30 * time.Second)

	tick := k.Tick(context.Background())
	require.NoError(t, tick.Err)
	assert.Equal(t, domain.KeeperWaiting, tick.Action)
	assert.Nil(t, tick.Started)
	assert.Len(t, op.rounds, 1)
}

func TestTick_ResolvesExpiredAndStartsNext(t *testing.T) {
	c, op, _, k := setup()
	ctx := context.Background()
	k.Tick(ctx)
	c.Advance(181 * time.Second)

	tick := k.Tick(ctx)
	k.Wait()

	require.NoError(t, tick.Err)
	assert.Equal(t, domain.KeeperResolved, tick.Action)
	require.NotNil(t, tick.Round)
	assert.True(t, tick.Round.Resolved)
	require.NotNil(t, tick.Started)
	assert.Equal(t, uint64(1), tick.Started.RoundID)
	assert.Equal(t, []uint64{0}, op.collected, "fees collected after resolve")
	assert.False(t, tick.Manual)
}

func TestTick_StaleOracleFallsBackToManualPrice(t *testing.T) {
	c, op, _, k := setup()
	ctx := context.Background()
	op.stale = true

	tick := k.Tick(ctx)
	require.NoError(t, tick.Err)
	assert.True(t, tick.Manual)
	assert.Equal(t, uint64(14800), tick.Started.LockedPrice)

	c.Advance(181 * time.Second)
	tick = k.Tick(ctx)
	k.Wait()
	require.NoError(t, tick.Err)
	assert.Equal(t, 2, op.manualStarts)
	assert.Equal(t, 1, op.manualResolves)
	assert.Equal(t, domain.OutcomeDraw, op.rounds[0].Outcome)
}

func TestTick_StaleFallbackPriceIsNeverUsed(t *testing.T) {
	_, op, oracle, k := setup()
	op.stale = true
	oracle.age = 10 * time.Minute

	tick := k.Tick(context.Background())
	assert.Equal(t, domain.KeeperFailed, tick.Action)
	assert.ErrorIs(t, tick.Err, domain.ErrStalePrice)
	assert.Empty(t, op.rounds)
}

func TestTick_LostResolveRaceCountsAsSuccess(t *testing.T) {
	c, op, _, k := setup()
	ctx := context.Background()
	k.Tick(ctx)
	c.Advance(181 * time.Second)
	op.raceResolve = true

	tick := k.Tick(ctx)
	k.Wait()
	require.NoError(t, tick.Err)
	assert.Equal(t, domain.KeeperResolved, tick.Action)
	require.NotNil(t, tick.Started)
	assert.Empty(t, op.collected, "the winning keeper collects")
}

func TestTick_WithdrawnRoundIsSkipped(t *testing.T) {
	c, op, _, k := setup()
	ctx := context.Background()
	k.Tick(ctx)
	op.mu.Lock()
	op.rounds[0].Withdrawn = true
	op.mu.Unlock()
	c.Advance(181 * time.Second)

	tick := k.Tick(ctx)
	k.Wait()
	require.NoError(t, tick.Err)
	require.NotNil(t, tick.Started)
	assert.Equal(t, uint64(1), tick.Started.RoundID)
	assert.False(t, op.rounds[0].Resolved)
	assert.Empty(t, op.collected)
}

func TestTick_OperatorErrorIsReportedNotFatal(t *testing.T) {
	_, op, _, k := setup()
	op.failCurrent = errors.New("connection refused")

	tick := k.Tick(context.Background())
	assert.Equal(t, domain.KeeperFailed, tick.Action)
	assert.Error(t, tick.Err)

	op.failCurrent = nil
	tick = k.Tick(context.Background())
	assert.NoError(t, tick.Err)
	assert.Equal(t, domain.KeeperStarted, tick.Action)
}

func TestSweepFees_OnlyResolvedUncollected(t *testing.T) {
	c, op, _, k := setup()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		k.Tick(ctx)
		c.Advance(181 * time.Second)
	}
	k.Wait()
	// rounds 0 and 1 were collected after resolve; forget round 1 and break round 0
	op.rounds[1].FeesCollected = false
	op.collectFailures = map[uint64]error{0: errors.New("boom")}
	op.rounds[0].FeesCollected = false

	n, err := k.SweepFees(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, op.rounds[1].FeesCollected)
	assert.False(t, op.rounds[2].FeesCollected, "open round is skipped")
}

func TestRun_OnceNotifies(t *testing.T) {
	c := &clock{t: t0}
	op := &fakeOperator{clock: c, price: 15000}
	rec := &tickRecorder{}
	k := keeper.New(keeper.Config{Once: true}, op, nil, rec, keeper.WithClock(c.Now))

	require.NoError(t, k.Run(context.Background()))
	require.Len(t, rec.ticks, 1)
	assert.Equal(t, domain.KeeperStarted, rec.ticks[0].Action)
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := &clock{t: t0}
	op := &fakeOperator{clock: c, price: 15000}
	k := keeper.New(keeper.Config{Interval: 5 * time.Millisecond, FeeSweepSpec: "@every 1h"}, op, nil, nil, keeper.WithClock(c.Now))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, k.Run(ctx))
}

func TestRun_BadCronSpec(t *testing.T) {
	c := &clock{t: t0}
	k := keeper.New(keeper.Config{FeeSweepSpec: "not a spec"}, &fakeOperator{clock: c}, nil, nil)
	assert.Error(t, k.Run(context.Background()))
}

// The keeper driving a real engine through the in-process operator.
func TestKeeper_DrivesEngine(t *testing.T) {
	db, err := storage.NewSQLiteLedger(":memory:")
	require.NoError(t, err)
	defer db.Close()

	c := &clock{t: t0}
	engineOracle := &fixedOracle{clock: c, price: 15000, age: 5 * time.Minute} // always stale
	keeperOracle := &fixedOracle{clock: c, price: 15200}

	eng := engine.New(engine.DefaultParams(), db, storage.NewBank(c.Now), engineOracle, nil, engine.WithClock(c.Now))
	ctx := context.Background()
	_, err = eng.Initialize(ctx, "admin", "t-usdc", "t-urim")
	require.NoError(t, err)

	k := keeper.New(keeper.Config{RoundDuration: 180 * time.Second, Asset: "SOL/USD", FallbackMaxAge: time.Minute},
		engine.NewOperator(eng, "admin"), keeperOracle, nil, keeper.WithClock(c.Now))

	tick := k.Tick(ctx)
	require.NoError(t, tick.Err)
	assert.True(t, tick.Manual)

	c.Advance(181 * time.Second)
	keeperOracle.price = 15300
	tick = k.Tick(ctx)
	k.Wait()
	require.NoError(t, tick.Err)

	r0, err := eng.GetRound(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUp, r0.Outcome)
	assert.True(t, r0.FeesCollected)

	cur, err := eng.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur.RoundID)
	assert.Equal(t, uint64(15300), cur.LockedPrice)
}
