package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/engine"
	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin     = "admin"
	treasuryA = "treasury-usdc"
	treasuryB = "treasury-urim"
	usdc      = domain.UnitsPerToken
	urim      = domain.UnitsPerToken
	roundLen  = 180 * time.Second
)

// --- fakes ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeOracle struct {
	clock *fakeClock
	mu    sync.Mutex
	price uint64
	age   time.Duration
	err   error
	calls int
}

func (o *fakeOracle) set(price uint64, age time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price, o.age = price, age
}

func (o *fakeOracle) GetPrice(_ context.Context, asset string) (domain.PriceObservation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return domain.PriceObservation{}, o.err
	}
	return domain.PriceObservation{Asset: asset, Price: o.price, ObservedAt: o.clock.Now().Add(-o.age)}, nil
}

type fakePricer struct {
	clock *fakeClock
	price uint64
	age   time.Duration
}

func (p *fakePricer) TokenPrice(_ context.Context, t domain.Token) (domain.TokenPrice, error) {
	return domain.TokenPrice{Token: t, PriceScaled: p.price, ObservedAt: p.clock.Now().Add(-p.age)}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// flakyBank fails claim transfers of one token while armed.
type flakyBank struct {
	inner ports.TransferBackend
	token domain.Token
	armed atomic.Bool
}

var errBankDown = errors.New("bank down")

func (b *flakyBank) Transfer(ctx context.Context, tx ports.LedgerTx, t domain.Transfer) error {
	if b.armed.Load() && t.Memo == "claim" && t.Token == b.token {
		return errBankDown
	}
	return b.inner.Transfer(ctx, tx, t)
}

// --- harness ---

type harness struct {
	eng    *engine.Engine
	db     *storage.SQLiteLedger
	clock  *fakeClock
	oracle *fakeOracle
	pricer *fakePricer
	events *recorder
	bank   *flakyBank
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.NewSQLiteLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	h := &harness{
		db:     db,
		clock:  clock,
		oracle: &fakeOracle{clock: clock, price: 15000},
		pricer: &fakePricer{clock: clock, price: 5_000_000}, // $0.05
		events: &recorder{},
	}
	h.bank = &flakyBank{inner: storage.NewBank(clock.Now), token: domain.TokenB}
	h.eng = engine.New(engine.DefaultParams(), db, h.bank, h.oracle, h.pricer,
		engine.WithClock(clock.Now),
		engine.WithEvents(h.events),
	)

	ctx := context.Background()
	_, err = h.eng.Initialize(ctx, admin, treasuryA, treasuryB)
	require.NoError(t, err)
	return h
}

func (h *harness) fund(t *testing.T, user string, a, b uint64) {
	t.Helper()
	ctx := context.Background()
	if a > 0 {
		_, err := h.eng.Credit(ctx, admin, user, domain.TokenA, a)
		require.NoError(t, err)
	}
	if b > 0 {
		_, err := h.eng.Credit(ctx, admin, user, domain.TokenB, b)
		require.NoError(t, err)
	}
}

func (h *harness) start(t *testing.T, price uint64) domain.Round {
	t.Helper()
	r, err := h.eng.StartRoundManual(context.Background(), admin, roundLen, price)
	require.NoError(t, err)
	return r
}

func (h *harness) bet(t *testing.T, roundID uint64, user string, side domain.Side, token domain.Token, amount uint64) domain.Bet {
	t.Helper()
	b, err := h.eng.PlaceBet(context.Background(), engine.BetRequest{
		RoundID: roundID, User: user, Amount: amount, Side: side, Token: token,
	})
	require.NoError(t, err)
	return b
}

func (h *harness) resolve(t *testing.T, roundID, price uint64) domain.Round {
	t.Helper()
	h.clock.Advance(roundLen + time.Second)
	r, err := h.eng.ResolveRoundManual(context.Background(), admin, roundID, price)
	require.NoError(t, err)
	return r
}

func (h *harness) balance(t *testing.T, owner string) domain.TokenAmounts {
	t.Helper()
	b, err := h.eng.Balance(context.Background(), owner)
	require.NoError(t, err)
	return b
}

// --- lifecycle ---

func TestInitialize_OnlyOnce(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.Initialize(context.Background(), "other", "a", "b")
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	cfg, err := h.eng.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, admin, cfg.Admin)
	assert.Equal(t, uint64(0), cfg.CurrentRoundID)
}

func TestStartRound_IncrementsCounterAndRejectsWhileOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r0 := h.start(t, 15000)
	assert.Equal(t, uint64(0), r0.RoundID)
	assert.Equal(t, h.clock.Now().Unix()+180, r0.EndTime)
	assert.True(t, r0.UpPool.IsZero())

	_, err := h.eng.StartRoundManual(ctx, admin, roundLen, 15000)
	assert.ErrorIs(t, err, domain.ErrRoundAlreadyActive)

	// an expired but unresolved round does not block the next one
	h.clock.Advance(roundLen)
	r1 := h.start(t, 15100)
	assert.Equal(t, uint64(1), r1.RoundID)

	cur, err := h.eng.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur.RoundID)
}

func TestStartRound_OraclePath(t *testing.T) {
	h := newHarness(t)
	h.oracle.set(14250, 5*time.Second)

	r, err := h.eng.StartRound(context.Background(), admin, roundLen)
	require.NoError(t, err)
	assert.Equal(t, uint64(14250), r.LockedPrice)
}

func TestStalenessFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.oracle.set(15000, 2*time.Minute)

	_, err := h.eng.StartRound(ctx, admin, roundLen)
	require.ErrorIs(t, err, domain.ErrStalePrice)
	assert.Equal(t, domain.KindStaleness, domain.KindOf(err))

	r := h.start(t, 15000)

	h.clock.Advance(roundLen)
	_, err = h.eng.ResolveRound(ctx, admin, r.RoundID)
	require.ErrorIs(t, err, domain.ErrStalePrice)

	got, err := h.eng.GetRound(ctx, r.RoundID)
	require.NoError(t, err)
	assert.False(t, got.Resolved, "a stale price must never resolve a round")

	got, err = h.eng.ResolveRoundManual(ctx, admin, r.RoundID, 14900)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDown, got.Outcome)
}

func TestResolveRound_TimingAndIdempotence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.start(t, 15000)

	_, err := h.eng.ResolveRound(ctx, admin, r.RoundID)
	require.ErrorIs(t, err, domain.ErrRoundNotEnded)
	assert.Zero(t, h.oracle.calls, "timing is checked before the oracle is queried")

	_, err = h.eng.ResolveRoundManual(ctx, admin, r.RoundID, 15000)
	require.ErrorIs(t, err, domain.ErrRoundNotEnded)

	got := h.resolve(t, r.RoundID, 15000)
	assert.Equal(t, domain.OutcomeDraw, got.Outcome)
	assert.Equal(t, uint64(15000), got.FinalPrice)

	_, err = h.eng.ResolveRoundManual(ctx, admin, r.RoundID, 16000)
	assert.ErrorIs(t, err, domain.ErrRoundAlreadyResolved)
}

func TestAdminOnlyOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.start(t, 15000)

	_, err := h.eng.StartRoundManual(ctx, "mallory", roundLen, 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.ResolveRoundManual(ctx, "mallory", r.RoundID, 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.EmergencyResolve(ctx, "mallory", r.RoundID, 1, domain.OutcomeUp)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.EmergencyWithdraw(ctx, "mallory", r.RoundID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.Credit(ctx, "mallory", "mallory", domain.TokenA, 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.SetPaused(ctx, "", true)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestSetAdminAndTreasury(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cfg, err := h.eng.SetTreasury(ctx, admin, domain.TokenB, "new-urim-treasury")
	require.NoError(t, err)
	assert.Equal(t, "new-urim-treasury", cfg.Treasury(domain.TokenB))

	_, err = h.eng.SetAdmin(ctx, admin, "ops")
	require.NoError(t, err)
	_, err = h.eng.SetPaused(ctx, admin, true)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.SetPaused(ctx, "ops", true)
	assert.NoError(t, err)
}

func TestPaused_BlocksStartAndBets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "alice", 100*usdc, 0)
	r := h.start(t, 15000)

	_, err := h.eng.SetPaused(ctx, admin, true)
	require.NoError(t, err)

	_, err = h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 10 * usdc, Side: domain.SideUp, Token: domain.TokenA})
	assert.ErrorIs(t, err, domain.ErrPaused)

	h.clock.Advance(roundLen)
	_, err = h.eng.StartRoundManual(ctx, admin, roundLen, 15000)
	assert.ErrorIs(t, err, domain.ErrPaused)

	// resolution keeps working while paused
	_, err = h.eng.ResolveRoundManual(ctx, admin, r.RoundID, 15000)
	assert.NoError(t, err)
}

// --- bets ---

func TestPlaceBet_FeeOnTop(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", 1000*usdc, 0)
	r := h.start(t, 15000)

	b := h.bet(t, r.RoundID, "alice", domain.SideUp, domain.TokenA, 100*usdc)
	assert.Equal(t, uint64(100*usdc), b.Amount)
	assert.Equal(t, uint64(10_000), b.USDValue)

	got, err := h.eng.GetRound(context.Background(), r.RoundID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*usdc), got.UpPool[domain.TokenA])
	assert.Equal(t, uint64(10_000), got.UpPoolUSD)
	assert.Equal(t, uint64(500_000), got.TotalFees[domain.TokenA])
	assert.Equal(t, uint64(50), got.TotalFeesUSD)

	assert.Equal(t, uint64(899_500_000), h.balance(t, "alice")[domain.TokenA])
	vault, err := h.eng.VaultBalances(context.Background(), r.RoundID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_500_000), vault[domain.TokenA])
}

func TestPlaceBet_BetTooSmall(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", 10*usdc, 1_000*urim)
	r := h.start(t, 15000)
	ctx := context.Background()

	_, err := h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 990_000, Side: domain.SideUp, Token: domain.TokenA})
	assert.ErrorIs(t, err, domain.ErrBetTooSmall)

	// 19 URIM at $0.05 = $0.95
	_, err = h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 19 * urim, Side: domain.SideUp, Token: domain.TokenB})
	assert.ErrorIs(t, err, domain.ErrBetTooSmall)

	h.bet(t, r.RoundID, "alice", domain.SideUp, domain.TokenB, 20*urim)
}

func TestPlaceBet_SideExclusivityAndTopUp(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", 1000*usdc, 1000*urim)
	r := h.start(t, 15000)
	ctx := context.Background()

	h.bet(t, r.RoundID, "alice", domain.SideUp, domain.TokenA, 10*usdc)

	_, err := h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 10 * usdc, Side: domain.SideDown, Token: domain.TokenA})
	assert.ErrorIs(t, err, domain.ErrCannotSwitchSides)

	_, err = h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 100 * urim, Side: domain.SideUp, Token: domain.TokenB})
	assert.ErrorIs(t, err, domain.ErrTokenMismatch)

	b := h.bet(t, r.RoundID, "alice", domain.SideUp, domain.TokenA, 15*usdc)
	assert.Equal(t, uint64(25*usdc), b.Amount)
	assert.Equal(t, uint64(2500), b.USDValue)

	got, err := h.eng.GetRound(ctx, r.RoundID)
	require.NoError(t, err)
	assert.Zero(t, got.DownPoolUSD)
	assert.Equal(t, uint64(2500), got.UpPoolUSD)
}

func TestPlaceBet_RejectedOutsideOpenWindow(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", 1000*usdc, 0)
	ctx := context.Background()

	_, err := h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: 0, User: "alice", Amount: 10 * usdc, Side: domain.SideUp, Token: domain.TokenA})
	assert.ErrorIs(t, err, domain.ErrRoundNotFound)

	r := h.start(t, 15000)
	h.clock.Advance(roundLen)
	_, err = h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 10 * usdc, Side: domain.SideUp, Token: domain.TokenA})
	assert.ErrorIs(t, err, domain.ErrRoundEnded)
}

func TestPlaceBet_InsufficientFundsLeavesRoundUntouched(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", 10*usdc, 0)
	r := h.start(t, 15000)
	ctx := context.Background()

	// 10 USDC stake needs 10.05 with the fee
	_, err := h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 10 * usdc, Side: domain.SideUp, Token: domain.TokenA})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	got, err := h.eng.GetRound(ctx, r.RoundID)
	require.NoError(t, err)
	assert.True(t, got.UpPool.IsZero())
	_, err = h.eng.GetBet(ctx, r.RoundID, "alice")
	assert.ErrorIs(t, err, domain.ErrBetNotFound)
}

func TestPlaceBet_StaleTokenPrice(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", 0, 1000*urim)
	h.pricer.age = time.Hour
	r := h.start(t, 15000)

	_, err := h.eng.PlaceBet(context.Background(), engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 100 * urim, Side: domain.SideUp, Token: domain.TokenB})
	assert.ErrorIs(t, err, domain.ErrStalePrice)
}

func TestPlaceBet_ConcurrentConservesFunds(t *testing.T) {
	h := newHarness(t)
	r := h.start(t, 15000)
	ctx := context.Background()

	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for _, u := range users {
		h.fund(t, u, 1000*usdc, 0)
	}

	var wg sync.WaitGroup
	for i, u := range users {
		for n := 0; n < 5; n++ {
			wg.Add(1)
			go func(u string, side domain.Side) {
				defer wg.Done()
				_, err := h.eng.PlaceBet(ctx, engine.BetRequest{RoundID: r.RoundID, User: u, Amount: 2 * usdc, Side: side, Token: domain.TokenA})
				assert.NoError(t, err)
			}(u, domain.Side(i%2+1))
		}
	}
	wg.Wait()

	got, err := h.eng.GetRound(ctx, r.RoundID)
	require.NoError(t, err)
	staked := got.UpPool[domain.TokenA] + got.DownPool[domain.TokenA]
	assert.Equal(t, uint64(len(users)*5*2*usdc), staked)
	assert.Equal(t, uint64(len(users)*5*2*100), got.TotalUSD())

	vault, err := h.eng.VaultBalances(ctx, r.RoundID)
	require.NoError(t, err)
	assert.Equal(t, staked+got.TotalFees[domain.TokenA], vault[domain.TokenA])

	bets, err := h.eng.ListBets(ctx, r.RoundID)
	require.NoError(t, err)
	assert.Len(t, bets, len(users))
}

// --- events and operator ---

func TestEventsPublishedAfterCommit(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", 100*usdc, 0)
	r := h.start(t, 15000)
	h.bet(t, r.RoundID, "alice", domain.SideUp, domain.TokenA, 10*usdc)

	_, err := h.eng.PlaceBet(context.Background(), engine.BetRequest{RoundID: r.RoundID, User: "alice", Amount: 10 * usdc, Side: domain.SideDown, Token: domain.TokenA})
	require.Error(t, err)

	h.resolve(t, r.RoundID, 15001)
	_, err = h.eng.ClaimAll(context.Background(), "alice", r.RoundID)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.EventRoundStarted,
		domain.EventBetPlaced,
		domain.EventRoundResolved,
		domain.EventClaimPaid,
	}, h.events.types())
}

func TestOperator_ActsAsAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := engine.NewOperator(h.eng, admin)

	_, err := op.CurrentRound(ctx)
	assert.ErrorIs(t, err, domain.ErrRoundNotFound)

	r, err := op.StartRound(ctx, roundLen)
	require.NoError(t, err)

	h.clock.Advance(roundLen)
	resolved, err := op.ResolveRound(ctx, r.RoundID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDraw, resolved.Outcome)

	sweep, err := op.CollectFees(ctx, r.RoundID)
	require.NoError(t, err)
	assert.True(t, sweep.Collected.IsZero())

	rounds, err := op.ListRounds(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rounds, 1)

	stranger := engine.NewOperator(h.eng, "nobody")
	_, err = stranger.StartRoundManual(ctx, roundLen, 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
