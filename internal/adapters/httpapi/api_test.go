package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/updown/internal/adapters/httpapi"
	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/engine"
	"github.com/alejandrodnm/updown/internal/application/keeper"
	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin      = "admin"
	adminToken = "s3cret"
	usdc       = domain.UnitsPerToken
	roundLen   = 180 * time.Second
)

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

type env struct {
	clock *clock
	eng   *engine.Engine
	srv   *httptest.Server
}

// newEnv runs roundd's router over an in-memory ledger. There is no oracle,
// so the oracle paths always answer StalePrice.
func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := storage.NewSQLiteLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := &clock{t: time.Unix(1_700_000_000, 0)}
	eng := engine.New(engine.DefaultParams(), db, storage.NewBank(c.Now), nil, nil, engine.WithClock(c.Now))
	_, err = eng.Initialize(context.Background(), admin, "treasury-usdc", "treasury-urim")
	require.NoError(t, err)

	r := httpapi.NewRouter(httpapi.RouterConfig{Admin: admin, AdminToken: adminToken, Now: c.Now}, eng)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{clock: c, eng: eng, srv: srv}
}

func (e *env) client(caller string) *httpapi.Client {
	return httpapi.NewClient(httpapi.ClientConfig{
		BaseURL:    e.srv.URL,
		AdminToken: adminToken,
		Caller:     caller,
		RetryWait:  time.Millisecond,
	})
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, method, url string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutesRequireBearer(t *testing.T) {
	e := newEnv(t)
	url := e.srv.URL + "/api/v1/admin/pause"

	status, _ := call(t, http.MethodPost, url, map[string]bool{"paused": true}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, http.MethodPost, url, map[string]bool{"paused": true},
		map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := call(t, http.MethodPost, url, map[string]bool{"paused": true},
		map[string]string{"Authorization": "Bearer " + adminToken})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, body.Code)

	cfg, err := e.eng.GetConfig(context.Background())
	require.NoError(t, err)
	assert.True(t, cfg.Paused)
}

func TestErrorEnvelopeCarriesDomainCode(t *testing.T) {
	e := newEnv(t)

	status, body := call(t, http.MethodGet, e.srv.URL+"/api/v1/rounds/current", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "RoundNotFound", body.Error)

	status, _ = call(t, http.MethodGet, e.srv.URL+"/api/v1/rounds/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// oracle path without an oracle
	status, body = call(t, http.MethodPost, e.srv.URL+"/api/v1/admin/rounds",
		map[string]int{"duration_seconds": 180}, map[string]string{"Authorization": "Bearer " + adminToken})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "StalePrice", body.Error)
}

func TestClient_FullRound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ops := e.client("")
	alice, bob := e.client("alice"), e.client("bob")

	_, err := ops.Credit(ctx, "alice", domain.TokenA, 200*usdc)
	require.NoError(t, err)
	_, err = ops.Credit(ctx, "bob", domain.TokenA, 400*usdc)
	require.NoError(t, err)

	r, err := ops.StartRoundManual(ctx, roundLen, 15000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.RoundID)

	_, err = alice.PlaceBet(ctx, r.RoundID, 100*usdc, domain.SideUp, domain.TokenA)
	require.NoError(t, err)
	_, err = bob.PlaceBet(ctx, r.RoundID, 300*usdc, domain.SideDown, domain.TokenA)
	require.NoError(t, err)

	_, payout, projected, err := ops.Quote(ctx, r.RoundID, "alice")
	require.NoError(t, err)
	assert.True(t, projected)
	assert.Equal(t, uint64(400*usdc), payout.Of(domain.TokenA))

	_, err = ops.ResolveRoundManual(ctx, r.RoundID, 15100)
	assert.ErrorIs(t, err, domain.ErrRoundNotEnded)
	assert.Equal(t, domain.KindTiming, domain.KindOf(err))

	e.clock.Advance(roundLen + time.Second)
	r, err = ops.ResolveRoundManual(ctx, r.RoundID, 15100)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUp, r.Outcome)

	res, err := alice.Claim(ctx, r.RoundID, "all")
	require.NoError(t, err)
	assert.Equal(t, uint64(400*usdc), res.Paid.Of(domain.TokenA))

	_, err = bob.Claim(ctx, r.RoundID, "usdc")
	assert.ErrorIs(t, err, domain.ErrNoPayout)

	sweep, err := ops.CollectFees(ctx, r.RoundID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*usdc), sweep.Collected.Of(domain.TokenA))

	vaults, err := ops.VaultBalances(ctx, r.RoundID)
	require.NoError(t, err)
	assert.True(t, vaults.IsZero())

	bal, err := ops.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(499_500_000), bal.Of(domain.TokenA))

	bets, err := ops.ListBets(ctx, r.RoundID)
	require.NoError(t, err)
	assert.Len(t, bets, 2)

	audit, err := ops.AuditLog(ctx, r.RoundID)
	require.NoError(t, err)
	var actions []string
	for _, a := range audit {
		actions = append(actions, a.Action)
	}
	assert.Contains(t, actions, domain.AuditResolveRound)
	assert.Contains(t, actions, domain.AuditCollectFees)
}

func TestClient_BetRejectionsRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ops, carol := e.client(""), e.client("carol")

	_, err := ops.Credit(ctx, "carol", domain.TokenA, 10*usdc)
	require.NoError(t, err)
	r, err := ops.StartRoundManual(ctx, roundLen, 15000)
	require.NoError(t, err)

	_, err = carol.PlaceBet(ctx, r.RoundID, usdc/2, domain.SideUp, domain.TokenA)
	assert.ErrorIs(t, err, domain.ErrBetTooSmall)

	_, err = carol.PlaceBet(ctx, r.RoundID, usdc, domain.SideUp, domain.TokenA)
	require.NoError(t, err)
	_, err = carol.PlaceBet(ctx, r.RoundID, usdc, domain.SideDown, domain.TokenA)
	assert.ErrorIs(t, err, domain.ErrCannotSwitchSides)

	// no pricer configured: URIM bets cannot be valued
	_, err = carol.PlaceBet(ctx, r.RoundID, usdc, domain.SideUp, domain.TokenB)
	assert.ErrorIs(t, err, domain.ErrStalePrice)

	_, err = ops.StartRoundManual(ctx, roundLen, 15000)
	assert.ErrorIs(t, err, domain.ErrRoundAlreadyActive)
}

func TestClient_EmergencyAndAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ops, dave := e.client(""), e.client("dave")

	_, err := ops.Credit(ctx, "dave", domain.TokenA, 50*usdc)
	require.NoError(t, err)
	r, err := ops.StartRoundManual(ctx, roundLen, 15000)
	require.NoError(t, err)
	_, err = dave.PlaceBet(ctx, r.RoundID, 10*usdc, domain.SideDown, domain.TokenA)
	require.NoError(t, err)

	r, err = ops.EmergencyResolve(ctx, r.RoundID, 14000, domain.OutcomeDraw)
	require.NoError(t, err)
	assert.True(t, r.EmergencyResolved)
	assert.Equal(t, domain.OutcomeDraw, r.Outcome)

	swept, err := ops.EmergencyWithdraw(ctx, r.RoundID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10*usdc+50_000), swept.Of(domain.TokenA))

	_, err = dave.Claim(ctx, r.RoundID, "")
	assert.ErrorIs(t, err, domain.ErrVaultWithdrawn)

	cfg, err := ops.SetTreasury(ctx, domain.TokenB, "new-urim")
	require.NoError(t, err)
	assert.Equal(t, "new-urim", cfg.TreasuryB)

	cfg, err = ops.SetPaused(ctx, true)
	require.NoError(t, err)
	assert.True(t, cfg.Paused)

	got, err := ops.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got.Admin)
	assert.Equal(t, uint64(1), got.CurrentRoundID)
}

func TestClient_RetriesIdempotentRequestsOnly(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := gets.Load()
		if r.Method == http.MethodPost {
			posts.Add(1)
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"code":502,"message":"bad gateway"}`))
			return
		}
		gets.Add(1)
		if n < 2 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"code":502,"message":"bad gateway"}`))
			return
		}
		w.Write([]byte(`{"code":0,"message":"ok","data":{"round_id":4,"outcome":"Pending","locked_price":100}}`))
	}))
	defer srv.Close()

	c := httpapi.NewClient(httpapi.ClientConfig{BaseURL: srv.URL, RetryWait: time.Millisecond})
	r, err := c.CurrentRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), r.RoundID)
	assert.Equal(t, int32(3), gets.Load())

	_, err = c.CollectFees(context.Background(), 4)
	assert.Error(t, err)
	assert.Equal(t, int32(1), posts.Load())
}

// A keeper driving roundd remotely, falling back to its own oracle.
func TestKeeper_OverHTTP(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	oracle := &staticOracle{clock: e.clock, price: 15000}

	k := keeper.New(keeper.Config{RoundDuration: roundLen, Asset: "SOL/USD", FallbackMaxAge: time.Minute},
		e.client(""), oracle, nil, keeper.WithClock(e.clock.Now))

	tick := k.Tick(ctx)
	require.NoError(t, tick.Err)
	assert.Equal(t, domain.KeeperStarted, tick.Action)
	assert.True(t, tick.Manual)

	e.clock.Advance(roundLen + time.Second)
	oracle.price = 14900
	tick = k.Tick(ctx)
	k.Wait()
	require.NoError(t, tick.Err)
	assert.Equal(t, domain.KeeperResolved, tick.Action)

	r0, err := e.eng.GetRound(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDown, r0.Outcome)
	assert.True(t, r0.FeesCollected)
}

type staticOracle struct {
	clock *clock
	price uint64
}

func (o *staticOracle) GetPrice(_ context.Context, asset string) (domain.PriceObservation, error) {
	return domain.PriceObservation{Asset: asset, Price: o.price, ObservedAt: o.clock.Now()}, nil
}
