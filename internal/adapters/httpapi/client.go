package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/updown/internal/domain"
)

const (
	clientRatePerSec = 5
	maxRetries       = 3
	baseRetryWait    = 500 * time.Millisecond
)

// ClientConfig configura el Client.
type ClientConfig struct {
	BaseURL    string
	AdminToken string
	Caller     string // X-Caller de las rutas públicas
	Timeout    time.Duration
	RetryWait  time.Duration
}

// Client habla con roundd por HTTP. Implementa ports.RoundOperator para el
// keeper remoto y expone el resto de operaciones para roundctl.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	limiter *rate.Limiter
}

// NewClient crea un Client a partir de cfg.
func NewClient(cfg ClientConfig) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = baseRetryWait
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(clientRatePerSec, 5),
	}
}

// --- ports.RoundOperator ---

func (c *Client) CurrentRound(ctx context.Context) (domain.Round, error) {
	return c.getRound(ctx, "/api/v1/rounds/current")
}

func (c *Client) ListRounds(ctx context.Context, limit int) ([]domain.Round, error) {
	var dtos []RoundDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/rounds?limit="+strconv.Itoa(limit), nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.Round, 0, len(dtos))
	for _, d := range dtos {
		r, err := d.toDomain()
		if err != nil {
			return nil, fmt.Errorf("httpapi.ListRounds: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) StartRound(ctx context.Context, duration time.Duration) (domain.Round, error) {
	return c.postRound(ctx, "/api/v1/admin/rounds", startRequest{DurationSeconds: seconds(duration)})
}

func (c *Client) StartRoundManual(ctx context.Context, duration time.Duration, price uint64) (domain.Round, error) {
	return c.postRound(ctx, "/api/v1/admin/rounds", startRequest{DurationSeconds: seconds(duration), Price: &price})
}

func (c *Client) ResolveRound(ctx context.Context, roundID uint64) (domain.Round, error) {
	return c.postRound(ctx, roundPath(roundID, "/resolve", true), resolveRequest{})
}

func (c *Client) ResolveRoundManual(ctx context.Context, roundID, price uint64) (domain.Round, error) {
	return c.postRound(ctx, roundPath(roundID, "/resolve", true), resolveRequest{Price: &price})
}

func (c *Client) CollectFees(ctx context.Context, roundID uint64) (domain.FeeSweep, error) {
	var d FeeSweepDTO
	if err := c.do(ctx, http.MethodPost, roundPath(roundID, "/fees", false), nil, &d); err != nil {
		return domain.FeeSweep{}, err
	}
	return d.toDomain(), nil
}

// --- lecturas ---

func (c *Client) GetConfig(ctx context.Context) (domain.Config, error) {
	var d ConfigDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/config", nil, &d); err != nil {
		return domain.Config{}, err
	}
	return d.toDomain(), nil
}

func (c *Client) GetRound(ctx context.Context, roundID uint64) (domain.Round, error) {
	return c.getRound(ctx, roundPath(roundID, "", false))
}

func (c *Client) ListBets(ctx context.Context, roundID uint64) ([]domain.Bet, error) {
	var dtos []BetDTO
	if err := c.do(ctx, http.MethodGet, roundPath(roundID, "/bets", false), nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.Bet, 0, len(dtos))
	for _, d := range dtos {
		b, err := d.toDomain()
		if err != nil {
			return nil, fmt.Errorf("httpapi.ListBets: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Quote devuelve la apuesta de user y lo que paga (proyectado si la ronda
// no está resuelta).
func (c *Client) Quote(ctx context.Context, roundID uint64, user string) (domain.Bet, domain.TokenAmounts, bool, error) {
	var d QuoteDTO
	if err := c.do(ctx, http.MethodGet, roundPath(roundID, "/bets/"+url.PathEscape(user), false), nil, &d); err != nil {
		return domain.Bet{}, domain.TokenAmounts{}, false, err
	}
	b, err := d.Bet.toDomain()
	if err != nil {
		return domain.Bet{}, domain.TokenAmounts{}, false, fmt.Errorf("httpapi.Quote: %w", err)
	}
	return b, d.Payout.toDomain(), d.Projected, nil
}

func (c *Client) VaultBalances(ctx context.Context, roundID uint64) (domain.TokenAmounts, error) {
	var d Amounts
	if err := c.do(ctx, http.MethodGet, roundPath(roundID, "/vaults", false), nil, &d); err != nil {
		return domain.TokenAmounts{}, err
	}
	return d.toDomain(), nil
}

func (c *Client) Balance(ctx context.Context, owner string) (domain.TokenAmounts, error) {
	var d Amounts
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(owner), nil, &d); err != nil {
		return domain.TokenAmounts{}, err
	}
	return d.toDomain(), nil
}

func (c *Client) AuditLog(ctx context.Context, roundID uint64) ([]domain.AuditEntry, error) {
	var dtos []AuditDTO
	if err := c.do(ctx, http.MethodGet, roundPath(roundID, "/audit", true), nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(dtos))
	for _, d := range dtos {
		at, _ := time.Parse(time.RFC3339, d.At)
		out = append(out, domain.AuditEntry{ID: d.ID, Action: d.Action, Actor: d.Actor, RoundID: d.RoundID, Detail: d.Detail, At: at})
	}
	return out, nil
}

// --- acciones de usuario (como cfg.Caller) ---

func (c *Client) PlaceBet(ctx context.Context, roundID, amount uint64, side domain.Side, token domain.Token) (domain.Bet, error) {
	var d BetDTO
	body := betRequest{Amount: amount, Side: side.String(), Token: token.String()}
	if err := c.do(ctx, http.MethodPost, roundPath(roundID, "/bets", false), body, &d); err != nil {
		return domain.Bet{}, err
	}
	return d.toDomain()
}

// Claim cobra token ("usdc", "urim" o "all") de la apuesta de cfg.Caller.
func (c *Client) Claim(ctx context.Context, roundID uint64, token string) (domain.ClaimResult, error) {
	var d ClaimDTO
	if err := c.do(ctx, http.MethodPost, roundPath(roundID, "/claims", false), claimRequest{Token: token}, &d); err != nil {
		return domain.ClaimResult{}, err
	}
	return domain.ClaimResult{RoundID: d.RoundID, User: d.User, Paid: d.Paid.toDomain()}, nil
}

// --- admin ---

func (c *Client) EmergencyResolve(ctx context.Context, roundID, price uint64, outcome domain.Outcome) (domain.Round, error) {
	return c.postRound(ctx, roundPath(roundID, "/emergency-resolve", true),
		emergencyResolveRequest{Price: price, Outcome: outcome.String()})
}

func (c *Client) EmergencyWithdraw(ctx context.Context, roundID uint64) (domain.TokenAmounts, error) {
	var d Amounts
	if err := c.do(ctx, http.MethodPost, roundPath(roundID, "/emergency-withdraw", true), nil, &d); err != nil {
		return domain.TokenAmounts{}, err
	}
	return d.toDomain(), nil
}

func (c *Client) SetPaused(ctx context.Context, paused bool) (domain.Config, error) {
	var d ConfigDTO
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/pause", pauseRequest{Paused: paused}, &d); err != nil {
		return domain.Config{}, err
	}
	return d.toDomain(), nil
}

func (c *Client) SetTreasury(ctx context.Context, token domain.Token, account string) (domain.Config, error) {
	var d ConfigDTO
	body := treasuryRequest{Token: token.String(), Account: account}
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/treasury", body, &d); err != nil {
		return domain.Config{}, err
	}
	return d.toDomain(), nil
}

func (c *Client) Credit(ctx context.Context, owner string, token domain.Token, amount uint64) (uint64, error) {
	var d creditResponse
	body := creditRequest{Owner: owner, Token: token.String(), Amount: amount}
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/credit", body, &d); err != nil {
		return 0, err
	}
	return d.Balance, nil
}

// --- transporte ---

func (c *Client) getRound(ctx context.Context, path string) (domain.Round, error) {
	var d RoundDTO
	if err := c.do(ctx, http.MethodGet, path, nil, &d); err != nil {
		return domain.Round{}, err
	}
	return d.toDomain()
}

func (c *Client) postRound(ctx context.Context, path string, body any) (domain.Round, error) {
	var d RoundDTO
	if err := c.do(ctx, http.MethodPost, path, body, &d); err != nil {
		return domain.Round{}, err
	}
	return d.toDomain()
}

// do envía la request y decodifica el envelope. Los rechazos del engine se
// devuelven envolviendo el sentinel de domain para que errors.Is funcione
// del lado del cliente.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("httpapi: encode %s %s: %w", method, path, err)
		}
	}

	build := func() (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.cfg.Caller != "" {
			req.Header.Set(CallerHeader, c.cfg.Caller)
		}
		if c.cfg.AdminToken != "" && strings.HasPrefix(path, "/api/v1/admin/") {
			req.Header.Set("Authorization", "Bearer "+c.cfg.AdminToken)
		}
		return req, nil
	}

	resp, err := c.doWithRetry(ctx, method == http.MethodGet, build)
	if err != nil {
		return fmt.Errorf("httpapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return fmt.Errorf("httpapi: %s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		if de := domain.LookupError(env.Error); de != nil {
			return fmt.Errorf("httpapi: %s %s: %w", method, path, de)
		}
		return fmt.Errorf("httpapi: %s %s: status %d: %s", method, path, resp.StatusCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("httpapi: %s %s: decode data: %w", method, path, err)
	}
	return nil
}

// doWithRetry reintenta con backoff exponencial los fallos de transporte y
// los 5xx sin código de dominio. Solo las requests idempotentes se
// reintentan; un POST se envía una vez.
func (c *Client) doWithRetry(ctx context.Context, idempotent bool, build func() (*http.Request, error)) (*http.Response, error) {
	attempts := 0
	if idempotent {
		attempts = maxRetries
	}
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt >= attempts {
				return nil, fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout
		if retryable && attempt < attempts {
			resp.Body.Close()
			slog.Warn("roundd unavailable, retrying", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}
		return resp, nil
	}
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.RetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func roundPath(id uint64, suffix string, admin bool) string {
	base := "/api/v1/rounds/"
	if admin {
		base = "/api/v1/admin/rounds/"
	}
	return base + strconv.FormatUint(id, 10) + suffix
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
