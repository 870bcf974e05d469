package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultHermesBase      = "https://hermes.pyth.network"
	defaultDexScreenerBase = "https://api.dexscreener.com"

	// SOL/USD en Pyth.
	DefaultSOLFeedID = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

	// Hermes público: 30 req/10s por IP → usamos ~60%.
	hermesRatePerSec = 2
	// DexScreener pairs: 300 req/min → 60% → 3/s.
	dexRatePerSec = 3

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config configura el Client. Los campos vacíos usan los valores de producción.
type Config struct {
	HermesURL      string
	DexScreenerURL string
	Feeds          map[string]string // asset → Pyth feed id
	Chain          string            // chain de DexScreener, "solana" por defecto
	URIMPair       string            // par URIM en DexScreener
	Timeout        time.Duration
	CacheTTL       time.Duration // cuánto se reutiliza una cotización de token
	RetryWait      time.Duration
}

// Client es el HTTP client de Hermes y DexScreener con rate limiting y retries.
// Implementa ports.PriceOracle y ports.TokenPricer.
type Client struct {
	http      *http.Client
	cfg       Config
	hermesLim *rate.Limiter
	dexLim    *rate.Limiter
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	priceScaled uint64
	fetchedAt   time.Time
}

// NewClient crea un Client a partir de cfg.
func NewClient(cfg Config) *Client {
	if cfg.HermesURL == "" {
		cfg.HermesURL = defaultHermesBase
	}
	if cfg.DexScreenerURL == "" {
		cfg.DexScreenerURL = defaultDexScreenerBase
	}
	if cfg.Chain == "" {
		cfg.Chain = "solana"
	}
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = map[string]string{"SOL/USD": DefaultSOLFeedID}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = baseRetryWait
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg,
		hermesLim: rate.NewLimiter(hermesRatePerSec, 3),
		dexLim:    rate.NewLimiter(dexRatePerSec, 3),
		now:       time.Now,
		cache:     make(map[string]cachedQuote),
	}
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial. Solo reintenta
// fallos de transporte, 429 y 5xx; un 4xx se devuelve al momento.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by price API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.RetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
