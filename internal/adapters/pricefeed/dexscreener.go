package pricefeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/shopspring/decimal"
)

var _ ports.TokenPricer = (*Client)(nil)

// dexPairResponse es la respuesta de /latest/dex/pairs/{chain}/{pair}.
type dexPairResponse struct {
	Pair *dexPair `json:"pair"`
}

type dexPair struct {
	PairAddress string `json:"pairAddress"`
	PriceUsd    string `json:"priceUsd"`
	BaseToken   struct {
		Symbol string `json:"symbol"`
	} `json:"baseToken"`
}

var errNoPair = errors.New("pair missing from DexScreener response")

// TokenPrice devuelve el precio USD de token escalado por 1e8.
// USDC está anclado a $1. La cotización de URIM se cachea CacheTTL.
func (c *Client) TokenPrice(ctx context.Context, token domain.Token) (domain.TokenPrice, error) {
	switch token {
	case domain.TokenA:
		return domain.TokenPrice{Token: token, PriceScaled: domain.PriceScale, ObservedAt: c.now()}, nil
	case domain.TokenB:
	default:
		return domain.TokenPrice{}, domain.ErrInvalidToken
	}

	if q, ok := c.cached(c.cfg.URIMPair); ok {
		return domain.TokenPrice{Token: token, PriceScaled: q.priceScaled, ObservedAt: q.fetchedAt}, nil
	}

	if c.cfg.URIMPair == "" {
		return domain.TokenPrice{}, fmt.Errorf("pricefeed.TokenPrice: no DexScreener pair configured for %s", token)
	}
	endpoint := fmt.Sprintf("%s/latest/dex/pairs/%s/%s", c.cfg.DexScreenerURL, c.cfg.Chain, c.cfg.URIMPair)

	var resp dexPairResponse
	if err := c.get(ctx, c.dexLim, endpoint, &resp); err != nil {
		return domain.TokenPrice{}, fmt.Errorf("pricefeed.TokenPrice %s: %w", token, err)
	}
	if resp.Pair == nil || resp.Pair.PriceUsd == "" {
		return domain.TokenPrice{}, fmt.Errorf("pricefeed.TokenPrice %s: %w", token, errNoPair)
	}

	scaled, err := scalePrice(resp.Pair.PriceUsd)
	if err != nil {
		return domain.TokenPrice{}, fmt.Errorf("pricefeed.TokenPrice %s: %w", token, err)
	}

	fetched := c.now()
	c.mu.Lock()
	c.cache[c.cfg.URIMPair] = cachedQuote{priceScaled: scaled, fetchedAt: fetched}
	c.mu.Unlock()

	return domain.TokenPrice{Token: token, PriceScaled: scaled, ObservedAt: fetched}, nil
}

func (c *Client) cached(pair string) (cachedQuote, bool) {
	if c.cfg.CacheTTL <= 0 {
		return cachedQuote{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.cache[pair]
	if !ok || c.now().Sub(q.fetchedAt) > c.cfg.CacheTTL {
		return cachedQuote{}, false
	}
	return q, true
}

// scalePrice convierte "0.00001251" en 1251.
func scalePrice(priceUsd string) (uint64, error) {
	d, err := decimal.NewFromString(priceUsd)
	if err != nil {
		return 0, fmt.Errorf("parse priceUsd %q: %w", priceUsd, err)
	}
	scaled := d.Shift(8).Round(0)
	if !scaled.IsPositive() {
		return 0, fmt.Errorf("price %s rounds to zero at 1e-8 precision", priceUsd)
	}
	return scaled.BigInt().Uint64(), nil
}
