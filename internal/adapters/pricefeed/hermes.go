package pricefeed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/shopspring/decimal"
)

var _ ports.PriceOracle = (*Client)(nil)

// hermesLatest es la respuesta de /v2/updates/price/latest con parsed=true.
type hermesLatest struct {
	Parsed []hermesFeed `json:"parsed"`
}

type hermesFeed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// GetPrice devuelve el último precio de asset en centavos.
// No valida antigüedad: eso lo decide quien llama.
func (c *Client) GetPrice(ctx context.Context, asset string) (domain.PriceObservation, error) {
	feedID, ok := c.cfg.Feeds[asset]
	if !ok {
		return domain.PriceObservation{}, fmt.Errorf("pricefeed.GetPrice: no Pyth feed configured for %q", asset)
	}

	q := url.Values{}
	q.Set("ids[]", feedID)
	q.Set("parsed", "true")
	endpoint := c.cfg.HermesURL + "/v2/updates/price/latest?" + q.Encode()

	var resp hermesLatest
	if err := c.get(ctx, c.hermesLim, endpoint, &resp); err != nil {
		return domain.PriceObservation{}, fmt.Errorf("pricefeed.GetPrice %s: %w", asset, err)
	}

	feed, err := pickFeed(resp.Parsed, feedID)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("pricefeed.GetPrice %s: %w", asset, err)
	}
	cents, err := toCents(feed.Price)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("pricefeed.GetPrice %s: %w", asset, err)
	}

	return domain.PriceObservation{
		Asset:      asset,
		Price:      cents,
		ObservedAt: time.Unix(feed.Price.PublishTime, 0).UTC(),
	}, nil
}

func pickFeed(feeds []hermesFeed, id string) (hermesFeed, error) {
	for _, f := range feeds {
		if strings.EqualFold(strings.TrimPrefix(f.ID, "0x"), strings.TrimPrefix(id, "0x")) {
			return f, nil
		}
	}
	if len(feeds) == 1 {
		return feeds[0], nil
	}
	return hermesFeed{}, fmt.Errorf("feed %s missing from response", id)
}

// toCents convierte price·10^expo dólares a centavos, redondeando al más cercano.
func toCents(p hermesPrice) (uint64, error) {
	raw, err := decimal.NewFromString(p.Price)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", p.Price, err)
	}
	cents := raw.Shift(p.Expo + 2).Round(0)
	if !cents.IsPositive() {
		return 0, fmt.Errorf("non-positive price %s", cents)
	}
	return cents.BigInt().Uint64(), nil
}
