package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// BetRequest is a stake of Amount native units of Token on Side.
type BetRequest struct {
	RoundID uint64
	User    string
	Amount  uint64
	Side    domain.Side
	Token   domain.Token
}

func (r BetRequest) validate() error {
	switch {
	case r.User == "":
		return domain.ErrInvalidAccount
	case r.Amount == 0:
		return domain.ErrInvalidAmount
	case !r.Side.Valid():
		return domain.ErrInvalidSide
	case !r.Token.Valid():
		return domain.ErrInvalidToken
	}
	return nil
}

// PlaceBet books a stake in an open round. The user is debited Amount plus
// the fee; only Amount enters the pools.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) (domain.Bet, error) {
	if err := req.validate(); err != nil {
		return domain.Bet{}, err
	}

	price, err := e.tokenPrice(ctx, req.Token)
	if err != nil {
		return domain.Bet{}, err
	}
	usd, err := domain.USDValue(req.Token, req.Amount, price)
	if err != nil {
		return domain.Bet{}, err
	}
	if usd < e.params.MinBetUSD {
		return domain.Bet{}, domain.ErrBetTooSmall
	}
	fee, err := domain.Fee(req.Amount, e.params.FeeBps)
	if err != nil {
		return domain.Bet{}, err
	}
	feeUSD, err := domain.USDValue(req.Token, fee, price)
	if err != nil {
		return domain.Bet{}, err
	}
	debit, err := domain.CheckedAdd(req.Amount, fee)
	if err != nil {
		return domain.Bet{}, err
	}

	unlock := e.lockRound(req.RoundID)
	defer unlock()

	var bet domain.Bet
	err = e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return domain.ErrPaused
		}
		r, err := tx.Round(ctx, req.RoundID)
		if err != nil {
			return err
		}
		if r.Withdrawn {
			return domain.ErrVaultWithdrawn
		}
		now := e.now()
		if !r.IsOpen(now) {
			return domain.ErrRoundEnded
		}

		bet, err = tx.Bet(ctx, req.RoundID, req.User)
		switch {
		case errors.Is(err, domain.ErrBetNotFound):
			bet = domain.Bet{
				User:      req.User,
				RoundID:   req.RoundID,
				Amount:    req.Amount,
				USDValue:  usd,
				Side:      req.Side,
				Token:     req.Token,
				CreatedAt: now.Unix(),
				UpdatedAt: now.Unix(),
			}
		case err != nil:
			return err
		case bet.Side != req.Side:
			return domain.ErrCannotSwitchSides
		case bet.Token != req.Token:
			return domain.ErrTokenMismatch
		default:
			if err := bet.TopUp(req.Amount, usd, now.Unix()); err != nil {
				return err
			}
		}

		if err := r.AddStake(req.Side, req.Token, req.Amount, usd, fee, feeUSD); err != nil {
			return err
		}
		if err := e.transfer(ctx, tx, r.RoundID, req.User, r.Vault(req.Token), req.Token, debit, "bet"); err != nil {
			return err
		}
		if err := tx.SaveRound(ctx, r); err != nil {
			return err
		}
		return tx.SaveBet(ctx, bet)
	})
	if err != nil {
		return domain.Bet{}, err
	}

	slog.Debug("bet placed",
		"round_id", req.RoundID,
		"user", req.User,
		"side", req.Side,
		"token", req.Token,
		"amount", req.Amount,
		"usd_cents", usd,
		"fee", fee,
	)
	e.publish(ctx, domain.EventBetPlaced, req.RoundID, req.User, map[string]any{
		"side":      req.Side.String(),
		"token":     req.Token.String(),
		"amount":    req.Amount,
		"usd_cents": usd,
		"fee":       fee,
	})
	return bet, nil
}
