package engine

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Quote is a bet together with what it pays. Before resolution Payout is the
// projection assuming the bet's side wins with the current pools.
type Quote struct {
	Bet       domain.Bet
	Payout    domain.TokenAmounts
	Projected bool
}

// GetConfig returns the program config.
func (e *Engine) GetConfig(ctx context.Context) (domain.Config, error) {
	var cfg domain.Config
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		cfg, err = tx.Config(ctx)
		return err
	})
	return cfg, err
}

func (e *Engine) GetRound(ctx context.Context, id uint64) (domain.Round, error) {
	var r domain.Round
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		r, err = tx.Round(ctx, id)
		return err
	})
	return r, err
}

// CurrentRound returns the most recently created round.
func (e *Engine) CurrentRound(ctx context.Context) (domain.Round, error) {
	var r domain.Round
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		id, ok := cfg.LatestRoundID()
		if !ok {
			return domain.ErrRoundNotFound
		}
		r, err = tx.Round(ctx, id)
		return err
	})
	return r, err
}

func (e *Engine) ListRounds(ctx context.Context, limit int) ([]domain.Round, error) {
	var out []domain.Round
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		out, err = tx.ListRounds(ctx, limit)
		return err
	})
	return out, err
}

func (e *Engine) GetBet(ctx context.Context, roundID uint64, user string) (domain.Bet, error) {
	var b domain.Bet
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		b, err = tx.Bet(ctx, roundID, user)
		return err
	})
	return b, err
}

// ListBets returns every bet of a round, failing for unknown rounds.
func (e *Engine) ListBets(ctx context.Context, roundID uint64) ([]domain.Bet, error) {
	var out []domain.Bet
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.Round(ctx, roundID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListBets(ctx, roundID)
		return err
	})
	return out, err
}

// Quote returns the bet of user in a round and its payout.
func (e *Engine) Quote(ctx context.Context, roundID uint64, user string) (Quote, error) {
	var q Quote
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		r, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		if q.Bet, err = tx.Bet(ctx, roundID, user); err != nil {
			return err
		}
		if r.Resolved {
			q.Payout, err = domain.ComputePayout(r, q.Bet)
			return err
		}
		q.Projected = true
		q.Payout, err = domain.ProjectPayout(r, q.Bet)
		return err
	})
	return q, err
}

// VaultBalances returns what the round's vaults hold right now.
func (e *Engine) VaultBalances(ctx context.Context, roundID uint64) (domain.TokenAmounts, error) {
	var out domain.TokenAmounts
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		r, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		for _, t := range domain.Tokens {
			if out[t], err = tx.Balance(ctx, r.Vault(t), t); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Balance returns the bank holdings of owner.
func (e *Engine) Balance(ctx context.Context, owner string) (domain.TokenAmounts, error) {
	if owner == "" {
		return domain.TokenAmounts{}, domain.ErrInvalidAccount
	}
	var out domain.TokenAmounts
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		for _, t := range domain.Tokens {
			var err error
			if out[t], err = tx.Balance(ctx, owner, t); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// AuditLog returns the admin actions recorded against a round.
func (e *Engine) AuditLog(ctx context.Context, roundID uint64) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		out, err = tx.AuditLog(ctx, roundID)
		return err
	})
	return out, err
}

// Ready reports whether the ledger is reachable.
func (e *Engine) Ready(ctx context.Context) error {
	return e.ledger.Ping(ctx)
}
