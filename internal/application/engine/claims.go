package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// feeSweeper is recorded as the actor of permissionless fee sweeps.
const feeSweeper = "fee-sweeper"

// Claim pays the USDC side of a resolved bet.
func (e *Engine) Claim(ctx context.Context, user string, roundID uint64) (domain.ClaimResult, error) {
	return e.claim(ctx, user, roundID, domain.TokenA)
}

// ClaimUrim pays the URIM side of a resolved bet.
func (e *Engine) ClaimUrim(ctx context.Context, user string, roundID uint64) (domain.ClaimResult, error) {
	return e.claim(ctx, user, roundID, domain.TokenB)
}

// ClaimAll pays every token not yet claimed in one transaction. Either both
// transfers and both flags commit or nothing does.
func (e *Engine) ClaimAll(ctx context.Context, user string, roundID uint64) (domain.ClaimResult, error) {
	return e.claim(ctx, user, roundID, domain.Tokens[:]...)
}

func (e *Engine) claim(ctx context.Context, user string, roundID uint64, tokens ...domain.Token) (domain.ClaimResult, error) {
	if user == "" {
		return domain.ClaimResult{}, domain.ErrInvalidAccount
	}

	unlock := e.lockRound(roundID)
	defer unlock()

	res := domain.ClaimResult{RoundID: roundID, User: user}
	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		r, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		if !r.Resolved {
			return domain.ErrRoundNotResolved
		}
		if r.Withdrawn {
			return domain.ErrVaultWithdrawn
		}
		bet, err := tx.Bet(ctx, roundID, user)
		if err != nil {
			return err
		}
		payout, err := domain.ComputePayout(r, bet)
		if err != nil {
			return err
		}

		var pending []domain.Token
		var total uint64
		for _, t := range tokens {
			if bet.Claimed(t) {
				continue
			}
			pending = append(pending, t)
			if total, err = domain.CheckedAdd(total, payout[t]); err != nil {
				return err
			}
		}
		if len(pending) == 0 {
			return domain.ErrAlreadyClaimed
		}
		if total == 0 {
			return domain.ErrNoPayout
		}

		for _, t := range pending {
			if amount := payout[t]; amount > 0 {
				if err := e.transfer(ctx, tx, roundID, r.Vault(t), user, t, amount, "claim"); err != nil {
					return fmt.Errorf("engine.claim: pay %s: %w", t, err)
				}
				res.Paid[t] = amount
			}
			bet.MarkClaimed(t)
		}
		return tx.SaveBet(ctx, bet)
	})
	if err != nil {
		return domain.ClaimResult{}, err
	}

	slog.Info("claim paid",
		"round_id", roundID,
		"user", user,
		"usdc", res.Paid[domain.TokenA],
		"urim", res.Paid[domain.TokenB],
	)
	e.publish(ctx, domain.EventClaimPaid, roundID, user, map[string]any{
		"usdc": res.Paid[domain.TokenA],
		"urim": res.Paid[domain.TokenB],
	})
	return res, nil
}

// CollectFees moves a resolved round's fees to the treasuries, together with
// the rounding dust: whatever the vault holds beyond the payouts still owed
// to unclaimed bets. Anyone may call it; after the first sweep further calls
// are no-ops.
func (e *Engine) CollectFees(ctx context.Context, roundID uint64) (domain.FeeSweep, error) {
	unlock := e.lockRound(roundID)
	defer unlock()

	sweep := domain.FeeSweep{RoundID: roundID}
	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		r, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		if !r.Resolved {
			return domain.ErrRoundNotResolved
		}
		// a withdrawn vault already sent the fees to the treasury
		if r.FeesCollected || r.Withdrawn {
			sweep.AlreadyCollected = true
			return nil
		}

		owed, err := outstandingPayouts(ctx, tx, r)
		if err != nil {
			return err
		}
		for _, t := range domain.Tokens {
			bal, err := tx.Balance(ctx, r.Vault(t), t)
			if err != nil {
				return err
			}
			if bal < owed[t] {
				return fmt.Errorf("engine.CollectFees: %s vault holds %d, owes %d: %w",
					t, bal, owed[t], domain.ErrInsufficientFunds)
			}
			// fees plus floor dust
			excess := bal - owed[t]
			if excess == 0 {
				continue
			}
			if err := e.transfer(ctx, tx, roundID, r.Vault(t), cfg.Treasury(t), t, excess, "fees"); err != nil {
				return fmt.Errorf("engine.CollectFees: sweep %s: %w", t, err)
			}
			sweep.Collected[t] = excess
		}
		r.FeesCollected = true
		if err := tx.SaveRound(ctx, r); err != nil {
			return err
		}
		return e.audit(ctx, tx, domain.AuditCollectFees, feeSweeper, roundID,
			fmt.Sprintf("usdc=%d urim=%d", sweep.Collected[domain.TokenA], sweep.Collected[domain.TokenB]))
	})
	if err != nil {
		return domain.FeeSweep{}, err
	}
	if sweep.AlreadyCollected {
		slog.Debug("fees already collected", "round_id", roundID)
		return sweep, nil
	}

	slog.Info("fees collected",
		"round_id", roundID,
		"usdc", sweep.Collected[domain.TokenA],
		"urim", sweep.Collected[domain.TokenB],
	)
	e.publish(ctx, domain.EventFeesCollected, roundID, "", map[string]any{
		"usdc": sweep.Collected[domain.TokenA],
		"urim": sweep.Collected[domain.TokenB],
	})
	return sweep, nil
}

// outstandingPayouts sums what r's vaults still owe, per token, to bets that
// have not claimed that token yet.
func outstandingPayouts(ctx context.Context, tx ports.LedgerTx, r domain.Round) (domain.TokenAmounts, error) {
	var owed domain.TokenAmounts
	bets, err := tx.ListBets(ctx, r.RoundID)
	if err != nil {
		return owed, err
	}
	for _, b := range bets {
		payout, err := domain.ComputePayout(r, b)
		if err != nil {
			return owed, err
		}
		for _, t := range domain.Tokens {
			if b.Claimed(t) {
				continue
			}
			if owed[t], err = domain.CheckedAdd(owed[t], payout[t]); err != nil {
				return owed, err
			}
		}
	}
	return owed, nil
}
