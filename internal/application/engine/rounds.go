package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// StartRound opens a new round locked at the current oracle price.
// A stale observation fails with domain.ErrStalePrice; callers fall back to
// StartRoundManual.
func (e *Engine) StartRound(ctx context.Context, caller string, duration time.Duration) (domain.Round, error) {
	if err := e.checkStartable(ctx, caller, duration); err != nil {
		return domain.Round{}, err
	}
	price, err := e.freshPrice(ctx)
	if err != nil {
		return domain.Round{}, err
	}
	return e.startRound(ctx, caller, duration, price, false)
}

// StartRoundManual opens a new round locked at an admin-supplied price in cents.
func (e *Engine) StartRoundManual(ctx context.Context, caller string, duration time.Duration, price uint64) (domain.Round, error) {
	if price == 0 {
		return domain.Round{}, domain.ErrInvalidPrice
	}
	if duration < time.Second {
		return domain.Round{}, domain.ErrInvalidDuration
	}
	return e.startRound(ctx, caller, duration, price, true)
}

// checkStartable runs the cheap rejections before the oracle is queried.
func (e *Engine) checkStartable(ctx context.Context, caller string, duration time.Duration) error {
	if duration < time.Second {
		return domain.ErrInvalidDuration
	}
	return e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		cfg, err := requireAdmin(ctx, tx, caller)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return domain.ErrPaused
		}
		return ensureNoOpenRound(ctx, tx, cfg, e.now())
	})
}

// ensureNoOpenRound only looks at the latest round: an expired but
// unresolved round does not block a new one.
func ensureNoOpenRound(ctx context.Context, tx ports.LedgerTx, cfg domain.Config, now time.Time) error {
	latest, ok := cfg.LatestRoundID()
	if !ok {
		return nil
	}
	r, err := tx.Round(ctx, latest)
	if err != nil {
		return err
	}
	if r.IsOpen(now) {
		return fmt.Errorf("%w: round %d ends in %ds", domain.ErrRoundAlreadyActive, r.RoundID, r.SecondsLeft(now))
	}
	return nil
}

func (e *Engine) startRound(ctx context.Context, caller string, duration time.Duration, price uint64, manual bool) (domain.Round, error) {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	var round domain.Round
	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		cfg, err := requireAdmin(ctx, tx, caller)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return domain.ErrPaused
		}
		now := e.now()
		if err := ensureNoOpenRound(ctx, tx, cfg, now); err != nil {
			return err
		}

		round = domain.NewRound(cfg.CurrentRoundID, price, now, duration)
		if err := tx.SaveRound(ctx, round); err != nil {
			return err
		}
		cfg.CurrentRoundID++
		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		return e.audit(ctx, tx, domain.AuditStartRound, caller, round.RoundID,
			fmt.Sprintf("price=%d duration=%s manual=%t", price, duration, manual))
	})
	if err != nil {
		return domain.Round{}, err
	}

	slog.Info("round started",
		"round_id", round.RoundID,
		"locked_price", round.LockedPrice,
		"end_time", time.Unix(round.EndTime, 0).UTC(),
		"manual", manual,
	)
	e.publish(ctx, domain.EventRoundStarted, round.RoundID, "", map[string]any{
		"locked_price": round.LockedPrice,
		"end_time":     round.EndTime,
		"manual":       manual,
	})
	return round, nil
}

// ResolveRound settles an expired round at the current oracle price.
func (e *Engine) ResolveRound(ctx context.Context, caller string, roundID uint64) (domain.Round, error) {
	if err := e.checkResolvable(ctx, caller, roundID); err != nil {
		return domain.Round{}, err
	}
	price, err := e.freshPrice(ctx)
	if err != nil {
		return domain.Round{}, err
	}
	return e.resolveRound(ctx, caller, roundID, price, true)
}

// ResolveRoundManual settles an expired round at an admin-supplied price.
func (e *Engine) ResolveRoundManual(ctx context.Context, caller string, roundID, price uint64) (domain.Round, error) {
	if price == 0 {
		return domain.Round{}, domain.ErrInvalidPrice
	}
	return e.resolveRound(ctx, caller, roundID, price, false)
}

func (e *Engine) checkResolvable(ctx context.Context, caller string, roundID uint64) error {
	return e.ledger.View(ctx, func(tx ports.LedgerTx) error {
		if _, err := requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		r, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		return resolvable(r, e.now())
	})
}

// resolvable rejects withdrawn rounds: there is nothing left to settle.
// EmergencyResolve still accepts them.
func resolvable(r domain.Round, now time.Time) error {
	if r.Withdrawn && !r.Resolved {
		return domain.ErrVaultWithdrawn
	}
	switch r.State(now) {
	case domain.StateResolved:
		return domain.ErrRoundAlreadyResolved
	case domain.StateOpen:
		return fmt.Errorf("%w: round %d ends in %ds", domain.ErrRoundNotEnded, r.RoundID, r.SecondsLeft(now))
	}
	return nil
}

func (e *Engine) resolveRound(ctx context.Context, caller string, roundID, price uint64, viaOracle bool) (domain.Round, error) {
	unlock := e.lockRound(roundID)
	defer unlock()

	var round domain.Round
	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		if _, err := requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		r, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		if err := resolvable(r, e.now()); err != nil {
			return err
		}
		r.Resolve(price)
		if err := tx.SaveRound(ctx, r); err != nil {
			return err
		}
		round = r
		return e.audit(ctx, tx, domain.AuditResolveRound, caller, roundID,
			fmt.Sprintf("final_price=%d outcome=%s oracle=%t", price, r.Outcome, viaOracle))
	})
	if err != nil {
		return domain.Round{}, err
	}

	slog.Info("round resolved",
		"round_id", roundID,
		"locked_price", round.LockedPrice,
		"final_price", round.FinalPrice,
		"outcome", round.Outcome,
		"up_usd", round.UpPoolUSD,
		"down_usd", round.DownPoolUSD,
	)
	e.publish(ctx, domain.EventRoundResolved, roundID, "", map[string]any{
		"final_price": round.FinalPrice,
		"outcome":     round.Outcome.String(),
	})
	return round, nil
}

// EmergencyResolve forces an outcome without waiting for the round to expire.
func (e *Engine) EmergencyResolve(ctx context.Context, caller string, roundID, price uint64, outcome domain.Outcome) (domain.Round, error) {
	if outcome == domain.OutcomePending || outcome > domain.OutcomeDraw {
		return domain.Round{}, domain.ErrInvalidOutcome
	}
	if price == 0 {
		return domain.Round{}, domain.ErrInvalidPrice
	}

	unlock := e.lockRound(roundID)
	defer unlock()

	var round domain.Round
	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		if _, err := requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		r, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		if r.Resolved {
			return domain.ErrRoundAlreadyResolved
		}
		r.ForceResolve(price, outcome)
		if err := tx.SaveRound(ctx, r); err != nil {
			return err
		}
		round = r
		return e.audit(ctx, tx, domain.AuditEmergencyResolve, caller, roundID,
			fmt.Sprintf("final_price=%d forced_outcome=%s", price, outcome))
	})
	if err != nil {
		return domain.Round{}, err
	}

	slog.Warn("round emergency-resolved",
		"round_id", roundID,
		"final_price", price,
		"outcome", outcome,
		"by", caller,
	)
	e.publish(ctx, domain.EventRoundEmergencyResolved, roundID, "", map[string]any{
		"final_price": price,
		"outcome":     outcome.String(),
	})
	return round, nil
}

// EmergencyWithdraw sweeps both vaults of a round to the treasuries. Claims
// on the round fail with domain.ErrVaultWithdrawn afterwards.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller string, roundID uint64) (domain.TokenAmounts, error) {
	unlock := e.lockRound(roundID)
	defer unlock()

	var swept domain.TokenAmounts
	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		cfg, err := requireAdmin(ctx, tx, caller)
		if err != nil {
			return err
		}
		r, err := tx.Round(ctx, roundID)
		if err != nil {
			return err
		}
		if r.Withdrawn {
			return domain.ErrVaultWithdrawn
		}
		for _, t := range domain.Tokens {
			bal, err := tx.Balance(ctx, r.Vault(t), t)
			if err != nil {
				return err
			}
			if bal == 0 {
				continue
			}
			if err := e.transfer(ctx, tx, roundID, r.Vault(t), cfg.Treasury(t), t, bal, "emergency_withdraw"); err != nil {
				return err
			}
			swept[t] = bal
		}
		r.Withdrawn = true
		if err := tx.SaveRound(ctx, r); err != nil {
			return err
		}
		return e.audit(ctx, tx, domain.AuditEmergencyWithdraw, caller, roundID,
			fmt.Sprintf("usdc=%d urim=%d", swept[domain.TokenA], swept[domain.TokenB]))
	})
	if err != nil {
		return domain.TokenAmounts{}, err
	}

	slog.Warn("round vault emergency-withdrawn",
		"round_id", roundID,
		"usdc", swept[domain.TokenA],
		"urim", swept[domain.TokenB],
		"by", caller,
	)
	e.publish(ctx, domain.EventVaultWithdrawn, roundID, "", map[string]any{
		"usdc": swept[domain.TokenA],
		"urim": swept[domain.TokenB],
	})
	return swept, nil
}
