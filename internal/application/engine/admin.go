package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Initialize creates the program config. It can run exactly once.
func (e *Engine) Initialize(ctx context.Context, admin, treasuryA, treasuryB string) (domain.Config, error) {
	if admin == "" || treasuryA == "" || treasuryB == "" {
		return domain.Config{}, domain.ErrInvalidAccount
	}
	cfg := domain.Config{Admin: admin, TreasuryA: treasuryA, TreasuryB: treasuryB}

	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		_, err := tx.Config(ctx)
		switch {
		case err == nil:
			return domain.ErrAlreadyInitialized
		case !errors.Is(err, domain.ErrConfigNotFound):
			return err
		}
		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		return e.audit(ctx, tx, domain.AuditInitialize, admin, 0,
			fmt.Sprintf("treasury_a=%s treasury_b=%s", treasuryA, treasuryB))
	})
	if err != nil {
		return domain.Config{}, err
	}
	slog.Info("program initialized", "admin", admin)
	return cfg, nil
}

// SetAdmin hands the admin identity to newAdmin.
func (e *Engine) SetAdmin(ctx context.Context, caller, newAdmin string) (domain.Config, error) {
	if newAdmin == "" {
		return domain.Config{}, domain.ErrInvalidAccount
	}
	return e.updateConfig(ctx, caller, domain.AuditSetAdmin, "admin="+newAdmin, func(cfg *domain.Config) {
		cfg.Admin = newAdmin
	})
}

// SetTreasury changes the fee destination for token t.
func (e *Engine) SetTreasury(ctx context.Context, caller string, t domain.Token, account string) (domain.Config, error) {
	if !t.Valid() {
		return domain.Config{}, domain.ErrInvalidToken
	}
	if account == "" {
		return domain.Config{}, domain.ErrInvalidAccount
	}
	detail := fmt.Sprintf("token=%s treasury=%s", t, account)
	return e.updateConfig(ctx, caller, domain.AuditSetTreasury, detail, func(cfg *domain.Config) {
		if t == domain.TokenA {
			cfg.TreasuryA = account
		} else {
			cfg.TreasuryB = account
		}
	})
}

// SetPaused toggles the pause flag. While paused no round starts and no bet
// is accepted; resolution and claims keep working.
func (e *Engine) SetPaused(ctx context.Context, caller string, paused bool) (domain.Config, error) {
	cfg, err := e.updateConfig(ctx, caller, domain.AuditSetPaused, fmt.Sprintf("paused=%t", paused), func(cfg *domain.Config) {
		cfg.Paused = paused
	})
	if err == nil {
		slog.Warn("pause flag changed", "paused", paused, "by", caller)
	}
	return cfg, err
}

func (e *Engine) updateConfig(ctx context.Context, caller, action, detail string, mutate func(*domain.Config)) (domain.Config, error) {
	var out domain.Config
	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		cfg, err := requireAdmin(ctx, tx, caller)
		if err != nil {
			return err
		}
		mutate(&cfg)
		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		out = cfg
		return e.audit(ctx, tx, action, caller, 0, detail)
	})
	return out, err
}

// Credit mints amount of t into owner's account. It is the devnet faucet.
func (e *Engine) Credit(ctx context.Context, caller, owner string, t domain.Token, amount uint64) (uint64, error) {
	switch {
	case owner == "":
		return 0, domain.ErrInvalidAccount
	case !t.Valid():
		return 0, domain.ErrInvalidToken
	case amount == 0:
		return 0, domain.ErrInvalidAmount
	}

	var balance uint64
	err := e.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		if _, err := requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		if err := e.transfer(ctx, tx, 0, "", owner, t, amount, "credit"); err != nil {
			return err
		}
		var err error
		if balance, err = tx.Balance(ctx, owner, t); err != nil {
			return err
		}
		return e.audit(ctx, tx, domain.AuditCredit, caller, 0, fmt.Sprintf("owner=%s token=%s amount=%d", owner, t, amount))
	})
	if err != nil {
		return 0, err
	}
	slog.Debug("account credited", "owner", owner, "token", t, "amount", amount)
	return balance, nil
}
