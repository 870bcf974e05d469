package storage

// bank.go — banco de vaults: saldos por cuenta/token, journal de
// transferencias y log de auditoría. Los movimientos viven dentro de la
// misma transacción que el cambio de estado que los provoca.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/google/uuid"
)

// ─── Balances y transferencias ───────────────────────────────────────────────

func (t *sqliteTx) Balance(ctx context.Context, account string, token domain.Token) (uint64, error) {
	var amount int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account = ? AND token = ?`, account, int(token),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage.Balance %s/%s: %w", account, token, err)
	}
	return uint64(amount), nil
}

func (t *sqliteTx) setBalance(ctx context.Context, account string, token domain.Token, amount uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (account, token, amount) VALUES (?, ?, ?)
		ON CONFLICT(account, token) DO UPDATE SET amount = excluded.amount`,
		account, int(token), i64(amount),
	)
	if err != nil {
		return fmt.Errorf("storage.setBalance %s/%s: %w", account, token, err)
	}
	return nil
}

// Move debita From, acredita To y registra la transferencia en el journal.
func (t *sqliteTx) Move(ctx context.Context, tr domain.Transfer) error {
	if tr.From != "" {
		bal, err := t.Balance(ctx, tr.From, tr.Token)
		if err != nil {
			return err
		}
		rest, err := domain.CheckedSub(bal, tr.Amount)
		if err != nil {
			return fmt.Errorf("storage.Move %s → %s %d %s: %w", tr.From, tr.To, tr.Amount, tr.Token, err)
		}
		if err := t.setBalance(ctx, tr.From, tr.Token, rest); err != nil {
			return err
		}
	}

	bal, err := t.Balance(ctx, tr.To, tr.Token)
	if err != nil {
		return err
	}
	sum, err := domain.CheckedAdd(bal, tr.Amount)
	if err != nil {
		return fmt.Errorf("storage.Move → %s: %w", tr.To, err)
	}
	if err := t.setBalance(ctx, tr.To, tr.Token, sum); err != nil {
		return err
	}

	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO transfers (id, round_id, from_account, to_account, token, amount, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, i64(tr.RoundID), tr.From, tr.To, int(tr.Token), i64(tr.Amount), tr.Memo, utc(tr.At),
	)
	if err != nil {
		return fmt.Errorf("storage.Move: journal: %w", err)
	}
	return nil
}

func (t *sqliteTx) Transfers(ctx context.Context, roundID uint64) ([]domain.Transfer, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, round_id, from_account, to_account, token, amount, memo, created_at
		FROM transfers WHERE round_id = ? ORDER BY created_at, rowid`, i64(roundID))
	if err != nil {
		return nil, fmt.Errorf("storage.Transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		var (
			tr          domain.Transfer
			rid, amount int64
			token       int
		)
		if err := rows.Scan(&tr.ID, &rid, &tr.From, &tr.To, &token, &amount, &tr.Memo, &tr.At); err != nil {
			return nil, fmt.Errorf("storage.Transfers: scan: %w", err)
		}
		tr.RoundID = uint64(rid)
		tr.Token = domain.Token(token)
		tr.Amount = uint64(amount)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ─── Auditoría ───────────────────────────────────────────────────────────────

func (t *sqliteTx) AddAudit(ctx context.Context, e domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, actor, round_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Actor, i64(e.RoundID), e.Detail, utc(e.At),
	)
	if err != nil {
		return fmt.Errorf("storage.AddAudit %s: %w", e.Action, err)
	}
	return nil
}

func (t *sqliteTx) AuditLog(ctx context.Context, roundID uint64) ([]domain.AuditEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, action, actor, round_id, COALESCE(detail, ''), created_at
		FROM audit_log WHERE round_id = ? ORDER BY created_at, rowid`, i64(roundID))
	if err != nil {
		return nil, fmt.Errorf("storage.AuditLog: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e   domain.AuditEntry
			rid int64
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &rid, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("storage.AuditLog: scan: %w", err)
		}
		e.RoundID = uint64(rid)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Bank ────────────────────────────────────────────────────────────────────

// Bank es el TransferBackend por defecto: valida la transferencia y la
// aplica sobre los saldos del ledger.
type Bank struct {
	now func() time.Time
}

var _ ports.TransferBackend = (*Bank)(nil)

// NewBank crea un Bank que fecha las transferencias con el reloj dado.
func NewBank(now func() time.Time) *Bank {
	if now == nil {
		now = time.Now
	}
	return &Bank{now: now}
}

// Transfer mueve tokens entre cuentas dentro de tx.
func (b *Bank) Transfer(ctx context.Context, tx ports.LedgerTx, t domain.Transfer) error {
	if t.To == "" || (t.From != "" && t.From == t.To) {
		return fmt.Errorf("bank.Transfer: %w", domain.ErrInvalidAccount)
	}
	if !t.Token.Valid() {
		return fmt.Errorf("bank.Transfer: %w", domain.ErrInvalidToken)
	}
	if t.Amount == 0 {
		return fmt.Errorf("bank.Transfer: %w", domain.ErrInvalidAmount)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.At.IsZero() {
		t.At = b.now().UTC()
	}
	return tx.Move(ctx, t)
}
