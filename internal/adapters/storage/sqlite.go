package storage

// sqlite.go — ledger transaccional de rondas, apuestas y vaults.
//
// Estrategia:
//   - Una transacción SQL por operación del engine: pools, fees, flags de
//     claim y movimientos de tokens se confirman juntos o no se confirman.
//   - SQLite es single-writer: una sola conexión abierta serializa todas
//     las transacciones, así que no hay read-modify-write concurrentes.
//   - Los montos uint64 se guardan como INTEGER reinterpretando los bits
//     (int64(v)); nunca se comparan ni suman en SQL, solo en Go.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
-- Singleton de configuración del programa
CREATE TABLE IF NOT EXISTS program_config (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    admin            TEXT    NOT NULL,
    treasury_a       TEXT    NOT NULL,
    treasury_b       TEXT    NOT NULL,
    paused           INTEGER NOT NULL DEFAULT 0,
    current_round_id INTEGER NOT NULL DEFAULT 0
);

-- Una fila por ronda
CREATE TABLE IF NOT EXISTS rounds (
    round_id           INTEGER PRIMARY KEY,
    locked_price       INTEGER NOT NULL,
    final_price        INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL,
    lock_time          INTEGER NOT NULL,
    end_time           INTEGER NOT NULL,
    up_pool_a          INTEGER NOT NULL DEFAULT 0,
    up_pool_b          INTEGER NOT NULL DEFAULT 0,
    down_pool_a        INTEGER NOT NULL DEFAULT 0,
    down_pool_b        INTEGER NOT NULL DEFAULT 0,
    up_pool_usd        INTEGER NOT NULL DEFAULT 0,
    down_pool_usd      INTEGER NOT NULL DEFAULT 0,
    fees_a             INTEGER NOT NULL DEFAULT 0,
    fees_b             INTEGER NOT NULL DEFAULT 0,
    fees_usd           INTEGER NOT NULL DEFAULT 0,
    resolved           INTEGER NOT NULL DEFAULT 0,
    outcome            INTEGER NOT NULL DEFAULT 0,
    fees_collected     INTEGER NOT NULL DEFAULT 0,
    emergency_resolved INTEGER NOT NULL DEFAULT 0,
    withdrawn          INTEGER NOT NULL DEFAULT 0
);

-- Una apuesta por (ronda, usuario)
CREATE TABLE IF NOT EXISTS bets (
    round_id   INTEGER NOT NULL,
    user       TEXT    NOT NULL,
    amount     INTEGER NOT NULL,
    usd_value  INTEGER NOT NULL,
    side       INTEGER NOT NULL,
    token      INTEGER NOT NULL,
    claimed_a  INTEGER NOT NULL DEFAULT 0,
    claimed_b  INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (round_id, user)
);

-- Saldos del banco de vaults: usuarios, vaults por ronda, treasuries
CREATE TABLE IF NOT EXISTS balances (
    account TEXT    NOT NULL,
    token   INTEGER NOT NULL,
    amount  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (account, token)
);

CREATE TABLE IF NOT EXISTS transfers (
    id           TEXT PRIMARY KEY,
    round_id     INTEGER NOT NULL,
    from_account TEXT    NOT NULL,
    to_account   TEXT    NOT NULL,
    token        INTEGER NOT NULL,
    amount       INTEGER NOT NULL,
    memo         TEXT    NOT NULL,
    created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         TEXT PRIMARY KEY,
    action     TEXT     NOT NULL,
    actor      TEXT     NOT NULL,
    round_id   INTEGER  NOT NULL,
    detail     TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bets_round      ON bets(round_id);
CREATE INDEX IF NOT EXISTS idx_transfers_round ON transfers(round_id);
CREATE INDEX IF NOT EXISTS idx_audit_round     ON audit_log(round_id);
`

// SQLiteLedger implementa ports.Ledger usando SQLite (pure Go, sin CGo).
type SQLiteLedger struct {
	db *sql.DB
}

var _ ports.Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteLedger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteLedger: apply schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Update ejecuta fn dentro de una transacción y hace commit si no hubo error.
// fn no debe llamar a Update/View: con una sola conexión eso bloquea.
func (s *SQLiteLedger) Update(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Update: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Update: commit: %w", err)
	}
	return nil
}

// View ejecuta fn en una transacción que siempre se descarta.
func (s *SQLiteLedger) View(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.View: begin tx: %w", err)
	}
	defer tx.Rollback()
	return fn(&sqliteTx{tx: tx})
}

// Ping verifica que la base de datos responde.
func (s *SQLiteLedger) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close cierra la conexión a la base de datos limpiamente.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// sqliteTx implementa ports.LedgerTx sobre una *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

// ─── Config ──────────────────────────────────────────────────────────────────

func (t *sqliteTx) Config(ctx context.Context) (domain.Config, error) {
	var (
		c      domain.Config
		paused int
		cur    int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT admin, treasury_a, treasury_b, paused, current_round_id FROM program_config WHERE id = 1`,
	).Scan(&c.Admin, &c.TreasuryA, &c.TreasuryB, &paused, &cur)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Config{}, domain.ErrConfigNotFound
	}
	if err != nil {
		return domain.Config{}, fmt.Errorf("storage.Config: %w", err)
	}
	c.Paused = paused == 1
	c.CurrentRoundID = uint64(cur)
	return c, nil
}

func (t *sqliteTx) SaveConfig(ctx context.Context, c domain.Config) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO program_config (id, admin, treasury_a, treasury_b, paused, current_round_id)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			admin            = excluded.admin,
			treasury_a       = excluded.treasury_a,
			treasury_b       = excluded.treasury_b,
			paused           = excluded.paused,
			current_round_id = excluded.current_round_id`,
		c.Admin, c.TreasuryA, c.TreasuryB, boolToInt(c.Paused), i64(c.CurrentRoundID),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveConfig: %w", err)
	}
	return nil
}

// ─── Rounds ──────────────────────────────────────────────────────────────────

const roundColumns = `round_id, locked_price, final_price, created_at, lock_time, end_time,
	up_pool_a, up_pool_b, down_pool_a, down_pool_b, up_pool_usd, down_pool_usd,
	fees_a, fees_b, fees_usd, resolved, outcome, fees_collected, emergency_resolved, withdrawn`

func (t *sqliteTx) Round(ctx context.Context, id uint64) (domain.Round, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE round_id = ?`, i64(id))
	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("storage.Round %d: %w", id, err)
	}
	return r, nil
}

func (t *sqliteTx) SaveRound(ctx context.Context, r domain.Round) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO rounds (`+roundColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i64(r.RoundID), i64(r.LockedPrice), i64(r.FinalPrice), r.CreatedAt, r.LockTime, r.EndTime,
		i64(r.UpPool[domain.TokenA]), i64(r.UpPool[domain.TokenB]),
		i64(r.DownPool[domain.TokenA]), i64(r.DownPool[domain.TokenB]),
		i64(r.UpPoolUSD), i64(r.DownPoolUSD),
		i64(r.TotalFees[domain.TokenA]), i64(r.TotalFees[domain.TokenB]), i64(r.TotalFeesUSD),
		boolToInt(r.Resolved), int(r.Outcome), boolToInt(r.FeesCollected),
		boolToInt(r.EmergencyResolved), boolToInt(r.Withdrawn),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRound %d: %w", r.RoundID, err)
	}
	return nil
}

func (t *sqliteTx) ListRounds(ctx context.Context, limit int) ([]domain.Round, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+roundColumns+` FROM rounds ORDER BY round_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListRounds: %w", err)
	}
	defer rows.Close()

	var out []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListRounds: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (domain.Round, error) {
	var (
		r                                          domain.Round
		id, locked, final                          int64
		upA, upB, downA, downB, upUSD, downUSD     int64
		feeA, feeB, feeUSD                         int64
		resolved, outcome, collected, emerg, withd int
	)
	if err := row.Scan(&id, &locked, &final, &r.CreatedAt, &r.LockTime, &r.EndTime,
		&upA, &upB, &downA, &downB, &upUSD, &downUSD,
		&feeA, &feeB, &feeUSD, &resolved, &outcome, &collected, &emerg, &withd,
	); err != nil {
		return domain.Round{}, err
	}
	r.RoundID = uint64(id)
	r.LockedPrice = uint64(locked)
	r.FinalPrice = uint64(final)
	r.UpPool = domain.TokenAmounts{uint64(upA), uint64(upB)}
	r.DownPool = domain.TokenAmounts{uint64(downA), uint64(downB)}
	r.UpPoolUSD = uint64(upUSD)
	r.DownPoolUSD = uint64(downUSD)
	r.TotalFees = domain.TokenAmounts{uint64(feeA), uint64(feeB)}
	r.TotalFeesUSD = uint64(feeUSD)
	r.Resolved = resolved == 1
	r.Outcome = domain.Outcome(outcome)
	r.FeesCollected = collected == 1
	r.EmergencyResolved = emerg == 1
	r.Withdrawn = withd == 1
	return r, nil
}

// ─── Bets ────────────────────────────────────────────────────────────────────

const betColumns = `round_id, user, amount, usd_value, side, token, claimed_a, claimed_b, created_at, updated_at`

func (t *sqliteTx) Bet(ctx context.Context, roundID uint64, user string) (domain.Bet, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+betColumns+` FROM bets WHERE round_id = ? AND user = ?`, i64(roundID), user)
	b, err := scanBet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bet{}, domain.ErrBetNotFound
	}
	if err != nil {
		return domain.Bet{}, fmt.Errorf("storage.Bet %d/%s: %w", roundID, user, err)
	}
	return b, nil
}

func (t *sqliteTx) SaveBet(ctx context.Context, b domain.Bet) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO bets (`+betColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		i64(b.RoundID), b.User, i64(b.Amount), i64(b.USDValue), int(b.Side), int(b.Token),
		boolToInt(b.ClaimedA), boolToInt(b.ClaimedB), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveBet %d/%s: %w", b.RoundID, b.User, err)
	}
	return nil
}

func (t *sqliteTx) ListBets(ctx context.Context, roundID uint64) ([]domain.Bet, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+betColumns+` FROM bets WHERE round_id = ? ORDER BY created_at, user`, i64(roundID))
	if err != nil {
		return nil, fmt.Errorf("storage.ListBets: %w", err)
	}
	defer rows.Close()

	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListBets: scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBet(row rowScanner) (domain.Bet, error) {
	var (
		b                           domain.Bet
		roundID, amount, usd        int64
		side, token, claimA, claimB int
	)
	if err := row.Scan(&roundID, &b.User, &amount, &usd, &side, &token,
		&claimA, &claimB, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return domain.Bet{}, err
	}
	b.RoundID = uint64(roundID)
	b.Amount = uint64(amount)
	b.USDValue = uint64(usd)
	b.Side = domain.Side(side)
	b.Token = domain.Token(token)
	b.ClaimedA = claimA == 1
	b.ClaimedB = claimB == 1
	return b, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// i64 reinterpreta los bits; los montos nunca se comparan en SQL.
func i64(v uint64) int64 {
	return int64(v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
