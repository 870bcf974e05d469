package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Ledger persists the round ledger, the bet ledger, the program config and
// the vault bank. Update runs fn in a single transaction: every write made
// through tx commits together or not at all.
type Ledger interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// LedgerTx is the view of the ledger inside one transaction.
type LedgerTx interface {
	// Config returns domain.ErrConfigNotFound before initialization.
	Config(ctx context.Context) (domain.Config, error)
	SaveConfig(ctx context.Context, cfg domain.Config) error

	// Round returns domain.ErrRoundNotFound for unknown ids.
	Round(ctx context.Context, id uint64) (domain.Round, error)
	SaveRound(ctx context.Context, r domain.Round) error
	// ListRounds returns the newest rounds first.
	ListRounds(ctx context.Context, limit int) ([]domain.Round, error)

	// Bet returns domain.ErrBetNotFound when the user has no bet in the round.
	Bet(ctx context.Context, roundID uint64, user string) (domain.Bet, error)
	SaveBet(ctx context.Context, b domain.Bet) error
	ListBets(ctx context.Context, roundID uint64) ([]domain.Bet, error)

	// Balance returns zero for unknown accounts.
	Balance(ctx context.Context, account string, token domain.Token) (uint64, error)
	// Move debits From and credits To, failing with domain.ErrInsufficientFunds.
	// An empty From mints.
	Move(ctx context.Context, t domain.Transfer) error
	Transfers(ctx context.Context, roundID uint64) ([]domain.Transfer, error)

	AddAudit(ctx context.Context, e domain.AuditEntry) error
	AuditLog(ctx context.Context, roundID uint64) ([]domain.AuditEntry, error)
}

// TransferBackend moves tokens between accounts. It runs inside the
// caller's ledger transaction so a failed transfer rolls back the state
// change that triggered it.
type TransferBackend interface {
	Transfer(ctx context.Context, tx LedgerTx, t domain.Transfer) error
}
