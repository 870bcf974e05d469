package domain

import (
	"fmt"
	"strings"
	"time"
)

// VaultAccount is the escrow account of round id for token t.
func VaultAccount(roundID uint64, t Token) string {
	return fmt.Sprintf("vault:%d:%s", roundID, strings.ToLower(t.String()))
}

// Transfer moves native units of a token between two bank accounts.
type Transfer struct {
	ID      string
	RoundID uint64
	From    string
	To      string
	Token   Token
	Amount  uint64
	Memo    string // bet | claim | fees | emergency_withdraw | credit
	At      time.Time
}

// Balance is the holding of one account in one token.
type Balance struct {
	Account string
	Token   Token
	Amount  uint64
}

// AuditEntry records an admin or emergency action.
type AuditEntry struct {
	ID      string
	Action  string
	Actor   string
	RoundID uint64
	Detail  string
	At      time.Time
}

// Audit actions.
const (
	AuditInitialize        = "initialize"
	AuditStartRound        = "start_round"
	AuditResolveRound      = "resolve_round"
	AuditEmergencyResolve  = "emergency_resolve"
	AuditEmergencyWithdraw = "emergency_withdraw"
	AuditCollectFees       = "collect_fees"
	AuditSetAdmin          = "set_admin"
	AuditSetTreasury       = "set_treasury"
	AuditSetPaused         = "set_paused"
	AuditCredit            = "credit"
)

// EventType names a committed state change published to subscribers.
type EventType string

const (
	EventRoundStarted           EventType = "round.started"
	EventBetPlaced              EventType = "bet.placed"
	EventRoundResolved          EventType = "round.resolved"
	EventRoundEmergencyResolved EventType = "round.emergency_resolved"
	EventClaimPaid              EventType = "claim.paid"
	EventFeesCollected          EventType = "fees.collected"
	EventVaultWithdrawn         EventType = "vault.withdrawn"
)

// Event is emitted after a successful commit.
type Event struct {
	ID      string         `json:"id"`
	Type    EventType      `json:"type"`
	RoundID uint64         `json:"round_id"`
	User    string         `json:"user,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// ClaimResult is what a claim paid out.
type ClaimResult struct {
	RoundID uint64
	User    string
	Paid    TokenAmounts
}

// FeeSweep is the result of collecting a round's fees. AlreadyCollected is
// set when the call was a no-op.
type FeeSweep struct {
	RoundID          uint64
	Collected        TokenAmounts
	AlreadyCollected bool
}

// KeeperAction is what one keeper tick did.
type KeeperAction string

const (
	KeeperWaiting  KeeperAction = "waiting"
	KeeperStarted  KeeperAction = "started"
	KeeperResolved KeeperAction = "resolved"
	KeeperFailed   KeeperAction = "failed"
)

// KeeperTick summarizes one keeper tick for notifiers.
type KeeperTick struct {
	At      time.Time
	Action  KeeperAction
	Round   *Round // latest known round, nil if none
	Started *Round // round opened during the tick
	Manual  bool   // a manual price fallback was used
	Err     error
}
