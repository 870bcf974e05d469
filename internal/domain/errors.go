package domain

import "errors"

// ErrorKind groups engine rejections by how callers should react to them.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"    // rejected, never retried
	KindTiming        ErrorKind = "timing"        // wait and retry on the next tick
	KindStaleness     ErrorKind = "staleness"     // fall back to a manual price
	KindPayout        ErrorKind = "payout"        // retrying changes nothing
	KindAuthorization ErrorKind = "authorization" // fatal to the call only
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
)

// Error is a typed engine rejection. Sentinels below are compared with errors.Is.
type Error struct {
	Code string
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Msg
}

var (
	ErrBetTooSmall        = &Error{"BetTooSmall", KindValidation, "bet USD value is below the minimum"}
	ErrCannotSwitchSides  = &Error{"CannotSwitchSides", KindValidation, "user already holds the opposite side in this round"}
	ErrTokenMismatch      = &Error{"TokenMismatch", KindValidation, "top-up must use the token of the existing bet"}
	ErrRoundAlreadyActive = &Error{"RoundAlreadyActive", KindValidation, "current round is still open"}
	ErrInvalidAmount      = &Error{"InvalidAmount", KindValidation, "amount must be positive"}
	ErrInvalidPrice       = &Error{"InvalidPrice", KindValidation, "price must be positive"}
	ErrInvalidDuration    = &Error{"InvalidDuration", KindValidation, "duration must be positive"}
	ErrInvalidOutcome     = &Error{"InvalidOutcome", KindValidation, "outcome must be Up, Down or Draw"}
	ErrInvalidToken       = &Error{"InvalidToken", KindValidation, "unsupported token"}
	ErrInvalidSide        = &Error{"InvalidSide", KindValidation, "side must be Up or Down"}
	ErrInvalidAccount     = &Error{"InvalidAccount", KindValidation, "account identifier is empty"}
	ErrMathOverflow       = &Error{"MathOverflow", KindValidation, "arithmetic overflow"}
	ErrInsufficientFunds  = &Error{"InsufficientFunds", KindValidation, "account balance too low"}

	ErrRoundNotEnded = &Error{"RoundNotEnded", KindTiming, "round has not reached its end time"}
	ErrRoundEnded    = &Error{"RoundEnded", KindTiming, "round no longer accepts bets"}

	ErrStalePrice = &Error{"StalePrice", KindStaleness, "oracle observation is older than the max age"}

	ErrNoPayout       = &Error{"NoPayout", KindPayout, "nothing to pay for this bet"}
	ErrAlreadyClaimed = &Error{"AlreadyClaimed", KindPayout, "payout already claimed"}

	ErrUnauthorized = &Error{"Unauthorized", KindAuthorization, "caller is not the admin"}

	ErrConfigNotFound = &Error{"ConfigNotFound", KindNotFound, "program not initialized"}
	ErrRoundNotFound  = &Error{"RoundNotFound", KindNotFound, "round not found"}
	ErrBetNotFound    = &Error{"BetNotFound", KindNotFound, "bet not found"}

	ErrAlreadyInitialized   = &Error{"AlreadyInitialized", KindConflict, "program already initialized"}
	ErrRoundAlreadyResolved = &Error{"RoundAlreadyResolved", KindConflict, "round already resolved"}
	ErrRoundNotResolved     = &Error{"RoundNotResolved", KindConflict, "round not resolved yet"}
	ErrPaused               = &Error{"Paused", KindConflict, "program is paused"}
	ErrVaultWithdrawn       = &Error{"VaultWithdrawn", KindConflict, "round vault was emergency-withdrawn"}
)

var errorsByCode = map[string]*Error{}

func init() {
	for _, e := range []*Error{
		ErrBetTooSmall, ErrCannotSwitchSides, ErrTokenMismatch, ErrRoundAlreadyActive,
		ErrInvalidAmount, ErrInvalidPrice, ErrInvalidDuration, ErrInvalidOutcome,
		ErrInvalidToken, ErrInvalidSide, ErrInvalidAccount, ErrMathOverflow, ErrInsufficientFunds,
		ErrRoundNotEnded, ErrRoundEnded, ErrStalePrice, ErrNoPayout, ErrAlreadyClaimed,
		ErrUnauthorized, ErrConfigNotFound, ErrRoundNotFound, ErrBetNotFound,
		ErrAlreadyInitialized, ErrRoundAlreadyResolved, ErrRoundNotResolved, ErrPaused,
		ErrVaultWithdrawn,
	} {
		errorsByCode[e.Code] = e
	}
}

// LookupError returns the sentinel registered under code, or nil.
func LookupError(code string) *Error {
	return errorsByCode[code]
}

// AsError extracts the typed rejection from err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of a typed rejection, or "" for infrastructure errors.
func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return ""
}
