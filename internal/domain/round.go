package domain

import "time"

// RoundState is the lifecycle position of a round at a given instant.
type RoundState string

const (
	StatePending  RoundState = "PENDING" // no round object yet
	StateOpen     RoundState = "OPEN"
	StateExpired  RoundState = "EXPIRED"
	StateResolved RoundState = "RESOLVED"
)

// Round is one wagering period. Pools are kept per token in native units;
// the USD pools are the union across both tokens and are the only basis for
// proportional payouts.
type Round struct {
	RoundID     uint64
	LockedPrice uint64 // cents
	FinalPrice  uint64 // cents, zero until resolved
	CreatedAt   int64
	LockTime    int64
	EndTime     int64

	UpPool       TokenAmounts
	DownPool     TokenAmounts
	UpPoolUSD    uint64
	DownPoolUSD  uint64
	TotalFees    TokenAmounts
	TotalFeesUSD uint64

	Resolved          bool
	Outcome           Outcome
	FeesCollected     bool
	EmergencyResolved bool
	Withdrawn         bool
}

// NewRound builds an open round locked at price, starting at now.
func NewRound(id uint64, price uint64, now time.Time, duration time.Duration) Round {
	lock := now.Unix()
	return Round{
		RoundID:     id,
		LockedPrice: price,
		CreatedAt:   lock,
		LockTime:    lock,
		EndTime:     lock + int64(duration/time.Second),
		Outcome:     OutcomePending,
	}
}

// State classifies the round at now.
func (r Round) State(now time.Time) RoundState {
	switch {
	case r.Resolved:
		return StateResolved
	case now.Unix() < r.EndTime:
		return StateOpen
	default:
		return StateExpired
	}
}

// IsOpen reports whether bets are accepted at now.
func (r Round) IsOpen(now time.Time) bool {
	return r.State(now) == StateOpen
}

// SecondsLeft returns the remaining seconds until EndTime, never negative.
func (r Round) SecondsLeft(now time.Time) int64 {
	left := r.EndTime - now.Unix()
	if left < 0 {
		return 0
	}
	return left
}

// Pool returns the native-unit pool of side.
func (r Round) Pool(side Side) TokenAmounts {
	if side == SideUp {
		return r.UpPool
	}
	return r.DownPool
}

// PoolUSD returns the USD-normalized pool of side.
func (r Round) PoolUSD(side Side) uint64 {
	if side == SideUp {
		return r.UpPoolUSD
	}
	return r.DownPoolUSD
}

// TotalUSD is the USD value staked on both sides.
func (r Round) TotalUSD() uint64 {
	return r.UpPoolUSD + r.DownPoolUSD
}

// AddStake books a stake and its fee. Callers validate state beforehand.
func (r *Round) AddStake(side Side, token Token, amount, usd, fee, feeUSD uint64) error {
	var err error
	if side == SideUp {
		if r.UpPool[token], err = CheckedAdd(r.UpPool[token], amount); err != nil {
			return err
		}
		if r.UpPoolUSD, err = CheckedAdd(r.UpPoolUSD, usd); err != nil {
			return err
		}
	} else {
		if r.DownPool[token], err = CheckedAdd(r.DownPool[token], amount); err != nil {
			return err
		}
		if r.DownPoolUSD, err = CheckedAdd(r.DownPoolUSD, usd); err != nil {
			return err
		}
	}
	if r.TotalFees[token], err = CheckedAdd(r.TotalFees[token], fee); err != nil {
		return err
	}
	r.TotalFeesUSD, err = CheckedAdd(r.TotalFeesUSD, feeUSD)
	return err
}

// Resolve fixes the final price and derives the outcome from the price delta.
func (r *Round) Resolve(finalPrice uint64) Outcome {
	r.FinalPrice = finalPrice
	r.Outcome = OutcomeFor(r.LockedPrice, finalPrice)
	r.Resolved = true
	return r.Outcome
}

// ForceResolve fixes an arbitrary outcome, used by emergency resolution.
func (r *Round) ForceResolve(finalPrice uint64, outcome Outcome) {
	r.FinalPrice = finalPrice
	r.Outcome = outcome
	r.Resolved = true
	r.EmergencyResolved = true
}

// Vault returns the escrow account of this round for token t.
func (r Round) Vault(t Token) string {
	return VaultAccount(r.RoundID, t)
}
