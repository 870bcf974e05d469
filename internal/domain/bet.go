package domain

// Bet is the single position a user holds in a round. USDValue is fixed at
// bet time and never recomputed.
type Bet struct {
	User      string
	RoundID   uint64
	Amount    uint64 // native units of Token
	USDValue  uint64 // cents
	Side      Side
	Token     Token
	ClaimedA  bool
	ClaimedB  bool
	CreatedAt int64
	UpdatedAt int64
}

// Claimed reports whether the payout in t was already disbursed.
func (b Bet) Claimed(t Token) bool {
	if t == TokenA {
		return b.ClaimedA
	}
	return b.ClaimedB
}

// MarkClaimed sets the claim flag of t. Flags only ever go false → true.
func (b *Bet) MarkClaimed(t Token) {
	if t == TokenA {
		b.ClaimedA = true
		return
	}
	b.ClaimedB = true
}

// FullyClaimed reports whether both claim flags are set.
func (b Bet) FullyClaimed() bool {
	return b.ClaimedA && b.ClaimedB
}

// TopUp adds a same-side, same-token stake to an existing bet.
func (b *Bet) TopUp(amount, usd uint64, at int64) error {
	var err error
	if b.Amount, err = CheckedAdd(b.Amount, amount); err != nil {
		return err
	}
	if b.USDValue, err = CheckedAdd(b.USDValue, usd); err != nil {
		return err
	}
	b.UpdatedAt = at
	return nil
}
