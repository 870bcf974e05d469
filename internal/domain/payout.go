package domain

// ComputePayout returns what bet b is owed in each token once round r is
// resolved.
//
//   - Draw: the stake is refunded in its own token; the fee is kept.
//   - No USD on the winning side: nobody can win, every stake is refunded.
//   - Winner: own stake back plus floor(usd/winnerUSD * loserPool[T]) for
//     each token T, paid in T. No cross-token conversion happens here.
//   - Loser: nothing.
//
// Floor dust stays in the vault until CollectFees sweeps it.
func ComputePayout(r Round, b Bet) (TokenAmounts, error) {
	var out TokenAmounts
	if !r.Resolved {
		return out, ErrRoundNotResolved
	}
	if !b.Token.Valid() {
		return out, ErrInvalidToken
	}

	winner, decisive := r.Outcome.WinningSide()
	if !decisive || r.PoolUSD(winner) == 0 {
		out[b.Token] = b.Amount
		return out, nil
	}
	if b.Side != winner {
		return out, nil
	}

	winnerUSD := r.PoolUSD(winner)
	losers := r.Pool(winner.Opposite())
	for _, t := range Tokens {
		share, err := MulDiv(b.USDValue, losers[t], winnerUSD)
		if err != nil {
			return TokenAmounts{}, err
		}
		if t == b.Token {
			if share, err = CheckedAdd(share, b.Amount); err != nil {
				return TokenAmounts{}, err
			}
		}
		out[t] = share
	}
	return out, nil
}

// ProjectPayout is the payout b would receive if its side won with the
// pools as they stand, used for pre-resolution quotes.
func ProjectPayout(r Round, b Bet) (TokenAmounts, error) {
	r.Resolved = true
	r.Outcome = OutcomeForSide(b.Side)
	return ComputePayout(r, b)
}
