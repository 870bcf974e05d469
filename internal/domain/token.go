package domain

import (
	"fmt"
	"strings"
)

// Token identifies one of the two stake currencies of a round.
type Token uint8

const (
	TokenA Token = iota // USDC, stable
	TokenB              // URIM, volatile
)

// Tokens lists every supported token in index order.
var Tokens = [...]Token{TokenA, TokenB}

func (t Token) String() string {
	switch t {
	case TokenA:
		return "USDC"
	case TokenB:
		return "URIM"
	default:
		return fmt.Sprintf("Token(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the supported tokens.
func (t Token) Valid() bool {
	return t == TokenA || t == TokenB
}

// ParseToken accepts the symbol or the A/B alias, case-insensitive.
func ParseToken(s string) (Token, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USDC", "A":
		return TokenA, nil
	case "URIM", "B":
		return TokenB, nil
	}
	return 0, fmt.Errorf("%w: unknown token %q", ErrInvalidToken, s)
}

// TokenAmounts holds one native-unit amount per token, indexed by Token.
type TokenAmounts [len(Tokens)]uint64

// Of returns the amount stored for t.
func (a TokenAmounts) Of(t Token) uint64 {
	return a[t]
}

// IsZero reports whether every token amount is zero.
func (a TokenAmounts) IsZero() bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}

// Side is the direction a bettor wagers on.
type Side uint8

const (
	SideUp Side = iota + 1
	SideDown
)

func (s Side) String() string {
	switch s {
	case SideUp:
		return "UP"
	case SideDown:
		return "DOWN"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// Valid reports whether s is Up or Down.
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// ParseSide accepts "up"/"down" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return SideUp, nil
	case "DOWN":
		return SideDown, nil
	}
	return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidSide, s)
}

// Outcome is the result of a round. The numeric values match the
// account layout decoded by the web client (0 Pending … 3 Draw).
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeUp
	OutcomeDown
	OutcomeDraw
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "Pending"
	case OutcomeUp:
		return "Up"
	case OutcomeDown:
		return "Down"
	case OutcomeDraw:
		return "Draw"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// ParseOutcome parses a final outcome. Pending is not accepted.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return OutcomeUp, nil
	case "DOWN":
		return OutcomeDown, nil
	case "DRAW", "TIE":
		return OutcomeDraw, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
}

// WinningSide returns the side that wins under o. ok is false for Draw and Pending.
func (o Outcome) WinningSide() (side Side, ok bool) {
	switch o {
	case OutcomeUp:
		return SideUp, true
	case OutcomeDown:
		return SideDown, true
	}
	return 0, false
}

// OutcomeFor compares the final price against the locked price.
func OutcomeFor(lockedPrice, finalPrice uint64) Outcome {
	switch {
	case finalPrice > lockedPrice:
		return OutcomeUp
	case finalPrice < lockedPrice:
		return OutcomeDown
	default:
		return OutcomeDraw
	}
}

// OutcomeForSide is the outcome under which side wins.
func OutcomeForSide(side Side) Outcome {
	if side == SideUp {
		return OutcomeUp
	}
	return OutcomeDown
}
