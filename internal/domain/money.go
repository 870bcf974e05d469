package domain

import (
	"fmt"
	"math/bits"
)

const (
	// TokenDecimals applies to both USDC and URIM.
	TokenDecimals = 6
	// UnitsPerToken is 10^TokenDecimals.
	UnitsPerToken = 1_000_000
	// USDCUnitsPerCent converts USDC micro-units to USD cents.
	USDCUnitsPerCent = 10_000
	// PriceScale is the fixed-point scale of token-B USD prices ($0.00001251 → 1251).
	PriceScale = 100_000_000
	// BasisPoints is the denominator of fee rates.
	BasisPoints = 10_000

	// amount * priceScaled / urimCentsDivisor yields cents:
	// (amount / 1e6 tokens) * (price / 1e8 $) * 100 ¢.
	urimCentsDivisor = UnitsPerToken * PriceScale / 100
)

// MulDiv returns floor(a*b/d) with a 128-bit intermediate product.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrMathOverflow)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrMathOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// CheckedAdd adds two amounts, failing on overflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// CheckedSub subtracts b from a, failing when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrInsufficientFunds
	}
	return diff, nil
}

// USDValue converts a native-unit amount into USD cents, rounding down.
// priceScaled is ignored for token A, which is pegged 1:1.
func USDValue(token Token, amount, priceScaled uint64) (uint64, error) {
	switch token {
	case TokenA:
		return amount / USDCUnitsPerCent, nil
	case TokenB:
		if priceScaled == 0 {
			return 0, ErrInvalidPrice
		}
		return MulDiv(amount, priceScaled, urimCentsDivisor)
	}
	return 0, ErrInvalidToken
}

// Fee computes floor(amount * feeBps / 10000).
func Fee(amount, feeBps uint64) (uint64, error) {
	return MulDiv(amount, feeBps, BasisPoints)
}
