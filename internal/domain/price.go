package domain

import "time"

// PriceObservation is a reference price for the underlying asset in cents.
type PriceObservation struct {
	Asset      string
	Price      uint64 // cents
	ObservedAt time.Time
}

// Age returns how old the observation is at now.
func (p PriceObservation) Age(now time.Time) time.Duration {
	return now.Sub(p.ObservedAt)
}

// IsStale reports whether the observation is older than maxAge.
// A non-positive maxAge disables the check.
func (p PriceObservation) IsStale(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && p.Age(now) > maxAge
}

// TokenPrice is the USD price of a token, scaled by PriceScale.
type TokenPrice struct {
	Token       Token
	PriceScaled uint64
	ObservedAt  time.Time
}

// IsStale reports whether the quote is older than maxAge.
func (p TokenPrice) IsStale(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(p.ObservedAt) > maxAge
}
