package httpapi

import (
	"strings"

	"github.com/alejandrodnm/updown/internal/application/engine"
	"github.com/alejandrodnm/updown/internal/domain"
)

// Amounts is a per-token amount in native units.
type Amounts struct {
	USDC uint64 `json:"usdc"`
	URIM uint64 `json:"urim"`
}

func toAmounts(a domain.TokenAmounts) Amounts {
	return Amounts{USDC: a[domain.TokenA], URIM: a[domain.TokenB]}
}

func (a Amounts) toDomain() domain.TokenAmounts {
	return domain.TokenAmounts{a.USDC, a.URIM}
}

type ConfigDTO struct {
	Admin          string `json:"admin"`
	TreasuryUSDC   string `json:"treasury_usdc"`
	TreasuryURIM   string `json:"treasury_urim"`
	Paused         bool   `json:"paused"`
	CurrentRoundID uint64 `json:"current_round_id"`
}

func toConfig(c domain.Config) ConfigDTO {
	return ConfigDTO{
		Admin:          c.Admin,
		TreasuryUSDC:   c.TreasuryA,
		TreasuryURIM:   c.TreasuryB,
		Paused:         c.Paused,
		CurrentRoundID: c.CurrentRoundID,
	}
}

func (d ConfigDTO) toDomain() domain.Config {
	return domain.Config{
		Admin:          d.Admin,
		TreasuryA:      d.TreasuryUSDC,
		TreasuryB:      d.TreasuryURIM,
		Paused:         d.Paused,
		CurrentRoundID: d.CurrentRoundID,
	}
}

type RoundDTO struct {
	RoundID           uint64  `json:"round_id"`
	State             string  `json:"state,omitempty"`
	LockedPrice       uint64  `json:"locked_price"`
	FinalPrice        uint64  `json:"final_price"`
	CreatedAt         int64   `json:"created_at"`
	LockTime          int64   `json:"lock_time"`
	EndTime           int64   `json:"end_time"`
	UpPool            Amounts `json:"up_pool"`
	DownPool          Amounts `json:"down_pool"`
	UpPoolUSD         uint64  `json:"up_pool_usd"`
	DownPoolUSD       uint64  `json:"down_pool_usd"`
	TotalFees         Amounts `json:"total_fees"`
	TotalFeesUSD      uint64  `json:"total_fees_usd"`
	Resolved          bool    `json:"resolved"`
	Outcome           string  `json:"outcome"`
	FeesCollected     bool    `json:"fees_collected"`
	EmergencyResolved bool    `json:"emergency_resolved"`
	Withdrawn         bool    `json:"withdrawn"`
}

func toRound(r domain.Round, state domain.RoundState) RoundDTO {
	return RoundDTO{
		RoundID:           r.RoundID,
		State:             string(state),
		LockedPrice:       r.LockedPrice,
		FinalPrice:        r.FinalPrice,
		CreatedAt:         r.CreatedAt,
		LockTime:          r.LockTime,
		EndTime:           r.EndTime,
		UpPool:            toAmounts(r.UpPool),
		DownPool:          toAmounts(r.DownPool),
		UpPoolUSD:         r.UpPoolUSD,
		DownPoolUSD:       r.DownPoolUSD,
		TotalFees:         toAmounts(r.TotalFees),
		TotalFeesUSD:      r.TotalFeesUSD,
		Resolved:          r.Resolved,
		Outcome:           r.Outcome.String(),
		FeesCollected:     r.FeesCollected,
		EmergencyResolved: r.EmergencyResolved,
		Withdrawn:         r.Withdrawn,
	}
}

func (d RoundDTO) toDomain() (domain.Round, error) {
	outcome, err := parseOutcome(d.Outcome)
	if err != nil {
		return domain.Round{}, err
	}
	return domain.Round{
		RoundID:           d.RoundID,
		LockedPrice:       d.LockedPrice,
		FinalPrice:        d.FinalPrice,
		CreatedAt:         d.CreatedAt,
		LockTime:          d.LockTime,
		EndTime:           d.EndTime,
		UpPool:            d.UpPool.toDomain(),
		DownPool:          d.DownPool.toDomain(),
		UpPoolUSD:         d.UpPoolUSD,
		DownPoolUSD:       d.DownPoolUSD,
		TotalFees:         d.TotalFees.toDomain(),
		TotalFeesUSD:      d.TotalFeesUSD,
		Resolved:          d.Resolved,
		Outcome:           outcome,
		FeesCollected:     d.FeesCollected,
		EmergencyResolved: d.EmergencyResolved,
		Withdrawn:         d.Withdrawn,
	}, nil
}

func parseOutcome(s string) (domain.Outcome, error) {
	if strings.EqualFold(s, domain.OutcomePending.String()) || s == "" {
		return domain.OutcomePending, nil
	}
	return domain.ParseOutcome(s)
}

type BetDTO struct {
	User      string `json:"user"`
	RoundID   uint64 `json:"round_id"`
	Amount    uint64 `json:"amount"`
	USDValue  uint64 `json:"usd_value"`
	Side      string `json:"side"`
	Token     string `json:"token"`
	ClaimedA  bool   `json:"claimed_usdc"`
	ClaimedB  bool   `json:"claimed_urim"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func toBet(b domain.Bet) BetDTO {
	return BetDTO{
		User:      b.User,
		RoundID:   b.RoundID,
		Amount:    b.Amount,
		USDValue:  b.USDValue,
		Side:      b.Side.String(),
		Token:     b.Token.String(),
		ClaimedA:  b.ClaimedA,
		ClaimedB:  b.ClaimedB,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func (d BetDTO) toDomain() (domain.Bet, error) {
	side, err := domain.ParseSide(d.Side)
	if err != nil {
		return domain.Bet{}, err
	}
	token, err := domain.ParseToken(d.Token)
	if err != nil {
		return domain.Bet{}, err
	}
	return domain.Bet{
		User:      d.User,
		RoundID:   d.RoundID,
		Amount:    d.Amount,
		USDValue:  d.USDValue,
		Side:      side,
		Token:     token,
		ClaimedA:  d.ClaimedA,
		ClaimedB:  d.ClaimedB,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

type QuoteDTO struct {
	Bet       BetDTO  `json:"bet"`
	Payout    Amounts `json:"payout"`
	Projected bool    `json:"projected"`
}

func toQuote(q engine.Quote) QuoteDTO {
	return QuoteDTO{Bet: toBet(q.Bet), Payout: toAmounts(q.Payout), Projected: q.Projected}
}

type ClaimDTO struct {
	RoundID uint64  `json:"round_id"`
	User    string  `json:"user"`
	Paid    Amounts `json:"paid"`
}

type FeeSweepDTO struct {
	RoundID          uint64  `json:"round_id"`
	Collected        Amounts `json:"collected"`
	AlreadyCollected bool    `json:"already_collected"`
}

func (d FeeSweepDTO) toDomain() domain.FeeSweep {
	return domain.FeeSweep{RoundID: d.RoundID, Collected: d.Collected.toDomain(), AlreadyCollected: d.AlreadyCollected}
}

type AuditDTO struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	Actor   string `json:"actor"`
	RoundID uint64 `json:"round_id"`
	Detail  string `json:"detail,omitempty"`
	At      string `json:"at"`
}

// request bodies

type betRequest struct {
	Amount uint64 `json:"amount"`
	Side   string `json:"side"`
	Token  string `json:"token"`
}

type claimRequest struct {
	Token string `json:"token"` // usdc | urim | all (default)
}

type startRequest struct {
	DurationSeconds int64   `json:"duration_seconds"`
	Price           *uint64 `json:"price,omitempty"` // manual path when set
}

type resolveRequest struct {
	Price *uint64 `json:"price,omitempty"`
}

type emergencyResolveRequest struct {
	Price   uint64 `json:"price"`
	Outcome string `json:"outcome"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type treasuryRequest struct {
	Token   string `json:"token"`
	Account string `json:"account"`
}

type creditRequest struct {
	Owner  string `json:"owner"`
	Token  string `json:"token"`
	Amount uint64 `json:"amount"`
}

type creditResponse struct {
	Owner   string `json:"owner"`
	Token   string `json:"token"`
	Balance uint64 `json:"balance"`
}
