package notify

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

// Console implementa ports.Notifier y los reportes de roundctl.
type Console struct {
	out   io.Writer
	table bool
}

var _ ports.Notifier = (*Console)(nil)

// NewConsole crea un notificador que escribe a stdout.
// Con table=true cada tick imprime también el detalle de la ronda.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyTick imprime una línea por tick del keeper.
func (c *Console) NotifyTick(_ context.Context, tick domain.KeeperTick) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-8s", tick.At.Format("15:04:05"), tick.Action)

	switch {
	case tick.Err != nil:
		fmt.Fprintf(&sb, " error: %v", tick.Err)
	case tick.Round == nil:
		sb.WriteString(" no rounds yet")
	default:
		r := tick.Round
		fmt.Fprintf(&sb, " round #%d %s", r.RoundID, r.State(tick.At))
		if r.Resolved {
			fmt.Fprintf(&sb, " %s (%s → %s)", r.Outcome, usd(r.LockedPrice), usd(r.FinalPrice))
		} else {
			fmt.Fprintf(&sb, " locked %s · %ds left", usd(r.LockedPrice), r.SecondsLeft(tick.At))
		}
		fmt.Fprintf(&sb, " · up %s / down %s", usd(r.UpPoolUSD), usd(r.DownPoolUSD))
	}
	if tick.Started != nil {
		fmt.Fprintf(&sb, " → started #%d @ %s", tick.Started.RoundID, usd(tick.Started.LockedPrice))
	}
	if tick.Manual {
		sb.WriteString(" [manual price]")
	}
	fmt.Fprintln(c.out, sb.String())

	if c.table && tick.Started != nil {
		c.PrintRound(*tick.Started, tick.At)
	}
	return nil
}

// PrintRound imprime el detalle de una ronda con sus pools por token.
func (c *Console) PrintRound(r domain.Round, now time.Time) {
	fmt.Fprintf(c.out, "\n=== ROUND #%d — %s ===\n", r.RoundID, r.State(now))
	fmt.Fprintf(c.out, "  Locked: %s", usd(r.LockedPrice))
	if r.Resolved {
		fmt.Fprintf(c.out, "  Final: %s  Outcome: %s", usd(r.FinalPrice), r.Outcome)
		if r.EmergencyResolved {
			fmt.Fprint(c.out, " (emergency)")
		}
	} else {
		fmt.Fprintf(c.out, "  Ends: %s (%ds left)", time.Unix(r.EndTime, 0).UTC().Format(time.RFC3339), r.SecondsLeft(now))
	}
	fmt.Fprintln(c.out)

	table := tablewriter.NewWriter(c.out)
	table.Header("Side", "USDC", "URIM", "USD")
	table.Append("UP", units(r.UpPool[domain.TokenA]), units(r.UpPool[domain.TokenB]), usd(r.UpPoolUSD))
	table.Append("DOWN", units(r.DownPool[domain.TokenA]), units(r.DownPool[domain.TokenB]), usd(r.DownPoolUSD))
	table.Append("fees", units(r.TotalFees[domain.TokenA]), units(r.TotalFees[domain.TokenB]), usd(r.TotalFeesUSD))
	table.Render()

	fmt.Fprintf(c.out, "  fees collected: %t  withdrawn: %t\n", r.FeesCollected, r.Withdrawn)
}

// PrintRounds imprime el histórico de rondas, la más reciente primero.
func (c *Console) PrintRounds(rounds []domain.Round, now time.Time) {
	if len(rounds) == 0 {
		fmt.Fprintln(c.out, "No rounds found")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "State", "Locked", "Final", "Outcome", "Up USD", "Down USD", "Fees")
	for _, r := range rounds {
		final := "-"
		if r.Resolved {
			final = usd(r.FinalPrice)
		}
		fees := "pending"
		switch {
		case r.Withdrawn:
			fees = "withdrawn"
		case r.FeesCollected:
			fees = "collected"
		}
		table.Append(
			fmt.Sprintf("%d", r.RoundID),
			string(r.State(now)),
			usd(r.LockedPrice),
			final,
			r.Outcome.String(),
			usd(r.UpPoolUSD),
			usd(r.DownPoolUSD),
			fees,
		)
	}
	table.Render()
}

// PrintBets imprime las apuestas de una ronda.
func (c *Console) PrintBets(bets []domain.Bet) {
	if len(bets) == 0 {
		fmt.Fprintln(c.out, "No bets")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("User", "Side", "Amount", "USD", "Claimed")
	for _, b := range bets {
		table.Append(
			b.User,
			b.Side.String(),
			units(b.Amount)+" "+b.Token.String(),
			usd(b.USDValue),
			claimedLabel(b),
		)
	}
	table.Render()
}

// PrintVaults imprime los saldos de los vaults de una ronda.
func (c *Console) PrintVaults(roundID uint64, vault domain.TokenAmounts) {
	fmt.Fprintf(c.out, "Round #%d vaults\n", roundID)
	c.printAmounts(vault)
}

// PrintBalance imprime los saldos de una cuenta.
func (c *Console) PrintBalance(owner string, bal domain.TokenAmounts) {
	fmt.Fprintf(c.out, "Account %s\n", owner)
	c.printAmounts(bal)
}

func (c *Console) printAmounts(a domain.TokenAmounts) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Token", "Balance")
	for _, t := range domain.Tokens {
		table.Append(t.String(), units(a[t]))
	}
	table.Render()
}

// PrintQuote imprime una apuesta y lo que paga. Antes de resolver la ronda
// el pago es la proyección con los pools actuales.
func (c *Console) PrintQuote(b domain.Bet, payout domain.TokenAmounts, projected bool) {
	label := "payout"
	if projected {
		label = "if " + b.Side.String() + " wins"
	}
	fmt.Fprintf(c.out, "Round #%d %s: %s %s on %s (%s) · claimed %s\n",
		b.RoundID, b.User, units(b.Amount), b.Token, b.Side, usd(b.USDValue), claimedLabel(b))
	fmt.Fprintf(c.out, "  %s: %s USDC + %s URIM\n", label, units(payout[domain.TokenA]), units(payout[domain.TokenB]))
}

// PrintConfig imprime el config del programa.
func (c *Console) PrintConfig(cfg domain.Config) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Key", "Value")
	table.Append("admin", cfg.Admin)
	table.Append("treasury USDC", cfg.TreasuryA)
	table.Append("treasury URIM", cfg.TreasuryB)
	table.Append("paused", fmt.Sprintf("%t", cfg.Paused))
	table.Append("next round", fmt.Sprintf("%d", cfg.CurrentRoundID))
	table.Render()
}

// PrintClaim imprime el resultado de un claim.
func (c *Console) PrintClaim(res domain.ClaimResult) {
	fmt.Fprintf(c.out, "Round #%d claim by %s: %s USDC + %s URIM\n",
		res.RoundID, res.User, units(res.Paid[domain.TokenA]), units(res.Paid[domain.TokenB]))
}

// PrintFeeSweep imprime el resultado de un collect-fees.
func (c *Console) PrintFeeSweep(s domain.FeeSweep) {
	if s.AlreadyCollected {
		fmt.Fprintf(c.out, "Round #%d fees already collected\n", s.RoundID)
		return
	}
	fmt.Fprintf(c.out, "Round #%d fees collected: %s USDC + %s URIM\n",
		s.RoundID, units(s.Collected[domain.TokenA]), units(s.Collected[domain.TokenB]))
}

// PrintAudit imprime el log de auditoría de una ronda.
func (c *Console) PrintAudit(entries []domain.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No audit entries")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("At", "Action", "Actor", "Detail")
	for _, e := range entries {
		table.Append(e.At.UTC().Format(time.RFC3339), e.Action, e.Actor, e.Detail)
	}
	table.Render()
}

// --- helpers ---

// usd formatea centavos como dólares.
func usd(cents uint64) string {
	return "$" + fixed(cents, -2, 2)
}

// units formatea unidades nativas (6 decimales) con 2 decimales.
func units(amount uint64) string {
	return fixed(amount, -domain.TokenDecimals, 2)
}

func fixed(v uint64, exp int32, places int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), exp).StringFixed(places)
}

func claimedLabel(b domain.Bet) string {
	switch {
	case b.FullyClaimed():
		return "both"
	case b.ClaimedA:
		return "USDC"
	case b.ClaimedB:
		return "URIM"
	}
	return "-"
}
