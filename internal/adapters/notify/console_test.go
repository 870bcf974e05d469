package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/updown/internal/adapters/notify"
	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openRound() domain.Round {
	r := domain.NewRound(12, 15012, now.Add(-time.Minute), 180*time.Second)
	r.UpPool[domain.TokenA] = 100_000_000
	r.UpPoolUSD = 10_000
	r.DownPool[domain.TokenB] = 2_000_000_000
	r.DownPoolUSD = 10_000
	return r
}

func TestConsole_NotifyTick_OpenRound(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)
	r := openRound()

	err := n.NotifyTick(context.Background(), domain.KeeperTick{At: now, Action: domain.KeeperWaiting, Round: &r})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[12:00:00] waiting")
	assert.Contains(t, out, "round #12 OPEN")
	assert.Contains(t, out, "locked $150.12")
	assert.Contains(t, out, "120s left")
	assert.Contains(t, out, "up $100.00 / down $100.00")
}

func TestConsole_NotifyTick_StartedWithTable(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)
	prev := openRound()
	prev.Resolve(15100)
	next := domain.NewRound(13, 15100, now, 180*time.Second)

	err := n.NotifyTick(context.Background(), domain.KeeperTick{
		At: now, Action: domain.KeeperResolved, Round: &prev, Started: &next, Manual: true,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Up ($150.12 → $151.00)")
	assert.Contains(t, out, "started #13 @ $151.00")
	assert.Contains(t, out, "[manual price]")
	assert.Contains(t, out, "ROUND #13")
}

func TestConsole_NotifyTick_Error(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	err := n.NotifyTick(context.Background(), domain.KeeperTick{At: now, Action: domain.KeeperFailed, Err: errors.New("oracle down")})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "error: oracle down")
}

func TestConsole_PrintRounds(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)
	r := openRound()
	done := openRound()
	done.RoundID = 11
	done.Resolve(14000)
	done.FeesCollected = true

	n.PrintRounds([]domain.Round{r, done}, now)
	out := buf.String()
	assert.Contains(t, out, "OPEN")
	assert.Contains(t, out, "RESOLVED")
	assert.Contains(t, out, "$140.00")
	assert.Contains(t, out, "collected")

	buf.Reset()
	n.PrintRounds(nil, now)
	assert.Contains(t, buf.String(), "No rounds found")
}

func TestConsole_PrintBetsAndVaults(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	n.PrintBets([]domain.Bet{
		{User: "alice", Amount: 100_500_000, USDValue: 10_050, Side: domain.SideUp, Token: domain.TokenA, ClaimedA: true},
		{User: "bob", Amount: 2_000_000_000, USDValue: 10_000, Side: domain.SideDown, Token: domain.TokenB},
	})
	n.PrintVaults(12, domain.TokenAmounts{1_500_000, 10_000_000})

	out := buf.String()
	assert.Contains(t, out, "100.50 USDC")
	assert.Contains(t, out, "2000.00 URIM")
	assert.Contains(t, out, "$100.50")
	assert.Contains(t, out, "Round #12 vaults")
	assert.Contains(t, out, "1.50")
	assert.Contains(t, out, "10.00")
}

func TestConsole_PrintFeeSweep(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	n.PrintFeeSweep(domain.FeeSweep{RoundID: 3, Collected: domain.TokenAmounts{3_000_000, 0}})
	n.PrintFeeSweep(domain.FeeSweep{RoundID: 3, AlreadyCollected: true})

	out := buf.String()
	assert.Contains(t, out, "Round #3 fees collected: 3.00 USDC + 0.00 URIM")
	assert.Contains(t, out, "Round #3 fees already collected")
}

func TestConsole_PrintQuote(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)
	b := domain.Bet{User: "alice", RoundID: 12, Amount: 100_000_000, USDValue: 10_000, Side: domain.SideUp, Token: domain.TokenA}

	n.PrintQuote(b, domain.TokenAmounts{100_000_000, 2_000_000_000}, true)

	out := buf.String()
	assert.Contains(t, out, "Round #12 alice: 100.00 USDC on UP ($100.00)")
	assert.Contains(t, out, "if UP wins: 100.00 USDC + 2000.00 URIM")
}
