package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/config"
	"github.com/alejandrodnm/updown/internal/adapters/httpapi"
	"github.com/alejandrodnm/updown/internal/adapters/notify"
	"github.com/alejandrodnm/updown/internal/domain"
)

const usage = `usage: roundctl [flags] <command> [args]

commands:
  status [round]                      current (or given) round with pools
  rounds                              recent rounds
  config                              program config
  bets <round>                        bets of a round
  quote <round> <user>                a bet and what it pays
  vaults <round>                      vault balances of a round
  balance <owner>                     token balances of an account
  audit <round>                       audit log of a round (admin)
  bet <round> <up|down> <usdc|urim> <amount>   place a bet as -as
  claim <round> [usdc|urim|all]       claim as -as
  collect-fees <round>                sweep a resolved round's fees
  start [price]                       start a round (admin)
  resolve <round> [price]             resolve an expired round (admin)
  emergency-resolve <round> <price> <up|down|draw>   (admin)
  emergency-withdraw <round>          (admin)
  pause | unpause                     (admin)
  treasury <usdc|urim> <account>      (admin)
  credit <owner> <usdc|urim> <amount> devnet faucet (admin)

amounts are in whole tokens (e.g. 12.5), prices in cents
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	apiURL := flag.String("api", "", "roundd base URL (overrides config)")
	as := flag.String("as", "", "caller identity for bet/claim")
	duration := flag.Duration("duration", 0, "round duration for start (default from config)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *apiURL != "" {
		cfg.API.URL = *apiURL
	}
	config.SetupLogger(cfg.Log)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *duration <= 0 {
		*duration = cfg.RoundDuration()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cli := &cli{
		api: httpapi.NewClient(httpapi.ClientConfig{
			BaseURL:    cfg.API.URL,
			AdminToken: cfg.API.AdminToken,
			Caller:     *as,
		}),
		out:      notify.NewConsole(true),
		duration: *duration,
	}
	if err := cli.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, ue)
			flag.Usage()
			os.Exit(2)
		}
		slog.Error("command failed", "cmd", flag.Arg(0), "err", err)
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

type cli struct {
	api      *httpapi.Client
	out      *notify.Console
	duration time.Duration
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	now := time.Now()
	switch cmd {
	case "status":
		var (
			r   domain.Round
			err error
		)
		if len(args) > 0 {
			id, perr := parseID(args[0])
			if perr != nil {
				return perr
			}
			r, err = c.api.GetRound(ctx, id)
		} else {
			r, err = c.api.CurrentRound(ctx)
		}
		if err != nil {
			return err
		}
		c.out.PrintRound(r, now)

	case "rounds":
		rounds, err := c.api.ListRounds(ctx, 20)
		if err != nil {
			return err
		}
		c.out.PrintRounds(rounds, now)

	case "config":
		cfg, err := c.api.GetConfig(ctx)
		if err != nil {
			return err
		}
		c.out.PrintConfig(cfg)

	case "bets":
		id, err := roundArg(args)
		if err != nil {
			return err
		}
		bets, err := c.api.ListBets(ctx, id)
		if err != nil {
			return err
		}
		c.out.PrintBets(bets)

	case "quote":
		if len(args) != 2 {
			return usageError("quote needs <round> <user>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		b, payout, projected, err := c.api.Quote(ctx, id, args[1])
		if err != nil {
			return err
		}
		c.out.PrintQuote(b, payout, projected)

	case "vaults":
		id, err := roundArg(args)
		if err != nil {
			return err
		}
		v, err := c.api.VaultBalances(ctx, id)
		if err != nil {
			return err
		}
		c.out.PrintVaults(id, v)

	case "balance":
		if len(args) != 1 {
			return usageError("balance needs <owner>")
		}
		bal, err := c.api.Balance(ctx, args[0])
		if err != nil {
			return err
		}
		c.out.PrintBalance(args[0], bal)

	case "audit":
		id, err := roundArg(args)
		if err != nil {
			return err
		}
		entries, err := c.api.AuditLog(ctx, id)
		if err != nil {
			return err
		}
		c.out.PrintAudit(entries)

	case "bet":
		if len(args) != 4 {
			return usageError("bet needs <round> <side> <token> <amount>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		side, err := domain.ParseSide(args[1])
		if err != nil {
			return err
		}
		token, err := domain.ParseToken(args[2])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[3])
		if err != nil {
			return err
		}
		if _, err := c.api.PlaceBet(ctx, id, amount, side, token); err != nil {
			return err
		}
		r, err := c.api.GetRound(ctx, id)
		if err != nil {
			return err
		}
		c.out.PrintRound(r, now)

	case "claim":
		if len(args) < 1 || len(args) > 2 {
			return usageError("claim needs <round> [usdc|urim|all]")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		which := "all"
		if len(args) == 2 {
			which = args[1]
		}
		res, err := c.api.Claim(ctx, id, which)
		if err != nil {
			return err
		}
		c.out.PrintClaim(res)

	case "collect-fees":
		id, err := roundArg(args)
		if err != nil {
			return err
		}
		s, err := c.api.CollectFees(ctx, id)
		if err != nil {
			return err
		}
		c.out.PrintFeeSweep(s)

	case "start":
		var (
			r   domain.Round
			err error
		)
		if len(args) == 1 {
			price, perr := parsePrice(args[0])
			if perr != nil {
				return perr
			}
			r, err = c.api.StartRoundManual(ctx, c.duration, price)
		} else {
			r, err = c.api.StartRound(ctx, c.duration)
		}
		if err != nil {
			return err
		}
		c.out.PrintRound(r, now)

	case "resolve":
		if len(args) < 1 || len(args) > 2 {
			return usageError("resolve needs <round> [price]")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var r domain.Round
		if len(args) == 2 {
			price, perr := parsePrice(args[1])
			if perr != nil {
				return perr
			}
			r, err = c.api.ResolveRoundManual(ctx, id, price)
		} else {
			r, err = c.api.ResolveRound(ctx, id)
		}
		if err != nil {
			return err
		}
		c.out.PrintRound(r, now)

	case "emergency-resolve":
		if len(args) != 3 {
			return usageError("emergency-resolve needs <round> <price> <outcome>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		price, err := parsePrice(args[1])
		if err != nil {
			return err
		}
		outcome, err := domain.ParseOutcome(args[2])
		if err != nil {
			return err
		}
		r, err := c.api.EmergencyResolve(ctx, id, price, outcome)
		if err != nil {
			return err
		}
		c.out.PrintRound(r, now)

	case "emergency-withdraw":
		id, err := roundArg(args)
		if err != nil {
			return err
		}
		swept, err := c.api.EmergencyWithdraw(ctx, id)
		if err != nil {
			return err
		}
		c.out.PrintVaults(id, swept)

	case "pause", "unpause":
		cfg, err := c.api.SetPaused(ctx, cmd == "pause")
		if err != nil {
			return err
		}
		c.out.PrintConfig(cfg)

	case "treasury":
		if len(args) != 2 {
			return usageError("treasury needs <token> <account>")
		}
		token, err := domain.ParseToken(args[0])
		if err != nil {
			return err
		}
		cfg, err := c.api.SetTreasury(ctx, token, args[1])
		if err != nil {
			return err
		}
		c.out.PrintConfig(cfg)

	case "credit":
		if len(args) != 3 {
			return usageError("credit needs <owner> <token> <amount>")
		}
		token, err := domain.ParseToken(args[1])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[2])
		if err != nil {
			return err
		}
		if _, err := c.api.Credit(ctx, args[0], token, amount); err != nil {
			return err
		}
		bal, err := c.api.Balance(ctx, args[0])
		if err != nil {
			return err
		}
		c.out.PrintBalance(args[0], bal)

	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
	return nil
}

func roundArg(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, usageError("expected <round>")
	}
	return parseID(args[0])
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, usageError(fmt.Sprintf("invalid round id %q", s))
	}
	return id, nil
}

func parsePrice(s string) (uint64, error) {
	p, err := strconv.ParseUint(s, 10, 64)
	if err != nil || p == 0 {
		return 0, usageError(fmt.Sprintf("invalid price %q (cents)", s))
	}
	return p, nil
}

// parseAmount converts whole tokens ("12.5") into native units.
func parseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, usageError(fmt.Sprintf("invalid amount %q", s))
	}
	native := d.Shift(domain.TokenDecimals)
	if !native.IsInteger() || native.Sign() <= 0 {
		return 0, usageError(fmt.Sprintf("amount %q must be positive with at most %d decimals", s, domain.TokenDecimals))
	}
	if native.BigInt().BitLen() > 64 {
		return 0, domain.ErrMathOverflow
	}
	return native.BigInt().Uint64(), nil
}
