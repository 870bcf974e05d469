package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/updown/config"
	"github.com/alejandrodnm/updown/internal/adapters/httpapi"
	"github.com/alejandrodnm/updown/internal/adapters/notify"
	"github.com/alejandrodnm/updown/internal/adapters/pricefeed"
	"github.com/alejandrodnm/updown/internal/application/keeper"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one keeper tick and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print every new round as a table")
	apiURL := flag.String("api", "", "roundd base URL (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *apiURL != "" {
		cfg.API.URL = *apiURL
	}
	config.SetupLogger(cfg.Log)

	if cfg.API.AdminToken == "" {
		slog.Error("keeper needs an admin token (UPDOWN_ADMIN_TOKEN)")
		os.Exit(1)
	}

	slog.Info("keeper starting",
		"config", *configPath,
		"api", cfg.API.URL,
		"interval", cfg.KeeperInterval(),
		"round_duration", cfg.RoundDuration(),
		"once", *once,
	)

	client := httpapi.NewClient(httpapi.ClientConfig{
		BaseURL:    cfg.API.URL,
		AdminToken: cfg.API.AdminToken,
	})
	oracle := pricefeed.NewClient(pricefeed.Config{
		HermesURL: cfg.Oracle.HermesURL,
		Feeds:     feeds(cfg),
		Timeout:   time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
	})

	k := keeper.New(keeper.Config{
		Interval:       cfg.KeeperInterval(),
		RoundDuration:  cfg.RoundDuration(),
		Asset:          cfg.Engine.Asset,
		FallbackMaxAge: cfg.FallbackMaxAge(),
		FeeSweepSpec:   cfg.Keeper.FeeSweep,
		FeeSweepDepth:  cfg.Keeper.FeeSweepDepth,
		Once:           *once,
	}, client, oracle, notify.NewConsole(*table || cfg.Keeper.Table))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := k.Run(ctx); err != nil {
		slog.Error("keeper exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("keeper stopped cleanly")
}

func feeds(cfg *config.Config) map[string]string {
	if cfg.Oracle.FeedID == "" {
		return nil
	}
	return map[string]string{cfg.Engine.Asset: cfg.Oracle.FeedID}
}
