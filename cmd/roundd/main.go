package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/updown/config"
	"github.com/alejandrodnm/updown/internal/adapters/events"
	"github.com/alejandrodnm/updown/internal/adapters/httpapi"
	"github.com/alejandrodnm/updown/internal/adapters/notify"
	"github.com/alejandrodnm/updown/internal/adapters/pricefeed"
	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/engine"
	"github.com/alejandrodnm/updown/internal/application/keeper"
	"github.com/alejandrodnm/updown/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	withKeeper := flag.Bool("keeper", false, "run the keeper in-process (overrides config)")
	table := flag.Bool("table", false, "print every new round as a table")
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
	if *withKeeper {
		cfg.Keeper.Enabled = true
	}
	config.SetupLogger(cfg.Log)

	slog.Info("roundd starting",
		"config", *configPath,
		"addr", cfg.API.Addr,
		"dsn", cfg.Storage.DSN,
		"events", cfg.Events.Driver,
		"keeper", cfg.Keeper.Enabled,
	)

	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer ledger.Close()

	publisher, err := events.New(events.Config{
		Driver:   cfg.Events.Driver,
		AMQPURL:  cfg.Events.AMQPURL,
		Exchange: cfg.Events.Exchange,
	})
	if err != nil {
		slog.Error("failed to start event publisher", "err", err, "driver", cfg.Events.Driver)
		os.Exit(1)
	}
	defer publisher.Close()

	prices := pricefeed.NewClient(priceFeedConfig(cfg))

	eng := engine.New(engine.Params{
		Asset:            cfg.Engine.Asset,
		FeeBps:           cfg.Engine.FeeBps,
		MinBetUSD:        cfg.Engine.MinBetUSDCents,
		MaxPriceAge:      cfg.MaxPriceAge(),
		TokenPriceMaxAge: cfg.TokenPriceMaxAge(),
	}, ledger, storage.NewBank(nil), prices, prices, engine.WithEvents(publisher))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Engine.InitializeOnStart {
		_, err := eng.Initialize(ctx, cfg.Engine.Admin, cfg.Engine.TreasuryUSDC, cfg.Engine.TreasuryURIM)
		switch {
		case errors.Is(err, domain.ErrAlreadyInitialized):
			slog.Debug("program already initialized")
		case err != nil:
			slog.Error("failed to initialize program", "err", err)
			os.Exit(1)
		}
	}

	if cfg.API.AdminToken == "" {
		slog.Warn("no admin token configured, admin API disabled")
	}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Admin:      cfg.Engine.Admin,
		AdminToken: cfg.API.AdminToken,
		Debug:      cfg.API.Debug,
	}, eng)
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var k *keeper.Keeper
	if cfg.Keeper.Enabled {
		k = keeper.New(keeper.Config{
			Interval:       cfg.KeeperInterval(),
			RoundDuration:  cfg.RoundDuration(),
			Asset:          cfg.Engine.Asset,
			FallbackMaxAge: cfg.FallbackMaxAge(),
			FeeSweepSpec:   cfg.Keeper.FeeSweep,
			FeeSweepDepth:  cfg.Keeper.FeeSweepDepth,
		}, engine.NewOperator(eng, cfg.Engine.Admin), prices, notify.NewConsole(*table || cfg.Keeper.Table))
		go func() {
			if err := k.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("roundd exited with error", "err", err)
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	if k != nil {
		k.Wait()
	}
	slog.Info("roundd stopped cleanly")
}

func priceFeedConfig(cfg *config.Config) pricefeed.Config {
	pc := pricefeed.Config{
		HermesURL:      cfg.Oracle.HermesURL,
		DexScreenerURL: cfg.Oracle.DexScreenerURL,
		Chain:          cfg.Oracle.Chain,
		URIMPair:       cfg.Oracle.URIMPair,
		Timeout:        time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
		CacheTTL:       time.Duration(cfg.Oracle.CacheTTLSeconds) * time.Second,
	}
	if cfg.Oracle.FeedID != "" {
		pc.Feeds = map[string]string{cfg.Engine.Asset: cfg.Oracle.FeedID}
	}
	return pc
}
