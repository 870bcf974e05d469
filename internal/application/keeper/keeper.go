package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/robfig/cron/v3"
)

// Config contiene la configuración del keeper.
type Config struct {
	Interval       time.Duration
	RoundDuration  time.Duration
	Asset          string
	FallbackMaxAge time.Duration // antigüedad máxima del precio manual de respaldo
	FeeSweepSpec   string        // cron spec (con segundos); vacío lo desactiva
	FeeSweepDepth  int           // rondas recientes revisadas por el barrido
	FeeTimeout     time.Duration
	Once           bool // un solo tick y salir
}

// Keeper mueve las rondas hacia adelante: abre, espera, resuelve y vuelve a abrir.
// Cada tick re-evalúa el estado desde cero, así que un fallo se corrige solo
// en el siguiente.
type Keeper struct {
	cfg      Config
	op       ports.RoundOperator
	oracle   ports.PriceOracle
	notifier ports.Notifier
	now      func() time.Time

	pending sync.WaitGroup // cobros de fees en vuelo
}

// Option personaliza un Keeper.
type Option func(*Keeper)

// WithClock reemplaza time.Now.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

// New crea un Keeper. oracle es la fuente del precio manual cuando el
// operador responde StalePrice; puede ser nil si no hay fallback.
func New(cfg Config, op ports.RoundOperator, oracle ports.PriceOracle, notifier ports.Notifier, opts ...Option) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = 180 * time.Second
	}
	if cfg.FeeSweepDepth <= 0 {
		cfg.FeeSweepDepth = 20
	}
	if cfg.FeeTimeout <= 0 {
		cfg.FeeTimeout = 30 * time.Second
	}
	k := &Keeper{cfg: cfg, op: op, oracle: oracle, notifier: notifier, now: time.Now}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Run ejecuta el loop del keeper hasta que el contexto se cancele.
// Si cfg.Once está activo, solo ejecuta un tick y devuelve su error.
func (k *Keeper) Run(ctx context.Context) error {
	slog.Info("keeper starting",
		"interval", k.cfg.Interval,
		"round_duration", k.cfg.RoundDuration,
		"fee_sweep", k.cfg.FeeSweepSpec,
		"once", k.cfg.Once,
	)
	defer k.Wait()

	if !k.cfg.Once && k.cfg.FeeSweepSpec != "" {
		c := cron.New(cron.WithSeconds())
		if _, err := c.AddFunc(k.cfg.FeeSweepSpec, func() { k.SweepFees(ctx) }); err != nil {
			return fmt.Errorf("keeper.Run: fee sweep schedule %q: %w", k.cfg.FeeSweepSpec, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	tick := k.runTick(ctx)
	if k.cfg.Once {
		return tick.Err
	}

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("keeper stopped")
			return nil
		case <-ticker.C:
			k.runTick(ctx)
		}
	}
}

// Wait bloquea hasta que terminen los cobros de fees lanzados por Tick.
func (k *Keeper) Wait() {
	k.pending.Wait()
}

func (k *Keeper) runTick(ctx context.Context) domain.KeeperTick {
	tick := k.Tick(ctx)
	if tick.Err != nil {
		slog.Error("keeper tick failed", "err", tick.Err)
	}
	if k.notifier != nil {
		if err := k.notifier.NotifyTick(ctx, tick); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	return tick
}

// Tick evalúa la ronda actual y hace lo que toque: nada si está abierta,
// resolver y abrir otra si expiró, abrir una si no hay o ya está resuelta.
func (k *Keeper) Tick(ctx context.Context) domain.KeeperTick {
	tick := domain.KeeperTick{At: k.now(), Action: domain.KeeperWaiting}

	cur, err := k.op.CurrentRound(ctx)
	switch {
	case errors.Is(err, domain.ErrRoundNotFound):
		slog.Info("no rounds yet, starting the first one")
	case err != nil:
		tick.Action, tick.Err = domain.KeeperFailed, fmt.Errorf("keeper.Tick: current round: %w", err)
		return tick
	default:
		tick.Round = &cur
		switch cur.State(tick.At) {
		case domain.StateOpen:
			slog.Debug("round open", "round_id", cur.RoundID, "seconds_left", cur.SecondsLeft(tick.At))
			return tick
		case domain.StateExpired:
			resolved, manual, err := k.resolve(ctx, cur.RoundID)
			if err != nil {
				if domain.KindOf(err) == domain.KindTiming {
					return tick
				}
				tick.Action, tick.Err = domain.KeeperFailed, err
				return tick
			}
			tick.Action, tick.Manual = domain.KeeperResolved, manual
			if resolved != nil {
				tick.Round = resolved
				k.collectFees(ctx, resolved.RoundID)
			}
		}
	}

	started, manual, err := k.start(ctx)
	switch {
	case errors.Is(err, domain.ErrRoundAlreadyActive), errors.Is(err, domain.ErrPaused):
		slog.Info("round not started", "reason", err)
	case err != nil:
		tick.Action, tick.Err = domain.KeeperFailed, err
	default:
		tick.Started = &started
		tick.Manual = tick.Manual || manual
		if tick.Action == domain.KeeperWaiting {
			tick.Action = domain.KeeperStarted
		}
	}
	return tick
}

// start abre una ronda por la vía del oráculo y, si está stale, con el
// precio del oráculo propio del keeper.
func (k *Keeper) start(ctx context.Context) (domain.Round, bool, error) {
	r, err := k.op.StartRound(ctx, k.cfg.RoundDuration)
	if !errors.Is(err, domain.ErrStalePrice) {
		if err != nil {
			return domain.Round{}, false, fmt.Errorf("keeper: start round: %w", err)
		}
		return r, false, nil
	}

	slog.Warn("oracle stale, starting with manual price", "err", err)
	price, err := k.fallbackPrice(ctx)
	if err != nil {
		return domain.Round{}, false, err
	}
	r, err = k.op.StartRoundManual(ctx, k.cfg.RoundDuration, price)
	if err != nil {
		return domain.Round{}, false, fmt.Errorf("keeper: start round manual: %w", err)
	}
	return r, true, nil
}

// resolve resuelve id. Un RoundAlreadyResolved (otro keeper ganó la
// carrera) o un VaultWithdrawn cuentan como éxito y devuelven nil.
func (k *Keeper) resolve(ctx context.Context, id uint64) (*domain.Round, bool, error) {
	r, err := k.op.ResolveRound(ctx, id)
	manual := false
	if errors.Is(err, domain.ErrStalePrice) {
		slog.Warn("oracle stale, resolving with manual price", "round_id", id, "err", err)
		price, perr := k.fallbackPrice(ctx)
		if perr != nil {
			return nil, false, perr
		}
		r, err = k.op.ResolveRoundManual(ctx, id, price)
		manual = true
	}
	switch {
	case errors.Is(err, domain.ErrRoundAlreadyResolved):
		slog.Info("round already resolved", "round_id", id)
		return nil, false, nil
	case errors.Is(err, domain.ErrVaultWithdrawn):
		slog.Warn("round vault withdrawn, skipping resolution", "round_id", id)
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("keeper: resolve round %d: %w", id, err)
	}
	return &r, manual, nil
}

func (k *Keeper) fallbackPrice(ctx context.Context) (uint64, error) {
	if k.oracle == nil {
		return 0, fmt.Errorf("keeper: no fallback oracle: %w", domain.ErrStalePrice)
	}
	obs, err := k.oracle.GetPrice(ctx, k.cfg.Asset)
	if err != nil {
		return 0, fmt.Errorf("keeper: fallback price: %w", err)
	}
	if obs.IsStale(k.now(), k.cfg.FallbackMaxAge) {
		return 0, fmt.Errorf("keeper: fallback price from %s: %w",
			obs.ObservedAt.UTC().Format(time.RFC3339), domain.ErrStalePrice)
	}
	return obs.Price, nil
}

// collectFees cobra las fees de id en segundo plano; los errores solo se loguean.
func (k *Keeper) collectFees(ctx context.Context, id uint64) {
	k.pending.Add(1)
	go func() {
		defer k.pending.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.FeeTimeout)
		defer cancel()
		sweep, err := k.op.CollectFees(cctx, id)
		if err != nil {
			slog.Warn("fee collection failed", "round_id", id, "err", err)
			return
		}
		if !sweep.AlreadyCollected {
			slog.Info("fees collected", "round_id", id,
				"usdc", sweep.Collected[domain.TokenA], "urim", sweep.Collected[domain.TokenB])
		}
	}()
}

// SweepFees cobra las fees de las rondas resueltas recientes que aún no se
// cobraron. Devuelve cuántas rondas se barrieron.
func (k *Keeper) SweepFees(ctx context.Context) (int, error) {
	rounds, err := k.op.ListRounds(ctx, k.cfg.FeeSweepDepth)
	if err != nil {
		slog.Warn("fee sweep: list rounds failed", "err", err)
		return 0, fmt.Errorf("keeper.SweepFees: %w", err)
	}

	var errs []error
	swept := 0
	for _, r := range rounds {
		if !r.Resolved || r.FeesCollected || r.Withdrawn {
			continue
		}
		s, err := k.op.CollectFees(ctx, r.RoundID)
		if err != nil {
			slog.Warn("fee sweep failed", "round_id", r.RoundID, "err", err)
			errs = append(errs, err)
			continue
		}
		if !s.AlreadyCollected {
			swept++
		}
	}
	if swept > 0 {
		slog.Info("fee sweep done", "rounds", swept)
	}
	return swept, errors.Join(errs...)
}
