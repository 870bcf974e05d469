package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de roundd, keeper y roundctl.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Keeper  KeeperConfig  `yaml:"keeper"`
	Oracle  OracleConfig  `yaml:"oracle"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig contiene los parámetros del programa y la identidad admin.
type EngineConfig struct {
	Asset                   string `yaml:"asset"`
	FeeBps                  uint64 `yaml:"fee_bps"`
	MinBetUSDCents          uint64 `yaml:"min_bet_usd_cents"`
	MaxPriceAgeSeconds      int    `yaml:"max_price_age_seconds"`
	TokenPriceMaxAgeSeconds int    `yaml:"token_price_max_age_seconds"`
	Admin                   string `yaml:"admin"`
	TreasuryUSDC            string `yaml:"treasury_usdc"`
	TreasuryURIM            string `yaml:"treasury_urim"`
	InitializeOnStart       bool   `yaml:"initialize_on_start"` // crea el config singleton si no existe
}

// KeeperConfig controla el loop del keeper.
type KeeperConfig struct {
	Enabled              bool   `yaml:"enabled"` // keeper embebido en roundd
	IntervalSeconds      int    `yaml:"interval_seconds"`
	RoundDurationSeconds int    `yaml:"round_duration_seconds"`
	FallbackMaxAgeSecs   int    `yaml:"fallback_max_age_seconds"`
	FeeSweep             string `yaml:"fee_sweep"` // cron spec con segundos; "" lo desactiva
	FeeSweepDepth        int    `yaml:"fee_sweep_depth"`
	Table                bool   `yaml:"table"` // imprime la ronda nueva como tabla
}

// OracleConfig contiene las fuentes de precio.
type OracleConfig struct {
	HermesURL       string `yaml:"hermes_url"`
	FeedID          string `yaml:"feed_id"`
	DexScreenerURL  string `yaml:"dexscreener_url"`
	Chain           string `yaml:"chain"`
	URIMPair        string `yaml:"urim_pair"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// APIConfig controla el servidor HTTP y el cliente que lo usa.
type APIConfig struct {
	Addr       string `yaml:"addr"`
	URL        string `yaml:"url"` // base URL de roundd para keeper y roundctl
	AdminToken string `yaml:"admin_token"`
	Debug      bool   `yaml:"debug"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// EventsConfig elige el publisher de eventos.
type EventsConfig struct {
	Driver   string `yaml:"driver"` // log | amqp | none
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
// Un path vacío o inexistente deja solo env + defaults.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.FeeBps > 10_000 {
		return fmt.Errorf("engine.fee_bps %d above 10000", c.Engine.FeeBps)
	}
	switch c.Events.Driver {
	case "log", "amqp", "none":
	default:
		return fmt.Errorf("events.driver %q: want log, amqp or none", c.Events.Driver)
	}
	if c.Events.Driver == "amqp" && c.Events.AMQPURL == "" {
		return fmt.Errorf("events.driver amqp needs events.amqp_url or AMQP_URL")
	}
	return nil
}

// KeeperInterval devuelve el intervalo de polling como time.Duration.
func (c *Config) KeeperInterval() time.Duration {
	return time.Duration(c.Keeper.IntervalSeconds) * time.Second
}

// RoundDuration devuelve la duración de cada ronda.
func (c *Config) RoundDuration() time.Duration {
	return time.Duration(c.Keeper.RoundDurationSeconds) * time.Second
}

// MaxPriceAge devuelve la antigüedad máxima del oráculo aceptada por el engine.
func (c *Config) MaxPriceAge() time.Duration {
	return time.Duration(c.Engine.MaxPriceAgeSeconds) * time.Second
}

// TokenPriceMaxAge devuelve la antigüedad máxima de la cotización de URIM.
func (c *Config) TokenPriceMaxAge() time.Duration {
	return time.Duration(c.Engine.TokenPriceMaxAgeSeconds) * time.Second
}

// FallbackMaxAge devuelve la antigüedad máxima del precio manual del keeper.
func (c *Config) FallbackMaxAge() time.Duration {
	return time.Duration(c.Keeper.FallbackMaxAgeSecs) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("UPDOWN_ADMIN_TOKEN"); v != "" {
		cfg.API.AdminToken = v
	}
	if v := os.Getenv("UPDOWN_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("UPDOWN_API_URL"); v != "" {
		cfg.API.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Events.AMQPURL = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.Asset == "" {
		cfg.Engine.Asset = "SOL/USD"
	}
	if cfg.Engine.FeeBps == 0 {
		cfg.Engine.FeeBps = 50 // 0.5%
	}
	if cfg.Engine.MinBetUSDCents == 0 {
		cfg.Engine.MinBetUSDCents = 100
	}
	if cfg.Engine.MaxPriceAgeSeconds <= 0 {
		cfg.Engine.MaxPriceAgeSeconds = 60
	}
	if cfg.Engine.TokenPriceMaxAgeSeconds <= 0 {
		cfg.Engine.TokenPriceMaxAgeSeconds = 300
	}
	if cfg.Engine.Admin == "" {
		cfg.Engine.Admin = "admin"
	}
	if cfg.Engine.TreasuryUSDC == "" {
		cfg.Engine.TreasuryUSDC = "treasury-usdc"
	}
	if cfg.Engine.TreasuryURIM == "" {
		cfg.Engine.TreasuryURIM = "treasury-urim"
	}
	if cfg.Keeper.IntervalSeconds <= 0 {
		cfg.Keeper.IntervalSeconds = 30
	}
	if cfg.Keeper.RoundDurationSeconds <= 0 {
		cfg.Keeper.RoundDurationSeconds = 180
	}
	if cfg.Keeper.FallbackMaxAgeSecs <= 0 {
		cfg.Keeper.FallbackMaxAgeSecs = 60
	}
	if cfg.Keeper.FeeSweep == "" {
		cfg.Keeper.FeeSweep = "@every 10m"
	}
	if cfg.Keeper.FeeSweepDepth <= 0 {
		cfg.Keeper.FeeSweepDepth = 20
	}
	if cfg.Oracle.HermesURL == "" {
		cfg.Oracle.HermesURL = "https://hermes.pyth.network"
	}
	if cfg.Oracle.DexScreenerURL == "" {
		cfg.Oracle.DexScreenerURL = "https://api.dexscreener.com"
	}
	if cfg.Oracle.Chain == "" {
		cfg.Oracle.Chain = "solana"
	}
	if cfg.Oracle.TimeoutSeconds <= 0 {
		cfg.Oracle.TimeoutSeconds = 10
	}
	if cfg.Oracle.CacheTTLSeconds <= 0 {
		cfg.Oracle.CacheTTLSeconds = 30
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.API.URL == "" {
		cfg.API.URL = "http://localhost:8080"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "updown.db"
	}
	cfg.Events.Driver = strings.ToLower(strings.TrimSpace(cfg.Events.Driver))
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "log"
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "updown.events"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
