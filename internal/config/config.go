package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
	DBConnectAttempts  int `env:"DB_CONNECT_ATTEMPTS" envDefault:"30"`

	EngineMaxAttempts   int           `env:"ENGINE_MAX_ATTEMPTS" envDefault:"5"`
	EngineRetryInterval time.Duration `env:"ENGINE_RETRY_INTERVAL" envDefault:"5ms"`

	IdempotencyTTL   time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	IdempotencyLease time.Duration `env:"IDEMPOTENCY_LEASE" envDefault:"30s"`
	IdempotencyWait  time.Duration `env:"IDEMPOTENCY_WAIT" envDefault:"5s"`

	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1h"`
	ReconcileConcurrency int           `env:"RECONCILE_CONCURRENCY" envDefault:"8"`
	AggregateCacheTTL    time.Duration `env:"AGGREGATE_CACHE_TTL" envDefault:"0s"`

	TraceExporter    string  `env:"TRACE_EXPORTER" envDefault:"none"`
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" envDefault:"1"`

	Fees      FeeConfig       `envPrefix:"FEE_"`
	Affiliate AffiliateConfig `envPrefix:"AFFILIATE_"`
	Limits    LimitsConfig    `envPrefix:"LIMITS_"`
}

// FeeConfig drives the withdrawal fee schedule. Percentages are fractions
// (0.02 is 2%), minimums are minor units.
type FeeConfig struct {
	BasicPct    decimal.Decimal `env:"BASIC_PCT" envDefault:"0.02"`
	VerifiedPct decimal.Decimal `env:"VERIFIED_PCT" envDefault:"0.01"`
	MinHTG      int64           `env:"MIN_HTG" envDefault:"0"`
	MinUSD      int64           `env:"MIN_USD" envDefault:"0"`
}

type AffiliateConfig struct {
	CommissionPct    decimal.Decimal `env:"COMMISSION_PCT" envDefault:"0.01"`
	MinQualifyingHTG int64           `env:"MIN_QUALIFYING_HTG" envDefault:"50000"`
	MinQualifyingUSD int64           `env:"MIN_QUALIFYING_USD" envDefault:"1000"`
}

type LimitsConfig struct {
	Basic    TierLimits `envPrefix:"BASIC_"`
	Verified TierLimits `envPrefix:"VERIFIED_"`
}

type TierLimits struct {
	Deposit    Limits `envPrefix:"DEPOSIT_"`
	Withdrawal Limits `envPrefix:"WITHDRAWAL_"`
	Transfer   Limits `envPrefix:"TRANSFER_"`
}

// Limits are minor-unit ceilings. Zero disables the check.
type Limits struct {
	PerTxHTG   int64 `env:"PER_TX_HTG"`
	DailyHTG   int64 `env:"DAILY_HTG"`
	MonthlyHTG int64 `env:"MONTHLY_HTG"`
	PerTxUSD   int64 `env:"PER_TX_USD"`
	DailyUSD   int64 `env:"DAILY_USD"`
	MonthlyUSD int64 `env:"MONTHLY_USD"`
}

// DefaultLimits are applied to every field left unset in the environment.
var DefaultLimits = LimitsConfig{
	Basic: TierLimits{
		Deposit:    Limits{PerTxHTG: 100_000, DailyHTG: 100_000, MonthlyHTG: 1_000_000, PerTxUSD: 1_000, DailyUSD: 1_000, MonthlyUSD: 10_000},
		Withdrawal: Limits{PerTxHTG: 100_000, DailyHTG: 100_000, MonthlyHTG: 1_000_000, PerTxUSD: 1_000, DailyUSD: 1_000, MonthlyUSD: 10_000},
		Transfer:   Limits{PerTxHTG: 50_000, DailyHTG: 100_000, MonthlyHTG: 500_000, PerTxUSD: 500, DailyUSD: 1_000, MonthlyUSD: 5_000},
	},
	Verified: TierLimits{
		Deposit:    Limits{PerTxHTG: 10_000_000, DailyHTG: 20_000_000, MonthlyHTG: 200_000_000, PerTxUSD: 100_000, DailyUSD: 200_000, MonthlyUSD: 2_000_000},
		Withdrawal: Limits{PerTxHTG: 5_000_000, DailyHTG: 10_000_000, MonthlyHTG: 100_000_000, PerTxUSD: 50_000, DailyUSD: 100_000, MonthlyUSD: 1_000_000},
		Transfer:   Limits{PerTxHTG: 5_000_000, DailyHTG: 10_000_000, MonthlyHTG: 100_000_000, PerTxUSD: 50_000, DailyUSD: 100_000, MonthlyUSD: 1_000_000},
	},
}

func Load() (*Config, error) {
	cfg := Config{Limits: DefaultLimits}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"SWEEP_INTERVAL", c.SweepInterval},
		{"RECONCILE_INTERVAL", c.ReconcileInterval},
		{"IDEMPOTENCY_TTL", c.IdempotencyTTL},
		{"IDEMPOTENCY_LEASE", c.IdempotencyLease},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}
	switch strings.ToLower(c.TraceExporter) {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("TRACE_EXPORTER must be none, stdout or otlp, got %q", c.TraceExporter))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATIO must be within [0, 1], got %v", c.TraceSampleRatio))
	}
	return errors.Join(errs...)
}
