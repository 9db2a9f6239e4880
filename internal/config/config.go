// Package config loads the engine's configuration from YAML and produces
// an immutable, validated Snapshot. All components read configuration
// exclusively through a Snapshot — nothing is hardcoded in strategy,
// executor, or gate logic.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TradingMode controls whether orders are actually placed or simulated.
type TradingMode string

const (
	TradingModeDryRun TradingMode = "dry_run"
	TradingModeLive   TradingMode = "live"
)

// DailyLockMode selects the daily lock policy.
type DailyLockMode string

const (
	DailyLockModeStop      DailyLockMode = "STOP"
	DailyLockModeOverdrive DailyLockMode = "OVERDRIVE"
)

// ExchangeConfig describes the venue and quote asset the engine trades
// against.
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	QuoteAsset string `yaml:"quote_asset"`
}

// EnsembleConfig configures the strategy combiner.
type EnsembleConfig struct {
	MinAgreement        int     `yaml:"min_agreement"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// FeesConfig configures the exchange's fee schedule, in basis points.
type FeesConfig struct {
	TakerBps float64 `yaml:"taker_bps"`
	MakerBps float64 `yaml:"maker_bps"`
}

// SizingConfig configures position sizing.
type SizingConfig struct {
	RiskPerTradePct      float64 `yaml:"risk_per_trade_pct"`
	MaxPositionPctEquity float64 `yaml:"max_position_pct_equity"`
	MinNotional          float64 `yaml:"min_notional"`
}

// BreakerConfig configures the breaker manager's per-kind thresholds.
type BreakerConfig struct {
	VolatilityATRMultiple   float64 `yaml:"volatility_atr_multiple"`
	VolatilityPauseMinutes  int     `yaml:"volatility_pause_minutes"`
	SpreadCapBps            float64 `yaml:"spread_cap_bps"`
	SpreadPauseMinutes      int     `yaml:"spread_pause_minutes"`
	ConsecutiveLossesWindow int     `yaml:"consecutive_losses_window"`
	ConsecutiveLossesPause  int     `yaml:"consecutive_losses_pause_minutes"`
	InstabilityRatePerMin   float64 `yaml:"instability_rate_per_min"`
	InstabilityPauseMinutes int     `yaml:"instability_pause_minutes"`
	NewsPauseMinutes        int     `yaml:"news_pause_minutes"`
}

// DailyLockConfig configures the daily lock manager.
type DailyLockConfig struct {
	Mode           DailyLockMode `yaml:"mode"`
	DailyTargetUSD float64       `yaml:"daily_target_usd"`
	TrailingBuffer float64       `yaml:"trailing_buffer"`
}

// RiskConfig bundles the hard guardrails enforced independently of
// strategy or ensemble confidence.
type RiskConfig struct {
	MinProfitUSD          float64 `yaml:"min_profit_usd"`
	MaxConcurrentPositions int    `yaml:"max_concurrent_positions"`
}

// Config is the raw, as-loaded configuration shape, deserialized directly
// from YAML before validation produces a Snapshot.
type Config struct {
	Exchange    ExchangeConfig  `yaml:"exchange"`
	Symbols     []string        `yaml:"symbols"`
	Equity      float64         `yaml:"equity"`
	TradingMode TradingMode     `yaml:"trading_mode"`
	Timezone    string          `yaml:"timezone"`
	Ensemble    EnsembleConfig  `yaml:"ensemble"`
	Fees        FeesConfig      `yaml:"fees"`
	SpreadBps   float64         `yaml:"spread_bps"`
	Sizing      SizingConfig    `yaml:"sizing"`
	Breaker     BreakerConfig   `yaml:"breaker"`
	DailyLock   DailyLockConfig `yaml:"daily_lock"`
	Risk        RiskConfig      `yaml:"risk"`
	DatabaseURL string          `yaml:"database_url"`
}

// Snapshot is the immutable, validated configuration in force for the
// engine at one point in time. A new Snapshot is produced on every reload
// and swapped in atomically.
type Snapshot struct {
	Version  int
	Config   Config
	Location *time.Location
}

var quoteAssetAllowlist = map[string]bool{
	"USDT": true, "USDC": true, "USD": true, "BTC": true,
}

// Load reads path as YAML, validates it, and produces Snapshot version 1.
// A failed validation is fatal: callers should treat any returned error as
// a startup-blocking condition.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	return newSnapshot(cfg, 1)
}

// Reload parses newData as YAML against the previous snapshot, validates
// it, and returns a new Snapshot with Version incremented.
func Reload(prev *Snapshot, newData []byte) (*Snapshot, error) {
	var cfg Config
	if err := yaml.Unmarshal(newData, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	version := 1
	if prev != nil {
		version = prev.Version + 1
	}
	return newSnapshot(cfg, version)
}

func newSnapshot(cfg Config, version int) (*Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid timezone %q: %w", cfg.Timezone, err)
	}
	return &Snapshot{Version: version, Config: cfg, Location: loc}, nil
}

// Validate checks the non-exhaustive set of rules the config loader is
// required to enforce before the engine may start.
func (c *Config) Validate() error {
	if !quoteAssetAllowlist[c.Exchange.QuoteAsset] {
		return fmt.Errorf("exchange.quote_asset %q is not in the allowlist", c.Exchange.QuoteAsset)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Equity <= 0 {
		return fmt.Errorf("equity must be positive, got %v", c.Equity)
	}
	if c.TradingMode != TradingModeDryRun && c.TradingMode != TradingModeLive {
		return fmt.Errorf("trading_mode must be 'dry_run' or 'live', got %q", c.TradingMode)
	}
	if c.Risk.MinProfitUSD <= 0 {
		return fmt.Errorf("risk.min_profit_usd must be positive, got %v", c.Risk.MinProfitUSD)
	}
	if c.Ensemble.MinAgreement < 1 || c.Ensemble.MinAgreement > len(strategyNames) {
		return fmt.Errorf("ensemble.min_agreement must be in [1, %d], got %d", len(strategyNames), c.Ensemble.MinAgreement)
	}
	if c.Ensemble.ConfidenceThreshold < 0 || c.Ensemble.ConfidenceThreshold > 1 {
		return fmt.Errorf("ensemble.confidence_threshold must be in [0,1], got %v", c.Ensemble.ConfidenceThreshold)
	}
	if c.Breaker.VolatilityPauseMinutes <= 0 {
		return fmt.Errorf("breaker.volatility_pause_minutes must be positive, got %d", c.Breaker.VolatilityPauseMinutes)
	}
	if c.Breaker.SpreadPauseMinutes <= 0 {
		return fmt.Errorf("breaker.spread_pause_minutes must be positive, got %d", c.Breaker.SpreadPauseMinutes)
	}
	if c.DailyLock.Mode != DailyLockModeStop && c.DailyLock.Mode != DailyLockModeOverdrive {
		return fmt.Errorf("daily_lock.mode must be STOP or OVERDRIVE, got %q", c.DailyLock.Mode)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q is not a valid IANA name: %w", c.Timezone, err)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	return nil
}

// strategyNames names the fixed ensemble membership, used only to bound
// min_agreement during validation.
var strategyNames = []string{"trend_v1", "mean_reversion_v1", "breakout_v1"}
