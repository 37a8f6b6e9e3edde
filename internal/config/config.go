// Package config loads and validates the orchestrator's typed configuration
// document (spec §6).
package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Config is the complete, validated configuration document.
type Config struct {
	Broker                  BrokerConfig         `yaml:"broker"`
	Trading                 TradingConfig        `yaml:"trading"`
	Risk                    RiskConfig           `yaml:"risk"`
	Strategy                StrategyConfig       `yaml:"strategy"`
	Indicators              []IndicatorConfig    `yaml:"indicators"`
	ExitStrategies          []ExitStrategyConfig `yaml:"exit_strategies"`
	OrphanTrades            OrphanTradesConfig   `yaml:"orphan_trades"`
	Mindset                 string               `yaml:"mindset"`
	Persistence             PersistenceConfig    `yaml:"persistence"`
	Dashboard               DashboardConfig      `yaml:"dashboard"`
	DryRun                  bool                 `yaml:"dry_run"`
	FlattenOnShutdown       bool                 `yaml:"flatten_on_shutdown"`
	HousekeepingEveryNTicks int                  `yaml:"housekeeping_every_n_ticks"`
}

// BrokerConfig carries connection facts. Password is never logged; callers
// must mask it with the last-four convention before emitting anything that
// touches it.
type BrokerConfig struct {
	Login        string  `yaml:"login"`
	Password     string  `yaml:"password"`
	Server       string  `yaml:"server"`
	TimeoutMS    int     `yaml:"timeout_ms"`
	TerminalPath string  `yaml:"terminal_path"`
	MinVolume    float64 `yaml:"min_volume"`
	LotStep      float64 `yaml:"lot_step"`
}

// DashboardConfig governs the optional read-only HTTP surface (spec §6
// "optional dashboard").
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// TradingConfig names what the loop trades and how often it ticks.
type TradingConfig struct {
	Symbol              string  `yaml:"symbol"`
	Timeframe           string  `yaml:"timeframe"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	LookbackBars        int     `yaml:"lookback_bars"`
	MagicTag            string  `yaml:"magic_tag"`
	DeviationPoints     float64 `yaml:"deviation_points"`
}

// RiskConfig is decoded into models.RiskLimits at startup (percentages and
// fractions here, Decimal there -- see internal/models/risk.go).
type RiskConfig struct {
	MaxVolumePerOrder       float64 `yaml:"max_volume_per_order"`
	DefaultVolume           float64 `yaml:"default_volume"`
	MaxDailyLoss            float64 `yaml:"max_daily_loss"`
	MaxPositionsPerSymbol   int     `yaml:"max_positions_per_symbol"`
	MaxTotalPositions       int     `yaml:"max_total_positions"`
	PositionSizePct         float64 `yaml:"position_size_pct"`
	EmergencyDrawdownPct    float64 `yaml:"emergency_drawdown_pct"`
	CircuitBreakerEnabled   bool    `yaml:"circuit_breaker_enabled"`
}

// StrategyConfig names the one Strategy the loop runs (spec Design Notes:
// exactly one Strategy per loop) and its free-form parameter bag.
type StrategyConfig struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// IndicatorConfig is one declarative indicator-column request (spec §4.6).
type IndicatorConfig struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// ExitStrategyConfig is one configured exit rule entry. Params is decoded
// per-type into the concrete rule config (internal/exit) at wiring time, not
// here -- this package only validates the envelope.
type ExitStrategyConfig struct {
	Type    string         `yaml:"type"`
	Enabled bool           `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
}

// OrphanTradesConfig governs the Position Tracker's reconcile-adoption
// policy (spec §4.4).
type OrphanTradesConfig struct {
	Enabled      bool     `yaml:"enabled"`
	AdoptSymbols []string `yaml:"adopt_symbols"`
	IgnoreSymbols []string `yaml:"ignore_symbols"`
	MaxAgeHours  float64  `yaml:"max_age_hours"`
	LogOnly      bool     `yaml:"log_only"`
}

// PersistenceConfig points at the append-only store's directory (spec §6):
// Path holds the four JSON-Lines tables persistence.Open creates underneath it.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// Load reads configPath, expands environment variables, strictly decodes
// (unknown fields fail fast -- spec §6), applies mindset presets, and
// validates the result. Secrets are expected to arrive via env var
// references (e.g. `${MT5_PASSWORD}`) inside the YAML, never literal.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	if err := cfg.applyMindset(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", configPath, err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", configPath, err)
	}
	return &cfg, nil
}

// normalize fills defaults the teacher's config.Normalize() always applied
// before validation.
func (c *Config) normalize() {
	if c.Trading.PollIntervalSeconds <= 0 {
		c.Trading.PollIntervalSeconds = 5
	}
	if c.Trading.LookbackBars <= 0 {
		c.Trading.LookbackBars = 200
	}
	if c.Trading.MagicTag == "" {
		c.Trading.MagicTag = "tradeorch"
	}
	if c.Broker.TimeoutMS <= 0 {
		c.Broker.TimeoutMS = 10_000
	}
	if c.Risk.MaxTotalPositions <= 0 {
		c.Risk.MaxTotalPositions = 1
	}
	if c.Risk.MaxPositionsPerSymbol <= 0 {
		c.Risk.MaxPositionsPerSymbol = 1
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = "tradeorch-data"
	}
	if c.Broker.MinVolume <= 0 {
		c.Broker.MinVolume = 0.01
	}
	if c.Broker.LotStep <= 0 {
		c.Broker.LotStep = 0.01
	}
	if c.Dashboard.Port <= 0 {
		c.Dashboard.Port = 8080
	}
	if c.HousekeepingEveryNTicks <= 0 {
		c.HousekeepingEveryNTicks = 10
	}
}

// Validate checks every configuration constraint spec §6 requires, failing
// fast with an actionable message.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Trading.Symbol) == "" {
		return fmt.Errorf("trading.symbol is required")
	}
	if strings.TrimSpace(c.Trading.Timeframe) == "" {
		return fmt.Errorf("trading.timeframe is required")
	}
	if c.Trading.PollIntervalSeconds <= 0 {
		return fmt.Errorf("trading.poll_interval_seconds must be > 0")
	}
	if c.Trading.LookbackBars <= 0 {
		return fmt.Errorf("trading.lookback_bars must be > 0")
	}

	if strings.TrimSpace(c.Broker.Login) == "" {
		return fmt.Errorf("broker.login is required")
	}
	if strings.TrimSpace(c.Broker.Server) == "" {
		return fmt.Errorf("broker.server is required")
	}
	if c.Broker.TimeoutMS <= 0 {
		return fmt.Errorf("broker.timeout_ms must be > 0")
	}

	if c.Risk.MaxVolumePerOrder <= 0 {
		return fmt.Errorf("risk.max_volume_per_order must be > 0")
	}
	if c.Risk.DefaultVolume <= 0 {
		return fmt.Errorf("risk.default_volume must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxPositionsPerSymbol <= 0 {
		return fmt.Errorf("risk.max_positions_per_symbol must be > 0")
	}
	if c.Risk.MaxTotalPositions <= 0 {
		return fmt.Errorf("risk.max_total_positions must be > 0")
	}
	if c.Risk.PositionSizePct < 0 || c.Risk.PositionSizePct > 1 {
		return fmt.Errorf("risk.position_size_pct must be in [0,1]")
	}
	if c.Risk.EmergencyDrawdownPct < 0 || c.Risk.EmergencyDrawdownPct > 1 {
		return fmt.Errorf("risk.emergency_drawdown_pct must be in [0,1]")
	}

	if strings.TrimSpace(c.Strategy.Type) == "" {
		return fmt.Errorf("strategy.type is required")
	}

	for i, ind := range c.Indicators {
		if strings.TrimSpace(ind.Type) == "" {
			return fmt.Errorf("indicators[%d].type is required", i)
		}
	}
	for i, ex := range c.ExitStrategies {
		if strings.TrimSpace(ex.Type) == "" {
			return fmt.Errorf("exit_strategies[%d].type is required", i)
		}
	}

	if c.OrphanTrades.Enabled && c.OrphanTrades.MaxAgeHours < 0 {
		return fmt.Errorf("orphan_trades.max_age_hours must be >= 0")
	}

	if strings.TrimSpace(c.Persistence.Path) == "" {
		return fmt.Errorf("persistence.path is required")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in (0,65535] when dashboard.enabled is true")
	}

	return nil
}

// IsLive reports whether this run submits real orders.
func (c *Config) IsLive() bool { return !c.DryRun }
