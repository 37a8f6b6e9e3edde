package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tradeorch/internal/broker"
	"github.com/eddiefleurent/tradeorch/internal/config"
	"github.com/eddiefleurent/tradeorch/internal/dashboard"
	"github.com/eddiefleurent/tradeorch/internal/exit"
	"github.com/eddiefleurent/tradeorch/internal/execution"
	"github.com/eddiefleurent/tradeorch/internal/feed"
	"github.com/eddiefleurent/tradeorch/internal/indicator"
	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/eddiefleurent/tradeorch/internal/persistence"
	"github.com/eddiefleurent/tradeorch/internal/risk"
	"github.com/eddiefleurent/tradeorch/internal/strategy"
	"github.com/eddiefleurent/tradeorch/internal/tracker"
)

// Bot wires every collaborator for one control-loop run (spec §4.1). Only
// the goroutine running Run mutates tracker/risk/exit-scratch state (spec §5
// "single-writer control loop").
type Bot struct {
	cfg    *config.Config
	logger *log.Logger

	session  broker.Session
	feed     *feed.Feed
	pipeline *indicator.Pipeline
	strat    strategy.Strategy
	riskGate *risk.Gate
	engine   *execution.Engine
	track    *tracker.Tracker
	arbiter  *exit.Arbiter
	store    *persistence.Store

	dashServer *dashboard.Server

	magicTag     int64
	atrColumn    string
	tickCount    uint64
	sessionStartEquity decimal.Decimal
	equityInitialised  bool
}

// deriveMagicTag turns an operator-facing string tag (config `trading.magic_tag`)
// into the stable int64 the broker-facing Session.GetOpenPositions/OrderRequest
// expect, so operators can write a human-readable tag in YAML while the
// wire-level value stays a fixed number across restarts.
func deriveMagicTag(tag string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	sum := h.Sum64()
	return int64(sum &^ (1 << 63)) // clear the sign bit: always non-negative
}

// newBot constructs every collaborator from cfg. The broker Session defaults
// to an in-memory mock wrapped in the circuit breaker, since the concrete
// brokerage SDK is an external collaborator this system does not ship a
// driver for (see DESIGN.md); swapping in a live driver is a one-line change
// to buildSession below.
func newBot(cfg *config.Config, logger *log.Logger, dashLevel logrus.Level) (*Bot, error) {
	magicTag := deriveMagicTag(cfg.Trading.MagicTag)

	session := buildSession(cfg, magicTag)

	timeframe := models.Timeframe(cfg.Trading.Timeframe)
	f := feed.New(session, feed.Config{
		Symbol:    cfg.Trading.Symbol,
		Timeframe: timeframe,
		Lookback:  cfg.Trading.LookbackBars,
	})

	specs := make([]indicator.IndicatorSpec, len(cfg.Indicators))
	for i, c := range cfg.Indicators {
		specs[i] = indicator.IndicatorSpec{Type: c.Type, Params: c.Params}
	}
	pipeline, err := indicator.Build(specs)
	if err != nil {
		return nil, fmt.Errorf("building indicator pipeline: %w", err)
	}

	strat, err := strategy.Build(cfg.Strategy.Type, cfg.Strategy.Params)
	if err != nil {
		return nil, fmt.Errorf("building strategy: %w", err)
	}

	riskGate := risk.New(
		models.RiskLimits{
			MaxVolumePerOrder:              cfg.Risk.MaxVolumePerOrder,
			DefaultVolume:                  cfg.Risk.DefaultVolume,
			MaxDailyLoss:                   decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
			MaxPositionsPerSymbol:          cfg.Risk.MaxPositionsPerSymbol,
			MaxTotalPositions:              cfg.Risk.MaxTotalPositions,
			PositionSizeAsFractionOfBalance: cfg.Risk.PositionSizePct,
			EmergencyDrawdownFraction:      cfg.Risk.EmergencyDrawdownPct,
			CircuitBreakerEnabled:          cfg.Risk.CircuitBreakerEnabled,
		},
		risk.BrokerConstraints{MinVolume: cfg.Broker.MinVolume, LotStep: cfg.Broker.LotStep},
		logPrefixed(logger, "risk: "),
	)

	store, err := persistence.Open(cfg.Persistence.Path)
	if err != nil {
		return nil, fmt.Errorf("opening persistence store: %w", err)
	}

	engine := execution.New(session, logPrefixed(logger, "execution: "), execution.Config{
		DryRun:   cfg.DryRun,
		MagicTag: magicTag,
	})

	adoption := tracker.AdoptionPolicy{
		Whitelist: toSet(cfg.OrphanTrades.AdoptSymbols),
		Blacklist: toSet(cfg.OrphanTrades.IgnoreSymbols),
		MaxAge:    time.Duration(cfg.OrphanTrades.MaxAgeHours * float64(time.Hour)),
		LogOnly:   cfg.OrphanTrades.LogOnly,
	}
	if !cfg.OrphanTrades.Enabled {
		adoption.LogOnly = true
	}
	track := tracker.New(session, engine, store, magicTag, adoption, logPrefixed(logger, "tracker: "))

	arbiter, err := buildArbiter(cfg)
	if err != nil {
		return nil, fmt.Errorf("building exit arbiter: %w", err)
	}

	atrColumn, _ := cfg.Strategy.Params["atr_column"].(string)

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		session:   session,
		feed:      f,
		pipeline:  pipeline,
		strat:     strat,
		riskGate:  riskGate,
		engine:    engine,
		track:     track,
		arbiter:   arbiter,
		store:     store,
		magicTag:  magicTag,
		atrColumn: atrColumn,
	}

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		dashLogger.SetOutput(os.Stdout)
		if cfg.IsLive() {
			dashLogger.SetFormatter(&logrus.JSONFormatter{})
		} else {
			dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
		dashLogger.SetLevel(dashLevel)
		b.dashServer = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, track, riskGate, store, dashLogger)
		logger.Printf("dashboard enabled on port %d", cfg.Dashboard.Port)
	}

	return b, nil
}

// buildSession constructs the broker.Session this run talks to. seed keys
// the mock's deterministic RNG so repeated runs with the same magic tag
// behave reproducibly.
func buildSession(cfg *config.Config, seed int64) broker.Session {
	_ = cfg // broker.{login,password,server} would parameterize a live driver
	return broker.NewCircuitBreakerSession(broker.NewMockSession(seed))
}

func buildArbiter(cfg *config.Config) (*exit.Arbiter, error) {
	var rules []exit.Rule
	for _, ec := range cfg.ExitStrategies {
		rule, err := buildExitRule(ec)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			rules = append(rules, rule)
		}
	}
	return exit.New(rules...), nil
}

func buildExitRule(ec config.ExitStrategyConfig) (exit.Rule, error) {
	switch ec.Type {
	case "adverse_movement":
		return exit.NewAdverseMovement(ec.Enabled, exit.AdverseMovementConfig{
			AdversePct:          paramFloat(ec.Params, "adverse_pct", 0.01),
			Window:              time.Duration(paramFloat(ec.Params, "window_seconds", 60)) * time.Second,
			ConsecutiveTicks:    int(paramFloat(ec.Params, "consecutive_ticks", 3)),
			VolatilityThreshold: paramFloat(ec.Params, "volatility_threshold", 0),
			Cooldown:            time.Duration(paramFloat(ec.Params, "cooldown_seconds", 300)) * time.Second,
		}), nil
	case "time_based":
		return exit.NewTimeBased(ec.Enabled, exit.TimeBasedConfig{
			MaxHold:                  time.Duration(paramFloat(ec.Params, "max_hold_hours", 0)) * time.Hour,
			WeekendProtectionEnabled: paramBool(ec.Params, "weekend_protection", false),
			CloseWeekday:             time.Friday,
			CloseAt:                  exit.TimeOfDay{Hour: 16, Minute: 0},
			WeekendWindow:            time.Duration(paramFloat(ec.Params, "weekend_window_hours", 2)) * time.Hour,
			DayTradingEODEnabled:     paramBool(ec.Params, "day_trading_eod", false),
			EODAt:                    exit.TimeOfDay{Hour: 16, Minute: 0},
		}), nil
	case "profit_target":
		return exit.NewProfitTarget(ec.Enabled, exit.ProfitTargetConfig{
			Metric: exit.ProfitMetric(paramString(ec.Params, "metric", string(exit.ProfitAbsolute))),
			Levels: parseProfitLevels(ec.Params),
		}), nil
	case "trailing_stop":
		return exit.NewTrailingStop(ec.Enabled, exit.TrailingStopConfig{
			ActivationProfit: paramFloat(ec.Params, "activation_profit", 0),
			ATRMultiplier:    paramFloat(ec.Params, "atr_multiplier", 2.0),
			MinDistance:      paramFloat(ec.Params, "min_distance", 0),
		}), nil
	default:
		return nil, fmt.Errorf("unknown exit_strategies type %q", ec.Type)
	}
}

func parseProfitLevels(params map[string]any) []exit.ProfitTargetLevel {
	raw, _ := params["levels"].([]any)
	out := make([]exit.ProfitTargetLevel, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, exit.ProfitTargetLevel{
			Threshold:     paramFloat(m, "threshold", 0),
			CloseFraction: paramFloat(m, "close_fraction", 1.0),
		})
	}
	return out
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func paramBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}

func logPrefixed(logger *log.Logger, prefix string) *log.Logger {
	return log.New(logger.Writer(), logger.Prefix()+prefix, logger.Flags())
}

// close releases resources that outlive a single Run call.
func (b *Bot) close() {
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Printf("ERROR: closing persistence store: %v", err)
		}
	}
}

// shutdown implements the stop sequence of spec §4.1: flatten if configured,
// flush persistence, disconnect the broker, all within ctx's grace period.
func (b *Bot) shutdown(ctx context.Context) {
	if b.cfg.FlattenOnShutdown {
		results := b.track.CloseAll(ctx, "shutdown_flatten")
		for _, r := range results {
			if r.Err != nil {
				b.logger.Printf("WARN: shutdown flatten left ticket %d open: %v", r.Ticket, r.Err)
			}
		}
	} else {
		for _, ticket := range b.track.Tickets() {
			b.logger.Printf("shutdown: ticket %d left open (flatten_on_shutdown=false)", ticket)
		}
	}
	if err := b.session.Disconnect(ctx); err != nil {
		b.logger.Printf("WARN: broker disconnect failed: %v", err)
	}
	if b.dashServer != nil {
		if err := b.dashServer.Shutdown(ctx); err != nil {
			b.logger.Printf("WARN: dashboard shutdown failed: %v", err)
		}
	}
}
