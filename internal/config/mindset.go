package config

import "fmt"

// mindsetPreset bundles default risk limits and a default exit-rule set for
// one named risk posture (spec §6 "mindset"). Fields are only applied where
// the user's document left the corresponding field at its zero value --
// presets expand defaults, they never override an explicit setting.
type mindsetPreset struct {
	risk           RiskConfig
	exitStrategies []ExitStrategyConfig
}

var mindsetPresets = map[string]mindsetPreset{
	"aggressive": {
		risk: RiskConfig{
			MaxVolumePerOrder:     1.0,
			DefaultVolume:         0.1,
			MaxDailyLoss:          1000,
			MaxPositionsPerSymbol: 3,
			MaxTotalPositions:     6,
			PositionSizePct:       0.05,
			EmergencyDrawdownPct:  0.25,
			CircuitBreakerEnabled: true,
		},
		exitStrategies: []ExitStrategyConfig{
			{Type: "adverse_movement", Enabled: true, Params: map[string]any{"adverse_pct": 0.015, "consecutive_ticks": 2}},
			{Type: "profit_target", Enabled: true, Params: map[string]any{"levels": []any{map[string]any{"threshold": 0.02, "close_fraction": 1.0}}}},
			{Type: "trailing_stop", Enabled: true, Params: map[string]any{"activation_profit": 0.01, "atr_multiplier": 2.5}},
		},
	},
	"balanced": {
		risk: RiskConfig{
			MaxVolumePerOrder:     0.5,
			DefaultVolume:         0.05,
			MaxDailyLoss:          500,
			MaxPositionsPerSymbol: 2,
			MaxTotalPositions:     4,
			PositionSizePct:       0.02,
			EmergencyDrawdownPct:  0.15,
			CircuitBreakerEnabled: true,
		},
		exitStrategies: []ExitStrategyConfig{
			{Type: "adverse_movement", Enabled: true, Params: map[string]any{"adverse_pct": 0.01, "consecutive_ticks": 3}},
			{Type: "profit_target", Enabled: true, Params: map[string]any{"levels": []any{map[string]any{"threshold": 0.015, "close_fraction": 1.0}}}},
			{Type: "trailing_stop", Enabled: true, Params: map[string]any{"activation_profit": 0.008, "atr_multiplier": 3.0}},
			{Type: "time_based", Enabled: true, Params: map[string]any{"max_hold_hours": 48}},
		},
	},
	"conservative": {
		risk: RiskConfig{
			MaxVolumePerOrder:     0.2,
			DefaultVolume:         0.02,
			MaxDailyLoss:          200,
			MaxPositionsPerSymbol: 1,
			MaxTotalPositions:     2,
			PositionSizePct:       0.01,
			EmergencyDrawdownPct:  0.10,
			CircuitBreakerEnabled: true,
		},
		exitStrategies: []ExitStrategyConfig{
			{Type: "adverse_movement", Enabled: true, Params: map[string]any{"adverse_pct": 0.007, "consecutive_ticks": 3}},
			{Type: "profit_target", Enabled: true, Params: map[string]any{"levels": []any{map[string]any{"threshold": 0.01, "close_fraction": 1.0}}}},
			{Type: "time_based", Enabled: true, Params: map[string]any{"max_hold_hours": 24}},
		},
	},
}

// ApplyMindset re-expands c.Mindset into risk/exit defaults and revalidates.
// Callers that override Mindset after Load (e.g. a CLI flag) use this
// instead of re-running Load.
func (c *Config) ApplyMindset() error {
	if err := c.applyMindset(); err != nil {
		return err
	}
	c.normalize()
	return c.Validate()
}

// applyMindset expands c.Mindset into risk and exit-strategy defaults,
// leaving anything the document already set untouched.
func (c *Config) applyMindset() error {
	if c.Mindset == "" {
		return nil
	}
	preset, ok := mindsetPresets[c.Mindset]
	if !ok {
		return fmt.Errorf("unknown mindset preset %q", c.Mindset)
	}

	if c.Risk.MaxVolumePerOrder == 0 {
		c.Risk.MaxVolumePerOrder = preset.risk.MaxVolumePerOrder
	}
	if c.Risk.DefaultVolume == 0 {
		c.Risk.DefaultVolume = preset.risk.DefaultVolume
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = preset.risk.MaxDailyLoss
	}
	if c.Risk.MaxPositionsPerSymbol == 0 {
		c.Risk.MaxPositionsPerSymbol = preset.risk.MaxPositionsPerSymbol
	}
	if c.Risk.MaxTotalPositions == 0 {
		c.Risk.MaxTotalPositions = preset.risk.MaxTotalPositions
	}
	if c.Risk.PositionSizePct == 0 {
		c.Risk.PositionSizePct = preset.risk.PositionSizePct
	}
	if c.Risk.EmergencyDrawdownPct == 0 {
		c.Risk.EmergencyDrawdownPct = preset.risk.EmergencyDrawdownPct
	}
	if !c.Risk.CircuitBreakerEnabled {
		c.Risk.CircuitBreakerEnabled = preset.risk.CircuitBreakerEnabled
	}
	if len(c.ExitStrategies) == 0 {
		c.ExitStrategies = preset.exitStrategies
	}
	return nil
}
