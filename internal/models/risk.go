package models

import "github.com/shopspring/decimal"

// RiskLimits is the Risk Gate's configuration. The running daily-loss and
// circuit-breaker state lives on risk.Gate, not here.
type RiskLimits struct {
	MaxVolumePerOrder         float64
	DefaultVolume             float64
	MaxDailyLoss              decimal.Decimal
	MaxPositionsPerSymbol     int
	MaxTotalPositions         int
	PositionSizeAsFractionOfBalance float64
	EmergencyDrawdownFraction float64
	CircuitBreakerEnabled     bool
}

// RefusalCode is a stable, human-legible tag attached to every Risk Gate
// refusal (spec §4.2, §7 "user-visible failure").
type RefusalCode string

// Refusal codes.
const (
	RefusalTradingDisabled          RefusalCode = "trading_disabled"
	RefusalSymbolCap                RefusalCode = "symbol_cap"
	RefusalTotalCap                 RefusalCode = "total_cap"
	RefusalDailyLossBreached        RefusalCode = "daily_loss_breached"
	RefusalZeroOrNegativeSize       RefusalCode = "zero_or_negative_size"
	RefusalVolumeBelowBrokerMinimum RefusalCode = "volume_below_broker_minimum"
	RefusalVolumeAboveConfigMax     RefusalCode = "volume_above_config_max"
	RefusalInsufficientMargin       RefusalCode = "insufficient_margin"
	RefusalCircuitBreakerOpen       RefusalCode = "circuit_breaker_open"
)

// RiskDecision is the Risk Gate's output: exactly one of Approved or Refused
// is meaningful, selected by Approved.
type RiskDecision struct {
	Approved bool
	Volume   float64 // meaningful iff Approved

	Code    RefusalCode // meaningful iff !Approved
	Message string
	Context Metadata
}
