package exit

import (
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

// TimeOfDay is an hour/minute pair in the broker's server-time location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) onDate(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, 0, 0, ref.Location())
}

// TimeBasedConfig configures the TimeBased rule (spec §4.5, priority 50).
// Each sub-check is independently optional: a zero value disables it.
type TimeBasedConfig struct {
	// MaxHold closes a position once it has been open this long.
	MaxHold time.Duration

	// WeekendProtection closes any open position once server-time enters the
	// window before CloseWeekday/CloseAt.
	WeekendProtectionEnabled bool
	CloseWeekday             time.Weekday
	CloseAt                  TimeOfDay
	WeekendWindow            time.Duration

	// DayTradingEOD closes any open position once server-time-of-day passes
	// EODAt, regardless of weekday.
	DayTradingEODEnabled bool
	EODAt                TimeOfDay
}

// TimeBased closes positions on age or session-boundary rules: max hold
// duration, weekend protection ahead of the weekly close, and day-trading
// end-of-day flatten (spec §4.5).
type TimeBased struct {
	enabled bool
	config  TimeBasedConfig
}

// NewTimeBased builds the rule.
func NewTimeBased(enabled bool, config TimeBasedConfig) *TimeBased {
	return &TimeBased{enabled: enabled, config: config}
}

// Name implements Rule.
func (r *TimeBased) Name() string { return "time_based" }

// Priority implements Rule.
func (r *TimeBased) Priority() int { return 50 }

// Enabled implements Rule.
func (r *TimeBased) Enabled() bool { return r.enabled }

// Evaluate implements Rule. TimeBased keeps no scratch state; every check is
// a pure function of the position and the current tick.
func (r *TimeBased) Evaluate(tick TickContext, pos models.PositionRecord, _ map[string]any) *models.ExitDecision {
	if reason, ok := r.maxHoldBreached(tick, pos); ok {
		return r.decision(pos, tick, reason)
	}
	if reason, ok := r.weekendProtectionBreached(tick); ok {
		return r.decision(pos, tick, reason)
	}
	if reason, ok := r.dayTradingEODBreached(tick); ok {
		return r.decision(pos, tick, reason)
	}
	return nil
}

func (r *TimeBased) maxHoldBreached(tick TickContext, pos models.PositionRecord) (string, bool) {
	if r.config.MaxHold <= 0 || pos.OpenTime.IsZero() {
		return "", false
	}
	serverNow := effectiveNow(tick)
	if serverNow.Sub(pos.OpenTime) >= r.config.MaxHold {
		return "max_hold_exceeded", true
	}
	return "", false
}

// weekendProtectionBreached fires when server-time has entered the window
// ahead of the most imminent weekly close.
func (r *TimeBased) weekendProtectionBreached(tick TickContext) (string, bool) {
	if !r.config.WeekendProtectionEnabled || r.config.WeekendWindow <= 0 || tick.ServerTime.IsZero() {
		return "", false
	}
	closeAt := nextWeeklyClose(tick.ServerTime, r.config.CloseWeekday, r.config.CloseAt)
	if tick.ServerTime.Before(closeAt) && closeAt.Sub(tick.ServerTime) <= r.config.WeekendWindow {
		return "weekend_protection", true
	}
	return "", false
}

func (r *TimeBased) dayTradingEODBreached(tick TickContext) (string, bool) {
	if !r.config.DayTradingEODEnabled || tick.ServerTime.IsZero() {
		return "", false
	}
	eod := r.config.EODAt.onDate(tick.ServerTime)
	if !tick.ServerTime.Before(eod) {
		return "day_trading_eod", true
	}
	return "", false
}

func (r *TimeBased) decision(pos models.PositionRecord, tick TickContext, reason string) *models.ExitDecision {
	return &models.ExitDecision{
		Ticket:             pos.Ticket,
		Reason:             reason,
		StrategyName:       r.Name(),
		DesiredCloseVolume: pos.Volume,
		TriggerTime:        tick.Now,
		Confidence:         1.0,
	}
}

// effectiveNow prefers server-time (spec I8: server-time drives session
// boundaries); it falls back to Now for tests and feeds that leave
// ServerTime unset.
func effectiveNow(tick TickContext) time.Time {
	if !tick.ServerTime.IsZero() {
		return tick.ServerTime
	}
	return tick.Now
}

// nextWeeklyClose returns the nearest instant at-or-after ref that falls on
// weekday at time-of-day at.
func nextWeeklyClose(ref time.Time, weekday time.Weekday, at TimeOfDay) time.Time {
	diff := int(weekday - ref.Weekday())
	if diff < 0 {
		diff += 7
	}
	candidate := at.onDate(ref).AddDate(0, 0, diff)
	if candidate.Before(ref) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
