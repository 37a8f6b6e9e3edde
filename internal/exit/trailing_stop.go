package exit

import (
	"github.com/eddiefleurent/tradeorch/internal/models"
)

// TrailingStopConfig configures the TrailingStop rule (spec §4.5, priority
// 25).
type TrailingStopConfig struct {
	// ActivationProfit is the unrealised P&L (account currency) a position
	// must reach before the trailing stop starts tracking.
	ActivationProfit float64

	// ATRMultiplier scales TickContext.Volatility into a trailing distance.
	ATRMultiplier float64

	// MinDistance is an absolute price floor under the ATR-derived distance,
	// so a quiet market never produces a stop that sits on top of price.
	MinDistance float64
}

// trailingStopState is the rule's authoritative scratch for best-price-seen
// and the current stop price -- PositionRecord does not own this (spec
// Design Notes open question: best-price-seen belongs to the rule, not the
// tracked position, since it is exit-strategy-specific and must not leak
// into reconciliation/adoption).
type trailingStopState struct {
	activated bool
	bestPrice float64
	stopPrice float64
}

// TrailingStop activates once a position's unrealised profit crosses
// ActivationProfit, then trails price at a volatility-derived distance. The
// stop is monotonic in the profitable direction (spec I6): it only ever
// tightens, never loosens.
type TrailingStop struct {
	enabled bool
	config  TrailingStopConfig
}

// NewTrailingStop builds the rule.
func NewTrailingStop(enabled bool, config TrailingStopConfig) *TrailingStop {
	return &TrailingStop{enabled: enabled, config: config}
}

// Name implements Rule.
func (r *TrailingStop) Name() string { return "trailing_stop" }

// Priority implements Rule.
func (r *TrailingStop) Priority() int { return 25 }

// Enabled implements Rule.
func (r *TrailingStop) Enabled() bool { return r.enabled }

func trailingStopStateOf(scratch map[string]any) *trailingStopState {
	s, ok := scratch[scratchKeyState].(*trailingStopState)
	if !ok {
		s = &trailingStopState{}
		scratch[scratchKeyState] = s
	}
	return s
}

// Evaluate implements Rule.
func (r *TrailingStop) Evaluate(tick TickContext, pos models.PositionRecord, scratch map[string]any) *models.ExitDecision {
	st := trailingStopStateOf(scratch)

	if !st.activated {
		pnl, _ := pos.UnrealisedPnL.Float64()
		if pnl < r.config.ActivationProfit {
			return nil
		}
		st.activated = true
		st.bestPrice = pos.CurrentPrice
		st.stopPrice = r.stopFor(pos.Side, st.bestPrice, tick.Volatility)
	}

	distance := r.distance(tick.Volatility)

	switch pos.Side {
	case models.PositionLong:
		if pos.CurrentPrice > st.bestPrice {
			st.bestPrice = pos.CurrentPrice
		}
		candidate := st.bestPrice - distance
		if candidate > st.stopPrice {
			st.stopPrice = candidate
		}
		if pos.CurrentPrice <= st.stopPrice {
			return r.decision(pos, tick)
		}
	case models.PositionShort:
		if pos.CurrentPrice < st.bestPrice || st.bestPrice == 0 {
			st.bestPrice = pos.CurrentPrice
		}
		candidate := st.bestPrice + distance
		if st.stopPrice == 0 || candidate < st.stopPrice {
			st.stopPrice = candidate
		}
		if pos.CurrentPrice >= st.stopPrice {
			return r.decision(pos, tick)
		}
	}
	return nil
}

func (r *TrailingStop) stopFor(side models.PositionSide, price, volatility float64) float64 {
	distance := r.distance(volatility)
	if side == models.PositionLong {
		return price - distance
	}
	return price + distance
}

func (r *TrailingStop) distance(volatility float64) float64 {
	d := volatility * r.config.ATRMultiplier
	if d < r.config.MinDistance {
		d = r.config.MinDistance
	}
	return d
}

func (r *TrailingStop) decision(pos models.PositionRecord, tick TickContext) *models.ExitDecision {
	return &models.ExitDecision{
		Ticket:             pos.Ticket,
		Reason:             "trailing_stop",
		StrategyName:       r.Name(),
		DesiredCloseVolume: pos.Volume,
		TriggerTime:        tick.Now,
		Confidence:         1.0,
	}
}
