package exit

import (
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

// AdverseMovementConfig configures the AdverseMovement rule (spec §4.5,
// priority 90).
type AdverseMovementConfig struct {
	AdversePct          float64       // e.g. 0.01 for 1%
	Window              time.Duration // e.g. 60s
	ConsecutiveTicks    int           // confirmations required
	VolatilityThreshold float64       // 0 disables the volatility filter
	Cooldown            time.Duration
}

type priceObservation struct {
	at    time.Time
	price float64
}

// adverseMovementState is the per-ticket scratch this rule keeps.
type adverseMovementState struct {
	window        []priceObservation
	consecutive   int
	lastTriggered time.Time
}

const scratchKeyState = "state"

// AdverseMovement closes a position once price has moved against it by at
// least AdversePct within Window, confirmed by ConsecutiveTicks adverse
// observations. An optional volatility filter suppresses triggering when the
// tick's volatility proxy exceeds VolatilityThreshold; an internal cooldown
// prevents immediate re-triggering.
type AdverseMovement struct {
	enabled bool
	config  AdverseMovementConfig
}

// NewAdverseMovement builds the rule.
func NewAdverseMovement(enabled bool, config AdverseMovementConfig) *AdverseMovement {
	return &AdverseMovement{enabled: enabled, config: config}
}

// Name implements Rule.
func (r *AdverseMovement) Name() string { return "adverse_movement" }

// Priority implements Rule.
func (r *AdverseMovement) Priority() int { return 90 }

// Enabled implements Rule.
func (r *AdverseMovement) Enabled() bool { return r.enabled }

func stateOf(scratch map[string]any) *adverseMovementState {
	s, ok := scratch[scratchKeyState].(*adverseMovementState)
	if !ok {
		s = &adverseMovementState{}
		scratch[scratchKeyState] = s
	}
	return s
}

// Evaluate implements Rule.
func (r *AdverseMovement) Evaluate(tick TickContext, pos models.PositionRecord, scratch map[string]any) *models.ExitDecision {
	st := stateOf(scratch)

	if !st.lastTriggered.IsZero() && tick.Now.Sub(st.lastTriggered) < r.config.Cooldown {
		return nil
	}

	adverse := isAdverse(pos.Side, pos.OpenPrice, pos.CurrentPrice, r.config.AdversePct)
	st.window = append(st.window, priceObservation{at: tick.Now, price: pos.CurrentPrice})
	st.window = trimWindow(st.window, tick.Now, r.config.Window)

	if adverse {
		st.consecutive++
	} else {
		st.consecutive = 0
	}

	if st.consecutive < r.config.ConsecutiveTicks {
		return nil
	}
	if !windowConfirmsAdverse(st.window, pos.Side, pos.OpenPrice, r.config.AdversePct) {
		return nil
	}
	if r.config.VolatilityThreshold > 0 && tick.Volatility > r.config.VolatilityThreshold {
		return nil
	}

	st.lastTriggered = tick.Now
	st.consecutive = 0

	return &models.ExitDecision{
		Ticket:             pos.Ticket,
		Reason:             "adverse_movement",
		StrategyName:       r.Name(),
		DesiredCloseVolume: pos.Volume,
		TriggerTime:        tick.Now,
		Confidence:         1.0,
	}
}

func isAdverse(side models.PositionSide, openPrice, currentPrice, adversePct float64) bool {
	if openPrice <= 0 {
		return false
	}
	move := (currentPrice - openPrice) / openPrice
	if side == models.PositionLong {
		return move <= -adversePct
	}
	return move >= adversePct
}

func windowConfirmsAdverse(window []priceObservation, side models.PositionSide, openPrice, adversePct float64) bool {
	if len(window) == 0 {
		return false
	}
	// Every observation still inside the bounded window is measured against
	// the open price, and all of them must be adverse for the window to
	// "confirm" (spec: "moved against the position
	// by at least adverse_pct within window_seconds").
	for _, obs := range window {
		if !isAdverse(side, openPrice, obs.price, adversePct) {
			return false
		}
	}
	return true
}

func trimWindow(window []priceObservation, now time.Time, size time.Duration) []priceObservation {
	if size <= 0 {
		return window
	}
	cutoff := now.Add(-size)
	i := 0
	for i < len(window) && window[i].at.Before(cutoff) {
		i++
	}
	return window[i:]
}
