package exit

import (
	"fmt"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

// ProfitMetric selects how a ProfitTargetLevel's Threshold is interpreted.
type ProfitMetric string

// Profit metrics.
const (
	ProfitAbsolute        ProfitMetric = "absolute"          // currency units of unrealised P&L
	ProfitFractionNotional ProfitMetric = "fraction_notional" // unrealised P&L / (open_price * volume)
)

// ProfitTargetLevel is one configured take-profit rung. CloseFraction is the
// portion of the position's current volume to close when it fires; 1.0
// closes the position outright, anything less is a partial close and the
// remainder continues to be managed by every rule (spec §4.5).
type ProfitTargetLevel struct {
	Threshold     float64
	CloseFraction float64
}

// ProfitTargetConfig configures the ProfitTarget rule (spec §4.5, priority
// 40). Levels need not be pre-sorted; Evaluate checks them in ascending
// Threshold order.
type ProfitTargetConfig struct {
	Metric ProfitMetric
	Levels []ProfitTargetLevel
}

// profitTargetState remembers which level indices have already fired for a
// ticket, so a level fires at most once per position.
type profitTargetState struct {
	fired map[int]bool
}

// ProfitTarget closes all or part of a position once its unrealised P&L
// reaches a configured level (spec §4.5).
type ProfitTarget struct {
	enabled bool
	config  ProfitTargetConfig
	order   []int // indices into config.Levels, ascending by Threshold
}

// NewProfitTarget builds the rule; levels are indexed in ascending-threshold
// order once up front so Evaluate need not sort per tick.
func NewProfitTarget(enabled bool, config ProfitTargetConfig) *ProfitTarget {
	order := make([]int, len(config.Levels))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && config.Levels[order[j]].Threshold < config.Levels[order[j-1]].Threshold; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	return &ProfitTarget{enabled: enabled, config: config, order: order}
}

// Name implements Rule.
func (r *ProfitTarget) Name() string { return "profit_target" }

// Priority implements Rule.
func (r *ProfitTarget) Priority() int { return 40 }

// Enabled implements Rule.
func (r *ProfitTarget) Enabled() bool { return r.enabled }

func profitTargetStateOf(scratch map[string]any) *profitTargetState {
	s, ok := scratch[scratchKeyState].(*profitTargetState)
	if !ok {
		s = &profitTargetState{fired: make(map[int]bool)}
		scratch[scratchKeyState] = s
	}
	return s
}

// Evaluate implements Rule.
func (r *ProfitTarget) Evaluate(tick TickContext, pos models.PositionRecord, scratch map[string]any) *models.ExitDecision {
	st := profitTargetStateOf(scratch)
	metric := r.metricValue(pos)

	for _, idx := range r.order {
		if st.fired[idx] {
			continue
		}
		level := r.config.Levels[idx]
		if metric < level.Threshold {
			continue
		}
		st.fired[idx] = true

		fraction := level.CloseFraction
		if fraction <= 0 || fraction > 1 {
			fraction = 1
		}
		volume := pos.Volume * fraction

		return &models.ExitDecision{
			Ticket:             pos.Ticket,
			Reason:             fmt.Sprintf("profit_target_%d", idx),
			StrategyName:       r.Name(),
			DesiredCloseVolume: volume,
			TriggerTime:        tick.Now,
			Confidence:         1.0,
		}
	}
	return nil
}

func (r *ProfitTarget) metricValue(pos models.PositionRecord) float64 {
	pnl, _ := pos.UnrealisedPnL.Float64()
	if r.config.Metric == ProfitFractionNotional {
		notional := pos.OpenPrice * pos.Volume
		if notional <= 0 {
			return 0
		}
		return pnl / notional
	}
	return pnl
}
