package strategy

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

// TrendFollow emits a directional Signal when the fast SMA crosses the slow
// SMA, with an optional ATR-derived stop. It is stateless between ticks: the
// crossover is detected from the last two values of each configured column.
type TrendFollow struct {
	fastColumn string
	slowColumn string
	atrColumn  string // optional; empty disables stop attachment
	atrStopMul float64
}

// TrendFollowConfig is the declarative params bag for TrendFollow (spec §6
// `strategy.params`).
type TrendFollowConfig struct {
	FastColumn string  // e.g. "sma_10"
	SlowColumn string  // e.g. "sma_30"
	ATRColumn  string  // e.g. "atr_14"; "" disables the stop
	ATRStopMul float64 // stop distance = ATRStopMul * atr
}

// NewTrendFollow builds the strategy; the caller is responsible for wiring
// matching indicator columns into the Pipeline (fastColumn/slowColumn/
// atrColumn must be configured indicator names).
func NewTrendFollow(cfg TrendFollowConfig) (*TrendFollow, error) {
	if cfg.FastColumn == "" || cfg.SlowColumn == "" {
		return nil, fmt.Errorf("trend_follow: fast_column and slow_column are required")
	}
	if cfg.ATRStopMul <= 0 {
		cfg.ATRStopMul = 2.0
	}
	return &TrendFollow{
		fastColumn: cfg.FastColumn,
		slowColumn: cfg.SlowColumn,
		atrColumn:  cfg.ATRColumn,
		atrStopMul: cfg.ATRStopMul,
	}, nil
}

// Name implements Strategy.
func (t *TrendFollow) Name() string { return "trend_follow" }

// OnBar implements Strategy: it fires on the bar where fast crosses slow,
// not on every bar where fast happens to sit above/below slow.
func (t *TrendFollow) OnBar(ctx Context) (*models.Signal, error) {
	fast := ctx.Indicators[t.fastColumn]
	slow := ctx.Indicators[t.slowColumn]
	if len(fast) < 2 || len(slow) < 2 || len(fast) != len(slow) {
		return nil, nil // not enough warmup yet
	}

	n := len(fast)
	prevFast, prevSlow := fast[n-2], slow[n-2]
	curFast, curSlow := fast[n-1], slow[n-1]
	if anyNaN(prevFast, prevSlow, curFast, curSlow) {
		return nil, nil
	}

	var side models.Side
	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		side = models.SideLong
	case prevFast >= prevSlow && curFast < curSlow:
		side = models.SideShort
	default:
		return nil, nil
	}

	signal := newSignal(t.Name(), side, ctx, 1.0)
	if t.atrColumn != "" {
		if atr, ok := ctx.IndicatorLast(t.atrColumn); ok && atr > 0 {
			distance := atr * t.atrStopMul
			stop := signal.ReferencePrice - distance
			if side == models.SideShort {
				stop = signal.ReferencePrice + distance
			}
			signal.Stop = &stop
		}
	}
	return signal, nil
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
