package exit

import (
	"testing"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/shopspring/decimal"
)

func TestProfitTarget_FiresLowestUnfiredLevel(t *testing.T) {
	rule := NewProfitTarget(true, ProfitTargetConfig{
		Metric: ProfitAbsolute,
		Levels: []ProfitTargetLevel{
			{Threshold: 100, CloseFraction: 0.5},
			{Threshold: 200, CloseFraction: 1.0},
		},
	})
	pos := models.PositionRecord{Ticket: 1, Volume: 2, OpenPrice: 100, UnrealisedPnL: decimal.NewFromInt(120)}
	scratch := map[string]any{}

	decision := rule.Evaluate(TickContext{Now: time.Now()}, pos, scratch)
	if decision == nil {
		t.Fatal("expected the 100 level to fire")
	}
	if decision.DesiredCloseVolume != 1.0 {
		t.Fatalf("expected a half close (volume 1.0), got %v", decision.DesiredCloseVolume)
	}
}

func TestProfitTarget_LevelFiresOnlyOnce(t *testing.T) {
	rule := NewProfitTarget(true, ProfitTargetConfig{
		Metric: ProfitAbsolute,
		Levels: []ProfitTargetLevel{
			{Threshold: 100, CloseFraction: 0.5},
		},
	})
	pos := models.PositionRecord{Ticket: 1, Volume: 2, OpenPrice: 100, UnrealisedPnL: decimal.NewFromInt(150)}
	scratch := map[string]any{}

	first := rule.Evaluate(TickContext{Now: time.Now()}, pos, scratch)
	if first == nil {
		t.Fatal("expected the level to fire the first time")
	}

	pos.Volume = 1.0 // the partial close already happened
	second := rule.Evaluate(TickContext{Now: time.Now()}, pos, scratch)
	if second != nil {
		t.Fatalf("expected the same level not to re-fire, got %+v", second)
	}
}

func TestProfitTarget_FractionOfNotionalMetric(t *testing.T) {
	rule := NewProfitTarget(true, ProfitTargetConfig{
		Metric: ProfitFractionNotional,
		Levels: []ProfitTargetLevel{
			{Threshold: 0.05, CloseFraction: 1.0},
		},
	})
	// notional = 100 * 2 = 200; pnl 12 -> 6% > 5% threshold
	pos := models.PositionRecord{Ticket: 1, Volume: 2, OpenPrice: 100, UnrealisedPnL: decimal.NewFromInt(12)}
	scratch := map[string]any{}

	decision := rule.Evaluate(TickContext{Now: time.Now()}, pos, scratch)
	if decision == nil {
		t.Fatal("expected the fraction-of-notional level to fire")
	}
}

func TestProfitTarget_BelowThreshold(t *testing.T) {
	rule := NewProfitTarget(true, ProfitTargetConfig{
		Metric: ProfitAbsolute,
		Levels: []ProfitTargetLevel{{Threshold: 100, CloseFraction: 1.0}},
	})
	pos := models.PositionRecord{Ticket: 1, Volume: 2, OpenPrice: 100, UnrealisedPnL: decimal.NewFromInt(50)}
	scratch := map[string]any{}

	decision := rule.Evaluate(TickContext{Now: time.Now()}, pos, scratch)
	if decision != nil {
		t.Fatalf("expected no decision below threshold, got %+v", decision)
	}
}
