package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

func series(n int) models.Series {
	out := make(models.Series, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = models.Bar{Symbol: "X", Timeframe: models.Timeframe1Hour, OpenTime: base.Add(time.Duration(i) * time.Hour), Close: 100}
	}
	return out
}

func TestTrendFollow_FiresLongOnUpwardCrossover(t *testing.T) {
	st, err := NewTrendFollow(TrendFollowConfig{FastColumn: "fast", SlowColumn: "slow"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := Context{
		Series:     series(3),
		Indicators: map[string][]float64{
			"fast": {9, 9.5, 10.2},
			"slow": {10, 10, 10},
		},
	}
	signal, err := st.OnBar(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if signal == nil || signal.Side != models.SideLong {
		t.Fatalf("expected a long signal on the upward crossover, got %+v", signal)
	}
}

func TestTrendFollow_NoSignalWithoutCrossover(t *testing.T) {
	st, err := NewTrendFollow(TrendFollowConfig{FastColumn: "fast", SlowColumn: "slow"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := Context{
		Series: series(3),
		Indicators: map[string][]float64{
			"fast": {11, 11.2, 11.5},
			"slow": {10, 10, 10},
		},
	}
	signal, err := st.OnBar(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if signal != nil {
		t.Fatalf("expected no signal: fast was already above slow, no crossover occurred, got %+v", signal)
	}
}

func TestTrendFollow_SkipsWarmupNaN(t *testing.T) {
	st, err := NewTrendFollow(TrendFollowConfig{FastColumn: "fast", SlowColumn: "slow"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := Context{
		Series: series(2),
		Indicators: map[string][]float64{
			"fast": {math.NaN(), 10.2},
			"slow": {math.NaN(), 10},
		},
	}
	signal, err := st.OnBar(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if signal != nil {
		t.Fatalf("expected no signal during indicator warmup, got %+v", signal)
	}
}

func TestTrendFollow_AttachesATRStop(t *testing.T) {
	st, err := NewTrendFollow(TrendFollowConfig{FastColumn: "fast", SlowColumn: "slow", ATRColumn: "atr", ATRStopMul: 2})
	if err != nil {
		t.Fatal(err)
	}
	s := series(3)
	s[2].Close = 100
	ctx := Context{
		Series: s,
		Indicators: map[string][]float64{
			"fast": {9, 9.5, 10.2},
			"slow": {10, 10, 10},
			"atr":  {1, 1, 1.5},
		},
	}
	signal, err := st.OnBar(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if signal == nil || signal.Stop == nil {
		t.Fatal("expected an ATR-derived stop to be attached")
	}
	if *signal.Stop != 100-1.5*2 {
		t.Fatalf("expected stop = close - atr*mul = %v, got %v", 100-1.5*2, *signal.Stop)
	}
}

func TestBuild_UnknownStrategyType(t *testing.T) {
	if _, err := Build("nonexistent", nil); err == nil {
		t.Fatal("expected an unknown strategy type to fail Build")
	}
}
