package indicator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

func makeSeries(closes []float64) models.Series {
	out := make(models.Series, len(closes))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = models.Bar{
			Symbol: "X", Timeframe: models.Timeframe1Hour,
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100,
		}
	}
	return out
}

func TestSMA_Compute(t *testing.T) {
	ind, err := newSMAFromParams(map[string]any{"period": 3})
	if err != nil {
		t.Fatal(err)
	}
	values, err := ind.Compute(makeSeries([]float64{1, 2, 3, 4, 5}))
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(values[0]) || !math.IsNaN(values[1]) {
		t.Fatalf("expected NaN warmup values, got %v", values[:2])
	}
	if values[2] != 2.0 {
		t.Fatalf("expected sma(1,2,3)=2.0, got %v", values[2])
	}
	if values[4] != 4.0 {
		t.Fatalf("expected sma(3,4,5)=4.0, got %v", values[4])
	}
}

func TestEMA_SeededBySMA(t *testing.T) {
	ind, err := newEMAFromParams(map[string]any{"period": 2})
	if err != nil {
		t.Fatal(err)
	}
	values, err := ind.Compute(makeSeries([]float64{10, 20, 30}))
	if err != nil {
		t.Fatal(err)
	}
	if values[1] != 15.0 {
		t.Fatalf("expected the seed EMA to equal the period-2 SMA (15.0), got %v", values[1])
	}
	if values[2] <= values[1] {
		t.Fatalf("expected ema to keep climbing with rising closes, got %v then %v", values[1], values[2])
	}
}

func TestATR_ConstantRangeConverges(t *testing.T) {
	ind, err := newATRFromParams(map[string]any{"period": 3})
	if err != nil {
		t.Fatal(err)
	}
	values, err := ind.Compute(makeSeries([]float64{100, 100, 100, 100, 100, 100}))
	if err != nil {
		t.Fatal(err)
	}
	last := values[len(values)-1]
	if math.Abs(last-1.0) > 1e-9 {
		t.Fatalf("expected ATR to converge to the constant 1.0 true range, got %v", last)
	}
}

func TestPipeline_BuildFailsFastThenComputes(t *testing.T) {
	p, err := Build([]IndicatorSpec{
		{Type: "sma", Params: map[string]any{"period": 2}},
		{Type: "sma", Params: map[string]any{"period": -1}},
	})
	if err == nil {
		t.Fatal("expected Build to fail fast on an invalid period")
	}

	p, err = Build([]IndicatorSpec{{Type: "sma", Params: map[string]any{"period": 2}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := p.Compute(context.Background(), makeSeries([]float64{1, 2, 3}))
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected one successful result, got %+v", results)
	}
}

func TestBuild_UnknownType(t *testing.T) {
	if _, err := Build([]IndicatorSpec{{Type: "nonexistent"}}); err == nil {
		t.Fatal("expected an unknown indicator type to fail Build")
	}
}
