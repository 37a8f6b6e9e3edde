package indicator

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

func paramInt(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("param %q must be numeric, got %T", key, v)
	}
}

// sma is a simple moving average over Period closes.
type sma struct {
	name   string
	period int
}

func newSMAFromParams(params map[string]any) (Indicator, error) {
	period, err := paramInt(params, "period", 20)
	if err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, fmt.Errorf("sma: period must be > 0")
	}
	return &sma{name: fmt.Sprintf("sma_%d", period), period: period}, nil
}

func (s *sma) Name() string { return s.name }

func (s *sma) Compute(series models.Series) ([]float64, error) {
	closes := series.Closes()
	out := make([]float64, len(closes))
	var sum float64
	for i, c := range closes {
		sum += c
		if i >= s.period {
			sum -= closes[i-s.period]
		}
		if i < s.period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(s.period)
	}
	return out, nil
}

// ema is an exponential moving average over Period closes, seeded with the
// period-Period SMA.
type ema struct {
	name   string
	period int
}

func newEMAFromParams(params map[string]any) (Indicator, error) {
	period, err := paramInt(params, "period", 20)
	if err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, fmt.Errorf("ema: period must be > 0")
	}
	return &ema{name: fmt.Sprintf("ema_%d", period), period: period}, nil
}

func (e *ema) Name() string { return e.name }

func (e *ema) Compute(series models.Series) ([]float64, error) {
	closes := series.Closes()
	out := make([]float64, len(closes))
	if len(closes) < e.period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}

	var seed float64
	for i := 0; i < e.period; i++ {
		seed += closes[i]
		out[i] = math.NaN()
	}
	seed /= float64(e.period)
	out[e.period-1] = seed

	k := 2.0 / (float64(e.period) + 1.0)
	prev := seed
	for i := e.period; i < len(closes); i++ {
		v := closes[i]*k + prev*(1-k)
		out[i] = v
		prev = v
	}
	return out, nil
}

// atr is the Average True Range over Period bars, the volatility proxy
// TrailingStop (internal/exit) multiplies to derive its trailing distance.
type atr struct {
	name   string
	period int
}

func newATRFromParams(params map[string]any) (Indicator, error) {
	period, err := paramInt(params, "period", 14)
	if err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, fmt.Errorf("atr: period must be > 0")
	}
	return &atr{name: fmt.Sprintf("atr_%d", period), period: period}, nil
}

func (a *atr) Name() string { return a.name }

func (a *atr) Compute(series models.Series) ([]float64, error) {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out, nil
	}
	out[0] = math.NaN()

	trueRanges := make([]float64, len(series))
	for i := range series {
		if i == 0 {
			trueRanges[i] = series[i].High - series[i].Low
			continue
		}
		prevClose := series[i-1].Close
		highLow := series[i].High - series[i].Low
		highClose := math.Abs(series[i].High - prevClose)
		lowClose := math.Abs(series[i].Low - prevClose)
		trueRanges[i] = math.Max(highLow, math.Max(highClose, lowClose))
	}

	var sum float64
	for i := 1; i < len(series); i++ {
		sum += trueRanges[i]
		if i < a.period {
			out[i] = math.NaN()
			continue
		}
		if i == a.period {
			out[i] = sum / float64(a.period)
			continue
		}
		out[i] = (out[i-1]*float64(a.period-1) + trueRanges[i]) / float64(a.period)
	}
	return out, nil
}
