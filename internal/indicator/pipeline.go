// Package indicator computes declaratively-configured indicator columns
// over a bar series. Each column is a pure function of the series; columns
// are computed concurrently and a failure in one column does not prevent
// the others from completing (spec §4.6, §5 "indicator computations over
// independent columns may be parallelised").
package indicator

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/tradeorch/internal/models"
	"golang.org/x/sync/errgroup"
)

// Indicator is a named pure function from a bar series to an aligned
// float64 column (same length as the input series; warmup positions are
// NaN).
type Indicator interface {
	Name() string
	Compute(series models.Series) ([]float64, error)
}

// Factory builds an Indicator from its declarative params (spec §6
// `indicators[]: {type, params:{...}}`).
type Factory func(params map[string]any) (Indicator, error)

// Registry maps a config `type` string to its Factory. Package init()
// populates the default registry with the built-in indicators below;
// callers may register additional ones before building a Pipeline.
var Registry = map[string]Factory{}

func init() {
	Registry["sma"] = newSMAFromParams
	Registry["ema"] = newEMAFromParams
	Registry["atr"] = newATRFromParams
}

// Pipeline holds a fixed, ordered set of indicators built once at startup
// from config.
type Pipeline struct {
	indicators []Indicator
}

// Build constructs a Pipeline from declarative indicator configs, looking
// each type up in Registry.
func Build(configs []IndicatorSpec) (*Pipeline, error) {
	p := &Pipeline{}
	for _, c := range configs {
		factory, ok := Registry[c.Type]
		if !ok {
			return nil, fmt.Errorf("indicator: unknown type %q", c.Type)
		}
		ind, err := factory(c.Params)
		if err != nil {
			return nil, fmt.Errorf("indicator: building %q: %w", c.Type, err)
		}
		p.indicators = append(p.indicators, ind)
	}
	return p, nil
}

// IndicatorSpec is the declarative request for one column; it mirrors
// internal/config.IndicatorConfig without importing it, keeping this
// package independent of the config layer.
type IndicatorSpec struct {
	Type   string
	Params map[string]any
}

// Result is one column's outcome: either Values is populated or Err is
// non-nil, never both.
type Result struct {
	Name   string
	Values []float64
	Err    error
}

// Compute runs every configured indicator concurrently against series and
// returns one Result per indicator, in configuration order. A column's
// error does not cancel the others (per-column error isolation).
func (p *Pipeline) Compute(ctx context.Context, series models.Series) []Result {
	results := make([]Result, len(p.indicators))
	g, _ := errgroup.WithContext(ctx)
	for i, ind := range p.indicators {
		i, ind := i, ind
		g.Go(func() error {
			values, err := ind.Compute(series)
			results[i] = Result{Name: ind.Name(), Values: values, Err: err}
			return nil // per-column isolation: never fail the group
		})
	}
	_ = g.Wait() // errors are carried per-Result, not via the group's return
	return results
}
