// Package strategy implements the Strategy capability: a pure function from
// the latest bar (plus its indicator columns) to an optional Signal (spec
// §4.6, Design Notes "narrow capability, not a class hierarchy").
package strategy

import (
	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/google/uuid"
)

// Context bundles the bar series and every indicator column computed over
// it (internal/indicator.Pipeline output) -- the only input a Strategy ever
// sees (spec assumes exactly one Strategy per loop, Design Notes).
type Context struct {
	Series     models.Series
	Indicators map[string][]float64
}

// Last returns the most recent bar, or false if the series is empty.
func (c Context) Last() (models.Bar, bool) {
	return c.Series.Last()
}

// IndicatorLast returns the most recent value of the named column, or false
// if the column is missing, empty, or its last value is NaN.
func (c Context) IndicatorLast(name string) (float64, bool) {
	col, ok := c.Indicators[name]
	if !ok || len(col) == 0 {
		return 0, false
	}
	v := col[len(col)-1]
	return v, v == v // NaN != NaN
}

// Strategy is the narrow capability every concrete strategy implements:
// look at the latest bar+indicators, optionally emit a Signal.
type Strategy interface {
	Name() string
	OnBar(ctx Context) (*models.Signal, error)
}

// newSignal fills the fields every concrete strategy shares.
func newSignal(name string, side models.Side, ctx Context, confidence float64) *models.Signal {
	bar, _ := ctx.Last()
	return &models.Signal{
		ID:             uuid.NewString(),
		EmitTime:       bar.OpenTime,
		Symbol:         bar.Symbol,
		Side:           side,
		ReferencePrice: bar.Close,
		Confidence:     confidence,
		StrategyName:   name,
	}
}
