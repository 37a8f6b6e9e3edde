package strategy

import "fmt"

// Factory builds a Strategy from its declarative params (spec §6
// `strategy.{type, params:{...}}`).
type Factory func(params map[string]any) (Strategy, error)

// Registry maps a config `type` string to its Factory, populated at init()
// with the built-in strategies.
var Registry = map[string]Factory{}

func init() {
	Registry["trend_follow"] = newTrendFollowFromParams
}

func newTrendFollowFromParams(params map[string]any) (Strategy, error) {
	fast, _ := params["fast_column"].(string)
	slow, _ := params["slow_column"].(string)
	atrColumn, _ := params["atr_column"].(string)
	mul := 0.0
	if v, ok := params["atr_stop_multiplier"]; ok {
		switch n := v.(type) {
		case float64:
			mul = n
		case int:
			mul = float64(n)
		}
	}
	return NewTrendFollow(TrendFollowConfig{
		FastColumn: fast,
		SlowColumn: slow,
		ATRColumn:  atrColumn,
		ATRStopMul: mul,
	})
}

// Build looks up typeName in Registry and constructs the Strategy.
func Build(typeName string, params map[string]any) (Strategy, error) {
	factory, ok := Registry[typeName]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown type %q", typeName)
	}
	return factory(params)
}
