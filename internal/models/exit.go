package models

import "time"

// ExitDecision is emitted by an ExitRule for a tracked position. At most one
// is produced per ticket per tick (spec I4): the Exit Arbiter short-circuits
// rule evaluation for a ticket at the first rule that returns one.
type ExitDecision struct {
	Ticket             int64
	Reason             string
	StrategyName       string
	DesiredCloseVolume float64
	TriggerTime        time.Time
	Confidence         float64
	Metadata           Metadata
}
