package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is the broker-reported account state for one tick. ServerTime
// is authoritative for daily-loss reset and circuit-breaker semantics — never
// the local clock (spec §4.2).
type AccountSnapshot struct {
	Balance        decimal.Decimal
	Equity         decimal.Decimal
	MarginUsed     decimal.Decimal
	MarginFree     decimal.Decimal
	RealisedToday  decimal.Decimal
	TradingEnabled bool
	ServerTime     time.Time
}

// ServerDate returns the calendar date component of ServerTime, used to
// detect day rollover for the daily-loss accumulator (spec I8).
func (a AccountSnapshot) ServerDate() time.Time {
	y, m, d := a.ServerTime.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.ServerTime.Location())
}
