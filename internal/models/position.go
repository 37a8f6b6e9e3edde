package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide mirrors the signal side a position was opened from; it never
// changes for the lifetime of the position.
type PositionSide string

// Position sides.
const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Origin records how the Position Tracker came to own a PositionRecord.
type Origin string

// Origins.
const (
	OriginNative  Origin = "native"  // opened by this process
	OriginAdopted Origin = "adopted" // discovered on the broker and adopted at reconcile
)

// PositionRecord is the Tracker's authoritative view of one open broker
// position. Ticket is the primary key and is assigned by the broker.
//
// Invariants (spec I1): Volume > 0 while tracked, Side is Long or Short.
// Side never changes. CurrentPrice/UnrealisedPnL are refreshed at most one
// tick behind broker truth.
type PositionRecord struct {
	Ticket         int64
	Symbol         string
	Side           PositionSide
	Volume         float64
	OpenPrice      float64
	OpenTime       time.Time
	CurrentPrice   float64
	Stop           *float64
	TakeProfit     *float64
	UnrealisedPnL  decimal.Decimal
	RealisedPnL    decimal.Decimal
	Commission     decimal.Decimal
	Swap           decimal.Decimal
	FirstSeenTime  time.Time
	Origin         Origin
	Metadata       Metadata
}

// Validate checks spec invariant I1.
func (p *PositionRecord) Validate() error {
	if p.Volume <= 0 {
		return newInvariantError("position volume must be > 0, got %.5f", p.Volume)
	}
	if p.Side != PositionLong && p.Side != PositionShort {
		return newInvariantError("position side must be long or short, got %q", p.Side)
	}
	return nil
}

// TradeRecord is the append-only, closed-trade entry written to persistence
// once a position is no longer tracked (full close, or closed-externally).
type TradeRecord struct {
	Ticket           int64
	Symbol           string
	Side             PositionSide
	Volume           float64
	OpenPrice        float64
	ClosePrice       float64
	OpenTime         time.Time
	CloseTime        time.Time
	RealisedPnL      decimal.Decimal
	Commission       decimal.Decimal
	Swap             decimal.Decimal
	ExitReason       string
	ExitStrategyName string
	ClosedExternally bool
	Origin           Origin
}
