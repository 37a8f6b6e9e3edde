package models

import "time"

// OrderSide is the broker-facing buy/sell direction of an OrderRequest.
type OrderSide string

// Order sides.
const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderType selects the broker order type.
type OrderType string

// Order types.
const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderRequest is a broker-facing mutation request. ClientTag is the
// idempotency key, derived deterministically from the originating signal's ID
// (or, for a close, from "close:<ticket>:<nonce>").
type OrderRequest struct {
	ClientTag  string
	Symbol     string
	Side       OrderSide
	Volume     float64
	Type       OrderType
	LimitPrice *float64
	Stop       *float64
	TakeProfit *float64
	Deviation  float64 // price deviation tolerance, in price points
	MagicTag   int64   // identifies this system's orders to the broker
}

// OutcomeKind tags the variant carried by an OrderOutcome.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomePlaced         OutcomeKind = "placed"
	OutcomeFilled         OutcomeKind = "filled"
	OutcomePartiallyFilled OutcomeKind = "partially_filled"
	OutcomeRejected       OutcomeKind = "rejected"
	OutcomeCancelled      OutcomeKind = "cancelled"
	OutcomeError          OutcomeKind = "error"
)

// OrderOutcome is the tagged-variant result of submitting or closing an order.
// Only the fields relevant to Kind are meaningful; callers must switch on Kind.
type OrderOutcome struct {
	Kind Kind

	// Placed / Filled / PartiallyFilled
	Ticket     int64
	FillPrice  float64
	FillVolume float64
	FillTime   time.Time
	Commission float64
	Swap       float64

	// Rejected / Error
	Reason string
	Detail string
}

// Kind is an alias kept for readability at call sites (outcome.Kind == models.OutcomePlaced).
type Kind = OutcomeKind

// IsTerminalFill reports whether the outcome represents capital actually committed
// (fully or partially), i.e. it must never be silently treated as a failure.
func (o OrderOutcome) IsTerminalFill() bool {
	return o.Kind == OutcomeFilled || o.Kind == OutcomePartiallyFilled
}
