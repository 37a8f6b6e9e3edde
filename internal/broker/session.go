// Package broker defines the narrow capability the rest of the system uses
// to talk to a brokerage: a rate-limited Session with health-probe, account
// info, bar history, order submit/modify/close and open-position
// enumeration. The concrete SDK is an external collaborator (spec §1); this
// package models it as a variant {live, replay, mock} so development and
// tests never depend on network access (Design Notes).
package broker

import (
	"context"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

// BrokerPosition is the broker's wire-level view of one open position,
// identified by Ticket and (optionally) carrying this system's MagicTag.
type BrokerPosition struct {
	Ticket        int64
	Symbol        string
	Side          models.PositionSide
	Volume        float64
	OpenPrice     float64
	OpenTime      time.Time
	CurrentPrice  float64
	Stop          *float64
	TakeProfit    *float64
	UnrealisedPnL float64
	Commission    float64
	Swap          float64
	MagicTag      int64
}

// OpenOrder is a working (not yet filled/cancelled) broker order, used by the
// Execution Engine to cross-reference client-tags after a reconnect (spec
// §4.3).
type OpenOrder struct {
	BrokerOrderID int64
	ClientTag     string
	Symbol        string
	Side          models.OrderSide
	Volume        float64
}

// Session is the full capability surface the orchestrator needs from a
// brokerage connection. Every method may fail transiently; callers are
// expected to retry through internal/retry or rely on the CircuitBreaker
// wrapper in this package.
type Session interface {
	// HealthCheck reports whether the session is usable. It must be cheap
	// enough to call every tick.
	HealthCheck(ctx context.Context) error

	// Connect (re)establishes the underlying connection. Idempotent: calling
	// it while already connected is a no-op.
	Connect(ctx context.Context) error

	// Disconnect releases the underlying connection. Safe to call multiple times.
	Disconnect(ctx context.Context) error

	// GetAccountSnapshot returns the current account state.
	GetAccountSnapshot(ctx context.Context) (models.AccountSnapshot, error)

	// GetBars returns up to n most recent closed bars for symbol+timeframe,
	// oldest first.
	GetBars(ctx context.Context, symbol string, tf models.Timeframe, n int) (models.Series, error)

	// SubmitOrder places an order. Implementations need not be idempotent
	// themselves -- idempotency over ClientTag is the Execution Engine's job
	// (spec §4.3) -- but a live implementation should reject an exact
	// duplicate tag it recognizes as already working.
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderOutcome, error)

	// PollOrder returns the current outcome of a previously submitted order,
	// used by the Execution Engine's partial-fill polling loop.
	PollOrder(ctx context.Context, brokerOrderID int64) (models.OrderOutcome, error)

	// CancelOrder cancels a still-working order (e.g. an unfilled remainder).
	CancelOrder(ctx context.Context, brokerOrderID int64) error

	// GetOpenOrdersByTag enumerates currently working orders carrying the
	// given client tag, used to cross-reference after a reconnect.
	GetOpenOrdersByTag(ctx context.Context, clientTag string) ([]OpenOrder, error)

	// GetOpenPositions enumerates all open positions carrying the system's
	// magic tag, the authoritative source for Position Tracker reconciliation.
	GetOpenPositions(ctx context.Context, magicTag int64) ([]BrokerPosition, error)

	// GetPositionPrices is a single batched call refreshing current price and
	// live P&L fields for a set of tickets (spec §4.4 Monitor, §5 read-only
	// fan-out).
	GetPositionPrices(ctx context.Context, tickets []int64) (map[int64]BrokerPosition, error)
}
