package retry

import (
	"context"
	"log"

	"github.com/eddiefleurent/tradeorch/internal/broker"
	"github.com/eddiefleurent/tradeorch/internal/models"
)

// SubmitOrder wraps session.SubmitOrder with the standard backoff policy.
// The ClientTag on req is the idempotency key the Execution Engine already
// derived deterministically, so a retried attempt after a transient failure
// is always safe to resend.
func SubmitOrder(ctx context.Context, cfg Config, logger *log.Logger, session broker.Session, req models.OrderRequest) (models.OrderOutcome, error) {
	return Do(ctx, cfg, logger, "submit_order:"+req.ClientTag, func(ctx context.Context) (models.OrderOutcome, error) {
		return session.SubmitOrder(ctx, req)
	})
}

// CancelOrder wraps session.CancelOrder with the standard backoff policy.
func CancelOrder(ctx context.Context, cfg Config, logger *log.Logger, session broker.Session, brokerOrderID int64) error {
	_, err := Do(ctx, cfg, logger, "cancel_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, session.CancelOrder(ctx, brokerOrderID)
	})
	return err
}

// GetOpenPositions wraps session.GetOpenPositions with the standard backoff
// policy, used by startup and reconnect reconciliation where a transient
// failure must not be mistaken for "no open positions".
func GetOpenPositions(ctx context.Context, cfg Config, logger *log.Logger, session broker.Session, magicTag int64) ([]broker.BrokerPosition, error) {
	return Do(ctx, cfg, logger, "get_open_positions", func(ctx context.Context) ([]broker.BrokerPosition, error) {
		return session.GetOpenPositions(ctx, magicTag)
	})
}
