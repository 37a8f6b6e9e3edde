package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/sony/gobreaker"
)

// CircuitBreakerSession wraps a Session with a gobreaker circuit breaker so a
// string of transient broker faults trips the breaker instead of hammering a
// struggling venue. Grounded on the teacher's
// broker.NewCircuitBreakerBroker wiring in cmd/bot/main.go.
type CircuitBreakerSession struct {
	session Session
	breaker *gobreaker.CircuitBreaker
}

// DefaultSettings mirrors the teacher's conservative defaults: trip after 5
// consecutive failures, stay open 30s before probing half-open.
func DefaultSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// NewCircuitBreakerSession wraps session with default breaker settings.
func NewCircuitBreakerSession(session Session) *CircuitBreakerSession {
	return NewCircuitBreakerSessionWithSettings(session, DefaultSettings("broker-session"))
}

// NewCircuitBreakerSessionWithSettings wraps session with caller-supplied
// gobreaker settings, used by tests to exercise fast trip/recovery timing.
func NewCircuitBreakerSessionWithSettings(session Session, settings gobreaker.Settings) *CircuitBreakerSession {
	return &CircuitBreakerSession{
		session: session,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// State exposes the underlying breaker state for health reporting.
func (c *CircuitBreakerSession) State() gobreaker.State {
	return c.breaker.State()
}

func run[T any](c *CircuitBreakerSession, fn func() (T, error)) (T, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, fmt.Errorf("broker session unavailable: %w", err)
		}
		return zero, err
	}
	return result.(T), nil
}

// HealthCheck implements Session.
func (c *CircuitBreakerSession) HealthCheck(ctx context.Context) error {
	_, err := run(c, func() (struct{}, error) {
		return struct{}{}, c.session.HealthCheck(ctx)
	})
	return err
}

// Connect implements Session.
func (c *CircuitBreakerSession) Connect(ctx context.Context) error {
	_, err := run(c, func() (struct{}, error) {
		return struct{}{}, c.session.Connect(ctx)
	})
	return err
}

// Disconnect implements Session. Disconnect bypasses the breaker: shutdown
// must not be blocked by an open circuit.
func (c *CircuitBreakerSession) Disconnect(ctx context.Context) error {
	return c.session.Disconnect(ctx)
}

// GetAccountSnapshot implements Session.
func (c *CircuitBreakerSession) GetAccountSnapshot(ctx context.Context) (models.AccountSnapshot, error) {
	return run(c, func() (models.AccountSnapshot, error) {
		return c.session.GetAccountSnapshot(ctx)
	})
}

// GetBars implements Session.
func (c *CircuitBreakerSession) GetBars(ctx context.Context, symbol string, tf models.Timeframe, n int) (models.Series, error) {
	return run(c, func() (models.Series, error) {
		return c.session.GetBars(ctx, symbol, tf, n)
	})
}

// SubmitOrder implements Session.
func (c *CircuitBreakerSession) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderOutcome, error) {
	return run(c, func() (models.OrderOutcome, error) {
		return c.session.SubmitOrder(ctx, req)
	})
}

// PollOrder implements Session.
func (c *CircuitBreakerSession) PollOrder(ctx context.Context, brokerOrderID int64) (models.OrderOutcome, error) {
	return run(c, func() (models.OrderOutcome, error) {
		return c.session.PollOrder(ctx, brokerOrderID)
	})
}

// CancelOrder implements Session.
func (c *CircuitBreakerSession) CancelOrder(ctx context.Context, brokerOrderID int64) error {
	_, err := run(c, func() (struct{}, error) {
		return struct{}{}, c.session.CancelOrder(ctx, brokerOrderID)
	})
	return err
}

// GetOpenOrdersByTag implements Session.
func (c *CircuitBreakerSession) GetOpenOrdersByTag(ctx context.Context, clientTag string) ([]OpenOrder, error) {
	return run(c, func() ([]OpenOrder, error) {
		return c.session.GetOpenOrdersByTag(ctx, clientTag)
	})
}

// GetOpenPositions implements Session.
func (c *CircuitBreakerSession) GetOpenPositions(ctx context.Context, magicTag int64) ([]BrokerPosition, error) {
	return run(c, func() ([]BrokerPosition, error) {
		return c.session.GetOpenPositions(ctx, magicTag)
	})
}

// GetPositionPrices implements Session.
func (c *CircuitBreakerSession) GetPositionPrices(ctx context.Context, tickets []int64) (map[int64]BrokerPosition, error) {
	return run(c, func() (map[int64]BrokerPosition, error) {
		return c.session.GetPositionPrices(ctx, tickets)
	})
}

var _ Session = (*CircuitBreakerSession)(nil)
