// Package execution provides the idempotent order-submission and
// position-close engine: the only component that talks to the broker for
// mutations (spec §4.3).
package execution

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/broker"
	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/eddiefleurent/tradeorch/internal/retry"
	"github.com/google/uuid"
)

// Config tunes the Engine's polling and dry-run behavior.
type Config struct {
	FillTimeout  time.Duration
	PollInterval time.Duration
	DryRun       bool
	MagicTag     int64
	TagCacheSize int
}

// DefaultConfig mirrors the teacher's retry-client defaults, scaled for
// order-fill polling rather than close retries.
var DefaultConfig = Config{
	FillTimeout:  30 * time.Second,
	PollInterval: 2 * time.Second,
	TagCacheSize: 512,
}

type cachedOutcome struct {
	outcome       models.OrderOutcome
	brokerOrderID int64
}

// Engine is the idempotent order-submission and close engine (spec §4.3). It
// owns the client-tag -> broker-order-id mapping until a fill is confirmed,
// at which point ownership of the resulting PositionRecord passes to the
// Position Tracker (spec §3 "Ownership").
type Engine struct {
	session broker.Session
	logger  *log.Logger
	config  Config
	cache   *tagCache

	// dryRunTicket synthesizes tickets from a non-conflicting numeric range
	// in dry-run mode (spec §4.1).
	dryRunTicket int64
}

// dryRunTicketBase is chosen far above any realistic broker ticket range.
const dryRunTicketBase = 900_000_000

// New creates an Engine bound to session.
func New(session broker.Session, logger *log.Logger, config Config) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "execution: ", log.LstdFlags)
	}
	if config.FillTimeout <= 0 {
		config.FillTimeout = DefaultConfig.FillTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig.PollInterval
	}
	if config.TagCacheSize <= 0 {
		config.TagCacheSize = DefaultConfig.TagCacheSize
	}
	return &Engine{
		session:      session,
		logger:       logger,
		config:       config,
		cache:        newTagCache(config.TagCacheSize),
		dryRunTicket: dryRunTicketBase,
	}
}

// ClientTagForSignal derives the deterministic idempotency key for a signal's
// entry order (spec §3 OrderRequest.client-tag).
func ClientTagForSignal(signalID string) string {
	return "signal:" + signalID
}

// CloseTag derives the idempotency key for a close order (spec §4.3).
func CloseTag(ticket int64, nonce string) string {
	return fmt.Sprintf("close:%d:%s", ticket, nonce)
}

// Submit places req, or -- if ClientTag was already submitted -- returns the
// prior outcome without placing a second order (spec I3, §4.3). referencePrice
// is only used to synthesize a dry-run fill.
func (e *Engine) Submit(ctx context.Context, req models.OrderRequest, referencePrice float64) (models.OrderOutcome, error) {
	if req.ClientTag == "" {
		return models.OrderOutcome{}, fmt.Errorf("execution: order request missing client tag")
	}
	if cached, ok := e.cache.get(req.ClientTag); ok {
		e.logger.Printf("Submit: client_tag=%s already processed, returning cached outcome kind=%s", req.ClientTag, cached.outcome.Kind)
		return cached.outcome, nil
	}

	if e.config.DryRun {
		outcome := e.synthesizeFill(req, referencePrice)
		e.cache.put(req.ClientTag, cachedOutcome{outcome: outcome})
		return outcome, nil
	}

	outcome, err := retry.SubmitOrder(ctx, retry.DefaultConfig, e.logger, e.session, req)
	if err != nil {
		return models.OrderOutcome{}, fmt.Errorf("execution: submit client_tag=%s: %w", req.ClientTag, err)
	}

	outcome, err = e.resolveFill(ctx, req, outcome)
	if err != nil {
		return models.OrderOutcome{}, err
	}

	e.cache.put(req.ClientTag, cachedOutcome{outcome: outcome})
	return outcome, nil
}

// resolveFill implements the partial-fill policy (spec §4.3): a
// PartiallyFilled outcome is polled for up to FillTimeout; on timeout the
// remainder is cancelled and the consolidated (never-failed) outcome returned.
func (e *Engine) resolveFill(ctx context.Context, req models.OrderRequest, outcome models.OrderOutcome) (models.OrderOutcome, error) {
	if outcome.Kind != models.OutcomePartiallyFilled {
		return outcome, nil
	}

	deadline := time.Now().Add(e.config.FillTimeout)
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return outcome, nil
		case <-ticker.C:
		}
		polled, err := e.session.PollOrder(ctx, outcome.Ticket)
		if err != nil {
			e.logger.Printf("resolveFill: poll client_tag=%s failed: %v", req.ClientTag, err)
			continue
		}
		if polled.Kind == models.OutcomeFilled {
			return polled, nil
		}
		outcome = polled
	}

	// Timed out still partial: cancel the remainder, keep the partial fill.
	if err := retry.CancelOrder(ctx, retry.DefaultConfig, e.logger, e.session, outcome.Ticket); err != nil {
		e.logger.Printf("resolveFill: cancel remainder client_tag=%s failed: %v", req.ClientTag, err)
	}
	e.logger.Printf("resolveFill: client_tag=%s timed out partially filled vol=%.4f", req.ClientTag, outcome.FillVolume)
	return outcome, nil
}

func (e *Engine) synthesizeFill(req models.OrderRequest, referencePrice float64) models.OrderOutcome {
	ticket := atomic.AddInt64(&e.dryRunTicket, 1)
	return models.OrderOutcome{
		Kind:       models.OutcomeFilled,
		Ticket:     ticket,
		FillPrice:  referencePrice,
		FillVolume: req.Volume,
		FillTime:   time.Now().UTC(),
	}
}

// Close submits an opposing-side order sized to volume, tagged
// close:<ticket>:<nonce> for idempotency (spec §4.3).
func (e *Engine) Close(
	ctx context.Context,
	ticket int64,
	symbol string,
	side models.PositionSide,
	volume float64,
	referencePrice float64,
) (models.OrderOutcome, error) {
	opposing := models.OrderSell
	if side == models.PositionShort {
		opposing = models.OrderBuy
	}
	req := models.OrderRequest{
		ClientTag: CloseTag(ticket, uuid.NewString()),
		Symbol:    symbol,
		Side:      opposing,
		Volume:    volume,
		Type:      models.OrderTypeMarket,
		MagicTag:  e.config.MagicTag,
	}
	return e.Submit(ctx, req, referencePrice)
}

// ReconcileTag cross-references a client tag against broker open orders after
// a reconnect (spec §4.3 "on reconnect it cross-references open broker orders
// by tag before resubmitting"). If a working order with this tag is found,
// its current state is adopted into the cache so a later Submit with the same
// tag will not duplicate it.
func (e *Engine) ReconcileTag(ctx context.Context, clientTag string) error {
	if _, ok := e.cache.get(clientTag); ok {
		return nil
	}
	orders, err := e.session.GetOpenOrdersByTag(ctx, clientTag)
	if err != nil {
		return fmt.Errorf("execution: reconcile tag %s: %w", clientTag, err)
	}
	if len(orders) == 0 {
		return nil
	}
	o := orders[0]
	e.cache.put(clientTag, cachedOutcome{
		brokerOrderID: o.BrokerOrderID,
		outcome: models.OrderOutcome{
			Kind:       models.OutcomePartiallyFilled,
			FillVolume: 0,
		},
	})
	return nil
}
