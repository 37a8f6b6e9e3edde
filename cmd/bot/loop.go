package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/execution"
	"github.com/eddiefleurent/tradeorch/internal/exit"
	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/eddiefleurent/tradeorch/internal/persistence"
	"github.com/eddiefleurent/tradeorch/internal/risk"
	"github.com/eddiefleurent/tradeorch/internal/strategy"
)

// errEmergencyDrawdown is returned by tick to break Run's loop once the
// configured emergency_drawdown_pct has been breached and every tracked
// position has been force-closed.
var errEmergencyDrawdown = errors.New("emergency drawdown breached, positions flattened")

// Run executes the control loop until ctx is cancelled or a phase reports a
// fatal condition (spec §4.1). It connects, performs the startup
// reconciliation pass, then ticks on the configured poll interval.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Connect(ctx); err != nil {
		return fmt.Errorf("initial connect: %w", err)
	}
	if err := b.track.Reconcile(ctx); err != nil {
		b.logger.Printf("ERROR startup reconciliation: %v", err)
	}

	interval := time.Duration(b.cfg.Trading.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			b.tickCount++
			if err := b.tick(ctx); err != nil {
				return err
			}
			b.logger.Printf("tick %d completed in %s", b.tickCount, time.Since(start))
		}
	}
}

// tick runs the eight phases of one control-loop iteration. A fault at any
// phase is logged at the phase boundary and does not abort the tick, except
// where a precondition a later phase needs was itself broken (spec §4.1).
// Only an emergency-drawdown breach returns an error, which Run treats as
// fatal.
func (b *Bot) tick(ctx context.Context) error {
	ok, reconnected := b.healthCheckAndReconnect(ctx)
	if !ok {
		return nil
	}
	if reconnected {
		if err := b.track.Reconcile(ctx); err != nil {
			b.logger.Printf("ERROR phase1: reconcile after reconnect: %v", err)
		}
	}

	account, err := b.session.GetAccountSnapshot(ctx)
	if err != nil {
		b.logger.Printf("ERROR phase1: account snapshot: %v", err)
		return nil
	}
	if !b.equityInitialised {
		b.sessionStartEquity = account.Equity
		b.equityInitialised = true
	}
	if b.riskGate.CheckEmergencyDrawdown(b.sessionStartEquity, account.Equity) {
		b.logger.Printf("FATAL emergency drawdown breached: start=%s current=%s, flattening", b.sessionStartEquity.String(), account.Equity.String())
		for _, r := range b.track.CloseAll(ctx, "emergency_drawdown") {
			if r.Err != nil {
				b.logger.Printf("ERROR emergency flatten: ticket %d: %v", r.Ticket, r.Err)
			}
		}
		return errEmergencyDrawdown
	}

	series, isNew, err := b.feed.Poll(ctx)
	if err != nil {
		b.logger.Printf("ERROR phase2: poll bars: %v", err)
		return nil
	}
	if !isNew {
		b.housekeeping(account)
		return nil
	}

	results := b.pipeline.Compute(ctx, series)
	indicators := make(map[string][]float64, len(results))
	for _, r := range results {
		if r.Err != nil {
			b.logger.Printf("ERROR phase3: indicator %s: %v", r.Name, r.Err)
			continue
		}
		indicators[r.Name] = r.Values
	}

	signal, err := b.strat.OnBar(strategy.Context{Series: series, Indicators: indicators})
	if err != nil {
		b.logger.Printf("ERROR phase4: strategy OnBar: %v", err)
		signal = nil
	}

	if signal != nil && signal.IsDirectional() {
		b.handleSignal(ctx, *signal, account)
	}

	if err := b.track.Monitor(ctx); err != nil {
		b.logger.Printf("ERROR phase6: monitor: %v", err)
	}

	b.evaluateExits(ctx, account, indicators)

	b.housekeeping(account)
	return nil
}

// healthCheckAndReconnect implements phase 1's probe. ok is false iff neither
// the health check nor a reconnect attempt succeeded, in which case the
// remaining phases must be skipped for this tick.
func (b *Bot) healthCheckAndReconnect(ctx context.Context) (ok bool, reconnected bool) {
	if err := b.session.HealthCheck(ctx); err == nil {
		return true, false
	} else {
		b.logger.Printf("WARN phase1: health check failed: %v, reconnecting", err)
	}
	if err := b.session.Connect(ctx); err != nil {
		b.logger.Printf("ERROR phase1: reconnect failed: %v", err)
		return false, false
	}
	return true, true
}

// handleSignal implements phase 5: risk sizing, submission, registration and
// persistence for one directional Signal.
func (b *Bot) handleSignal(ctx context.Context, signal models.Signal, account models.AccountSnapshot) {
	if err := b.store.AppendSignal(signal); err != nil {
		b.logger.Printf("ERROR phase5: persist signal %s: %v", signal.ID, err)
	}

	bySymbol, total := b.track.Counts()
	decision := b.riskGate.Evaluate(signal, account, risk.PositionCounts{BySymbol: bySymbol, Total: total})
	if !decision.Approved {
		b.logger.Printf("phase5: risk gate refused signal %s: code=%s msg=%s", signal.ID, decision.Code, decision.Message)
		return
	}

	side := models.OrderBuy
	posSide := models.PositionLong
	if signal.Side == models.SideShort {
		side = models.OrderSell
		posSide = models.PositionShort
	}

	req := models.OrderRequest{
		ClientTag:  execution.ClientTagForSignal(signal.ID),
		Symbol:     signal.Symbol,
		Side:       side,
		Volume:     decision.Volume,
		Type:       models.OrderTypeMarket,
		Stop:       signal.Stop,
		TakeProfit: signal.TakeProfit,
		Deviation:  b.cfg.Trading.DeviationPoints,
		MagicTag:   b.magicTag,
	}

	outcome, err := b.engine.Submit(ctx, req, signal.ReferencePrice)
	if persistErr := b.store.AppendOrderEvent(persistence.OrderEvent{Time: time.Now().UTC(), Request: req, Outcome: outcome}); persistErr != nil {
		b.logger.Printf("ERROR phase5: persist order event for signal %s: %v", signal.ID, persistErr)
	}
	if err != nil {
		b.logger.Printf("ERROR phase5: submit order for signal %s: %v", signal.ID, err)
		return
	}
	if !outcome.IsTerminalFill() {
		b.logger.Printf("phase5: signal %s order outcome %s reason=%s", signal.ID, outcome.Kind, outcome.Reason)
		return
	}

	b.track.Register(outcome, signal.Symbol, posSide, signal.Stop, signal.TakeProfit, signal.Metadata)
}

// evaluateExits implements phase 7: arbiter evaluation, close submission,
// persistence, and feeding the realised delta back to the Risk Gate.
func (b *Bot) evaluateExits(ctx context.Context, account models.AccountSnapshot, indicators map[string][]float64) {
	tickCtx := exit.TickContext{
		Now:        time.Now().UTC(),
		ServerTime: account.ServerTime,
		Volatility: b.volatilityOf(indicators),
	}
	tickets := b.track.Tickets()
	decisions := b.arbiter.Evaluate(tickCtx, tickets, b.track.Get, b.track)

	for _, d := range decisions {
		volume := d.DesiredCloseVolume
		result := b.track.Close(ctx, d.Ticket, d.Reason, d.StrategyName, &volume)
		if result.Err != nil {
			b.logger.Printf("ERROR phase7: close ticket %d (%s): %v", d.Ticket, d.Reason, result.Err)
			continue
		}
		b.riskGate.UpdateRealisedPnL(result.Trade.RealisedPnL, account.ServerTime)
	}
}

// volatilityOf looks up the configured strategy's ATR column (cfg
// `strategy.params.atr_column`, e.g. "atr_14") as the single volatility proxy
// every exit rule shares (spec assumes one Strategy, hence one configured
// volatility signal, per loop). An unset atr_column means no ATR indicator is
// configured, so volatility is always 0 and ATR-derived exit logic is inert.
func (b *Bot) volatilityOf(indicators map[string][]float64) float64 {
	if b.atrColumn == "" {
		return 0
	}
	col, ok := indicators[b.atrColumn]
	if !ok || len(col) == 0 {
		return 0
	}
	v := col[len(col)-1]
	if v != v { // NaN
		return 0
	}
	return v
}

// housekeeping implements phase 8: periodic metrics emission, throttled to
// every HousekeepingEveryNTicks ticks.
func (b *Bot) housekeeping(account models.AccountSnapshot) {
	if b.cfg.HousekeepingEveryNTicks <= 0 || int(b.tickCount)%b.cfg.HousekeepingEveryNTicks != 0 {
		return
	}
	_, total := b.track.Counts()
	sample := persistence.MetricsSample{
		Time:           time.Now().UTC(),
		Balance:        account.Balance,
		Equity:         account.Equity,
		MarginUsed:     account.MarginUsed,
		RealisedToday:  b.riskGate.RealisedToday(),
		OpenPositions:  total,
		CircuitBreaker: b.riskGate.CircuitBreakerOpen(),
	}
	if err := b.store.AppendMetricsSample(sample); err != nil {
		b.logger.Printf("ERROR housekeeping: persist metrics sample: %v", err)
	}
}
