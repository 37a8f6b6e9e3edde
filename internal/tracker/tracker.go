// Package tracker implements the Position Tracker: the authoritative
// ticket -> PositionRecord mapping, reconciled against the broker's open
// position list across disconnects (spec §4.4).
package tracker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/broker"
	"github.com/eddiefleurent/tradeorch/internal/execution"
	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/eddiefleurent/tradeorch/internal/retry"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Sink is the subset of persistence the tracker needs: appending trade
// records on close. Defined here (not imported from internal/persistence) to
// keep the tracker's dependency surface narrow and testable.
type Sink interface {
	AppendTrade(models.TradeRecord) error
}

// Tracker is the Position Tracker (spec §4.4). One instance is owned by the
// Control Loop for the process lifetime; only the Control Loop's single
// writer goroutine mutates it (spec §5).
type Tracker struct {
	mu sync.Mutex

	positions map[int64]*models.PositionRecord
	scratch   map[int64]map[string]any // per-rule scratch, keyed by ticket then rule name (spec I5)

	magicTag int64
	adoption AdoptionPolicy
	session  broker.Session
	engine   *execution.Engine
	sink     Sink
	logger   *log.Logger
}

// New creates a Tracker.
func New(session broker.Session, engine *execution.Engine, sink Sink, magicTag int64, adoption AdoptionPolicy, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.New(os.Stderr, "tracker: ", log.LstdFlags)
	}
	return &Tracker{
		positions: make(map[int64]*models.PositionRecord),
		scratch:   make(map[int64]map[string]any),
		magicTag:  magicTag,
		adoption:  adoption,
		session:   session,
		engine:    engine,
		sink:      sink,
		logger:    logger,
	}
}

// Register adds a new PositionRecord from a confirmed Filled outcome (spec
// §4.4). It is ignored with a warning if the ticket is already present,
// matching the spec's "fails (ignored with warning)" wording -- duplicate
// registration is not a fatal condition.
func (t *Tracker) Register(outcome models.OrderOutcome, symbol string, side models.PositionSide, stop, takeProfit *float64, meta models.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.positions[outcome.Ticket]; exists {
		t.logger.Printf("WARN Register: ticket %d already tracked, ignoring", outcome.Ticket)
		return
	}

	now := time.Now().UTC()
	rec := &models.PositionRecord{
		Ticket:        outcome.Ticket,
		Symbol:        symbol,
		Side:          side,
		Volume:        outcome.FillVolume,
		OpenPrice:     outcome.FillPrice,
		OpenTime:      outcome.FillTime,
		CurrentPrice:  outcome.FillPrice,
		Stop:          stop,
		TakeProfit:    takeProfit,
		Commission:    decimal.NewFromFloat(outcome.Commission),
		Swap:          decimal.NewFromFloat(outcome.Swap),
		FirstSeenTime: now,
		Origin:        models.OriginNative,
		Metadata:      meta.Clone(),
	}
	if err := rec.Validate(); err != nil {
		// The broker already filled this order; there is no refusal path for
		// an executed fill, only a record of the invariant break.
		t.logger.Printf("ERROR Register: ticket %d violates invariant: %v", outcome.Ticket, err)
	}
	t.positions[outcome.Ticket] = rec
	t.scratch[outcome.Ticket] = make(map[string]any)
}

// Tickets returns all tracked tickets in stable ascending order (spec §4.5
// "iterated in a stable order — ticket ascending").
func (t *Tracker) Tickets() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticketsLocked()
}

func (t *Tracker) ticketsLocked() []int64 {
	out := make([]int64, 0, len(t.positions))
	for ticket := range t.positions {
		out = append(out, ticket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns a copy of every tracked position, ticket ascending. Used by
// read-only consumers (the dashboard) that need the full set rather than
// one ticket at a time.
func (t *Tracker) All() []models.PositionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	tickets := t.ticketsLocked()
	out := make([]models.PositionRecord, 0, len(tickets))
	for _, ticket := range tickets {
		out = append(out, *t.positions[ticket])
	}
	return out
}

// Get returns a copy of the tracked record for ticket, if present. Callers
// must not mutate PositionRecord fields (spec §3 "Exit Rules read them but
// must not mutate"); returning a copy enforces that at the API boundary.
func (t *Tracker) Get(ticket int64) (models.PositionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[ticket]
	if !ok {
		return models.PositionRecord{}, false
	}
	return *p, true
}

// Scratch returns the mutable per-rule scratch bag for ticket+rule, creating
// it if the ticket is tracked (spec I5: "scratch is present iff the ticket is
// tracked"). Returns nil, false if the ticket is not tracked.
func (t *Tracker) Scratch(ticket int64, rule string) (map[string]any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	perTicket, ok := t.scratch[ticket]
	if !ok {
		return nil, false
	}
	bag, ok := perTicket[rule].(map[string]any)
	if !ok {
		bag = make(map[string]any)
		perTicket[rule] = bag
	}
	return bag, true
}

// Counts reports per-symbol and total tracked-position counts for the Risk
// Gate (spec §4.2 inputs).
func (t *Tracker) Counts() (bySymbol map[string]int, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bySymbol = make(map[string]int)
	for _, p := range t.positions {
		bySymbol[p.Symbol]++
	}
	return bySymbol, len(t.positions)
}

// Monitor refreshes current price and live P&L fields for every tracked
// position in batched, per-symbol-group concurrent calls (spec §4.4 Monitor,
// §5 "parallelism is permitted only in read-only fan-out"). Positions the
// broker no longer reports are removed as closed-externally, with a
// best-effort trade record appended using the last-known current price.
func (t *Tracker) Monitor(ctx context.Context) error {
	groups, ticketOrder := t.groupTicketsBySymbol()
	if len(groups) == 0 {
		return nil
	}

	type result struct {
		symbol string
		prices map[int64]broker.BrokerPosition
	}
	results := make([]result, len(groups))
	symbols := make([]string, 0, len(groups))
	for s := range groups {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			prices, err := t.session.GetPositionPrices(gctx, groups[symbol])
			if err != nil {
				return fmt.Errorf("monitor: symbol %s: %w", symbol, err)
			}
			results[i] = result{symbol: symbol, prices: prices}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen := make(map[int64]bool, len(ticketOrder))
	for _, r := range results {
		for ticket, bp := range r.prices {
			seen[ticket] = true
			t.applyPriceUpdate(ticket, bp)
		}
	}

	var missing []int64
	for _, ticket := range ticketOrder {
		if !seen[ticket] {
			missing = append(missing, ticket)
		}
	}
	for _, ticket := range missing {
		t.removeClosedExternally(ticket)
	}
	return nil
}

func (t *Tracker) groupTicketsBySymbol() (map[string][]int64, []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	groups := make(map[string][]int64)
	order := t.ticketsLocked()
	for _, ticket := range order {
		p := t.positions[ticket]
		groups[p.Symbol] = append(groups[p.Symbol], ticket)
	}
	return groups, order
}

func (t *Tracker) applyPriceUpdate(ticket int64, bp broker.BrokerPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[ticket]
	if !ok {
		return
	}
	p.CurrentPrice = bp.CurrentPrice
	p.UnrealisedPnL = decimal.NewFromFloat(bp.UnrealisedPnL)
	p.Commission = decimal.NewFromFloat(bp.Commission)
	p.Swap = decimal.NewFromFloat(bp.Swap)
}

func (t *Tracker) removeClosedExternally(ticket int64) {
	t.mu.Lock()
	p, ok := t.positions[ticket]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.positions, ticket)
	delete(t.scratch, ticket)
	t.mu.Unlock()

	record := models.TradeRecord{
		Ticket:           p.Ticket,
		Symbol:           p.Symbol,
		Side:             p.Side,
		Volume:           p.Volume,
		OpenPrice:        p.OpenPrice,
		ClosePrice:       p.CurrentPrice,
		OpenTime:         p.OpenTime,
		CloseTime:        time.Now().UTC(),
		RealisedPnL:      p.UnrealisedPnL,
		Commission:       p.Commission,
		Swap:             p.Swap,
		ExitReason:       "closed_externally",
		ClosedExternally: true,
		Origin:           p.Origin,
	}
	if err := t.sink.AppendTrade(record); err != nil {
		t.logger.Printf("ERROR Monitor: failed to persist closed-externally trade for ticket %d: %v", p.Ticket, err)
	} else {
		t.logger.Printf("Monitor: ticket %d closed externally, removed from tracker", p.Ticket)
	}
}

// CloseResult is the outcome of closing one tracked position.
type CloseResult struct {
	Ticket int64
	Trade  models.TradeRecord
	Err    error
}

// Close delegates to the Execution Engine; on success it removes the record
// (full close) or shrinks Volume (partial close), appending the realised
// delta to persistence either way (spec §4.4 Close).
func (t *Tracker) Close(ctx context.Context, ticket int64, reason, strategyName string, volume *float64) CloseResult {
	t.mu.Lock()
	p, ok := t.positions[ticket]
	if !ok {
		t.mu.Unlock()
		return CloseResult{Ticket: ticket, Err: fmt.Errorf("tracker: close: unknown ticket %d", ticket)}
	}
	closeVolume := p.Volume
	if volume != nil && *volume > 0 && *volume < p.Volume {
		closeVolume = *volume
	}
	symbol, side, referencePrice := p.Symbol, p.Side, p.CurrentPrice
	t.mu.Unlock()

	outcome, err := t.engine.Close(ctx, ticket, symbol, side, closeVolume, referencePrice)
	if err != nil {
		return CloseResult{Ticket: ticket, Err: fmt.Errorf("tracker: close ticket %d: %w", ticket, err)}
	}
	if !outcome.IsTerminalFill() {
		return CloseResult{Ticket: ticket, Err: fmt.Errorf("tracker: close ticket %d: non-terminal outcome %s", ticket, outcome.Kind)}
	}

	return t.finishClose(ticket, outcome, reason, strategyName)
}

func (t *Tracker) finishClose(ticket int64, outcome models.OrderOutcome, reason, strategyName string) CloseResult {
	t.mu.Lock()
	p, ok := t.positions[ticket]
	if !ok {
		t.mu.Unlock()
		return CloseResult{Ticket: ticket, Err: fmt.Errorf("tracker: finishClose: ticket %d vanished mid-close", ticket)}
	}

	closedVolume := outcome.FillVolume
	fullClose := closedVolume >= p.Volume

	trade := models.TradeRecord{
		Ticket:           p.Ticket,
		Symbol:           p.Symbol,
		Side:             p.Side,
		Volume:           closedVolume,
		OpenPrice:        p.OpenPrice,
		ClosePrice:       outcome.FillPrice,
		OpenTime:         p.OpenTime,
		CloseTime:        outcome.FillTime,
		RealisedPnL:      p.UnrealisedPnL,
		Commission:       p.Commission.Add(decimal.NewFromFloat(outcome.Commission)),
		Swap:             p.Swap,
		ExitReason:       reason,
		ExitStrategyName: strategyName,
		Origin:           p.Origin,
	}

	if fullClose {
		delete(t.positions, ticket)
		delete(t.scratch, ticket)
	} else {
		p.Volume -= closedVolume
		p.RealisedPnL = p.RealisedPnL.Add(p.UnrealisedPnL)
		p.UnrealisedPnL = decimal.Zero
	}
	t.mu.Unlock()

	if err := t.sink.AppendTrade(trade); err != nil {
		return CloseResult{Ticket: ticket, Trade: trade, Err: fmt.Errorf("tracker: persist trade for ticket %d: %w", ticket, err)}
	}
	return CloseResult{Ticket: ticket, Trade: trade}
}

// CloseAll is a best-effort emergency flatten of every tracked position
// (spec §4.4 CloseAll), used for "flatten on shutdown" and emergency
// drawdown halts.
func (t *Tracker) CloseAll(ctx context.Context, reason string) []CloseResult {
	tickets := t.Tickets()
	results := make([]CloseResult, 0, len(tickets))
	for _, ticket := range tickets {
		results = append(results, t.Close(ctx, ticket, reason, "emergency_flatten", nil))
	}
	return results
}

// Reconcile performs the authoritative sync with the broker's open-position
// list (spec §4.4 Reconcile). It must be called on startup and after every
// reconnect, before any entry logic runs.
func (t *Tracker) Reconcile(ctx context.Context) error {
	brokerPositions, err := retry.GetOpenPositions(ctx, retry.DefaultConfig, t.logger, t.session, t.magicTag)
	if err != nil {
		return fmt.Errorf("reconcile: fetch broker positions: %w", err)
	}

	brokerByTicket := make(map[int64]broker.BrokerPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		brokerByTicket[bp.Ticket] = bp
	}

	t.mu.Lock()
	localTickets := t.ticketsLocked()
	t.mu.Unlock()

	// Broker has it, tracker doesn't -> adopt.
	localTicketSet := make(map[int64]bool, len(localTickets))
	for _, ticket := range localTickets {
		localTicketSet[ticket] = true
	}
	for _, bp := range brokerPositions {
		if localTicketSet[bp.Ticket] {
			continue
		}
		t.adopt(bp)
	}

	// Tracker has it, broker doesn't -> closed externally.
	for _, ticket := range localTickets {
		if _, stillOpen := brokerByTicket[ticket]; !stillOpen {
			t.removeClosedExternally(ticket)
		}
	}

	// Both have it -> refresh fields.
	for _, bp := range brokerPositions {
		t.applyPriceUpdate(bp.Ticket, bp)
	}

	return nil
}

func (t *Tracker) adopt(bp broker.BrokerPosition) {
	age := time.Since(bp.OpenTime)
	allowed, reason := t.adoption.Allows(bp.Symbol, age)
	if t.adoption.LogOnly {
		t.logger.Printf("Reconcile: orphan ticket %d symbol %s (log-only mode, not adopting): %s", bp.Ticket, bp.Symbol, reason)
		return
	}
	if !allowed {
		t.logger.Printf("Reconcile: refusing to adopt ticket %d symbol %s: %s", bp.Ticket, bp.Symbol, reason)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	rec := &models.PositionRecord{
		Ticket:        bp.Ticket,
		Symbol:        bp.Symbol,
		Side:          bp.Side,
		Volume:        bp.Volume,
		OpenPrice:     bp.OpenPrice,
		OpenTime:      bp.OpenTime,
		CurrentPrice:  bp.CurrentPrice,
		Stop:          bp.Stop,
		TakeProfit:    bp.TakeProfit,
		UnrealisedPnL: decimal.NewFromFloat(bp.UnrealisedPnL),
		Commission:    decimal.NewFromFloat(bp.Commission),
		Swap:          decimal.NewFromFloat(bp.Swap),
		FirstSeenTime: now,
		Origin:        models.OriginAdopted,
	}
	if err := rec.Validate(); err != nil {
		t.logger.Printf("ERROR Reconcile: adopted ticket %d violates invariant: %v", bp.Ticket, err)
	}
	t.positions[bp.Ticket] = rec
	t.scratch[bp.Ticket] = make(map[string]any)
	t.logger.Printf("Reconcile: adopted orphan ticket %d symbol %s age=%s", bp.Ticket, bp.Symbol, age)
}
