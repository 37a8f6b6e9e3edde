package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

// MockSession is a deterministic, in-memory Session used for tests and
// dry-run development, grounded on the teacher's internal/mock.DataProvider
// (deterministic RNG, no network dependency) generalized from strangle-chain
// synthesis to generic bar+order+position bookkeeping.
type MockSession struct {
	mu sync.Mutex

	rng *rand.Rand

	connected bool
	healthy   bool

	account models.AccountSnapshot

	// bars[symbol+timeframe] -> ordered series; tests seed this directly.
	bars map[string]models.Series

	// positions keyed by ticket.
	positions map[int64]BrokerPosition
	nextTicket int64

	// every submitted order, whatever its outcome, keyed by ticket -- the same
	// identifier SubmitOrder returns and PollOrder/CancelOrder are later
	// called with, so a caller never needs a second id space to track.
	orders map[int64]*mockOrder

	// FillBehavior lets tests control what SubmitOrder returns; defaults to
	// an immediate full fill at LimitPrice, or at price 0 when none is set.
	FillBehavior func(req models.OrderRequest) models.OrderOutcome
}

type mockOrder struct {
	req       models.OrderRequest
	outcome   models.OrderOutcome
	cancelled bool
}

func seriesKey(symbol string, tf models.Timeframe) string {
	return fmt.Sprintf("%s|%s", symbol, tf)
}

// NewMockSession creates a mock session seeded with the given deterministic
// RNG seed (0 uses a fixed seed for fully reproducible tests).
func NewMockSession(seed int64) *MockSession {
	return &MockSession{
		rng:       rand.New(rand.NewSource(seed)),
		healthy:   true,
		bars:      make(map[string]models.Series),
		positions: make(map[int64]BrokerPosition),
		orders:    make(map[int64]*mockOrder),
		nextTicket: 100000,
		account: models.AccountSnapshot{
			TradingEnabled: true,
			ServerTime:     time.Now().UTC(),
		},
	}
}

// SetHealthy toggles whether HealthCheck succeeds, simulating a broker outage.
func (m *MockSession) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// SetAccount replaces the account snapshot returned by GetAccountSnapshot.
func (m *MockSession) SetAccount(a models.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = a
}

// SeedBars installs (or appends to) the bar series returned for symbol+timeframe.
func (m *MockSession) SeedBars(symbol string, tf models.Timeframe, bars models.Series) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seriesKey(symbol, tf)
	m.bars[key] = append(m.bars[key], bars...)
}

// AppendBar appends a single bar, the common shape for tick-by-tick test scripts.
func (m *MockSession) AppendBar(b models.Bar) {
	m.SeedBars(b.Symbol, b.Timeframe, models.Series{b})
}

// SeedPosition injects a broker-side position directly, used to simulate
// orphaned/manual trades for adoption tests (spec S3).
func (m *MockSession) SeedPosition(p BrokerPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Ticket == 0 {
		p.Ticket = m.nextTicket
		m.nextTicket++
	}
	m.positions[p.Ticket] = p
}

// UpdatePositionPrice sets the current price (and recomputes nothing else) for
// a tracked broker position, used to drive exit-rule test scenarios.
func (m *MockSession) UpdatePositionPrice(ticket int64, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[ticket]; ok {
		p.CurrentPrice = price
		m.positions[ticket] = p
	}
}

// RemovePosition simulates a broker-side close (e.g. stopped out, assigned)
// that this process did not initiate.
func (m *MockSession) RemovePosition(ticket int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, ticket)
}

// HealthCheck implements Session.
func (m *MockSession) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return fmt.Errorf("mock broker: connection down")
	}
	return nil
}

// Connect implements Session.
func (m *MockSession) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return fmt.Errorf("mock broker: cannot connect, session unhealthy")
	}
	m.connected = true
	return nil
}

// Disconnect implements Session.
func (m *MockSession) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// GetAccountSnapshot implements Session.
func (m *MockSession) GetAccountSnapshot(ctx context.Context) (models.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return models.AccountSnapshot{}, fmt.Errorf("mock broker: connection down")
	}
	return m.account, nil
}

// GetBars implements Session.
func (m *MockSession) GetBars(ctx context.Context, symbol string, tf models.Timeframe, n int) (models.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return nil, fmt.Errorf("mock broker: connection down")
	}
	all := m.bars[seriesKey(symbol, tf)]
	if len(all) <= n {
		out := make(models.Series, len(all))
		copy(out, all)
		return out, nil
	}
	out := make(models.Series, n)
	copy(out, all[len(all)-n:])
	return out, nil
}

func defaultFill(req models.OrderRequest) models.OrderOutcome {
	var price float64
	if req.LimitPrice != nil {
		price = *req.LimitPrice
	}
	return models.OrderOutcome{
		Kind:       models.OutcomeFilled,
		FillPrice:  price,
		FillVolume: req.Volume,
		FillTime:   time.Now().UTC(),
	}
}

// SubmitOrder implements Session.
func (m *MockSession) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return models.OrderOutcome{}, fmt.Errorf("mock broker: connection down")
	}

	// Idempotency at the transport layer: a tag already used by any earlier
	// order, whatever its state, returns that order's outcome rather than
	// creating a second one (spec §4.3 belt-and-braces; the Execution Engine is the
	// primary idempotency owner).
	for _, o := range m.orders {
		if o.req.ClientTag == req.ClientTag {
			return o.outcome, nil
		}
	}

	behavior := m.FillBehavior
	if behavior == nil {
		behavior = defaultFill
	}
	outcome := behavior(req)

	if outcome.Kind == models.OutcomeFilled || outcome.Kind == models.OutcomePartiallyFilled {
		if outcome.Ticket == 0 {
			outcome.Ticket = m.nextTicket
			m.nextTicket++
		}
		side := models.PositionLong
		if req.Side == models.OrderSell {
			side = models.PositionShort
		}
		vol := outcome.FillVolume
		if existing, ok := m.positions[outcome.Ticket]; ok {
			vol += existing.Volume
		}
		m.positions[outcome.Ticket] = BrokerPosition{
			Ticket:       outcome.Ticket,
			Symbol:       req.Symbol,
			Side:         side,
			Volume:       vol,
			OpenPrice:    outcome.FillPrice,
			OpenTime:     outcome.FillTime,
			CurrentPrice: outcome.FillPrice,
			Stop:         req.Stop,
			TakeProfit:   req.TakeProfit,
			Commission:   outcome.Commission,
			Swap:         outcome.Swap,
			MagicTag:     req.MagicTag,
		}
	}

	m.orders[outcome.Ticket] = &mockOrder{req: req, outcome: outcome}
	return outcome, nil
}

// PollOrder implements Session.
func (m *MockSession) PollOrder(ctx context.Context, brokerOrderID int64) (models.OrderOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[brokerOrderID]
	if !ok {
		return models.OrderOutcome{}, fmt.Errorf("mock broker: unknown order %d", brokerOrderID)
	}
	return o.outcome, nil
}

// CancelOrder implements Session.
func (m *MockSession) CancelOrder(ctx context.Context, brokerOrderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("mock broker: unknown order %d", brokerOrderID)
	}
	o.cancelled = true
	o.outcome.Kind = models.OutcomeCancelled
	return nil
}

// GetOpenOrdersByTag implements Session.
func (m *MockSession) GetOpenOrdersByTag(ctx context.Context, clientTag string) ([]OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OpenOrder
	ids := make([]int64, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		o := m.orders[id]
		if o.req.ClientTag != clientTag || o.cancelled {
			continue
		}
		if o.outcome.Kind == models.OutcomePartiallyFilled {
			out = append(out, OpenOrder{
				BrokerOrderID: id,
				ClientTag:     o.req.ClientTag,
				Symbol:        o.req.Symbol,
				Side:          o.req.Side,
				Volume:        o.req.Volume - o.outcome.FillVolume,
			})
		}
	}
	return out, nil
}

// GetOpenPositions implements Session.
func (m *MockSession) GetOpenPositions(ctx context.Context, magicTag int64) ([]BrokerPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return nil, fmt.Errorf("mock broker: connection down")
	}
	tickets := make([]int64, 0, len(m.positions))
	for t := range m.positions {
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })
	out := make([]BrokerPosition, 0, len(tickets))
	for _, t := range tickets {
		p := m.positions[t]
		if magicTag != 0 && p.MagicTag != magicTag {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetPositionPrices implements Session.
func (m *MockSession) GetPositionPrices(ctx context.Context, tickets []int64) (map[int64]BrokerPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return nil, fmt.Errorf("mock broker: connection down")
	}
	out := make(map[int64]BrokerPosition, len(tickets))
	for _, t := range tickets {
		if p, ok := m.positions[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

var _ Session = (*MockSession)(nil)
