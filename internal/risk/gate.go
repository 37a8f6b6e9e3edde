// Package risk implements the Risk Gate: it converts a raw Signal plus
// account state into an approved, sized OrderRequest volume, or a typed
// refusal (spec §4.2).
package risk

import (
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/shopspring/decimal"
)

// BrokerConstraints carries the broker-specific facts the gate needs but does
// not own: minimum order volume and lot step. Spec leaves step inference to
// the Execution Engine; the gate only quantizes with whatever the caller
// supplies.
type BrokerConstraints struct {
	MinVolume float64
	LotStep   float64
}

// Gate is the Risk Gate (spec §4.2). A single instance is owned by the
// Control Loop for the process lifetime (spec §3 Ownership) and is not
// goroutine-safe from outside the single-writer loop, but guards its own
// daily-loss state with a mutex since UpdateRealisedPnL may be called from a
// different phase than Evaluate within the same tick's call sequence.
type Gate struct {
	mu sync.Mutex

	limits      models.RiskLimits
	constraints BrokerConstraints
	logger      *log.Logger

	realisedToday  decimal.Decimal
	lastServerDate time.Time
	circuitOpen    bool
}

// New creates a Risk Gate.
func New(limits models.RiskLimits, constraints BrokerConstraints, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.New(os.Stderr, "risk: ", log.LstdFlags)
	}
	return &Gate{
		limits:      limits,
		constraints: constraints,
		logger:      logger,
	}
}

// PositionCounts is the Tracker-reported state the gate needs to enforce
// per-symbol and total position caps.
type PositionCounts struct {
	BySymbol map[string]int
	Total    int
}

// Evaluate converts signal + account + position counts into a RiskDecision.
func (g *Gate) Evaluate(signal models.Signal, account models.AccountSnapshot, counts PositionCounts) models.RiskDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverIfNeeded(account.ServerTime)

	if !account.TradingEnabled {
		return refuse(models.RefusalTradingDisabled, "account trading is disabled")
	}

	if g.limits.CircuitBreakerEnabled && g.circuitOpen {
		return refuse(models.RefusalCircuitBreakerOpen, "daily loss limit breached; entries blocked until server date advances")
	}

	if counts.BySymbol[signal.Symbol] >= g.limits.MaxPositionsPerSymbol {
		return refuse(models.RefusalSymbolCap, "max positions per symbol reached")
	}
	if counts.Total >= g.limits.MaxTotalPositions {
		return refuse(models.RefusalTotalCap, "max total positions reached")
	}

	volume := g.size(signal, account)
	if volume <= 0 {
		return refuse(models.RefusalZeroOrNegativeSize, "computed size was zero or negative")
	}
	volume = QuantizeVolume(volume, g.constraints.LotStep)
	if volume <= 0 || volume < g.constraints.MinVolume {
		return refuse(models.RefusalVolumeBelowBrokerMinimum, "sized volume below broker minimum after quantization")
	}
	if volume > g.limits.MaxVolumePerOrder {
		return refuse(models.RefusalVolumeAboveConfigMax, "sized volume exceeds configured per-order maximum")
	}

	if marginErr := g.checkMargin(account, volume, signal.ReferencePrice); marginErr != "" {
		return refuse(models.RefusalInsufficientMargin, marginErr)
	}

	return models.RiskDecision{Approved: true, Volume: volume}
}

// size implements the sizing policy precedence (spec §4.2):
//  1. stop-distance sizing if the signal carries a stop
//  2. otherwise DefaultVolume
func (g *Gate) size(signal models.Signal, account models.AccountSnapshot) float64 {
	if signal.Stop != nil {
		distance := math.Abs(signal.ReferencePrice - *signal.Stop)
		if distance > 0 {
			balance, _ := account.Balance.Float64()
			raw := (balance * g.limits.PositionSizeAsFractionOfBalance) / distance
			return clamp(raw, g.constraints.MinVolume, g.limits.MaxVolumePerOrder)
		}
	}
	return g.limits.DefaultVolume
}

// checkMargin is a heuristic pre-check; a broker reject remains the
// authority (spec §4.2 InsufficientMargin note).
func (g *Gate) checkMargin(account models.AccountSnapshot, volume, referencePrice float64) string {
	marginFree, _ := account.MarginFree.Float64()
	notional := volume * referencePrice
	if marginFree > 0 && notional > marginFree {
		return "estimated notional exceeds free margin"
	}
	return ""
}

func refuse(code models.RefusalCode, msg string) models.RiskDecision {
	return models.RiskDecision{Approved: false, Code: code, Message: msg}
}

// rolloverIfNeeded resets the daily-loss accumulator and closes the circuit
// breaker exactly when the broker's server date advances (spec I8) -- never
// on the local clock.
func (g *Gate) rolloverIfNeeded(serverTime time.Time) {
	if serverTime.IsZero() {
		return
	}
	date := models.AccountSnapshot{ServerTime: serverTime}.ServerDate()
	if g.lastServerDate.IsZero() {
		g.lastServerDate = date
		return
	}
	if date.After(g.lastServerDate) {
		g.logger.Printf("risk: server date advanced %s -> %s, resetting daily loss accumulator", g.lastServerDate.Format("2006-01-02"), date.Format("2006-01-02"))
		g.realisedToday = decimal.Zero
		g.circuitOpen = false
		g.lastServerDate = date
	}
}

// UpdateRealisedPnL is called by the Control Loop after every confirmed
// close (spec §4.2). A negative delta accumulates toward the daily loss
// circuit breaker; serverTime drives rollover detection so this must be
// called with the account's ServerTime, not local wall-clock.
func (g *Gate) UpdateRealisedPnL(delta decimal.Decimal, serverTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverIfNeeded(serverTime)
	g.realisedToday = g.realisedToday.Add(delta)

	if g.limits.CircuitBreakerEnabled && !g.circuitOpen {
		if g.realisedToday.Neg().GreaterThanOrEqual(g.limits.MaxDailyLoss) {
			g.circuitOpen = true
			g.logger.Printf("risk: WARN circuit breaker open, realised_today=%s max_daily_loss=%s", g.realisedToday.String(), g.limits.MaxDailyLoss.String())
		}
	}
}

// RealisedToday returns the current daily-loss accumulator, for dashboards
// and tests.
func (g *Gate) RealisedToday() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.realisedToday
}

// CircuitBreakerOpen reports whether new entries are currently blocked.
func (g *Gate) CircuitBreakerOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.circuitOpen
}

// CheckEmergencyDrawdown reports whether equity has fallen from
// sessionStartEquity by at least the configured emergency fraction (spec
// §4.2 "An emergency_drawdown_fraction breach ... causes the Control Loop to
// request immediate flatten-and-halt").
func (g *Gate) CheckEmergencyDrawdown(sessionStartEquity, currentEquity decimal.Decimal) bool {
	if g.limits.EmergencyDrawdownFraction <= 0 || sessionStartEquity.IsZero() {
		return false
	}
	drop := sessionStartEquity.Sub(currentEquity)
	frac, _ := drop.Div(sessionStartEquity).Float64()
	return frac >= g.limits.EmergencyDrawdownFraction
}
