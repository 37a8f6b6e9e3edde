package main

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/tradeorch/internal/broker"
	"github.com/eddiefleurent/tradeorch/internal/config"
	"github.com/eddiefleurent/tradeorch/internal/exit"
	"github.com/eddiefleurent/tradeorch/internal/execution"
	"github.com/eddiefleurent/tradeorch/internal/feed"
	"github.com/eddiefleurent/tradeorch/internal/indicator"
	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/eddiefleurent/tradeorch/internal/persistence"
	"github.com/eddiefleurent/tradeorch/internal/risk"
	"github.com/eddiefleurent/tradeorch/internal/strategy"
	"github.com/eddiefleurent/tradeorch/internal/tracker"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// stubStrategy returns a preprogrammed signal (or nil) on every OnBar call,
// letting tick-level tests drive phase 4 without a real crossover.
type stubStrategy struct {
	signal *models.Signal
	err    error
	calls  int
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) OnBar(strategy.Context) (*models.Signal, error) {
	s.calls++
	return s.signal, s.err
}

func newTestBot(t *testing.T, strat strategy.Strategy, limits models.RiskLimits) (*Bot, *broker.MockSession) {
	t.Helper()

	session := broker.NewMockSession(1)
	session.SetAccount(models.AccountSnapshot{
		Balance:        decimal.NewFromInt(10000),
		Equity:         decimal.NewFromInt(10000),
		MarginFree:     decimal.NewFromInt(10000),
		TradingEnabled: true,
		ServerTime:     time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
	})

	f := feed.New(session, feed.Config{Symbol: "EURUSD", Timeframe: models.Timeframe1Min, Lookback: 50})

	pipeline, err := indicator.Build(nil)
	require.NoError(t, err)

	logger := silentLogger()
	riskGate := risk.New(limits, risk.BrokerConstraints{MinVolume: 0.01, LotStep: 0.01}, logger)

	store, err := persistence.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	magicTag := deriveMagicTag("test-tag")
	engine := execution.New(session, logger, execution.Config{DryRun: true, MagicTag: magicTag})
	track := tracker.New(session, engine, store, magicTag, tracker.AdoptionPolicy{}, logger)
	arbiter := exit.New()

	cfg := &config.Config{
		Trading:                 config.TradingConfig{Symbol: "EURUSD", Timeframe: "M1", PollIntervalSeconds: 1, LookbackBars: 50},
		HousekeepingEveryNTicks: 1,
	}

	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		session:  session,
		feed:     f,
		pipeline: pipeline,
		strat:    strat,
		riskGate: riskGate,
		engine:   engine,
		track:    track,
		arbiter:  arbiter,
		store:    store,
		magicTag: magicTag,
	}
	return b, session
}

func seedOneBar(session *broker.MockSession, symbol string, t time.Time, price float64) {
	session.SeedBars(symbol, models.Timeframe1Min, models.Series{{
		Symbol: symbol, Timeframe: models.Timeframe1Min, OpenTime: t,
		Open: price, High: price, Low: price, Close: price, Volume: 1,
	}})
}

func permissiveLimits() models.RiskLimits {
	return models.RiskLimits{
		MaxVolumePerOrder:              1.0,
		DefaultVolume:                  0.1,
		MaxDailyLoss:                   decimal.NewFromInt(1000),
		MaxPositionsPerSymbol:          5,
		MaxTotalPositions:              5,
		PositionSizeAsFractionOfBalance: 0.02,
		EmergencyDrawdownFraction:      0.5,
		CircuitBreakerEnabled:          true,
	}
}

func TestDeriveMagicTag(t *testing.T) {
	a := deriveMagicTag("tradeorch")
	b := deriveMagicTag("tradeorch")
	assert.Equal(t, a, b, "deriving the tag twice from the same string must be stable")
	assert.GreaterOrEqual(t, a, int64(0), "the sign bit must always be cleared")

	other := deriveMagicTag("something-else")
	assert.NotEqual(t, a, other)
}

func TestTick_NewBarEntrySignal_RegistersPosition(t *testing.T) {
	strat := &stubStrategy{signal: &models.Signal{
		ID: "sig-1", Symbol: "EURUSD", Side: models.SideLong, ReferencePrice: 1.1000,
	}}
	b, session := newTestBot(t, strat, permissiveLimits())

	seedOneBar(session, "EURUSD", time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), 1.1000)

	err := b.tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, strat.calls)
	tickets := b.track.Tickets()
	require.Len(t, tickets, 1)
	pos, ok := b.track.Get(tickets[0])
	require.True(t, ok)
	assert.Equal(t, "EURUSD", pos.Symbol)
	assert.Equal(t, models.PositionLong, pos.Side)
}

func TestTick_RiskGateRefusal_DoesNotRegister(t *testing.T) {
	strat := &stubStrategy{signal: &models.Signal{
		ID: "sig-1", Symbol: "EURUSD", Side: models.SideLong, ReferencePrice: 1.1000,
	}}
	limits := permissiveLimits()
	limits.MaxTotalPositions = 0 // refuse every entry
	b, session := newTestBot(t, strat, limits)

	seedOneBar(session, "EURUSD", time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), 1.1000)

	err := b.tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, b.track.Tickets())
}

func TestTick_NoNewBar_SkipsStrategy(t *testing.T) {
	strat := &stubStrategy{signal: nil}
	b, session := newTestBot(t, strat, permissiveLimits())

	at := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	seedOneBar(session, "EURUSD", at, 1.1000)
	require.NoError(t, b.tick(context.Background()))
	assert.Equal(t, 1, strat.calls)

	// Second tick with no new bar: strategy must not be invoked again.
	require.NoError(t, b.tick(context.Background()))
	assert.Equal(t, 1, strat.calls)
}

func TestTick_HealthCheckFailure_SkipsTick(t *testing.T) {
	strat := &stubStrategy{}
	b, session := newTestBot(t, strat, permissiveLimits())
	session.SetHealthy(false)

	err := b.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, strat.calls, "a down health check must skip every later phase")
}

func TestTick_EmergencyDrawdown_FlattensAndReturnsErr(t *testing.T) {
	strat := &stubStrategy{}
	limits := permissiveLimits()
	limits.EmergencyDrawdownFraction = 0.10
	b, session := newTestBot(t, strat, limits)

	// First tick establishes sessionStartEquity at 10000.
	seedOneBar(session, "EURUSD", time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), 1.1000)
	require.NoError(t, b.tick(context.Background()))

	// Seed an open position directly on the broker so CloseAll has something
	// to flatten, then crash equity below the drawdown threshold.
	session.SeedPosition(broker.BrokerPosition{
		Symbol: "EURUSD", Side: models.PositionLong, Volume: 0.1,
		OpenPrice: 1.1000, CurrentPrice: 1.1000, MagicTag: b.magicTag,
	})
	require.NoError(t, b.track.Reconcile(context.Background()))
	require.NotEmpty(t, b.track.Tickets())

	session.SetAccount(models.AccountSnapshot{
		Balance: decimal.NewFromInt(8000), Equity: decimal.NewFromInt(8000),
		MarginFree: decimal.NewFromInt(8000), TradingEnabled: true,
		ServerTime: time.Date(2026, 1, 5, 12, 1, 0, 0, time.UTC),
	})

	err := b.tick(context.Background())
	assert.ErrorIs(t, err, errEmergencyDrawdown)
	assert.Empty(t, b.track.Tickets(), "every tracked position must be flattened on breach")
}

func TestVolatilityOf_UsesConfiguredATRColumn(t *testing.T) {
	b := &Bot{atrColumn: "atr_14"}

	got := b.volatilityOf(map[string][]float64{"atr_14": {0.0010, 0.0015}})
	assert.Equal(t, 0.0015, got, "must read the last value of the configured ATR column, not a literal \"atr\" key")

	assert.Zero(t, b.volatilityOf(map[string][]float64{"atr_9": {0.002}}), "a differently-named column must not match")
	assert.Zero(t, b.volatilityOf(nil), "no indicators at all must yield 0, not a panic")

	bNoColumn := &Bot{atrColumn: ""}
	assert.Zero(t, bNoColumn.volatilityOf(map[string][]float64{"atr_14": {0.002}}), "no configured atr_column must yield 0 even if a column happens to exist")
}

func TestTick_TrailingStop_UsesRealATRColumn(t *testing.T) {
	strat := &stubStrategy{}
	b, session := newTestBot(t, strat, permissiveLimits())
	b.atrColumn = "atr_2"

	pipeline, err := indicator.Build([]indicator.IndicatorSpec{{Type: "atr", Params: map[string]any{"period": 2}}})
	require.NoError(t, err)
	b.pipeline = pipeline

	b.arbiter = exit.New(exit.NewTrailingStop(true, exit.TrailingStopConfig{
		ActivationProfit: -1000, // activate immediately regardless of P&L
		ATRMultiplier:    1.0,
		MinDistance:      0,
	}))

	session.SeedPosition(broker.BrokerPosition{
		Ticket: 42, Symbol: "EURUSD", Side: models.PositionLong,
		Volume: 0.1, OpenPrice: 1.1000, CurrentPrice: 1.1000, MagicTag: b.magicTag,
	})
	require.NoError(t, b.track.Reconcile(context.Background()))

	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	for i, price := range []float64{1.1000, 1.1010, 1.1005, 1.0990} {
		seedOneBar(session, "EURUSD", base.Add(time.Duration(i)*time.Minute), price)
		session.UpdatePositionPrice(42, price)
		require.NoError(t, b.tick(context.Background()))
	}

	assert.Empty(t, b.track.Tickets(), "a real, non-zero ATR distance must eventually trail the stop through the pullback and close the position")
}

func TestTick_HousekeepingThrottling(t *testing.T) {
	strat := &stubStrategy{}
	b, session := newTestBot(t, strat, permissiveLimits())
	b.cfg.HousekeepingEveryNTicks = 3

	for i := 0; i < 3; i++ {
		b.tickCount++
		require.NoError(t, b.tick(context.Background()))
	}
	samples, err := b.store.LoadMetricsSamples()
	require.NoError(t, err)
	assert.Len(t, samples, 1, "a sample is written only on the 3rd of every 3 ticks")
	_ = session
}
