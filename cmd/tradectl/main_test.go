package main

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/tradeorch/internal/broker"
	"github.com/eddiefleurent/tradeorch/internal/execution"
	"github.com/eddiefleurent/tradeorch/internal/models"
)

func TestParseSide(t *testing.T) {
	cases := []struct {
		in      string
		want    models.OrderSide
		wantErr bool
	}{
		{"BUY", models.OrderBuy, false},
		{"buy", models.OrderBuy, false},
		{"SELL", models.OrderSell, false},
		{" sell ", models.OrderSell, false},
		{"HOLD", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := parseSide(c.in)
		if c.wantErr {
			assert.Error(t, err, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got)
	}
}

func TestDeriveMagicTag_Deterministic(t *testing.T) {
	a := deriveMagicTag("tradeorch")
	b := deriveMagicTag("tradeorch")
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, int64(0))
}

func newCtlTestEngine(t *testing.T) (*execution.Engine, *broker.MockSession, int64) {
	t.Helper()
	session := broker.NewMockSession(1)
	require.NoError(t, session.Connect(context.Background()))
	magicTag := deriveMagicTag("ctl-test")
	logger := log.New(io.Discard, "", 0)
	engine := execution.New(session, logger, execution.Config{DryRun: true, MagicTag: magicTag})
	return engine, session, magicTag
}

func TestDoOneShot_SubmitsOrder(t *testing.T) {
	engine, _, magicTag := newCtlTestEngine(t)
	logger := log.New(io.Discard, "", 0)

	rc := doOneShot(context.Background(), engine, magicTag, "EURUSD", "BUY", 0.1, logger)
	assert.Equal(t, 0, rc)
}

func TestDoOneShot_MissingArgs(t *testing.T) {
	engine, _, magicTag := newCtlTestEngine(t)
	logger := log.New(io.Discard, "", 0)

	rc := doOneShot(context.Background(), engine, magicTag, "", "BUY", 0.1, logger)
	assert.Equal(t, 2, rc)

	rc = doOneShot(context.Background(), engine, magicTag, "EURUSD", "BOGUS", 0.1, logger)
	assert.Equal(t, 2, rc)
}

func TestDoList_NoPositions(t *testing.T) {
	_, session, magicTag := newCtlTestEngine(t)
	logger := log.New(io.Discard, "", 0)
	rc := doList(context.Background(), session, magicTag, logger)
	assert.Equal(t, 0, rc)
}

func TestDoClose_SkipConfirmClosesTicket(t *testing.T) {
	engine, session, magicTag := newCtlTestEngine(t)
	logger := log.New(io.Discard, "", 0)

	session.SeedPosition(broker.BrokerPosition{
		Ticket: 555, Symbol: "EURUSD", Side: models.PositionLong,
		Volume: 0.2, OpenPrice: 1.1, CurrentPrice: 1.1, MagicTag: magicTag,
	})

	rc := doClose(context.Background(), session, engine, magicTag, 555, true, logger)
	assert.Equal(t, 0, rc)

	// The engine is in dry-run mode, so the close is synthesized and the
	// broker's position is left untouched.
	positions, err := session.GetOpenPositions(context.Background(), magicTag)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestDoClose_UnknownTicket(t *testing.T) {
	engine, session, magicTag := newCtlTestEngine(t)
	logger := log.New(io.Discard, "", 0)

	rc := doClose(context.Background(), session, engine, magicTag, 9999, true, logger)
	assert.Equal(t, 1, rc)
}

func TestDoCloseAll_SkipConfirmClosesEverything(t *testing.T) {
	engine, session, magicTag := newCtlTestEngine(t)
	logger := log.New(io.Discard, "", 0)

	session.SeedPosition(broker.BrokerPosition{
		Symbol: "EURUSD", Side: models.PositionLong, Volume: 0.1,
		OpenPrice: 1.1, CurrentPrice: 1.1, MagicTag: magicTag,
	})
	session.SeedPosition(broker.BrokerPosition{
		Symbol: "GBPUSD", Side: models.PositionShort, Volume: 0.1,
		OpenPrice: 1.3, CurrentPrice: 1.3, MagicTag: magicTag,
	})

	rc := doCloseAll(context.Background(), session, engine, magicTag, true, logger)
	assert.Equal(t, 0, rc)

	// Dry-run closes are synthesized; both broker positions remain.
	positions, err := session.GetOpenPositions(context.Background(), magicTag)
	require.NoError(t, err)
	assert.Len(t, positions, 2)
}
