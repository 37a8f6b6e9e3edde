// Package feed pulls a bounded window of OHLCV history for one symbol+
// timeframe, detecting whether the most recent bar actually advanced since
// the last poll (spec §4.6, §8 "no new bar ⇒ no Signal invocation").
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/broker"
	"github.com/eddiefleurent/tradeorch/internal/models"
)

// Config parameterizes one Feed instance.
type Config struct {
	Symbol    string
	Timeframe models.Timeframe
	Lookback  int // bars requested per poll
}

// Feed is restartable: all state it keeps (lastBarTime, cache) is an
// optimization, not a requirement -- constructing a fresh Feed against the
// same broker session and calling Poll resumes correctly with no special
// recovery path.
type Feed struct {
	session broker.Session
	config  Config

	lastBarTime time.Time
	cache       models.Series
}

// New builds a Feed. session must already be connected; Poll does not
// connect/reconnect on the caller's behalf.
func New(session broker.Session, config Config) *Feed {
	if config.Lookback <= 0 {
		config.Lookback = 200
	}
	return &Feed{session: session, config: config}
}

// Poll fetches up to config.Lookback most recent closed bars, validates and
// caches them, and reports whether the series' last bar advanced since the
// previous successful Poll (isNew). On the first call isNew is true iff any
// bar was returned.
func (f *Feed) Poll(ctx context.Context) (series models.Series, isNew bool, err error) {
	bars, err := f.session.GetBars(ctx, f.config.Symbol, f.config.Timeframe, f.config.Lookback)
	if err != nil {
		return nil, false, fmt.Errorf("feed: fetching bars for %s %s: %w", f.config.Symbol, f.config.Timeframe, err)
	}
	if len(bars) == 0 {
		return f.cache, false, nil
	}
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return nil, false, fmt.Errorf("feed: bar %d invalid: %w", i, err)
		}
	}

	last, _ := bars.Last()
	isNew = last.OpenTime.After(f.lastBarTime)
	if isNew {
		f.lastBarTime = last.OpenTime
	}
	f.cache = bars
	return bars, isNew, nil
}

// Cached returns the most recently fetched series without hitting the
// broker, or false if Poll has never succeeded.
func (f *Feed) Cached() (models.Series, bool) {
	if len(f.cache) == 0 {
		return nil, false
	}
	return f.cache, true
}
