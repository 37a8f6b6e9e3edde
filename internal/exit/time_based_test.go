package exit

import (
	"testing"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

func TestTimeBased_MaxHoldBreach(t *testing.T) {
	rule := NewTimeBased(true, TimeBasedConfig{MaxHold: 4 * time.Hour})
	open := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	pos := models.PositionRecord{Ticket: 1, Side: models.PositionLong, Volume: 1, OpenTime: open}

	decision := rule.Evaluate(TickContext{Now: open.Add(5 * time.Hour), ServerTime: open.Add(5 * time.Hour)}, pos, nil)
	if decision == nil || decision.Reason != "max_hold_exceeded" {
		t.Fatalf("expected max_hold_exceeded, got %+v", decision)
	}
}

func TestTimeBased_MaxHoldNotYetBreached(t *testing.T) {
	rule := NewTimeBased(true, TimeBasedConfig{MaxHold: 4 * time.Hour})
	open := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	pos := models.PositionRecord{Ticket: 1, Side: models.PositionLong, Volume: 1, OpenTime: open}

	decision := rule.Evaluate(TickContext{Now: open.Add(time.Hour), ServerTime: open.Add(time.Hour)}, pos, nil)
	if decision != nil {
		t.Fatalf("expected no decision before max hold elapses, got %+v", decision)
	}
}

func TestTimeBased_WeekendProtection(t *testing.T) {
	rule := NewTimeBased(true, TimeBasedConfig{
		WeekendProtectionEnabled: true,
		CloseWeekday:             time.Friday,
		CloseAt:                  TimeOfDay{Hour: 21, Minute: 0},
		WeekendWindow:            2 * time.Hour,
	})
	// Friday 20:00, one hour before the configured 21:00 close.
	serverTime := time.Date(2026, 1, 2, 20, 0, 0, 0, time.UTC)
	pos := models.PositionRecord{Ticket: 1, Side: models.PositionLong, Volume: 1, OpenTime: serverTime.Add(-time.Hour)}

	decision := rule.Evaluate(TickContext{Now: serverTime, ServerTime: serverTime}, pos, nil)
	if decision == nil || decision.Reason != "weekend_protection" {
		t.Fatalf("expected weekend_protection, got %+v", decision)
	}
}

func TestTimeBased_WeekendProtectionOutsideWindow(t *testing.T) {
	rule := NewTimeBased(true, TimeBasedConfig{
		WeekendProtectionEnabled: true,
		CloseWeekday:             time.Friday,
		CloseAt:                  TimeOfDay{Hour: 21, Minute: 0},
		WeekendWindow:            2 * time.Hour,
	})
	// Wednesday, nowhere near the Friday close.
	serverTime := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	pos := models.PositionRecord{Ticket: 1, Side: models.PositionLong, Volume: 1, OpenTime: serverTime.Add(-time.Hour)}

	decision := rule.Evaluate(TickContext{Now: serverTime, ServerTime: serverTime}, pos, nil)
	if decision != nil {
		t.Fatalf("expected no decision mid-week, got %+v", decision)
	}
}

func TestTimeBased_DayTradingEOD(t *testing.T) {
	rule := NewTimeBased(true, TimeBasedConfig{
		DayTradingEODEnabled: true,
		EODAt:                TimeOfDay{Hour: 16, Minute: 0},
	})
	serverTime := time.Date(2026, 1, 5, 16, 30, 0, 0, time.UTC)
	pos := models.PositionRecord{Ticket: 1, Side: models.PositionLong, Volume: 1, OpenTime: serverTime.Add(-time.Hour)}

	decision := rule.Evaluate(TickContext{Now: serverTime, ServerTime: serverTime}, pos, nil)
	if decision == nil || decision.Reason != "day_trading_eod" {
		t.Fatalf("expected day_trading_eod, got %+v", decision)
	}
}
