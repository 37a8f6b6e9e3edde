package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

type fakePositions struct {
	all []models.PositionRecord
}

func (f *fakePositions) All() []models.PositionRecord { return f.all }

func (f *fakePositions) Get(ticket int64) (models.PositionRecord, bool) {
	for _, p := range f.all {
		if p.Ticket == ticket {
			return p, true
		}
	}
	return models.PositionRecord{}, false
}

type fakeRisk struct {
	realisedToday decimal.Decimal
	circuitOpen   bool
}

func (f *fakeRisk) RealisedToday() decimal.Decimal { return f.realisedToday }
func (f *fakeRisk) CircuitBreakerOpen() bool       { return f.circuitOpen }

type fakeTrades struct {
	trades []models.TradeRecord
	err    error
}

func (f *fakeTrades) LoadTrades() ([]models.TradeRecord, error) { return f.trades, f.err }

func newTestServer(positions *fakePositions, r *fakeRisk, trades *fakeTrades, authToken string) *Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := &Server{
		router:    chi.NewRouter(),
		positions: positions,
		risk:      r,
		trades:    trades,
		logger:    logger,
		authToken: authToken,
	}
	s.setupRoutes()
	return s
}

func TestHandleHealth_OK(t *testing.T) {
	s := newTestServer(&fakePositions{}, &fakeRisk{}, &fakeTrades{}, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandlePositions_ReturnsAll(t *testing.T) {
	fp := &fakePositions{all: []models.PositionRecord{{Ticket: 1, Symbol: "EURUSD"}, {Ticket: 2, Symbol: "GBPUSD"}}}
	s := newTestServer(fp, &fakeRisk{}, &fakeTrades{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []models.PositionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(got))
	}
}

func TestHandlePosition_NotFound(t *testing.T) {
	s := newTestServer(&fakePositions{}, &fakeRisk{}, &fakeTrades{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/positions/99", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlePosition_InvalidTicket(t *testing.T) {
	s := newTestServer(&fakePositions{}, &fakeRisk{}, &fakeTrades{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/positions/not-a-number", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleStats_ComputesWinRate(t *testing.T) {
	trades := []models.TradeRecord{
		{Ticket: 1, RealisedPnL: decimal.NewFromInt(50)},
		{Ticket: 2, RealisedPnL: decimal.NewFromInt(-20)},
	}
	s := newTestServer(&fakePositions{}, &fakeRisk{realisedToday: decimal.NewFromInt(30)}, &fakeTrades{trades: trades}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TotalTrades != 2 || got.WinningTrades != 1 || got.LosingTrades != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}
	if got.WinRate != 50.0 {
		t.Fatalf("expected 50%% win rate, got %v", got.WinRate)
	}
	if got.RealisedToday != 30.0 {
		t.Fatalf("expected RealisedToday=30, got %v", got.RealisedToday)
	}
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	s := newTestServer(&fakePositions{}, &fakeRisk{}, &fakeTrades{}, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_AcceptsHeaderToken(t *testing.T) {
	s := newTestServer(&fakePositions{}, &fakeRisk{}, &fakeTrades{}, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("X-Auth-Token", "secret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_HealthBypassesAuth(t *testing.T) {
	s := newTestServer(&fakePositions{}, &fakeRisk{}, &fakeTrades{}, "secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
