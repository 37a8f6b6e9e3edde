// Package dashboard exposes a read-only HTTP view over the orchestrator's
// live state: open positions, risk posture, and closed-trade statistics
// (spec §6 "optional dashboard"). It never accepts a mutating request --
// every write to broker state flows through the Execution Engine, never
// through this surface.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/eddiefleurent/tradeorch/internal/persistence"
	"github.com/eddiefleurent/tradeorch/internal/risk"
	"github.com/eddiefleurent/tradeorch/internal/tracker"
)

// PositionSource is the narrow slice of Tracker the dashboard depends on.
type PositionSource interface {
	All() []models.PositionRecord
	Get(ticket int64) (models.PositionRecord, bool)
}

// RiskSource is the narrow slice of Gate the dashboard depends on.
type RiskSource interface {
	RealisedToday() decimal.Decimal
	CircuitBreakerOpen() bool
}

// TradeSource is the narrow slice of Store the dashboard depends on.
type TradeSource interface {
	LoadTrades() ([]models.TradeRecord, error)
}

// Config tunes the server's listen address and auth token.
type Config struct {
	Port      int
	AuthToken string // empty disables auth -- local/dev use only
}

// Server is the read-only dashboard HTTP surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	positions PositionSource
	risk      RiskSource
	trades    TradeSource
	logger    *logrus.Logger
	port      int
	authToken string
}

// NewServer wires a dashboard over the given live Tracker/Gate and the
// persisted trade log.
func NewServer(cfg Config, positions *tracker.Tracker, riskGate *risk.Gate, trades *persistence.Store, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		positions: positions,
		risk:      riskGate,
		trades:    trades,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(middleware.Compress(5))

	s.router.Get("/health", s.handleHealth)

	register := func(r chi.Router) {
		r.Get("/api/positions", s.handlePositions)
		r.Get("/api/positions/{ticket}", s.handlePosition)
		r.Get("/api/stats", s.handleStats)
	}
	if s.authToken != "" {
		s.router.Route("/", func(r chi.Router) {
			r.Use(s.authMiddleware)
			register(r)
		})
	} else {
		register(s.router)
	}
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"url":    s.redactTokenFromURL(r.URL).String(),
		})
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		entry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"bytes":    wrapped.BytesWritten(),
			"duration": time.Since(start),
		}).Info("dashboard request")
	})
}

func (s *Server) redactTokenFromURL(u *url.URL) *url.URL {
	clone := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path, RawQuery: u.RawQuery}
	if u.RawQuery != "" {
		values := u.Query()
		if values.Has("token") {
			values.Set("token", "[REDACTED]")
			clone.RawQuery = values.Encode()
		}
	}
	return clone
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// Start blocks serving until Shutdown is called or the listener errors.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("dashboard: listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]any{"status": "healthy", "timestamp": time.Now().Unix()})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, s.positions.All())
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "ticket")
	ticket, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid ticket", http.StatusBadRequest)
		return
	}
	pos, ok := s.positions.Get(ticket)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, s.logger, pos)
}

// Statistics summarizes closed-trade history plus the live risk posture.
type Statistics struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalRealisedPnL   float64
	AveragePnL         float64
	CurrentOpen        int
	RealisedToday      float64
	CircuitBreakerOpen bool
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	trades, err := s.trades.LoadTrades()
	if err != nil {
		s.logger.WithError(err).Error("dashboard: failed to load trade history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	stats := Statistics{CurrentOpen: len(s.positions.All())}
	for _, t := range trades {
		stats.TotalTrades++
		pnl, _ := t.RealisedPnL.Float64()
		stats.TotalRealisedPnL += pnl
		if pnl > 0 {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
		stats.AveragePnL = stats.TotalRealisedPnL / float64(stats.TotalTrades)
	}
	stats.RealisedToday, _ = s.risk.RealisedToday().Float64()
	stats.CircuitBreakerOpen = s.risk.CircuitBreakerOpen()

	writeJSON(w, s.logger, stats)
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("dashboard: failed to encode response")
	}
}
