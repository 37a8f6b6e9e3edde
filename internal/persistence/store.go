// Package persistence is the append-only record of everything the
// orchestrator observed and decided: signals emitted, order outcomes
// submitted, trades opened and closed, and periodic account snapshots (spec
// §6 "Persisted state"). Unlike a mutable snapshot document, an append-only
// log never needs a read-modify-write cycle, so each record is durable the
// moment its write call returns -- there is nothing to reconcile against a
// half-written file on restart.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

const (
	signalsFile = "signals.jsonl"
	ordersFile  = "orders.jsonl"
	tradesFile  = "trades.jsonl"
	metricsFile = "metrics.jsonl"

	dirPerm  = 0o755
	filePerm = 0o600
)

// MetricsSample is a periodic snapshot of account and exposure state,
// written by the control loop's housekeeping phase, which runs once every
// HousekeepingEveryNTicks ticks.
type MetricsSample struct {
	Time           time.Time
	Balance        decimal.Decimal
	Equity         decimal.Decimal
	MarginUsed     decimal.Decimal
	RealisedToday  decimal.Decimal
	OpenPositions  int
	CircuitBreaker bool
}

// OrderEvent pairs a submitted request with the outcome the broker returned,
// the unit the control loop persists once per entry submission.
type OrderEvent struct {
	Time    time.Time
	Request models.OrderRequest
	Outcome models.OrderOutcome
}

// Store is an append-only, crash-safe log of orchestrator activity split
// across four JSON-Lines files, one per logical table. It is safe for
// concurrent use.
type Store struct {
	mu    sync.Mutex
	dir   string
	files map[string]*os.File
}

// Open creates dir if needed and opens (or creates) the four log files in
// append mode. Each write is followed by an fsync so a record is durable
// before the call that wrote it returns, mirroring the durability
// discipline of a synchronous write-ahead log.
func Open(dir string) (*Store, error) {
	clean, err := validateDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(clean, dirPerm); err != nil {
		return nil, fmt.Errorf("persistence: create dir: %w", err)
	}

	files := make(map[string]*os.File, 4)
	for _, name := range []string{signalsFile, ordersFile, tradesFile, metricsFile} {
		f, err := os.OpenFile(filepath.Join(clean, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("persistence: open %s: %w", name, err)
		}
		files[name] = f
	}
	return &Store{dir: clean, files: files}, nil
}

// Close flushes and closes every underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AppendSignal records a Signal emitted by the Strategy capability.
func (s *Store) AppendSignal(sig models.Signal) error {
	return s.append(signalsFile, sig)
}

// AppendOrderEvent records a submitted order and the outcome the broker
// returned for it.
func (s *Store) AppendOrderEvent(ev OrderEvent) error {
	return s.append(ordersFile, ev)
}

// AppendTrade records a closed trade (full close or broker-detected
// external close), the paired open+close entry for one ticket.
func (s *Store) AppendTrade(t models.TradeRecord) error {
	return s.append(tradesFile, t)
}

// AppendMetricsSample records one periodic account/exposure snapshot.
func (s *Store) AppendMetricsSample(m MetricsSample) error {
	return s.append(metricsFile, m)
}

func (s *Store) append(file string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persistence: marshal %s record: %w", file, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.files[file]
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("persistence: write %s: %w", file, err)
	}
	return f.Sync()
}

// LoadTrades replays every trade ever recorded, in write order. The
// dashboard's statistics view reads trade history through it; the control
// loop does not replay trades at startup.
func (s *Store) LoadTrades() ([]models.TradeRecord, error) {
	var out []models.TradeRecord
	err := s.replay(tradesFile, func(line []byte) error {
		var t models.TradeRecord
		if err := json.Unmarshal(line, &t); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// LoadMetricsSamples replays every metrics sample ever recorded, in write
// order.
func (s *Store) LoadMetricsSamples() ([]MetricsSample, error) {
	var out []MetricsSample
	err := s.replay(metricsFile, func(line []byte) error {
		var m MetricsSample
		if err := json.Unmarshal(line, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *Store) replay(file string, handle func([]byte) error) error {
	s.mu.Lock()
	path := filepath.Join(s.dir, file)
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("persistence: open %s for replay: %w", file, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := handle(line); err != nil {
			return fmt.Errorf("persistence: decode %s record: %w", file, err)
		}
	}
	return scanner.Err()
}

func closeAll(files map[string]*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// validateDir cleans an operator-configured directory path and, when the
// path already exists, resolves its symlinks. Only an empty path is
// rejected.
func validateDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("persistence: empty directory path")
	}
	clean := filepath.Clean(dir)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		clean = resolved
	}
	return clean, nil
}
