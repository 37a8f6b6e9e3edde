// Package main is the entry point for the trading orchestrator's control
// loop (spec §6 "Loop runner").
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/config"
	"github.com/sirupsen/logrus"
)

// generateCorrelationID produces a short id used to grep one tick's scattered
// log lines together. Falls back to a time+pid id if crypto/rand fails.
func generateCorrelationID(logger *log.Logger) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		fallback := fmt.Sprintf("%x%x", time.Now().UnixNano(), os.Getpid())
		logger.Printf("WARN: crypto/rand.Read failed (%v), using fallback correlation id", err)
		return fallback[:8]
	}
	return hex.EncodeToString(buf)
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		dryRun     bool
		logLevel   string
		mindset    string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	flag.BoolVar(&dryRun, "dry-run", false, "synthesize fills instead of submitting real orders")
	flag.StringVar(&logLevel, "log-level", "INFO", "DEBUG, INFO, WARN, or ERROR")
	flag.StringVar(&mindset, "mindset", "", "risk/exit preset: aggressive, balanced, or conservative")
	flag.Parse()

	logger := log.New(os.Stdout, "[tradeorch] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Printf("config invalid: %v", err)
		return 2
	}
	if mindset != "" {
		cfg.Mindset = mindset
		if err := cfg.ApplyMindset(); err != nil {
			logger.Printf("config invalid: %v", err)
			return 2
		}
	}
	if dryRun {
		cfg.DryRun = true
	}

	dashLevel, err := logrus.ParseLevel(logLevel)
	if err != nil {
		dashLevel = logrus.InfoLevel
		logger.Printf("WARN: invalid --log-level %q, defaulting to INFO", logLevel)
	}

	if cfg.DryRun {
		logger.Println("starting in dry-run mode -- no real orders will be submitted")
	} else {
		logger.Println("starting in live mode -- orders will be submitted to the broker")
		if os.Getenv("TRADEORCH_SKIP_LIVE_WAIT") != "1" {
			logger.Println("waiting 10s to confirm live mode (set TRADEORCH_SKIP_LIVE_WAIT=1 to skip)")
			time.Sleep(10 * time.Second)
		}
	}

	bot, err := newBot(cfg, logger, dashLevel)
	if err != nil {
		logger.Printf("failed to wire orchestrator: %v", err)
		return 1
	}
	defer bot.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := false
	go func() {
		<-sigCh
		logger.Println("shutdown signal received, draining current tick...")
		interrupted = true
		cancel()
	}()

	if bot.dashServer != nil {
		go func() {
			if err := bot.dashServer.Start(); err != nil {
				logger.Printf("dashboard server error: %v", err)
			}
		}()
	}

	runErr := bot.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	bot.shutdown(shutdownCtx)

	if runErr != nil {
		correlationID := generateCorrelationID(logger)
		logger.Printf("fatal error (correlation_id=%s): %v", correlationID, runErr)
		return 1
	}
	if interrupted {
		logger.Println("stopped on interrupt")
		return 130
	}
	logger.Println("stopped normally")
	return 0
}
