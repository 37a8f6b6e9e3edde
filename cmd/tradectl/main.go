// Package main is a manual trade utility for operating alongside the control
// loop (spec §6 "optional manual trade utility"): list open positions, close
// one or all of them, or place a single one-shot order. Every order it
// submits carries the same magic tag the loop uses, so the Position Tracker
// adopts it on its next reconciliation pass (spec §4.4 Reconcile). Grounded
// on the teacher's standalone scripts/liquidate_positions.go operator tool.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/broker"
	"github.com/eddiefleurent/tradeorch/internal/config"
	"github.com/eddiefleurent/tradeorch/internal/execution"
	"github.com/eddiefleurent/tradeorch/internal/models"
	"github.com/google/uuid"
)

func deriveMagicTag(tag string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	return int64(h.Sum64() &^ (1 << 63))
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		symbol     string
		side       string
		volume     float64
		list       bool
		closeOne   int64
		closeAll   bool
		yes        bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	flag.StringVar(&symbol, "symbol", "", "symbol for a one-shot order")
	flag.StringVar(&side, "side", "", "BUY or SELL, for a one-shot order")
	flag.Float64Var(&volume, "volume", 0, "volume for a one-shot order")
	flag.BoolVar(&list, "list", false, "list open positions carrying this system's magic tag")
	flag.Int64Var(&closeOne, "close", 0, "ticket to close")
	flag.BoolVar(&closeAll, "close-all", false, "close every tracked-magic-tag position")
	flag.BoolVar(&yes, "yes", false, "skip the confirmation prompt for close operations")
	flag.Parse()

	logger := log.New(os.Stdout, "[tradectl] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Printf("config invalid: %v", err)
		return 2
	}
	magicTag := deriveMagicTag(cfg.Trading.MagicTag)

	session := broker.NewCircuitBreakerSession(broker.NewMockSession(time.Now().UnixNano()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Broker.TimeoutMS)*time.Millisecond)
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		logger.Printf("failed to connect: %v", err)
		return 1
	}
	defer func() { _ = session.Disconnect(context.Background()) }()

	engine := execution.New(session, logger, execution.Config{DryRun: cfg.DryRun, MagicTag: magicTag})

	switch {
	case list:
		return doList(ctx, session, magicTag, logger)
	case closeAll:
		return doCloseAll(ctx, session, engine, magicTag, yes, logger)
	case closeOne != 0:
		return doClose(ctx, session, engine, magicTag, closeOne, yes, logger)
	case symbol != "" || side != "" || volume != 0:
		return doOneShot(ctx, engine, magicTag, symbol, side, volume, logger)
	default:
		fmt.Fprintln(os.Stderr, "usage: tradectl --list | --close <ticket> | --close-all | --symbol S --side BUY|SELL --volume V")
		return 2
	}
}

func doList(ctx context.Context, session broker.Session, magicTag int64, logger *log.Logger) int {
	positions, err := session.GetOpenPositions(ctx, magicTag)
	if err != nil {
		logger.Printf("failed to list positions: %v", err)
		return 1
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return 0
	}
	for _, p := range positions {
		fmt.Printf("ticket=%d symbol=%s side=%s volume=%.4f open_price=%.5f current_price=%.5f unrealised_pnl=%.2f\n",
			p.Ticket, p.Symbol, p.Side, p.Volume, p.OpenPrice, p.CurrentPrice, p.UnrealisedPnL)
	}
	return 0
}

func doClose(ctx context.Context, session broker.Session, engine *execution.Engine, magicTag, ticket int64, skipConfirm bool, logger *log.Logger) int {
	positions, err := session.GetOpenPositions(ctx, magicTag)
	if err != nil {
		logger.Printf("failed to fetch positions: %v", err)
		return 1
	}
	var target *broker.BrokerPosition
	for i := range positions {
		if positions[i].Ticket == ticket {
			target = &positions[i]
			break
		}
	}
	if target == nil {
		logger.Printf("ticket %d not found among open positions", ticket)
		return 1
	}
	if !skipConfirm && !confirm(fmt.Sprintf("close ticket %d (%s %s %.4f)?", target.Ticket, target.Symbol, target.Side, target.Volume)) {
		fmt.Println("cancelled")
		return 0
	}
	outcome, err := engine.Close(ctx, target.Ticket, target.Symbol, target.Side, target.Volume, target.CurrentPrice)
	if err != nil {
		logger.Printf("close ticket %d failed: %v", ticket, err)
		return 1
	}
	fmt.Printf("close submitted: ticket=%d outcome=%s fill_price=%.5f fill_volume=%.4f\n", ticket, outcome.Kind, outcome.FillPrice, outcome.FillVolume)
	return 0
}

func doCloseAll(ctx context.Context, session broker.Session, engine *execution.Engine, magicTag int64, skipConfirm bool, logger *log.Logger) int {
	positions, err := session.GetOpenPositions(ctx, magicTag)
	if err != nil {
		logger.Printf("failed to fetch positions: %v", err)
		return 1
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return 0
	}
	fmt.Printf("found %d positions to close:\n", len(positions))
	for _, p := range positions {
		fmt.Printf("  ticket=%d %s %s %.4f\n", p.Ticket, p.Symbol, p.Side, p.Volume)
	}
	if !skipConfirm && !confirm("close all of the above?") {
		fmt.Println("cancelled")
		return 0
	}
	failures := 0
	for _, p := range positions {
		outcome, err := engine.Close(ctx, p.Ticket, p.Symbol, p.Side, p.Volume, p.CurrentPrice)
		if err != nil {
			logger.Printf("close ticket %d failed: %v", p.Ticket, err)
			failures++
			continue
		}
		fmt.Printf("closed ticket %d: outcome=%s fill_price=%.5f\n", p.Ticket, outcome.Kind, outcome.FillPrice)
	}
	if failures > 0 {
		return 1
	}
	return 0
}

func doOneShot(ctx context.Context, engine *execution.Engine, magicTag int64, symbol, side string, volume float64, logger *log.Logger) int {
	if symbol == "" || side == "" || volume <= 0 {
		fmt.Fprintln(os.Stderr, "--symbol, --side and --volume are all required for a one-shot order")
		return 2
	}
	orderSide, err := parseSide(side)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	req := models.OrderRequest{
		ClientTag: "manual:" + uuid.NewString(),
		Symbol:    symbol,
		Side:      orderSide,
		Volume:    volume,
		Type:      models.OrderTypeMarket,
		MagicTag:  magicTag,
	}
	outcome, err := engine.Submit(ctx, req, 0)
	if err != nil {
		logger.Printf("order submission failed: %v", err)
		return 1
	}
	fmt.Printf("order submitted: ticket=%d outcome=%s fill_price=%.5f fill_volume=%.4f\n", outcome.Ticket, outcome.Kind, outcome.FillPrice, outcome.FillVolume)
	return 0
}

func parseSide(s string) (models.OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return models.OrderBuy, nil
	case "SELL":
		return models.OrderSell, nil
	default:
		return "", fmt.Errorf("invalid --side %q, must be BUY or SELL", s)
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s (yes/no): ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y"
}

