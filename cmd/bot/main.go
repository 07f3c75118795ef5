// aoalgo — an automated signal executor for Bybit USDT perpetuals, driven by
// Discord trading signals.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: single owner loop over stream events + poll timers
//	engine/signals.go    — message ingest and the pre-placement gate chain
//	engine/placement.go  — conditional entry arming with risk-based sizing
//	engine/postentry.go  — SL / TP ladder / DCA ladder placement after entry fill
//	engine/executions.go — private-stream fill routing (break-even, trailing)
//	engine/maintenance.go— poll safety net: fills, expiry, closes, revocations
//	signal/parser.go     — multi-format signal text parsing with fingerprinting
//	chat/discord.go      — Discord REST polling with cursor-based pagination
//	venue/bybit.go       — Bybit v5 REST client with HMAC request signing
//	venue/stream.go      — Bybit v5 private WebSocket with auto-reconnect
//	state/store.go       — crash-safe JSON ledger (survives restarts)
//	alerts/telegram.go   — optional Telegram lifecycle notifications
//
// The lifecycle of a trade:
//
//	A signal message is parsed into an intent and gated (caps, dedup,
//	freshness, distance to trigger). Accepted intents arm a conditional
//	limit entry. When the entry fills, the engine installs a stop loss,
//	a partial take-profit ladder and conditional DCA adds. TP1 moves the
//	stop to break-even; a later TP hands the exit to a venue-side
//	trailing stop. Everything the WebSocket misses, the poll loop
//	reconciles.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/candree7-rgb/aoalgo/internal/alerts"
	"github.com/candree7-rgb/aoalgo/internal/chat"
	"github.com/candree7-rgb/aoalgo/internal/config"
	"github.com/candree7-rgb/aoalgo/internal/engine"
	sig "github.com/candree7-rgb/aoalgo/internal/signal"
	"github.com/candree7-rgb/aoalgo/internal/state"
	"github.com/candree7-rgb/aoalgo/internal/venue"
)

func main() {
	// .env is a convenience for local runs; absence is not an error.
	_ = godotenv.Load()

	cfgPath := ""
	if p := os.Getenv("AOALGO_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	store, err := state.Open(cfg.Store.StateFilePath)
	if err != nil {
		logger.Error("failed to open state ledger", "error", err, "path", cfg.Store.StateFilePath)
		os.Exit(1)
	}

	venueClient := venue.NewClient(cfg.Bybit, cfg.DryRun, logger)
	stream := venue.NewStream(cfg.Bybit, logger)

	eng := engine.New(cfg, engine.Deps{
		Venue:  venueClient,
		Rules:  venue.NewRulesCache(venueClient),
		Chat:   chat.NewClient(cfg.Discord, logger),
		Parser: sig.NewParser(),
		Store:  store,
		Alerts: alerts.NewNotifier(cfg.Telegram, logger),
		Events: stream.Events(),
		Logger: logger,
	})

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("signal executor started",
		"category", cfg.Trading.Category,
		"leverage", cfg.Trading.Leverage,
		"risk_pct", cfg.Trading.RiskPct,
		"max_concurrent", cfg.Trading.MaxConcurrentTrades,
		"max_per_day", cfg.Trading.MaxTradesPerDay,
		"testnet", cfg.Bybit.Testnet,
		"demo", cfg.Bybit.Demo,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("private stream stopped", "error", err)
		}
	}()

	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("engine stopped", "error", err)
	}

	stop()
	wg.Wait()
	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
