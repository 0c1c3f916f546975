// Polyweather — an autonomous trading agent for weather prediction
// markets.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go      — orchestrator: wires discovery → monitor → executor, owns all goroutines
//	market/parser.go      — turns catalog events into temperature ladder markets
//	market/discovery.go   — polls the venue catalog, keeps the registry current
//	forecast/service.go   — ensemble forecasts (Open-Meteo + NWS) with lead-day uncertainty
//	prob/engine.go        — Normal-model bin probabilities, day-of conditioning, Kelly sizing
//	monitor/monitor.go    — prices ladders against forecasts, queues signals with edge
//	executor/executor.go  — turns signals into GTC orders, or paper fills in dry-run
//	position/manager.go   — stop-loss / take-profit / trailing-stop exits with persisted peaks
//	redeem/controller.go  — settles resolved positions on-chain via the CTF contract
//	risk/manager.go       — exposure caps, data freshness, daily-loss kill switch
//	exchange/client.go    — REST client for the venue CLOB API (orders, books, batch prices)
//	store/store.go        — JSON file persistence (position peaks, paper ledger)
//
// How it makes money:
//
//	Weather ladders resolve against a verifiable physical measurement, and
//	public forecast models predict that measurement better than casual
//	traders price it. The agent converts forecasts into bin probabilities,
//	buys bins priced below fair value minus a friction margin, and lets
//	exits and on-chain redemption collect the difference.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"polyweather/internal/config"
	"polyweather/internal/engine"
)

func main() {
	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("WEATHER_CONFIG"); p != "" {
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

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("weather agent started",
		"edge_threshold", cfg.Weather.EdgeThreshold,
		"max_lead_days", cfg.Weather.MaxLeadDays,
		"max_order_usd", cfg.Risk.MaxOrderUSD,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
