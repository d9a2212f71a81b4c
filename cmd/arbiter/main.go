// Arbiter is a real-time multi-venue arbitrage engine for binary
// prediction markets: a central limit order book venue plus two sports
// exchange venues, correlated by instrument mapping and watched for
// cross-venue mispricing and atomic YES+NO sum violations.
//
// Architecture:
//
//	main.go              — entry point: parses flags, loads config, starts engine, waits for signal
//	internal/engine      — orchestrator: ingestion → detection → sizing → risk gating → execution
//	internal/venue       — CLOB, ExchangeA (streaming), ExchangeB (polling) clients
//	internal/detect      — cross-venue EV detector, atomic YES+NO sum-violation detector
//	internal/polytope    — Frank-Wolfe convex projection onto the no-arbitrage price polytope
//	internal/router      — SmartRouter: VWAP validation, profit gating, parallel leg dispatch
//	internal/recovery    — retry-then-liquidate handler for partially filled opportunities
//	internal/risk        — RiskGuardian kill switches (drawdown, consecutive losses, API errors)
//	internal/chain       — EIP-712 signing, RPC racing, EIP-1559 gas estimation
//	internal/store       — JSON file persistence for bankroll and risk state
//
// Exit codes: 0 normal shutdown, 1 configuration error, 2 unrecoverable I/O,
// 3 risk-triggered shutdown.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arbiter/internal/config"
	"arbiter/internal/engine"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		mode       = flag.String("mode", "", "override config mode: live, paper, observer")
		dryRun     = flag.Bool("dry-run", false, "force paper/dry-run execution regardless of mode")
		configPath = flag.String("config", "configs/config.yaml", "path to YAML config file")
		minProfit  = flag.Float64("min-profit", 0, "override execution.min_net_profit_usd (0 keeps config value)")
	)
	flag.Parse()

	if p := os.Getenv("ARB_CONFIG"); p != "" && !flagWasSet("config") {
		*configPath = p
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		return 1
	}

	if *mode != "" {
		cfg.Mode = *mode
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *minProfit > 0 {
		cfg.Execution.MinNetProfitUSD = *minProfit
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		return 2
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		return 2
	}

	if cfg.DryRun || cfg.Mode != "live" {
		logger.Warn("DRY-RUN MODE — no real orders will be placed", "mode", cfg.Mode)
	}

	logger.Info("arbiter started",
		"mode", cfg.Mode,
		"min_net_profit_usd", cfg.Execution.MinNetProfitUSD,
		"kelly_fraction", cfg.Execution.KellyFraction,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-eng.RiskHalted():
		logger.Error("risk guardian triggered shutdown")
		exitCode = 3
	}

	eng.Stop()
	return exitCode
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
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

