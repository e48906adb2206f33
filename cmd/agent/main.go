package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"evm-swap-agent/internal/app"
	"evm-swap-agent/internal/config"
	"evm-swap-agent/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.json", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	path := *configPath
	if env := strings.TrimSpace(os.Getenv("CONFIG_PATH")); env != "" {
		path = env
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}
	applyEnvOverrides(&cfg, path)
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", path))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && err != context.Canceled {
		log.Error("app terminated", zap.Error(err))
		os.Exit(1)
	}
}

// applyEnvOverrides layers the spec's environment-variable external
// interface (§6) on top of the file-loaded config: RPC_URL, SERVER_URL,
// CONTROL_PORT override file values, while TRADES_PATH/TRADE_LOG_PATH
// fill the config-file-excluded Persist paths.
func applyEnvOverrides(cfg *config.Config, configPath string) {
	cfg.Persist.ConfigPath = configPath
	cfg.Persist.TradesPath = envOr("TRADES_PATH", "data/trades.json")
	cfg.Persist.TradeLogPath = envOr("TRADE_LOG_PATH", "data/trade_log.jsonl")

	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		cfg.RPC.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("SERVER_URL")); v != "" {
		cfg.Feed.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("CONTROL_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Control.Port = port
		}
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
