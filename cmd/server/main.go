// Package main runs the copy trading engine:
// - Monitor (continuous): polls followed leaders and feeds the filter stage
// - Workers (continuous): execute queued copy requests
// - Reconciler (scheduled): closes positions the account service reports closed
// - Refresh (scheduled): trader stats and leaderboard
// - HTTP: the public API plus /health, /metrics and /status
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"copytrade-engine/internal/config"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/logging"
)

func main() {
	envFile := flag.String("env-file", ".env", "KEY=VALUE file loaded into the environment")
	configPath := flag.String("config", os.Getenv("COPYTRADE_CONFIG"), "YAML configuration file")
	mode := flag.String("mode", "", "Execution mode override (LIVE or DRY_RUN)")
	addr := flag.String("addr", "", "API listen address override")
	metricsAddr := flag.String("metrics-addr", "", "Metrics and status listen address override")
	logLevel := flag.String("log-level", "", "Log level override")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath, *mode, *addr, *metricsAddr, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}
	defer srv.close()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()

		// A second signal, or a stuck shutdown, exits immediately.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(cfg.Execution.ShutdownTimeout + 5*time.Second):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = srv.run(ctx)
	close(done)
	if err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadConfig applies defaults, the YAML file, environment and flags, in
// that order.
func loadConfig(path, mode, addr, metricsAddr, logLevel string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if mode != "" {
		cfg.Mode = domain.ExecutionMode(mode)
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if metricsAddr != "" {
		cfg.HTTP.MetricsAddr = metricsAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, cfg.Validate()
}
