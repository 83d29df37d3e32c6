// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// poskernel-service is the transaction kernel daemon. It serves the
// JSON-line protocol on a Unix socket, owns all session and
// transaction state, and optionally journals committed transactions
// to SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pos-kernel/poskernel/lib/clock"
	"github.com/pos-kernel/poskernel/lib/config"
	"github.com/pos-kernel/poskernel/lib/engine"
	"github.com/pos-kernel/poskernel/lib/health"
	"github.com/pos-kernel/poskernel/lib/journal"
	"github.com/pos-kernel/poskernel/lib/kernel"
	"github.com/pos-kernel/poskernel/lib/metrics"
	"github.com/pos-kernel/poskernel/lib/session"
	"github.com/pos-kernel/poskernel/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		journalPath string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to poskernel.yaml (default: POSKERNEL_CONFIG, then built-in defaults)")
	flag.StringVar(&socketPath, "socket", "", "override the configured socket path")
	flag.StringVar(&journalPath, "journal", "", "override the configured journal path")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("poskernel-service %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if journalPath != "" {
		cfg.JournalPath = journalPath
	}

	durations, err := cfg.Durations()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	startedAt := clk.Now()

	sessions := session.NewManager(session.Config{
		IdleTimeout: durations.IdleTimeout,
		Retention:   durations.Retention,
		MaxSessions: cfg.MaxSessions,
		Clock:       clk,
		Logger:      logger,
	})

	var auditor kernel.Auditor
	if cfg.JournalPath != "" {
		store, err := journal.Open(journal.Config{
			Path:   cfg.JournalPath,
			Clock:  clk,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		auditor = store
	}

	orchestrator := kernel.New(kernel.Config{
		Sessions:   sessions,
		Engine:     engine.New(),
		Currencies: cfg.Currencies,
		Auditor:    auditor,
		Logger:     logger,
	})

	collector := metrics.NewCollector(clk)

	server := NewServer(ServerConfig{
		SocketPath:     cfg.SocketPath,
		MaxConnections: cfg.MaxConnections,
		ShutdownGrace:  durations.ShutdownGrace,
		Clock:          clk,
		Collector:      collector,
		Logger:         logger,
	})

	checker := &health.Checker{
		Clock:             clk,
		StartedAt:         startedAt,
		Sessions:          sessions,
		JournalEnabled:    auditor != nil,
		ActiveConnections: server.ActiveConnections,
	}

	registerHandlers(server, &serviceHandlers{
		orchestrator: orchestrator,
		collector:    collector,
		checker:      checker,
	})

	go runSweeper(ctx, clk, durations.SweepInterval, orchestrator, logger)

	logger.Info("poskernel-service starting",
		"version", version.Info(),
		"socket", cfg.SocketPath,
		"max_sessions", cfg.MaxSessions,
		"journal", cfg.JournalPath != "",
	)

	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	logger.Info("poskernel-service stopped")
	return nil
}

// loadConfig resolves configuration: explicit --config path first,
// then POSKERNEL_CONFIG, then built-in defaults.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	if os.Getenv("POSKERNEL_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// runSweeper expires idle sessions, evicts old records, and releases
// their abandoned transactions on a fixed interval until ctx is
// cancelled.
func runSweeper(ctx context.Context, clk clock.Clock, interval time.Duration, orchestrator *kernel.Orchestrator, logger *slog.Logger) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, evicted, released := orchestrator.Sweep()
			if expired > 0 || evicted > 0 {
				logger.Info("session sweep",
					"expired", expired,
					"evicted", evicted,
					"transactions_released", released,
				)
			}
		}
	}
}
