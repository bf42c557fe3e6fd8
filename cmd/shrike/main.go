// Shrike - Fraud detection that hunts in real time.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/shrike/internal/api"
	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/fraudmetrics"
	"github.com/opensource-finance/shrike/internal/lifecycle"
	"github.com/opensource-finance/shrike/internal/model"
	"github.com/opensource-finance/shrike/internal/profile"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/rules"
	"github.com/opensource-finance/shrike/internal/scoring"
	"github.com/opensource-finance/shrike/internal/velocity"
	"github.com/opensource-finance/shrike/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("SHRIKE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting shrike",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.DefaultConfig()
	tier := "community"
	if os.Getenv("SHRIKE_TIER") == "pro" {
		cfg = domain.ProConfig()
		tier = "pro"
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Detection pipeline
	velocitySvc := velocity.NewService(repo, cacheImpl)
	profiles := profile.NewStore(repo, cacheImpl, cfg.Engine, cfg.Cache.ProfileTTL, logger)

	evaluator, err := rules.NewEvaluator(velocitySvc.GetVelocityGetter(), cfg.Engine, logger)
	if err != nil {
		slog.Error("failed to initialize rule evaluator", "error", err)
		os.Exit(1)
	}

	detector := model.NewDetector(cfg.Engine, logger)
	analyzer := scoring.NewAnalyzer(repo, busImpl, profiles, evaluator, detector, cfg.Engine, logger)
	slog.Info("detection pipeline initialized",
		"home_country", cfg.Engine.HomeCountry,
		"min_training_size", cfg.Engine.MinTrainingSize,
	)

	lifecycleSvc := lifecycle.NewService(repo, busImpl, logger)
	metrics := fraudmetrics.NewAggregator(repo, logger)

	// Async worker: consumes completed-transaction events for the
	// configured tenants.
	var asyncWorker *worker.Worker
	if tenants := parseTenants(os.Getenv("SHRIKE_TENANTS")); len(tenants) > 0 {
		asyncWorker = worker.NewWorker(busImpl, repo, analyzer, velocitySvc, logger)
		if err := asyncWorker.Start(worker.Config{TenantIDs: tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenants))
		}
	}

	// HTTP server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, analyzer, lifecycleSvc, metrics, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shrike is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, tier, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("shrike shutdown complete")
}

// parseTenants splits the comma-separated SHRIKE_TENANTS value.
func parseTenants(env string) []string {
	if env == "" {
		return nil
	}
	var tenants []string
	for _, t := range strings.Split(env, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

func printBanner(cfg *domain.Config, tier, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 SHRIKE                   ║")
	fmt.Println("  ║       Fraud Detection Engine              ║")
	fmt.Println("  ║     Every transaction, scored.            ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions      - Ingest a transaction")
	fmt.Println("    POST /analyze           - Analyze synchronously")
	fmt.Println("    GET  /alerts            - List fraud alerts")
	fmt.Println("    GET  /alerts/dashboard  - Alert queue summary")
	fmt.Println("    GET  /investigations    - List investigations")
	fmt.Println("    POST /rules             - Configure detection rules")
	fmt.Println("    GET  /metrics/summary   - Detection metrics")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
