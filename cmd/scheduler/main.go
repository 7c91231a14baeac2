package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/afroboost/campaign-scheduler/internal/app"
	"github.com/afroboost/campaign-scheduler/internal/telemetry"
	apperrors "github.com/afroboost/campaign-scheduler/pkg/errors"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	loop := flag.Bool("loop", false, "sweep repeatedly instead of once")
	interval := flag.Duration("interval", 0, "sweep interval in loop mode (overrides scheduler.interval)")
	dryRun := flag.Bool("dry-run", false, "simulate sends without calling the delivery endpoint")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container, err := app.Build(ctx, *configPath, "scheduler")
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close()

	lg := container.Logger
	cfg := container.Config
	if *dryRun {
		cfg.Scheduler.DryRun = true
	}
	if *interval > 0 {
		cfg.Scheduler.Interval = *interval
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App.Name+"-scheduler")
	if err != nil {
		lg.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		lg.Warn("failed to ensure kafka topics", zap.Error(err))
	}

	svc := container.Services().Scheduler
	lg.Info("scheduler starting",
		zap.Bool("loop", *loop),
		zap.Bool("dry_run", cfg.Scheduler.DryRun),
		zap.Duration("interval", cfg.Scheduler.Interval),
	)

	if !*loop {
		report, err := svc.RunOnce(ctx)
		switch {
		case errors.Is(err, apperrors.ErrLockHeld):
			lg.Info("another sweep holds the lock, nothing to do")
		case err != nil:
			lg.Error("sweep failed", zap.Error(err))
			container.Close()
			os.Exit(1)
		default:
			lg.Info("sweep finished",
				zap.Int("campaigns", report.Campaigns),
				zap.Int("processed", report.Processed),
				zap.Int("successes", report.Successes),
				zap.Int("failures", report.Failures),
				zap.Int("skipped", report.Skipped),
				zap.Int("errors", report.Errors),
			)
		}
		return
	}

	if cfg.Telemetry.MetricsEnabled {
		srv, errCh := telemetry.StartMetricsServer(cfg.Telemetry.MetricsPort)
		go func() {
			if err, ok := <-errCh; ok && err != nil {
				lg.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if err := svc.Run(ctx, cfg.Scheduler.Interval); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("scheduler terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
