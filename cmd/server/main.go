// Command server runs the risk core with its HTTP surface: ingestion in,
// orders/VaR/stress/alerts out, cycles on a schedule.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/config"
	"github.com/aristath/bastion/internal/correlation"
	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/exclusion"
	"github.com/aristath/bastion/internal/journal"
	"github.com/aristath/bastion/internal/marketdata"
	"github.com/aristath/bastion/internal/orchestrator"
	"github.com/aristath/bastion/internal/risk"
	"github.com/aristath/bastion/internal/scheduler"
	"github.com/aristath/bastion/internal/server"
	"github.com/aristath/bastion/internal/stress"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	clock := domain.SystemClock{}
	cache := marketdata.NewCache(clock, log)
	if err := cache.LoadSnapshot(cfg.SnapshotPath()); err != nil {
		log.Warn().Err(err).Msg("Cache snapshot restore failed, starting cold")
	}

	correlations := correlation.NewMonitor(cache, correlation.DefaultConfig(), clock, log)
	exclusions := exclusion.NewEngine(cache, exclusion.DefaultConfig(), log)

	varCalc := risk.NewCalculator(cache, clock, log)
	if cfg.RNGSeed != 0 {
		mc := risk.DefaultMonteCarloConfig()
		mc.Seed = cfg.RNGSeed
		varCalc.SetMonteCarloConfig(mc)
	}

	calibrations, err := stress.LoadCalibrations(cfg.Calibrations)
	if err != nil {
		return fmt.Errorf("failed to load stress calibrations: %w", err)
	}
	stressEng := stress.NewEngine(varCalc, cache, calibrations, clock, log)

	jnl, err := journal.Open(cfg.JournalPath(), log)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer jnl.Close()

	engine := orchestrator.New(cache, correlations, exclusions, varCalc, stressEng, jnl, clock, log)

	registry := prometheus.NewRegistry()
	srv := server.New(engine, registry, log)

	var backuper *journal.Backuper
	if cfg.BackupBucket != "" {
		backuper, err = journal.NewBackuper(context.Background(), journal.BackupConfig{
			Bucket: cfg.BackupBucket,
			Prefix: cfg.BackupPrefix,
			Region: cfg.BackupRegion,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("Journal backup disabled")
			backuper = nil
		}
	}

	sched := scheduler.New(log)
	if err := sched.Register(
		scheduler.DefaultJobConfig(cfg.SnapshotPath()),
		engine, cache, srv.Metrics(), jnl, backuper,
	); err != nil {
		return fmt.Errorf("failed to register scheduled jobs: %w", err)
	}
	sched.Start()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The orchestrator drives cycles and background monitors; the cron
	// scheduler handles the housekeeping around them.
	go func() {
		if err := engine.Run(ctx, time.Hour); err != nil {
			log.Error().Err(err).Msg("Engine run loop exited")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("HTTP server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)
	if err := cache.SaveSnapshot(cfg.SnapshotPath()); err != nil {
		log.Warn().Err(err).Msg("Final cache snapshot failed")
	}
	return nil
}
