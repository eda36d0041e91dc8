// Package scheduler wires the periodic housekeeping jobs: metrics refresh,
// cache sweeps and snapshots, and journal backups.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/journal"
	"github.com/aristath/bastion/internal/marketdata"
	"github.com/aristath/bastion/internal/orchestrator"
	"github.com/aristath/bastion/internal/server"
)

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates an empty scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// JobConfig carries the cron expressions for the standing jobs. Trading
// cycles themselves are driven by the orchestrator's Run loop; the
// scheduler owns the housekeeping around them.
type JobConfig struct {
	MetricsSpec  string // e.g. "@every 1m"
	SweepSpec    string // e.g. "@every 30m"
	SnapshotPath string // cache snapshot file; empty disables
	BackupSpec   string // e.g. "@daily"; used only when backuper != nil
}

// DefaultJobConfig returns the standing schedule.
func DefaultJobConfig(snapshotPath string) JobConfig {
	return JobConfig{
		MetricsSpec:  "@every 1m",
		SweepSpec:    "@every 30m",
		SnapshotPath: snapshotPath,
		BackupSpec:   "@daily",
	}
}

// Register mounts the standing jobs. backuper may be nil.
func (s *Scheduler) Register(
	cfg JobConfig,
	engine *orchestrator.Engine,
	cache *marketdata.Cache,
	metrics *server.Metrics,
	jnl *journal.Journal,
	backuper *journal.Backuper,
) error {
	if _, err := s.cron.AddFunc(cfg.MetricsSpec, func() {
		health := engine.Health()
		metrics.CycleID.Set(float64(health.LastCycleID))
		metrics.LastBatchOrders.Set(float64(len(engine.OrdersOut())))
		if res, ok := engine.LatestVaR(); ok {
			metrics.VaRPct.Set(res.VaRPct)
		}
		metrics.ActiveAlerts.Set(float64(len(engine.ActiveAlerts())))
		s.log.Debug().
			Int64("cycle", health.LastCycleID).
			Bool("healthy", health.Healthy).
			Msg("Metrics refreshed")
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(cfg.SweepSpec, func() {
		cache.Sweep()
		if cfg.SnapshotPath != "" {
			if err := cache.SaveSnapshot(cfg.SnapshotPath); err != nil {
				s.log.Warn().Err(err).Msg("Cache snapshot failed")
			}
		}
	}); err != nil {
		return err
	}

	if backuper != nil && jnl != nil {
		if _, err := s.cron.AddFunc(cfg.BackupSpec, func() {
			if err := backuper.Backup(context.Background(), jnl); err != nil {
				s.log.Warn().Err(err).Msg("Journal backup failed")
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the cron runner.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the runner, waiting for running jobs.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
