package orchestrator

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/journal"
	"github.com/aristath/bastion/internal/risk"
	"github.com/aristath/bastion/internal/stress"
)

// Inbound interface: external collaborators feed data and configuration
// through these entry points. Writes are queued and applied at the start
// of the next cycle; reads return copies of the last completed cycle's state.

// IngestMarket queues a market sample for the cache.
func (e *Engine) IngestMarket(sample domain.MarketSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	e.enqueue(func(en *Engine) {
		if err := en.cache.InsertMarket(sample); err != nil {
			en.log.Warn().Err(err).Str("symbol", sample.Symbol).Msg("Market sample rejected")
		}
	})
	return nil
}

// IngestSentiment queues a sentiment sample for the cache.
func (e *Engine) IngestSentiment(sample domain.SentimentSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	e.enqueue(func(en *Engine) {
		if err := en.cache.InsertSentiment(sample); err != nil {
			en.log.Warn().Err(err).Str("ticker", sample.Ticker).Msg("Sentiment sample rejected")
		}
	})
	return nil
}

// IngestPredictions queues the cycle's prediction set. Invalid predictions
// are rejected whole: the model feed is expected to be well-formed.
func (e *Engine) IngestPredictions(predictions []domain.Prediction) error {
	for _, p := range predictions {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	batch := make([]domain.Prediction, len(predictions))
	copy(batch, predictions)
	e.enqueue(func(en *Engine) { en.predictions = batch })
	return nil
}

// SetPortfolio queues the authoritative portfolio snapshot.
func (e *Engine) SetPortfolio(portfolio domain.Portfolio) {
	e.enqueue(func(en *Engine) {
		if portfolio.PeakValue < portfolio.TotalValue {
			portfolio.PeakValue = portfolio.TotalValue
		}
		en.portfolio = portfolio
		en.valueHistory = append(en.valueHistory, portfolio.TotalValue)
		if len(en.valueHistory) > 365 {
			en.valueHistory = en.valueHistory[len(en.valueHistory)-365:]
		}
	})
}

// SetStrategyParameters validates and queues a parameter update; rejected
// configurations are never applied.
func (e *Engine) SetStrategyParameters(params domain.StrategyParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.enqueue(func(en *Engine) {
		en.params = params
		en.journalRecord(journal.KindParams, params)
	})
	return nil
}

// ActivateEmergencyStop halts order generation immediately.
func (e *Engine) ActivateEmergencyStop(reason string) {
	e.enqueue(func(en *Engine) { en.triggerEmergency(reason) })
}

// ClearEmergencyStop re-arms the engine after operator review.
func (e *Engine) ClearEmergencyStop() {
	e.enqueue(func(en *Engine) {
		en.emergencyStop = false
		en.emergencyReason = ""
		en.consecutiveErrs = 0
	})
}

// OrdersOut returns the orders produced by the last executed cycle.
func (e *Engine) OrdersOut() []domain.TradeOrder {
	out := make([]domain.TradeOrder, len(e.lastOrders))
	copy(out, e.lastOrders)
	return out
}

// LatestVaR returns the most recent VaR result, if any.
func (e *Engine) LatestVaR() (risk.Result, bool) {
	if e.latestVaR == nil {
		return risk.Result{}, false
	}
	return *e.latestVaR, true
}

// LatestStress returns the most recent stress suite results.
func (e *Engine) LatestStress() []stress.Result {
	out := make([]stress.Result, len(e.latestStress))
	copy(out, e.latestStress)
	return out
}

// ActiveAlerts returns the alerts raised by the last cycle.
func (e *Engine) ActiveAlerts() []domain.Alert {
	out := make([]domain.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

// Params returns the active strategy parameters.
func (e *Engine) Params() domain.StrategyParameters { return e.params }

// HealthReport is the engine's liveness summary.
type HealthReport struct {
	Healthy       bool     `json:"healthy"`
	Warnings      []string `json:"warnings,omitempty"`
	EmergencyStop bool     `json:"emergency_stop"`
	CachedSymbols int      `json:"cached_symbols"`
	Goroutines    int      `json:"goroutines"`
	RSSBytes      uint64   `json:"rss_bytes,omitempty"`
	LastCycleID   int64    `json:"last_cycle_id"`
}

// Health reports engine health: market data presence, emergency state and
// process-level stats.
func (e *Engine) Health() HealthReport {
	return e.healthLocked()
}

func (e *Engine) healthLocked() HealthReport {
	report := HealthReport{
		Healthy:       true,
		EmergencyStop: e.emergencyStop,
		CachedSymbols: len(e.cache.Symbols()),
		Goroutines:    runtime.NumGoroutine(),
		LastCycleID:   e.cycleID,
	}

	if report.CachedSymbols == 0 {
		report.Healthy = false
		report.Warnings = append(report.Warnings, "no market data cached")
	}
	if e.emergencyStop {
		report.Healthy = false
		report.Warnings = append(report.Warnings, fmt.Sprintf("emergency stop: %s", e.emergencyReason))
	}
	if e.consecutiveErrs > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d consecutive cycle errors", e.consecutiveErrs))
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			report.RSSBytes = mem.RSS
		}
	}
	return report
}

// Run drives the engine: periodic cycles plus the background correlation
// and stress monitors, all supervised by one errgroup and stopped
// cooperatively through ctx.
func (e *Engine) Run(ctx context.Context, cycleInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	detections := make(chan stress.DetectionResult, 16)
	g.Go(func() error {
		e.correlations.Run(ctx, cycleInterval)
		return nil
	})
	g.Go(func() error {
		e.stressEng.Monitor(ctx, cycleInterval/2, detections)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(cycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case det := <-detections:
				// Protection decisions apply between cycles.
				e.enqueue(func(en *Engine) {
					result := en.stressEng.ExecuteAutomaticProtection(det)
					if result.Triggered {
						en.log.Warn().
							Float64("reduction", result.PortfolioReduction).
							Int("pending", len(result.PendingActions)).
							Msg("Stress protection engaged")
					}
				})
			case <-ticker.C:
				e.RunCycle()
			}
		}
	})
	return g.Wait()
}
