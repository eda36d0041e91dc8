// Package orchestrator runs the trading cycle: universe update, exclusion
// filtering, pairing, allocation, order generation and execution, risk
// state refresh. It exclusively owns all mutable engine state; external
// writes arrive through a command channel applied at the start of each cycle.
package orchestrator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/allocation"
	"github.com/aristath/bastion/internal/correlation"
	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/exclusion"
	"github.com/aristath/bastion/internal/journal"
	"github.com/aristath/bastion/internal/marketdata"
	"github.com/aristath/bastion/internal/risk"
	"github.com/aristath/bastion/internal/stress"
	"github.com/aristath/bastion/pkg/formulas"
)

// maxConsecutiveErrors is the cycle-error count that trips the emergency stop.
const maxConsecutiveErrors = 3

// CycleStage names where a cycle ended, for reports and logs.
type CycleStage string

const (
	StageIdle        CycleStage = "idle"
	StageEmergency   CycleStage = "emergency_stop"
	StageUnhealthy   CycleStage = "unhealthy"
	StageNoRebalance CycleStage = "no_rebalance"
	StageNoPairs     CycleStage = "no_pairs"
	StageCostGate    CycleStage = "cost_gate"
	StageExecuted    CycleStage = "executed"
	StageError       CycleStage = "error"
)

// CycleReport summarizes one trading cycle.
type CycleReport struct {
	CycleID       int64                `json:"cycle_id"`
	Stage         CycleStage           `json:"stage"`
	Reason        string               `json:"reason,omitempty"`
	Pairs         []domain.TradingPair `json:"pairs,omitempty"`
	Orders        []domain.TradeOrder  `json:"orders,omitempty"`
	Excluded      []string             `json:"excluded,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	Drawdown      float64              `json:"drawdown"`
	LongExposure  float64              `json:"long_exposure"`
	ShortExposure float64              `json:"short_exposure"`
}

// Engine is the trading orchestrator.
type Engine struct {
	cache        *marketdata.Cache
	correlations *correlation.Monitor
	exclusions   *exclusion.Engine
	varCalc      *risk.Calculator
	stressEng    *stress.Engine
	executor     *allocation.Executor
	journal      *journal.Journal // optional
	clock        domain.Clock
	log          zerolog.Logger

	commands chan func(*Engine)

	// Cycle-owned state. Mutated only inside RunCycle and the command
	// handlers it drains; readers receive copies.
	params           domain.StrategyParameters
	portfolio        domain.Portfolio
	predictions      []domain.Prediction
	latestVaR        *risk.Result
	latestStress     []stress.Result
	lastOrders       []domain.TradeOrder
	alerts           []domain.Alert
	lastPairs        []domain.TradingPair
	valueHistory     []float64
	emergencyStop    bool
	emergencyReason  string
	closeOnEmergency bool
	consecutiveErrs  int
	cycleID          int64
	orderSeq         int64
}

// New wires an orchestrator from its collaborators. The journal may be nil.
func New(
	cache *marketdata.Cache,
	correlations *correlation.Monitor,
	exclusions *exclusion.Engine,
	varCalc *risk.Calculator,
	stressEng *stress.Engine,
	jnl *journal.Journal,
	clock domain.Clock,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		cache:        cache,
		correlations: correlations,
		exclusions:   exclusions,
		varCalc:      varCalc,
		stressEng:    stressEng,
		executor:     allocation.NewExecutor(clock, log),
		journal:      jnl,
		clock:        clock,
		log:          log.With().Str("component", "orchestrator").Logger(),
		commands:     make(chan func(*Engine), 1024),
		params:       domain.DefaultStrategyParameters(),
	}
}

// SetCloseOnEmergency toggles whether an emergency stop also issues
// close-all-pairs orders.
func (e *Engine) SetCloseOnEmergency(v bool) {
	e.enqueue(func(en *Engine) { en.closeOnEmergency = v })
}

// enqueue posts a command for application at the start of the next cycle.
func (e *Engine) enqueue(cmd func(*Engine)) {
	select {
	case e.commands <- cmd:
	default:
		e.log.Warn().Msg("Command queue full, applying inline")
		cmd(e)
	}
}

// drainCommands applies every queued external write.
func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			cmd(e)
		default:
			return
		}
	}
}

// nextOrderID returns sequential, cycle-scoped order IDs so identical
// inputs replay to identical order batches.
func (e *Engine) nextOrderID() string {
	e.orderSeq++
	return fmt.Sprintf("ord-%06d-%04d", e.cycleID, e.orderSeq)
}

// RunCycle executes one trading cycle. The cycle is indivisible from the
// caller's point of view; commands queued before it apply at its start,
// and commands queued while it runs wait for the next cycle.
func (e *Engine) RunCycle() CycleReport {
	e.drainCommands()
	now := e.clock.Now()
	e.cycleID++
	e.orderSeq = 0

	report := CycleReport{
		CycleID:   e.cycleID,
		StartedAt: now,
		Drawdown:  e.portfolio.CurrentDrawdown(),
	}

	if e.emergencyStop {
		report.Stage = StageEmergency
		report.Reason = e.emergencyReason
		if e.closeOnEmergency {
			orders := allocation.CloseAllPairs(e.portfolio, e.latestPrices(), e.params, now, e.nextOrderID)
			report.Orders = e.executor.ExecuteBatch(orders, e.latestPrices())
			e.lastOrders = report.Orders
			e.journalRecord(journal.KindOrders, report.Orders)
		}
		return report
	}

	// UpdateUniverse: refresh correlations; then health gate.
	e.correlations.Update()
	if health := e.healthLocked(); !health.Healthy {
		report.Stage = StageUnhealthy
		report.Reason = fmt.Sprintf("unhealthy: %v", health.Warnings)
		e.recordCycleError()
		return report
	}

	// Drawdown stop: crossing the configured limit is an emergency.
	if dd := e.portfolio.CurrentDrawdown(); dd >= e.params.PortfolioDrawdownStop {
		e.triggerEmergency(fmt.Sprintf("drawdown %.2f%% crossed the stop", dd*100))
		report.Stage = StageEmergency
		report.Reason = e.emergencyReason
		return report
	}

	// Filter -> Pair -> Allocate.
	survivors, reports := e.exclusions.FilterPredictions(e.predictions)
	for sym, r := range reports {
		if r.Excluded {
			report.Excluded = append(report.Excluded, sym)
		}
	}
	sort.Strings(report.Excluded)

	pairs := allocation.BuildPairs(survivors, e.params)
	report.Pairs = pairs
	e.lastPairs = pairs
	if len(pairs) == 0 {
		report.Stage = StageNoPairs
		report.Reason = "no eligible pairs"
		e.consecutiveErrs = 0
		return report
	}

	prices := e.latestPrices()
	targets := allocation.ToTargetPositions(pairs, prices, e.params)

	decision := allocation.ShouldRebalance(e.portfolio, targets, e.params, now)
	if !decision.Rebalance {
		report.Stage = StageNoRebalance
		report.Reason = decision.Reason
		e.consecutiveErrs = 0
		e.updateRiskState(targets)
		return report
	}

	// CalcOrders -> CostGate -> ExecuteBatch.
	plan := allocation.BuildOrders(targets, e.portfolio, prices, e.slippageEstimates(), e.params, now, e.nextOrderID)
	if !plan.PassesGate && !decision.Emergency {
		report.Stage = StageCostGate
		report.Reason = fmt.Sprintf("benefit %.2f below cost %.2f", plan.TotalBenefit, plan.TotalCost)
		e.consecutiveErrs = 0
		e.updateRiskState(targets)
		return report
	}

	executed := e.executor.ExecuteBatch(plan.Orders, prices)
	e.lastOrders = executed
	e.portfolio.LastRebalance = now
	report.Orders = executed
	report.Stage = StageExecuted
	e.journalRecord(journal.KindOrders, executed)

	e.updateRiskState(targets)
	report.LongExposure, report.ShortExposure = e.exposures()
	e.consecutiveErrs = 0

	e.log.Info().
		Int64("cycle", e.cycleID).
		Int("pairs", len(pairs)).
		Int("orders", len(executed)).
		Msg("Cycle executed")
	return report
}

// updateRiskState refreshes VaR, stress detection and the alert list.
// An invalid VaR surfaces as an alert and never blocks pair formation.
func (e *Engine) updateRiskState(targets []domain.TargetPosition) {
	now := e.clock.Now()
	e.alerts = e.alerts[:0]

	assets, weights := riskWeights(targets)
	if len(assets) > 0 && e.portfolio.TotalValue > 0 {
		res, err := e.varCalc.Calculate(assets, weights, e.portfolio.TotalValue,
			risk.Parametric, risk.Confidence95, risk.HorizonDaily)
		if err != nil {
			e.alerts = append(e.alerts, domain.Alert{
				Level:     domain.AlertWarning,
				Type:      domain.AlertBacktestFailure,
				Message:   fmt.Sprintf("VaR calculation failed: %v", err),
				Timestamp: now,
			})
		} else {
			e.latestVaR = &res
			e.alerts = append(e.alerts, e.varCalc.CheckRiskLimits(res)...)
			e.journalRecord(journal.KindVaR, res)

			suite, _ := e.stressEng.RunSuite(assets, weights, e.portfolio.TotalValue, stress.Severe)
			e.latestStress = e.latestStress[:0]
			for _, s := range stress.AllScenarios {
				if r, ok := suite[s]; ok {
					e.latestStress = append(e.latestStress, r)
				}
			}
			e.journalRecord(journal.KindStress, e.latestStress)
		}
	}

	e.checkPairIntegrity(now)

	if det := e.stressEng.DetectMarketStress(); det.StressDetected {
		e.alerts = append(e.alerts, domain.Alert{
			Level:     domain.AlertCritical,
			Type:      domain.AlertStressDetected,
			Message:   fmt.Sprintf("market stress intensity %.2f", det.Intensity),
			Severity:  det.Intensity,
			Timestamp: now,
			AffectedAssets: det.AffectedAssets,
		})
	}

	for _, a := range e.alerts {
		e.journalRecord(journal.KindAlert, a)
	}
}

// pairBreakdownThreshold is the leg correlation below which a pair no
// longer behaves as a spread trade.
const pairBreakdownThreshold = 0.2

// checkPairIntegrity flags active pairs whose legs have decorrelated: a
// spread trade with uncorrelated legs is two naked directional bets.
func (e *Engine) checkPairIntegrity(now time.Time) {
	for _, pair := range e.lastPairs {
		longRet := formulas.Returns(e.cache.RecentPrices(pair.LongSymbol, 31))
		shortRet := formulas.Returns(e.cache.RecentPrices(pair.ShortSymbol, 31))
		n := len(longRet)
		if len(shortRet) < n {
			n = len(shortRet)
		}
		if n < 10 {
			continue
		}
		rho := formulas.Correlation(longRet[len(longRet)-n:], shortRet[len(shortRet)-n:])
		if rho < pairBreakdownThreshold {
			e.alerts = append(e.alerts, domain.Alert{
				Level:          domain.AlertWarning,
				Type:           domain.AlertCorrelationSpike,
				Message:        fmt.Sprintf("pair %s/%s legs correlate at %.2f, spread integrity lost", pair.LongSymbol, pair.ShortSymbol, rho),
				Severity:       math.Min(math.Max(pairBreakdownThreshold-rho, 0), 1),
				AffectedAssets: []string{pair.LongSymbol, pair.ShortSymbol},
				Timestamp:      now,
				RecommendedActions: []string{
					"liquidate both legs together",
				},
			})
		}
	}
}

// riskWeights converts targets into the non-negative, sum-one weight
// vector the VaR engine takes, using absolute exposures.
func riskWeights(targets []domain.TargetPosition) ([]string, []float64) {
	gross := 0.0
	for _, t := range targets {
		gross += math.Abs(t.TargetWeight)
	}
	if gross == 0 {
		return nil, nil
	}

	sorted := make([]domain.TargetPosition, len(targets))
	copy(sorted, targets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	assets := make([]string, 0, len(sorted))
	weights := make([]float64, 0, len(sorted))
	for _, t := range sorted {
		if t.TargetWeight == 0 {
			continue
		}
		assets = append(assets, t.Symbol)
		weights = append(weights, math.Abs(t.TargetWeight)/gross)
	}
	return assets, weights
}

// latestPrices snapshots the latest close per cached symbol.
func (e *Engine) latestPrices() map[string]float64 {
	prices := make(map[string]float64)
	for _, sym := range e.cache.Symbols() {
		if s, ok := e.cache.Latest(sym); ok && s.Close > 0 {
			prices[sym] = s.Close
		}
	}
	return prices
}

// slippageEstimates derives per-symbol slippage from the spread proxy.
func (e *Engine) slippageEstimates() map[string]float64 {
	out := make(map[string]float64)
	for _, sym := range e.cache.Symbols() {
		volumes := e.cache.RecentVolumes(sym, 7)
		if len(volumes) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range volumes {
			sum += v
		}
		out[sym] = exclusion.EstimateSpread(sum/float64(len(volumes))) / 2
	}
	return out
}

// exposures sums current long and short notional weights.
func (e *Engine) exposures() (long, short float64) {
	if e.portfolio.TotalValue <= 0 {
		return 0, 0
	}
	for _, p := range e.portfolio.Positions {
		w := p.MarketValue() / e.portfolio.TotalValue
		if p.IsShort || p.Quantity < 0 {
			short += w
		} else {
			long += w
		}
	}
	return long, short
}

// recordCycleError counts an error and trips the emergency stop after
// three in a row.
func (e *Engine) recordCycleError() {
	e.consecutiveErrs++
	if e.consecutiveErrs >= maxConsecutiveErrors && !e.emergencyStop {
		e.triggerEmergency(fmt.Sprintf("%d consecutive cycle errors", e.consecutiveErrs))
	}
}

// triggerEmergency activates the emergency stop and journals it.
func (e *Engine) triggerEmergency(reason string) {
	e.emergencyStop = true
	e.emergencyReason = reason
	alert := domain.Alert{
		Level:     domain.AlertEmergency,
		Type:      domain.AlertEmergencyStopActive,
		Message:   reason,
		Severity:  1,
		Timestamp: e.clock.Now(),
	}
	e.alerts = append(e.alerts, alert)
	e.journalRecord(journal.KindAlert, alert)
	e.log.Error().Str("reason", reason).Msg("Emergency stop activated")
}

func (e *Engine) journalRecord(kind journal.RecordKind, payload any) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(e.cycleID, e.clock.Now(), kind, payload); err != nil {
		e.log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to journal record")
	}
}
