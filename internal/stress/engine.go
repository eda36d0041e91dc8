package stress

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/marketdata"
	"github.com/aristath/bastion/internal/risk"
	"github.com/aristath/bastion/pkg/formulas"
)

// CalculationBudget is the hard per-scenario time target. A scenario that
// exceeds it is aborted with a Timeout; other scenarios are unaffected.
const CalculationBudget = 500 * time.Millisecond

// Result is the outcome of one stress scenario run.
type Result struct {
	Scenario Scenario    `json:"scenario"`
	Severity Severity    `json:"severity"`
	Horizon  TimeHorizon `json:"horizon"`

	PortfolioValue float64 `json:"portfolio_value"`
	StressedValue  float64 `json:"stressed_value"`
	AbsoluteLoss   float64 `json:"absolute_loss"`
	PctLoss        float64 `json:"pct_loss"`

	AssetLosses          map[string]float64 `json:"asset_losses"`
	StressedCorrelations [][]float64        `json:"stressed_correlations,omitempty"`
	StressedVaR          *risk.Result       `json:"stressed_var,omitempty"`
	StressVaRMultiplier  float64            `json:"stress_var_multiplier,omitempty"`

	RecoveryEstimate    time.Duration `json:"recovery_estimate"`
	RecoveryProbability float64       `json:"recovery_probability"`
	RecommendedActions  []string      `json:"recommended_actions,omitempty"`

	TestTime time.Time     `json:"test_time"`
	Duration time.Duration `json:"duration"`
	IsValid  bool          `json:"is_valid"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Engine applies stress scenarios to (assets, weights) portfolios.
type Engine struct {
	varCalc      *risk.Calculator
	cache        *marketdata.Cache
	calibrations map[Scenario]Calibration
	detectCfg    DetectionConfig
	clock        domain.Clock
	log          zerolog.Logger
}

// NewEngine creates a stress engine over the given VaR calculator and cache.
func NewEngine(
	varCalc *risk.Calculator,
	cache *marketdata.Cache,
	calibrations map[Scenario]Calibration,
	clock domain.Clock,
	log zerolog.Logger,
) *Engine {
	if calibrations == nil {
		calibrations = defaultCalibrations()
	}
	return &Engine{
		varCalc:      varCalc,
		cache:        cache,
		calibrations: calibrations,
		detectCfg:    DefaultDetectionConfig(),
		clock:        clock,
		log:          log.With().Str("component", "stress_engine").Logger(),
	}
}

// SetDetectionConfig replaces the real-time detection thresholds.
func (e *Engine) SetDetectionConfig(cfg DetectionConfig) { e.detectCfg = cfg }

// DetectionConfigValue returns the active detection thresholds.
func (e *Engine) DetectionConfigValue() DetectionConfig { return e.detectCfg }

// RunScenario applies one named scenario to the portfolio.
func (e *Engine) RunScenario(
	scenario Scenario,
	assets []string,
	weights []float64,
	portfolioValue float64,
	severity Severity,
	horizon TimeHorizon,
) (Result, error) {
	cal, ok := e.calibrations[scenario]
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown scenario %q", domain.ErrInvalidInput, scenario)
	}
	return e.run(scenario, cal, assets, weights, portfolioValue, severity, horizon)
}

// RunSuite runs the full built-in scenario set at the given severity.
// A scenario failure aborts that scenario only.
func (e *Engine) RunSuite(
	assets []string,
	weights []float64,
	portfolioValue float64,
	severity Severity,
) (map[Scenario]Result, map[Scenario]error) {
	results := make(map[Scenario]Result)
	errs := make(map[Scenario]error)
	for _, s := range AllScenarios {
		res, err := e.RunScenario(s, assets, weights, portfolioValue, severity, Intraday)
		if err != nil {
			errs[s] = err
			e.log.Warn().Err(err).Str("scenario", string(s)).Msg("Stress scenario failed")
			continue
		}
		results[s] = res
	}
	return results, errs
}

// RunCustom applies a user-supplied scenario definition.
func (e *Engine) RunCustom(
	custom CustomScenario,
	assets []string,
	weights []float64,
	portfolioValue float64,
) (Result, error) {
	if len(assets) == 0 || len(assets) != len(weights) {
		return Result{}, fmt.Errorf("%w: %d assets vs %d weights", domain.ErrInvalidInput, len(assets), len(weights))
	}

	cal := Calibration{
		BasePriceShock:   meanShock(custom.AssetShocks),
		VolMultiplier:    1.5,
		CorrelationShift: 0.15,
		RecoveryBase:     24 * time.Hour,
		AssetOverrides:   custom.AssetShocks,
		Description:      custom.Description,
	}
	if len(custom.VolatilityShocks) > 0 {
		maxVol := 1.0
		for _, v := range custom.VolatilityShocks {
			if v > maxVol {
				maxVol = v
			}
		}
		cal.VolMultiplier = maxVol
	}
	if len(custom.CorrelationShocks) > 0 {
		sum := 0.0
		for _, v := range custom.CorrelationShocks {
			sum += math.Abs(v)
		}
		cal.CorrelationShift = sum / float64(len(custom.CorrelationShocks))
	}
	severity := custom.Severity
	if severity == 0 {
		severity = Severe
	}
	horizon := custom.Horizon
	if horizon == "" {
		horizon = Intraday
	}

	res, err := e.run(CustomScenarioMarker, cal, assets, weights, portfolioValue, severity, horizon)
	if err != nil {
		return res, err
	}

	// Per-asset liquidity shocks and the optional evolution curve refine
	// the generic loss figure.
	if len(custom.LiquidityShocks) > 0 || len(custom.TimeEvolution) > 0 {
		extra := 0.0
		for i, a := range assets {
			extra += weights[i] * custom.LiquidityShocks[a]
		}
		peak := 1.0
		for _, v := range custom.TimeEvolution {
			if v > peak {
				peak = v
			}
		}
		res.PctLoss = math.Min(res.PctLoss*peak+math.Abs(extra), 1)
		res.AbsoluteLoss = res.PctLoss * portfolioValue
		res.StressedValue = portfolioValue - res.AbsoluteLoss
	}
	return res, nil
}

// run executes the generic scenario algorithm: shocks, per-asset losses,
// stressed correlations, stress-adjusted VaR, recovery model.
func (e *Engine) run(
	scenario Scenario,
	cal Calibration,
	assets []string,
	weights []float64,
	portfolioValue float64,
	severity Severity,
	horizon TimeHorizon,
) (Result, error) {
	start := e.clock.Now()

	if len(assets) == 0 || len(assets) != len(weights) {
		return Result{}, fmt.Errorf("%w: %d assets vs %d weights", domain.ErrInvalidInput, len(assets), len(weights))
	}
	if portfolioValue <= 0 {
		return Result{}, fmt.Errorf("%w: portfolio value %v", domain.ErrInvalidInput, portfolioValue)
	}

	mult := severity.Multiplier()

	// 1. Shock vectors.
	priceShocks := make([]float64, len(assets))
	for i, a := range assets {
		shock := cal.BasePriceShock
		if override, ok := cal.AssetOverrides[a]; ok {
			shock = override
		}
		priceShocks[i] = clampLoss(shock * mult)
	}
	liquidity := clampLoss(-cal.LiquidityImpact * mult)

	// 2. Per-asset and portfolio losses.
	assetLosses := make(map[string]float64, len(assets))
	totalLoss := 0.0
	for i, a := range assets {
		l := weights[i] * (priceShocks[i] + liquidity)
		assetLosses[a] = l * portfolioValue
		totalLoss += l
	}
	pctLoss := math.Min(math.Abs(totalLoss), 1)

	res := Result{
		Scenario:       scenario,
		Severity:       severity,
		Horizon:        horizon,
		PortfolioValue: portfolioValue,
		StressedValue:  portfolioValue * (1 - pctLoss),
		AbsoluteLoss:   portfolioValue * pctLoss,
		PctLoss:        pctLoss,
		AssetLosses:    assetLosses,
		TestTime:       start,
		IsValid:        true,
	}

	// 3. Stressed correlations and stress-adjusted VaR.
	e.attachStressedVaR(&res, cal, assets, weights, portfolioValue, mult)

	// 4. Recovery model: time scales with severity, probability decays
	// with loss size.
	res.RecoveryEstimate = time.Duration(float64(cal.RecoveryBase) * mult)
	res.RecoveryProbability = math.Max(0.05, 1-1.5*pctLoss)

	res.RecommendedActions = recommendationsFor(res)
	res.Duration = e.clock.Now().Sub(start)
	if res.Duration > CalculationBudget {
		return Result{}, fmt.Errorf("%w: scenario %s took %s, budget %s",
			domain.ErrTimeout, scenario, res.Duration, CalculationBudget)
	}

	e.log.Debug().
		Str("scenario", string(scenario)).
		Str("severity", severity.String()).
		Float64("pct_loss", res.PctLoss).
		Msg("Stress scenario complete")
	return res, nil
}

// attachStressedVaR recomputes VaR under shifted correlations and inflated
// vols and records the multiplier against the base VaR.
func (e *Engine) attachStressedVaR(res *Result, cal Calibration, assets []string, weights []float64, portfolioValue float64, mult float64) {
	base, err := e.varCalc.Calculate(assets, weights, portfolioValue, risk.Parametric, risk.Confidence95, risk.HorizonDaily)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("base VaR unavailable: %v", err))
		return
	}

	// Rebuild a stressed covariance: inflate vols by the calibrated
	// multiplier, shift correlations toward 1 and clip.
	n := len(assets)
	vols := make([]float64, n)
	rets := make([][]float64, n)
	for i, a := range assets {
		prices := e.cache.RecentPrices(a, 31)
		if len(prices) >= 3 {
			rets[i] = formulas.Returns(prices)
			vols[i] = formulas.StdDev(rets[i])
		}
		if vols[i] == 0 {
			vols[i] = risk.DefaultDailyVol
		}
		vols[i] *= 1 + (cal.VolMultiplier-1)*math.Min(mult/2.5, 2)
	}

	shift := cal.CorrelationShift * math.Min(mult/2.5, 2)
	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
		corr[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			rho0 := risk.DefaultCorrelation
			if len(rets[i]) > 1 && len(rets[i]) == len(rets[j]) {
				rho0 = formulas.Correlation(rets[i], rets[j])
			}
			rho := math.Min(math.Max(rho0+shift, -1), 1)
			corr[i][j] = rho
			corr[j][i] = rho
		}
	}
	res.StressedCorrelations = corr

	variance := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += weights[i] * weights[j] * corr[i][j] * vols[i] * vols[j]
		}
	}
	stressedPct := math.Sqrt(math.Max(variance, 0)) * formulas.NormalInverseCDF(0.95)

	stressed := base
	stressed.VaRPct = stressedPct
	stressed.VaRAmount = stressedPct * portfolioValue
	if stressed.CVaRPct < stressedPct {
		stressed.CVaRPct = stressedPct * 1.15
	}
	stressed.Warnings = append(stressed.Warnings, "stress-adjusted: shifted correlations, inflated vols")
	res.StressedVaR = &stressed
	if base.VaRPct > 0 {
		res.StressVaRMultiplier = stressedPct / base.VaRPct
	}
}

// recommendationsFor ranks the standing advice for a scenario outcome.
func recommendationsFor(res Result) []string {
	var out []string
	switch {
	case res.PctLoss >= 0.25:
		out = append(out, "halt trading and notify operators", "liquidate to the cash buffer floor")
	case res.PctLoss >= 0.10:
		out = append(out, "reduce positions", "raise cash buffer toward its ceiling")
	case res.PctLoss >= 0.05:
		out = append(out, "tighten stop losses", "review pair concentration")
	}
	if res.StressVaRMultiplier > 2 {
		out = append(out, "stress VaR multiplier above 2x: rebalance to lower-vol pairs")
	}
	return out
}

func clampLoss(x float64) float64 {
	if x < -1 {
		return -1
	}
	if x > 0 {
		return 0
	}
	return x
}

func meanShock(shocks map[string]float64) float64 {
	if len(shocks) == 0 {
		return -0.05
	}
	sum := 0.0
	for _, v := range shocks {
		sum += v
	}
	return sum / float64(len(shocks))
}
