package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/marketdata"
	"github.com/aristath/bastion/pkg/formulas"
)

// WeightSumTolerance is the accepted deviation of the weight sum from 1.
const WeightSumTolerance = 0.05

// Calculator computes portfolio VaR from cached market data. All state is
// injected through the constructor; results are values.
type Calculator struct {
	cache *marketdata.Cache
	clock domain.Clock
	log   zerolog.Logger

	histCfg  HistoricalConfig
	mcCfg    MonteCarloConfig
	paramCfg ParametricConfig
	trs      TRSParameters
}

// NewCalculator creates a VaR calculator with the given configurations.
func NewCalculator(cache *marketdata.Cache, clock domain.Clock, log zerolog.Logger) *Calculator {
	return &Calculator{
		cache:    cache,
		clock:    clock,
		log:      log.With().Str("component", "var_calculator").Logger(),
		histCfg:  DefaultHistoricalConfig(),
		mcCfg:    DefaultMonteCarloConfig(),
		paramCfg: DefaultParametricConfig(),
		trs:      DefaultTRSParameters(),
	}
}

// SetHistoricalConfig replaces the historical-simulation settings.
func (c *Calculator) SetHistoricalConfig(cfg HistoricalConfig) { c.histCfg = cfg }

// SetMonteCarloConfig replaces the Monte Carlo settings.
func (c *Calculator) SetMonteCarloConfig(cfg MonteCarloConfig) { c.mcCfg = cfg }

// SetParametricConfig replaces the parametric settings.
func (c *Calculator) SetParametricConfig(cfg ParametricConfig) { c.paramCfg = cfg }

// SetTRSParameters replaces the risk limit set.
func (c *Calculator) SetTRSParameters(p TRSParameters) { c.trs = p }

// TRS returns the active risk limit set.
func (c *Calculator) TRS() TRSParameters { return c.trs }

// Calculate dispatches to the selected methodology and attaches the derived
// measures, validation and timing shared by all of them.
func (c *Calculator) Calculate(
	assets []string,
	weights []float64,
	portfolioValue float64,
	methodology Methodology,
	confidence ConfidenceLevel,
	horizon Horizon,
) (Result, error) {
	start := c.clock.Now()

	if err := validateInputs(assets, weights, portfolioValue); err != nil {
		return Result{}, err
	}

	var (
		res Result
		err error
	)
	switch methodology {
	case Parametric:
		res, err = c.parametricVaR(assets, weights, confidence, horizon, false)
	case CornishFisher:
		res, err = c.parametricVaR(assets, weights, confidence, horizon, true)
	case HistoricalSimulation:
		res, err = c.historicalVaR(assets, weights, confidence, horizon)
	case MonteCarlo:
		res, err = c.monteCarloVaR(assets, weights, confidence, horizon)
	default:
		return Result{}, fmt.Errorf("%w: unknown methodology %q", domain.ErrInvalidInput, methodology)
	}
	if err != nil {
		return Result{}, err
	}

	res.Methodology = methodology
	res.Confidence = confidence
	res.Horizon = horizon
	res.PortfolioValue = portfolioValue
	res.VaRAmount = portfolioValue * res.VaRPct
	res.AssetWeights = weightMap(assets, weights)
	res.CalcTime = start
	res.Duration = c.clock.Now().Sub(start)

	c.attachDecomposition(&res, assets, weights, confidence, horizon)
	c.validateResult(&res)

	c.log.Debug().
		Str("methodology", string(methodology)).
		Float64("var_pct", res.VaRPct).
		Float64("cvar_pct", res.CVaRPct).
		Bool("valid", res.IsValid).
		Msg("VaR calculated")
	return res, nil
}

// CalculateAll runs every methodology on the same input and returns the
// per-method results. Methods that fail (e.g. insufficient history) are
// reported in the error map instead.
func (c *Calculator) CalculateAll(
	assets []string,
	weights []float64,
	portfolioValue float64,
	confidence ConfidenceLevel,
	horizon Horizon,
) (map[Methodology]Result, map[Methodology]error) {
	results := make(map[Methodology]Result)
	errs := make(map[Methodology]error)
	for _, m := range Methodologies {
		res, err := c.Calculate(assets, weights, portfolioValue, m, confidence, horizon)
		if err != nil {
			errs[m] = err
			continue
		}
		results[m] = res
	}
	return results, errs
}

// validateInputs enforces the common input contract.
func validateInputs(assets []string, weights []float64, portfolioValue float64) error {
	if len(assets) == 0 {
		return fmt.Errorf("%w: empty asset list", domain.ErrInvalidInput)
	}
	if len(assets) != len(weights) {
		return fmt.Errorf("%w: %d assets but %d weights", domain.ErrInvalidInput, len(assets), len(weights))
	}
	if portfolioValue <= 0 || math.IsNaN(portfolioValue) || math.IsInf(portfolioValue, 0) {
		return fmt.Errorf("%w: portfolio value %v", domain.ErrInvalidInput, portfolioValue)
	}

	sum := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight %v for %s", domain.ErrInvalidInput, w, assets[i])
		}
		sum += w
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("%w: weights sum to %v, expected 1", domain.ErrInvalidInput, sum)
	}
	return nil
}

// assetReturns fetches daily returns for each asset. Assets without enough
// history are reported in missing; their covariance entries use defaults.
func (c *Calculator) assetReturns(assets []string, lookback int) (map[string][]float64, []string) {
	returns := make(map[string][]float64, len(assets))
	var missing []string
	for _, a := range assets {
		prices := c.cache.RecentPrices(a, lookback+1)
		if len(prices) < 3 {
			missing = append(missing, a)
			continue
		}
		returns[a] = formulas.Returns(prices)
	}
	return returns, missing
}

// covarianceWithDefaults builds the covariance matrix, substituting the
// default vol/correlation for assets without history. defaulted reports
// whether any substitution happened.
func (c *Calculator) covarianceWithDefaults(assets []string, lookback int) ([][]float64, map[string][]float64, bool) {
	returns, missing := c.assetReturns(assets, lookback)

	// Common observation count across measured assets.
	obs := 0
	for _, r := range returns {
		if obs == 0 || len(r) < obs {
			obs = len(r)
		}
	}

	n := len(assets)
	vols := make([]float64, n)
	defaulted := len(missing) > 0
	for i, a := range assets {
		if r, ok := returns[a]; ok && obs >= 2 {
			vols[i] = formulas.StdDev(r[len(r)-obs:])
			if c.paramCfg.UseEWMA {
				vols[i] = math.Sqrt(formulas.EWMAVariance(r[len(r)-obs:], c.paramCfg.EWMADecay))
			}
			if vols[i] == 0 {
				vols[i] = DefaultDailyVol
				defaulted = true
			}
		} else {
			vols[i] = DefaultDailyVol
		}
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		cov[i][i] = vols[i] * vols[i]
		for j := i + 1; j < n; j++ {
			ri, iOK := returns[assets[i]]
			rj, jOK := returns[assets[j]]
			rho := DefaultCorrelation
			if iOK && jOK && obs >= 2 {
				rho = formulas.Correlation(ri[len(ri)-obs:], rj[len(rj)-obs:])
			} else {
				defaulted = true
			}
			cov[i][j] = rho * vols[i] * vols[j]
			cov[j][i] = cov[i][j]
		}
	}
	return cov, returns, defaulted
}

// portfolioReturns builds the historical portfolio return series
// r_t = sum_i w_i r_{i,t} over the common observation window.
func portfolioReturns(assets []string, weights []float64, returns map[string][]float64) []float64 {
	obs := -1
	for _, a := range assets {
		r, ok := returns[a]
		if !ok {
			return nil
		}
		if obs < 0 || len(r) < obs {
			obs = len(r)
		}
	}
	if obs <= 0 {
		return nil
	}

	out := make([]float64, obs)
	for i, a := range assets {
		r := returns[a]
		r = r[len(r)-obs:]
		for t := 0; t < obs; t++ {
			out[t] += weights[i] * r[t]
		}
	}
	return out
}

func weightMap(assets []string, weights []float64) map[string]float64 {
	m := make(map[string]float64, len(assets))
	for i, a := range assets {
		m[a] = weights[i]
	}
	return m
}

// horizonScale applies square-root-of-time scaling from daily to the
// requested horizon. An approximation: returns are assumed i.i.d.
func horizonScale(h Horizon) float64 {
	return math.Sqrt(h.Days())
}

// quantileLoss converts a return distribution to a positive loss fraction
// at the given confidence: -quantile(returns, 1-alpha), floored at 0.
func quantileLoss(returns []float64, alpha float64) float64 {
	q := formulas.Percentile(returns, 1-alpha)
	loss := -q
	if loss < 0 {
		return 0
	}
	return loss
}

// cvarFromReturns is the mean loss beyond the VaR quantile, positive.
func cvarFromReturns(returns []float64, alpha float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tail := int(math.Ceil(float64(len(sorted)) * (1 - alpha)))
	if tail < 1 {
		tail = 1
	}
	if tail > len(sorted) {
		tail = len(sorted)
	}
	sum := 0.0
	for _, r := range sorted[:tail] {
		sum += r
	}
	cvar := -sum / float64(tail)
	if cvar < 0 {
		return 0
	}
	return cvar
}
