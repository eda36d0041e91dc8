package risk

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/pkg/formulas"
)

// parametricVaR computes variance-covariance VaR, optionally adjusting the
// normal quantile for skew and kurtosis (Cornish-Fisher).
func (c *Calculator) parametricVaR(
	assets []string,
	weights []float64,
	confidence ConfidenceLevel,
	horizon Horizon,
	cornishFisher bool,
) (Result, error) {
	alpha := confidence.Alpha()
	cov, returns, defaulted := c.covarianceWithDefaults(assets, c.paramCfg.LookbackDays)

	variance := formulas.PortfolioVariance(weights, cov)
	if variance < 0 || math.IsNaN(variance) {
		return Result{}, fmt.Errorf("%w: portfolio variance %v", domain.ErrNumericFailure, variance)
	}
	sigma := math.Sqrt(variance)

	z := formulas.NormalInverseCDF(alpha)
	var warnings []string

	if cornishFisher {
		port := portfolioReturns(assets, weights, returns)
		if len(port) < 3 {
			return Result{}, fmt.Errorf("%w: cornish-fisher needs at least 3 observations, have %d",
				domain.ErrInsufficientData, len(port))
		}
		skew := formulas.Skewness(port)
		kurt := formulas.Kurtosis(port)
		z = formulas.CornishFisherZ(z, skew, kurt)
		warnings = append(warnings, fmt.Sprintf("cornish-fisher z adjusted for skew %.3f kurtosis %.3f", skew, kurt))
	}

	scale := horizonScale(horizon)
	varPct := sigma * z * scale
	if varPct < 0 {
		varPct = 0
	}

	// Analytic normal expected shortfall: ES = sigma * phi(z_alpha) / (1-alpha).
	zAlpha := formulas.NormalInverseCDF(alpha)
	es := sigma * distuv.UnitNormal.Prob(zAlpha) / (1 - alpha) * scale
	if cornishFisher && zAlpha > 0 {
		es *= z / zAlpha
	}
	if es < varPct {
		es = varPct
	}

	quality := domain.QualityMeasured
	if defaulted {
		quality = domain.QualityDefaulted
		warnings = append(warnings, "covariance uses default vol/correlation for assets without history")
	}

	return Result{
		VaRPct:      varPct,
		CVaRPct:     es,
		DataQuality: quality,
		Warnings:    warnings,
	}, nil
}

// historicalVaR computes VaR from the empirical portfolio return
// distribution. Requires MinDataPoints observations; fails cleanly below.
func (c *Calculator) historicalVaR(
	assets []string,
	weights []float64,
	confidence ConfidenceLevel,
	horizon Horizon,
) (Result, error) {
	alpha := confidence.Alpha()
	returns, missing := c.assetReturns(assets, c.histCfg.LookbackDays)
	if len(missing) > 0 {
		return Result{}, fmt.Errorf("%w: no return history for %v", domain.ErrInsufficientData, missing)
	}

	port := portfolioReturns(assets, weights, returns)
	if len(port) < c.histCfg.MinDataPoints {
		return Result{}, fmt.Errorf("%w: %d observations, need %d",
			domain.ErrInsufficientData, len(port), c.histCfg.MinDataPoints)
	}

	var warnings []string
	if c.histCfg.RemoveOutliers {
		var removed int
		port, removed = removeOutliers(port, c.histCfg.OutlierThreshold)
		if removed > 0 {
			warnings = append(warnings, fmt.Sprintf("removed %d outliers beyond %.1f sigma", removed, c.histCfg.OutlierThreshold))
		}
	}

	var varPct, cvarPct float64
	if c.histCfg.UseWeighted {
		varPct = weightedQuantileLoss(port, alpha, c.histCfg.DecayFactor)
		cvarPct = cvarFromReturns(port, alpha) // tail average stays unweighted
		warnings = append(warnings, fmt.Sprintf("exponentially weighted with decay %.2f", c.histCfg.DecayFactor))
	} else {
		varPct = quantileLoss(port, alpha)
		cvarPct = cvarFromReturns(port, alpha)
	}

	scale := horizonScale(horizon)
	varPct *= scale
	cvarPct *= scale
	if cvarPct < varPct {
		cvarPct = varPct
	}

	return Result{
		VaRPct:      varPct,
		CVaRPct:     cvarPct,
		MaxDrawdown: maxDrawdownFromReturns(port),
		DataQuality: domain.QualityMeasured,
		Warnings:    warnings,
	}, nil
}

// monteCarloVaR simulates correlated normal returns via the Cholesky factor
// of the covariance matrix. Deterministic for a fixed seed.
func (c *Calculator) monteCarloVaR(
	assets []string,
	weights []float64,
	confidence ConfidenceLevel,
	horizon Horizon,
) (Result, error) {
	alpha := confidence.Alpha()
	cov, _, defaulted := c.covarianceWithDefaults(assets, c.paramCfg.LookbackDays)

	lower, err := formulas.Cholesky(cov)
	if err != nil {
		// Regularize once and retry before giving up.
		lower, err = formulas.Cholesky(formulas.RegularizeDiagonal(cov, 1e-10))
		if err != nil {
			return Result{}, fmt.Errorf("%w: cholesky failed even after regularization: %v", domain.ErrNumericFailure, err)
		}
	}

	sims := c.mcCfg.Simulations
	if sims <= 0 {
		sims = DefaultMonteCarloConfig().Simulations
	}
	rng := rand.New(rand.NewSource(c.mcCfg.Seed))

	n := len(assets)
	simulated := make([]float64, 0, sims)
	draws := sims
	if c.mcCfg.UseAntithetic {
		draws = (sims + 1) / 2
	}

	z := make([]float64, n)
	for d := 0; d < draws; d++ {
		for i := range z {
			z[i] = rng.NormFloat64()
		}
		simulated = append(simulated, portfolioDraw(weights, lower, z, 1))
		if c.mcCfg.UseAntithetic && len(simulated) < sims {
			simulated = append(simulated, portfolioDraw(weights, lower, z, -1))
		}
	}

	varPct := quantileLoss(simulated, alpha)
	cvarPct := cvarFromReturns(simulated, alpha)

	scale := horizonScale(horizon)
	varPct *= scale
	cvarPct *= scale
	if cvarPct < varPct {
		cvarPct = varPct
	}

	quality := domain.QualityMeasured
	var warnings []string
	if defaulted {
		quality = domain.QualityDefaulted
		warnings = append(warnings, "covariance uses default vol/correlation for assets without history")
	}

	return Result{
		VaRPct:      varPct,
		CVaRPct:     cvarPct,
		DataQuality: quality,
		Warnings:    warnings,
	}, nil
}

// portfolioDraw maps an independent standard normal vector through the
// Cholesky factor and the weights; sign implements antithetic sampling.
func portfolioDraw(weights []float64, lower [][]float64, z []float64, sign float64) float64 {
	n := len(weights)
	ret := 0.0
	for i := 0; i < n; i++ {
		ri := 0.0
		for j := 0; j <= i; j++ {
			ri += lower[i][j] * z[j]
		}
		ret += weights[i] * ri * sign
	}
	return ret
}

// removeOutliers drops observations beyond threshold standard deviations.
func removeOutliers(xs []float64, threshold float64) ([]float64, int) {
	mu := formulas.Mean(xs)
	sd := formulas.StdDev(xs)
	if sd == 0 {
		return xs, 0
	}
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if math.Abs((x-mu)/sd) <= threshold {
			out = append(out, x)
		}
	}
	return out, len(xs) - len(out)
}

// weightedQuantileLoss computes the loss quantile with exponentially
// decaying observation weights (newest weighted most).
func weightedQuantileLoss(returns []float64, alpha, decay float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}

	type obs struct {
		ret    float64
		weight float64
	}
	observations := make([]obs, n)
	total := 0.0
	for i, r := range returns {
		w := math.Pow(decay, float64(n-1-i))
		observations[i] = obs{ret: r, weight: w}
		total += w
	}

	// Sort worst-first and walk the cumulative weight to the tail mass.
	sort.Slice(observations, func(i, j int) bool { return observations[i].ret < observations[j].ret })
	target := (1 - alpha) * total
	cum := 0.0
	for _, o := range observations {
		cum += o.weight
		if cum >= target {
			loss := -o.ret
			if loss < 0 {
				return 0
			}
			return loss
		}
	}
	loss := -observations[len(observations)-1].ret
	if loss < 0 {
		return 0
	}
	return loss
}

// maxDrawdownFromReturns converts a return series into a value path and
// measures its maximum drawdown.
func maxDrawdownFromReturns(returns []float64) float64 {
	values := make([]float64, len(returns)+1)
	values[0] = 1
	for i, r := range returns {
		values[i+1] = values[i] * (1 + r)
	}
	return formulas.MaxDrawdown(values)
}
