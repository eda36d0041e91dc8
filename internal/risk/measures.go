package risk

import (
	"math"

	"github.com/aristath/bastion/pkg/formulas"
)

// attachDecomposition fills component, incremental and correlation risk
// measures on a result. The decomposition is parametric regardless of the
// headline methodology so that the attribution is internally consistent.
func (c *Calculator) attachDecomposition(res *Result, assets []string, weights []float64, confidence ConfidenceLevel, horizon Horizon) {
	cov, _, _ := c.covarianceWithDefaults(assets, c.paramCfg.LookbackDays)

	variance := formulas.PortfolioVariance(weights, cov)
	sigma := math.Sqrt(math.Max(variance, 0))
	z := formulas.NormalInverseCDF(confidence.Alpha())
	scale := horizonScale(horizon)

	res.ComponentVaR = c.componentVaR(assets, weights, cov, sigma, z, scale, res)
	res.IncrementalVaR = incrementalVaR(assets, weights, cov, z, scale)
	res.CorrelationRisk = CorrelationRisk(weights, formulas.CorrelationFromCovariance(cov))

	// Idiosyncratic variance is the weighted own-variance sum; the
	// remainder of portfolio variance is attributed to co-movement.
	idioVar := 0.0
	for i := range weights {
		idioVar += weights[i] * weights[i] * cov[i][i]
	}
	res.IdiosyncraticRisk = math.Sqrt(idioVar) * scale
	res.SystematicRisk = math.Sqrt(math.Max(variance-idioVar, 0)) * scale
}

// componentVaR attributes VaR to each asset. Rigorous form:
// CVaR_i = w_i (Sigma w)_i / sigma * z. The simplified mode replaces it
// with w_i * sigma_i * z and tags the result.
func (c *Calculator) componentVaR(assets []string, weights []float64, cov [][]float64, sigma, z, scale float64, res *Result) map[string]float64 {
	out := make(map[string]float64, len(assets))

	if c.paramCfg.SimplifiedDecomp {
		for i, a := range assets {
			out[a] = weights[i] * math.Sqrt(cov[i][i]) * z * scale
		}
		res.Warnings = append(res.Warnings, "component VaR uses simplified w*sigma approximation")
		return out
	}

	if sigma == 0 {
		for _, a := range assets {
			out[a] = 0
		}
		return out
	}
	for i, a := range assets {
		sigmaW := 0.0
		for j := range weights {
			sigmaW += cov[i][j] * weights[j]
		}
		out[a] = weights[i] * sigmaW / sigma * z * scale
	}
	return out
}

// incrementalVaR measures each asset's marginal contribution: the finite
// difference between full VaR and VaR with the asset removed, normalized
// by its weight.
func incrementalVaR(assets []string, weights []float64, cov [][]float64, z, scale float64) map[string]float64 {
	out := make(map[string]float64, len(assets))

	full := math.Sqrt(math.Max(formulas.PortfolioVariance(weights, cov), 0)) * z * scale
	for i, a := range assets {
		if weights[i] == 0 {
			out[a] = 0
			continue
		}
		reduced := make([]float64, len(weights))
		copy(reduced, weights)
		reduced[i] = 0
		without := math.Sqrt(math.Max(formulas.PortfolioVariance(reduced, cov), 0)) * z * scale
		out[a] = (full - without) / weights[i]
	}
	return out
}

// CorrelationRisk measures how much of the portfolio's co-movement budget
// is consumed: |w' rho w| / sum|w_i w_j| over off-diagonal pairs.
func CorrelationRisk(weights []float64, corr [][]float64) float64 {
	n := len(weights)
	if n < 2 || len(corr) != n {
		return 0
	}

	num := 0.0
	den := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			num += weights[i] * corr[i][j] * weights[j]
			den += math.Abs(weights[i] * weights[j])
		}
	}
	if den == 0 {
		return 0
	}
	return math.Abs(num) / den
}

// DiversificationRatio is the weighted-average volatility over the
// portfolio volatility; higher means more diversification benefit.
func DiversificationRatio(weights, vols []float64, corr [][]float64) float64 {
	n := len(weights)
	if n == 0 || len(vols) != n || len(corr) != n {
		return 1
	}

	weightedVol := 0.0
	for i := range weights {
		weightedVol += weights[i] * vols[i]
	}

	variance := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += weights[i] * weights[j] * corr[i][j] * vols[i] * vols[j]
		}
	}
	portVol := math.Sqrt(math.Max(variance, 0))
	if portVol == 0 {
		return 1
	}
	return weightedVol / portVol
}
