package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned by Cholesky when the input matrix is
// not positive definite. Callers regularize with RegularizeDiagonal and retry.
var ErrNotPositiveDefinite = fmt.Errorf("matrix not positive definite")

// CovarianceMatrix builds the plug-in (1/N divisor) covariance matrix of
// the return series in returns, ordered by symbols. All series must have
// equal, non-zero length.
func CovarianceMatrix(returns map[string][]float64, symbols []string) ([][]float64, error) {
	n := len(symbols)
	if n == 0 {
		return nil, fmt.Errorf("no symbols provided")
	}

	var obs int
	for _, sym := range symbols {
		r, ok := returns[sym]
		if !ok {
			return nil, fmt.Errorf("missing returns for %s", sym)
		}
		if obs == 0 {
			obs = len(r)
		}
		if len(r) != obs {
			return nil, fmt.Errorf("inconsistent return lengths: %s has %d, expected %d", sym, len(r), obs)
		}
	}
	if obs < 2 {
		return nil, fmt.Errorf("insufficient observations: %d", obs)
	}

	means := make([]float64, n)
	for i, sym := range symbols {
		means[i] = Mean(returns[sym])
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		ri := returns[symbols[i]]
		for j := i; j < n; j++ {
			rj := returns[symbols[j]]
			sum := 0.0
			for k := 0; k < obs; k++ {
				sum += (ri[k] - means[i]) * (rj[k] - means[j])
			}
			c := sum / float64(obs)
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov, nil
}

// CorrelationFromCovariance converts a covariance matrix to a correlation
// matrix. Zero-variance rows produce zero correlations.
func CorrelationFromCovariance(cov [][]float64) [][]float64 {
	n := len(cov)
	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
		corr[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			vi, vj := cov[i][i], cov[j][j]
			if vi > 0 && vj > 0 {
				c := cov[i][j] / math.Sqrt(vi*vj)
				corr[i][j] = c
				corr[j][i] = c
			}
		}
	}
	return corr
}

// Cholesky returns the lower-triangular factor L with cov = L Lᵀ.
// Returns ErrNotPositiveDefinite when factorization fails; the caller
// regularizes (RegularizeDiagonal) and retries.
func Cholesky(cov [][]float64) ([][]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty matrix")
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("matrix not square: row %d has %d columns", i, len(cov[i]))
		}
		for j := i; j < n; j++ {
			sym.SetSym(i, j, cov[i][j])
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, ErrNotPositiveDefinite
	}

	var lower mat.TriDense
	chol.LTo(&lower)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			out[i][j] = lower.At(i, j)
		}
	}
	return out, nil
}

// RegularizeDiagonal returns a copy of m with epsilon added to every
// diagonal entry. Used to recover from failed Cholesky factorizations.
func RegularizeDiagonal(m [][]float64, epsilon float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = make([]float64, len(m[i]))
		copy(out[i], m[i])
		out[i][i] += epsilon
	}
	return out
}

// PortfolioVariance computes wᵀ Σ w.
func PortfolioVariance(weights []float64, cov [][]float64) float64 {
	v := 0.0
	for i := range weights {
		for j := range weights {
			v += weights[i] * weights[j] * cov[i][j]
		}
	}
	return v
}
