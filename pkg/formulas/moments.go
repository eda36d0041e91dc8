package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Skewness returns the third standardized moment of data (plug-in form).
// Fewer than 3 observations or zero variance returns 0.
func Skewness(data []float64) float64 {
	n := len(data)
	if n < 3 {
		return 0
	}
	mu := Mean(data)
	sd := StdDev(data)
	if sd == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range data {
		z := (x - mu) / sd
		sum += z * z * z
	}
	return sum / float64(n)
}

// Kurtosis returns the fourth standardized moment of data (plug-in form).
// This is raw kurtosis, not excess: a normal distribution returns 3.0.
// Fewer than 4 observations or zero variance returns 3.0.
func Kurtosis(data []float64) float64 {
	n := len(data)
	if n < 4 {
		return 3.0
	}
	mu := Mean(data)
	sd := StdDev(data)
	if sd == 0 {
		return 3.0
	}
	sum := 0.0
	for _, x := range data {
		z := (x - mu) / sd
		sum += z * z * z * z
	}
	return sum / float64(n)
}

// NormalInverseCDF returns the standard normal quantile for probability p.
func NormalInverseCDF(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}
	return distuv.UnitNormal.Quantile(p)
}

// CornishFisherZ adjusts a normal quantile z for skewness and (raw)
// kurtosis using the third-order Cornish-Fisher expansion:
//
//	z' = z + (S/6)(z^2-1) + ((K-3)/24) z (z^2-3) + (S^2/72) z (2z^2-5)
func CornishFisherZ(z, skew, kurt float64) float64 {
	z2 := z * z
	adjusted := z +
		(skew/6)*(z2-1) +
		((kurt-3)/24)*z*(z2-3) +
		(skew*skew/72)*z*(2*z2-5)
	return adjusted
}

// ChiSquaredSurvival returns P(X > x) for a chi-squared distribution with
// k degrees of freedom. Used by the VaR backtests for exact p-values.
func ChiSquaredSurvival(x float64, k float64) float64 {
	if x <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: k}.Survival(x)
}
