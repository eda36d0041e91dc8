// Package formulas is the statistics kernel: return series, moments,
// quantiles, smoothing, and the matrix operations the risk engines build on.
package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Returns converts a price series to simple percentage returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]; zero-price steps yield 0.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// Mean calculates the arithmetic mean of a slice of float64 values.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Variance calculates the population (plug-in, 1/N divisor) variance.
// The risk engines use the plug-in form throughout so that moments and
// covariance stay mutually consistent.
func Variance(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	mu := stat.Mean(data, nil)
	sum := 0.0
	for _, x := range data {
		d := x - mu
		sum += d * d
	}
	return sum / float64(n)
}

// StdDev calculates the population standard deviation (1/N divisor).
func StdDev(data []float64) float64 {
	return math.Sqrt(Variance(data))
}

// AnnualizedVolatility calculates annualized volatility from daily returns
// using sqrt(365): crypto markets trade every day.
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(365)
}

// Percentile returns the p-th percentile (p in [0, 1]) of xs using linear
// interpolation between closest ranks. Input is not modified.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	if p <= 0 {
		p = 0
	}
	if p >= 1 {
		p = 1
	}

	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// EWMA returns the exponentially weighted moving average series of xs with
// decay lambda in (0, 1): ewma[t] = lambda*ewma[t-1] + (1-lambda)*xs[t].
func EWMA(xs []float64, lambda float64) []float64 {
	if len(xs) == 0 {
		return []float64{}
	}
	out := make([]float64, len(xs))
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = lambda*out[i-1] + (1-lambda)*xs[i]
	}
	return out
}

// EWMAVariance returns the RiskMetrics-style exponentially weighted variance
// of a return series with decay lambda (0.94 is the usual daily choice).
func EWMAVariance(returns []float64, lambda float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	v := returns[0] * returns[0]
	for i := 1; i < len(returns); i++ {
		v = lambda*v + (1-lambda)*returns[i]*returns[i]
	}
	return v
}

// Correlation calculates the Pearson correlation coefficient between two datasets.
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// MaxDrawdown returns the largest peak-to-trough decline of a value path,
// as a positive fraction of the peak.
func MaxDrawdown(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	peak := values[0]
	maxDD := 0.0
	for _, v := range values[1:] {
		if v > peak {
			peak = v
			continue
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
