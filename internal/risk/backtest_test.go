package risk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bastion/internal/domain"
)

// newDeterministicNormals returns a seeded standard-normal generator.
func newDeterministicNormals(seed int64) func() float64 {
	rng := rand.New(rand.NewSource(seed))
	return rng.NormFloat64
}

func TestKupiecPOFRejectsLowBreachRate(t *testing.T) {
	// 6 breaches in 252 observations against an expected 5%:
	// LR ~ 4.5 > 3.84, so the test fails.
	stat, pValue, passed, err := KupiecPOF(6, 252, 0.05)
	require.NoError(t, err)

	assert.Greater(t, stat, chiSquared95Critical)
	assert.False(t, passed)
	assert.Less(t, pValue, 0.05)
}

func TestKupiecPOFAcceptsMatchingRate(t *testing.T) {
	// 13/252 ~ 5.16%, right on the expected rate.
	stat, pValue, passed, err := KupiecPOF(13, 252, 0.05)
	require.NoError(t, err)

	assert.Less(t, stat, 1.0)
	assert.True(t, passed)
	assert.Greater(t, pValue, 0.05)
}

func TestKupiecPOFEdges(t *testing.T) {
	// Zero breaches: statistic reduces to the null term, stays finite.
	stat, _, _, err := KupiecPOF(0, 252, 0.05)
	require.NoError(t, err)
	assert.False(t, math.IsInf(stat, 0))
	assert.False(t, math.IsNaN(stat))

	// All breaches.
	stat, _, passed, err := KupiecPOF(252, 252, 0.05)
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Greater(t, stat, chiSquared95Critical)

	// Invalid inputs.
	_, _, _, err = KupiecPOF(0, 0, 0.05)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, _, _, err = KupiecPOF(1, 10, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestChristoffersenClusteredBreachesFail(t *testing.T) {
	// Breaches arriving in one tight cluster violate independence.
	breaches := make([]bool, 252)
	for i := 100; i < 113; i++ {
		breaches[i] = true
	}
	stat, pValue, passed := ChristoffersenIndependence(breaches)
	assert.Greater(t, stat, chiSquared95Critical)
	assert.False(t, passed)
	assert.Less(t, pValue, 0.05)
}

func TestChristoffersenScatteredBreachesPass(t *testing.T) {
	// Evenly scattered breaches with no two adjacent.
	breaches := make([]bool, 252)
	for i := 10; i < 252; i += 20 {
		breaches[i] = true
	}
	_, _, passed := ChristoffersenIndependence(breaches)
	assert.True(t, passed)
}

func TestChristoffersenDegenerate(t *testing.T) {
	_, pValue, passed := ChristoffersenIndependence([]bool{true})
	assert.True(t, passed)
	assert.Equal(t, 1.0, pValue)

	_, _, passed = ChristoffersenIndependence(make([]bool, 100))
	assert.True(t, passed, "no breaches cannot reject independence")
}

func TestBacktestEndToEnd(t *testing.T) {
	// Exactly 5% breaches, evenly spaced: both tests must accept.
	const n = 10000
	estimate := 0.02
	returns := make([]float64, n)
	estimates := make([]float64, n)
	for i := range returns {
		returns[i] = 0.001
		if i%20 == 0 {
			returns[i] = -0.05 // loss beyond the estimate
		}
		estimates[i] = estimate
	}

	res, err := Backtest(Parametric, Confidence95, returns, estimates)
	require.NoError(t, err)

	assert.Equal(t, n, res.Observations)
	assert.Equal(t, n/20, res.Breaches)
	assert.InDelta(t, 0.05, res.BreachRate, 1e-9)
	assert.True(t, res.KupiecPassed, "exact 5%% coverage passes Kupiec (stat %.2f)", res.KupiecStatistic)
	assert.True(t, res.IndependencePass, "evenly spaced breaches pass Christoffersen")
	// Every error (0.021 on gains, 0.03 on breaches) exceeds the 0.02
	// estimate itself, so each per-period accuracy floors at 0.
	assert.Zero(t, res.AverageAccuracy)
	assert.Greater(t, res.RMSE, 0.0)
	assert.GreaterOrEqual(t, res.RMSE, res.MeanAbsoluteError)
}

func TestBacktestRandomBreachRate(t *testing.T) {
	// iid normal returns with known sigma: the VaR95 breach rate lands in
	// [4%, 6%] for a 10000-draw sample.
	sigma := 0.02
	estimate := sigma * 1.6449
	normals := newDeterministicNormals(7)

	const n = 10000
	breaches := 0
	for i := 0; i < n; i++ {
		if -(normals() * sigma) > estimate {
			breaches++
		}
	}
	rate := float64(breaches) / n
	assert.Greater(t, rate, 0.04)
	assert.Less(t, rate, 0.06)
}

func TestBacktestInputValidation(t *testing.T) {
	_, err := Backtest(Parametric, Confidence95, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = Backtest(Parametric, Confidence95, []float64{0.01}, []float64{0.02, 0.03})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestValidateModels(t *testing.T) {
	c, cache, start := newTestCalculator(t)

	ra, rb := correlatedPair(0.01, 0.015, 0.3, 40)
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	validations := c.ValidateModels([]string{"BTC", "ETH"}, []float64{0.5, 0.5}, 1e6, Confidence95)
	require.Len(t, validations, len(Methodologies))

	for _, v := range validations {
		assert.NotEmpty(t, v.Methodology)
		if len(v.Warnings) == 0 {
			assert.Greater(t, v.Backtest.Observations, 0)
		}
	}
}
