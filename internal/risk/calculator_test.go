package risk

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/marketdata"
)

func newTestCalculator(t *testing.T) (*Calculator, *marketdata.Cache, time.Time) {
	t.Helper()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := domain.FixedClock{T: now.Add(400 * 24 * time.Hour)}
	cache := marketdata.NewCache(clock, zerolog.Nop())
	return NewCalculator(cache, clock, zerolog.Nop()), cache, now
}

// feedReturns seeds the cache with a price path that realizes the given
// return series exactly.
func feedReturns(t *testing.T, cache *marketdata.Cache, symbol string, start time.Time, returns []float64) {
	t.Helper()
	price := 100.0
	require.NoError(t, cache.InsertMarket(domain.MarketSample{
		Symbol: symbol, Timestamp: start, Close: price, VolumeFrom: 1e8, VolumeTo: 1e8,
	}))
	for i, r := range returns {
		price *= 1 + r
		require.NoError(t, cache.InsertMarket(domain.MarketSample{
			Symbol:     symbol,
			Timestamp:  start.Add(time.Duration(i+1) * 24 * time.Hour),
			Close:      price,
			VolumeFrom: 1e8,
			VolumeTo:   1e8,
		}))
	}
}

// correlatedPair builds two return series with exact plug-in moments:
// std devs sigmaA/sigmaB and correlation rho, using orthogonal
// deterministic base sequences.
func correlatedPair(sigmaA, sigmaB, rho float64, blocks int) ([]float64, []float64) {
	baseX := []float64{1, -1, 1, -1}
	baseY := []float64{1, 1, -1, -1}
	var ra, rb []float64
	for b := 0; b < blocks; b++ {
		for i := range baseX {
			x, y := baseX[i], baseY[i]
			ra = append(ra, sigmaA*x)
			rb = append(rb, sigmaB*(rho*x+math.Sqrt(1-rho*rho)*y))
		}
	}
	return ra, rb
}

func TestParametricVaRWorkedExample(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	c.SetParametricConfig(ParametricConfig{UseEWMA: false, LookbackDays: 252})

	// sigma = [0.02, 0.03], rho = 0.5 by construction.
	ra, rb := correlatedPair(0.02, 0.03, 0.5, 3)
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	res, err := c.Calculate([]string{"BTC", "ETH"}, []float64{0.4, 0.6}, 1_000_000, Parametric, Confidence95, HorizonDaily)
	require.NoError(t, err)

	// sigma_p = sqrt(0.000532) ~ 0.02307; VaR95 ~ 1.645 * 0.02307 ~ 3.795%.
	assert.InDelta(t, 0.03795, res.VaRPct, 2e-4)
	assert.InDelta(t, 37946, res.VaRAmount, 200)
	assert.Equal(t, domain.QualityMeasured, res.DataQuality)
	assert.True(t, res.IsValid == (res.VaRPct <= c.TRS().MaxDailyVaR95), "validity tracks the TRS limit")
}

func TestParametricSingleAsset(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	c.SetParametricConfig(ParametricConfig{UseEWMA: false, LookbackDays: 252})

	ra, _ := correlatedPair(0.02, 0.03, 0.5, 3)
	feedReturns(t, cache, "BTC", start, ra)

	res, err := c.Calculate([]string{"BTC"}, []float64{1.0}, 500_000, Parametric, Confidence95, HorizonDaily)
	require.NoError(t, err)

	want := 0.02 * 1.6449
	assert.InDelta(t, want, res.VaRPct, 1e-4)
	assert.InDelta(t, want*500_000, res.VaRAmount, 50)
}

func TestParametricDefaultsWhenNoHistory(t *testing.T) {
	c, _, _ := newTestCalculator(t)

	res, err := c.Calculate([]string{"AAA", "BBB"}, []float64{0.5, 0.5}, 1_000_000, Parametric, Confidence95, HorizonDaily)
	require.NoError(t, err)

	assert.Equal(t, domain.QualityDefaulted, res.DataQuality)
	assert.NotEmpty(t, res.Warnings)

	// Both assets default to 2% vol with 0.6 correlation.
	sigma := math.Sqrt(0.25*0.0004 + 0.25*0.0004 + 2*0.25*0.6*0.0004)
	assert.InDelta(t, sigma*1.6449, res.VaRPct, 1e-4)
}

func TestHorizonScalingSqrtTime(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	c.SetParametricConfig(ParametricConfig{UseEWMA: false, LookbackDays: 252})

	ra, rb := correlatedPair(0.005, 0.007, 0.5, 3)
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	assets := []string{"BTC", "ETH"}
	w := []float64{0.4, 0.6}

	daily, err := c.Calculate(assets, w, 1e6, Parametric, Confidence95, HorizonDaily)
	require.NoError(t, err)
	weekly, err := c.Calculate(assets, w, 1e6, Parametric, Confidence95, HorizonWeekly)
	require.NoError(t, err)

	ratio := weekly.VaRPct / daily.VaRPct
	assert.InEpsilon(t, math.Sqrt(7), ratio, 0.05, "weekly VaR must be ~sqrt(7) times daily")
}

func TestCVaRDominatesVaR(t *testing.T) {
	c, cache, start := newTestCalculator(t)

	ra, rb := correlatedPair(0.01, 0.015, 0.3, 40) // 160 observations
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	for _, m := range Methodologies {
		res, err := c.Calculate([]string{"BTC", "ETH"}, []float64{0.5, 0.5}, 1e6, m, Confidence95, HorizonDaily)
		require.NoError(t, err, "methodology %s", m)
		assert.GreaterOrEqual(t, res.CVaRPct, res.VaRPct, "CVaR must dominate VaR for %s", m)
		assert.GreaterOrEqual(t, res.VaRPct, 0.0)
	}
}

func TestHistoricalRequiresMinDataPoints(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	ra, _ := correlatedPair(0.01, 0.01, 0, 5) // 20 observations
	feedReturns(t, cache, "BTC", start, ra)

	_, err := c.Calculate([]string{"BTC"}, []float64{1}, 1e6, HistoricalSimulation, Confidence95, HorizonDaily)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestMonteCarloDeterministicForSeed(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	ra, rb := correlatedPair(0.01, 0.015, 0.4, 3)
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	assets := []string{"BTC", "ETH"}
	w := []float64{0.5, 0.5}

	first, err := c.Calculate(assets, w, 1e6, MonteCarlo, Confidence95, HorizonDaily)
	require.NoError(t, err)
	second, err := c.Calculate(assets, w, 1e6, MonteCarlo, Confidence95, HorizonDaily)
	require.NoError(t, err)

	assert.Equal(t, first.VaRPct, second.VaRPct, "same seed must reproduce the same VaR")
}

func TestMonteCarloAgreesWithParametric(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	c.SetParametricConfig(ParametricConfig{UseEWMA: false, LookbackDays: 252})

	ra, rb := correlatedPair(0.02, 0.03, 0.5, 3)
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	assets := []string{"BTC", "ETH"}
	w := []float64{0.4, 0.6}

	param, err := c.Calculate(assets, w, 1e6, Parametric, Confidence95, HorizonDaily)
	require.NoError(t, err)
	mc, err := c.Calculate(assets, w, 1e6, MonteCarlo, Confidence95, HorizonDaily)
	require.NoError(t, err)

	assert.InEpsilon(t, param.VaRPct, mc.VaRPct, 0.10, "normal MC should land near the parametric value")
}

func TestCalculateInputValidation(t *testing.T) {
	c, _, _ := newTestCalculator(t)

	cases := []struct {
		name    string
		assets  []string
		weights []float64
		value   float64
	}{
		{"empty assets", nil, nil, 1e6},
		{"length mismatch", []string{"BTC"}, []float64{0.5, 0.5}, 1e6},
		{"negative weight", []string{"BTC", "ETH"}, []float64{1.5, -0.5}, 1e6},
		{"bad sum", []string{"BTC", "ETH"}, []float64{0.2, 0.2}, 1e6},
		{"bad value", []string{"BTC"}, []float64{1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Calculate(tc.assets, tc.weights, tc.value, Parametric, Confidence95, HorizonDaily)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCalculateAllReportsPerMethod(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	ra, _ := correlatedPair(0.01, 0.01, 0, 5) // 20 observations: too few for historical
	feedReturns(t, cache, "BTC", start, ra)

	results, errs := c.CalculateAll([]string{"BTC"}, []float64{1}, 1e6, Confidence95, HorizonDaily)
	assert.Contains(t, results, Parametric)
	assert.Contains(t, results, MonteCarlo)
	assert.Contains(t, errs, HistoricalSimulation)
}

func TestComponentVaRSumsToTotal(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	c.SetParametricConfig(ParametricConfig{UseEWMA: false, LookbackDays: 252})

	ra, rb := correlatedPair(0.02, 0.03, 0.5, 3)
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	res, err := c.Calculate([]string{"BTC", "ETH"}, []float64{0.4, 0.6}, 1e6, Parametric, Confidence95, HorizonDaily)
	require.NoError(t, err)

	sum := res.ComponentVaR["BTC"] + res.ComponentVaR["ETH"]
	assert.InEpsilon(t, res.VaRPct, sum, 1e-6, "Euler decomposition must recover total VaR")
}

func TestSimplifiedComponentModeTagsResult(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	c.SetParametricConfig(ParametricConfig{UseEWMA: false, LookbackDays: 252, SimplifiedDecomp: true})

	ra, rb := correlatedPair(0.02, 0.03, 0.5, 3)
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	res, err := c.Calculate([]string{"BTC", "ETH"}, []float64{0.4, 0.6}, 1e6, Parametric, Confidence95, HorizonDaily)
	require.NoError(t, err)

	found := false
	for _, w := range res.Warnings {
		if w == "component VaR uses simplified w*sigma approximation" {
			found = true
		}
	}
	assert.True(t, found, "simplified mode must tag the result")
}

func TestIncrementalVaRSignsAndMagnitude(t *testing.T) {
	c, cache, start := newTestCalculator(t)
	c.SetParametricConfig(ParametricConfig{UseEWMA: false, LookbackDays: 252})

	ra, rb := correlatedPair(0.02, 0.03, 0.5, 3)
	feedReturns(t, cache, "BTC", start, ra)
	feedReturns(t, cache, "ETH", start, rb)

	res, err := c.Calculate([]string{"BTC", "ETH"}, []float64{0.4, 0.6}, 1e6, Parametric, Confidence95, HorizonDaily)
	require.NoError(t, err)

	assert.Greater(t, res.IncrementalVaR["BTC"], 0.0, "removing a positively correlated asset reduces VaR")
	assert.Greater(t, res.IncrementalVaR["ETH"], 0.0)
}
