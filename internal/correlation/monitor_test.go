package correlation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/marketdata"
)

func seedPrices(t *testing.T, cache *marketdata.Cache, symbol string, start time.Time, prices []float64) {
	t.Helper()
	for i, p := range prices {
		require.NoError(t, cache.InsertMarket(domain.MarketSample{
			Symbol:     symbol,
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
			Close:      p,
			VolumeFrom: 1000,
			VolumeTo:   900,
		}))
	}
}

// correlatedSeries builds two price paths with strongly positive co-movement.
func correlatedSeries(n int) ([]float64, []float64) {
	a := make([]float64, n)
	b := make([]float64, n)
	a[0], b[0] = 100, 4000
	for i := 1; i < n; i++ {
		move := 0.01
		if i%2 == 0 {
			move = -0.008
		}
		a[i] = a[i-1] * (1 + move)
		b[i] = b[i-1] * (1 + move*0.9)
	}
	return a, b
}

func newTestMonitor(t *testing.T) (*Monitor, *marketdata.Cache, time.Time) {
	t.Helper()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := domain.FixedClock{T: now.Add(40 * time.Hour)}
	cache := marketdata.NewCache(clock, zerolog.Nop())
	return NewMonitor(cache, DefaultConfig(), clock, zerolog.Nop()), cache, now
}

func TestUpdateProducesSignificantSnapshot(t *testing.T) {
	m, cache, start := newTestMonitor(t)

	btc, spx := correlatedSeries(31)
	seedPrices(t, cache, "BTC", start, btc)
	seedPrices(t, cache, "SPX", start, spx)

	snaps := m.Update()
	require.Len(t, snaps, 1, "only BTC/SPX has data")

	s := snaps[0]
	assert.Equal(t, "BTC/SPX", s.Pair.Key())
	assert.Greater(t, s.Correlation, 0.9)
	assert.True(t, s.IsSignificant, "strong correlation over 30 samples must be significant")
	assert.Equal(t, 30, s.SampleSize)
	assert.InDelta(t, s.Correlation, s.Correlation30, 1e-9)
}

func TestUpdateSkipsPairsWithoutData(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	assert.Empty(t, m.Update())
	assert.Zero(t, m.MarketStress())
}

func TestCorrelationForAndSnapshotsAreCopies(t *testing.T) {
	m, cache, start := newTestMonitor(t)
	btc, spx := correlatedSeries(31)
	seedPrices(t, cache, "BTC", start, btc)
	seedPrices(t, cache, "SPX", start, spx)
	m.Update()

	rho, ok := m.CorrelationFor("BTC", "SPX")
	require.True(t, ok)
	assert.Greater(t, rho, 0.9)

	snaps := m.Snapshots()
	require.Len(t, snaps, 1)
	snaps[0].Correlation = -99
	again := m.Snapshots()
	assert.NotEqual(t, -99.0, again[0].Correlation, "Snapshots must return copies")
}

func TestRegimeDetection(t *testing.T) {
	m, cache, start := newTestMonitor(t)

	btc, spx := correlatedSeries(31)
	seedPrices(t, cache, "BTC", start, btc)
	seedPrices(t, cache, "SPX", start, spx)
	m.Update()

	// High BTC/SPX correlation + elevated VIX => risk-off.
	require.NoError(t, cache.InsertMarket(domain.MarketSample{
		Symbol: "VIX", Timestamp: start.Add(35 * time.Hour), Close: 32,
		VolumeFrom: 1, VolumeTo: 1,
	}))
	assert.Equal(t, RegimeRiskOff, m.CurrentRegime())

	// Calm VIX => risk-on.
	require.NoError(t, cache.InsertMarket(domain.MarketSample{
		Symbol: "VIX", Timestamp: start.Add(36 * time.Hour), Close: 15,
		VolumeFrom: 1, VolumeTo: 1,
	}))
	assert.Equal(t, RegimeRiskOn, m.CurrentRegime())
}

func TestRegimeNeutralWithoutData(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	assert.Equal(t, RegimeNeutral, m.CurrentRegime())
}

func TestFisherPValue(t *testing.T) {
	// Weak correlation on a small sample: not significant.
	assert.Greater(t, fisherPValue(0.1, 10), 0.05)
	// Strong correlation on a decent sample: significant.
	assert.Less(t, fisherPValue(0.9, 30), 0.05)
	// Degenerate inputs.
	assert.Equal(t, 1.0, fisherPValue(0.5, 3))
	assert.Equal(t, 0.0, fisherPValue(1.0, 30))
}

func TestIsSpike(t *testing.T) {
	flat := []float64{0.30, 0.31, 0.29, 0.30, 0.31}
	assert.True(t, isSpike(0.9, flat, 2.0))
	assert.False(t, isSpike(0.31, flat, 2.0))
	assert.False(t, isSpike(0.9, []float64{0.3}, 2.0), "needs history")
}

func TestCrossedThreshold(t *testing.T) {
	assert.True(t, crossed([]float64{0.25}, 0.35, 0.3))
	assert.True(t, crossed([]float64{0.35}, 0.25, 0.3))
	assert.False(t, crossed([]float64{0.25}, 0.28, 0.3))
	assert.False(t, crossed(nil, 0.5, 0.3))
}

func TestMarketStressClipped(t *testing.T) {
	snaps := []Snapshot{
		{Spike: true, ZScore: 10},
		{Spike: true, ZScore: -8},
	}
	s := marketStress(snaps)
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
	assert.True(t, s > 0.5, "all pairs spiking should read as high stress, got %v", s)
}

func TestAddRemovePair(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	n := len(m.pairs)

	m.AddPair(CrossAssetPair{"SOL", "SPX", "Solana vs S&P 500"})
	assert.Len(t, m.pairs, n+1)
	m.AddPair(CrossAssetPair{"SOL", "SPX", "duplicate"})
	assert.Len(t, m.pairs, n+1)

	m.RemovePair("SOL", "SPX")
	assert.Len(t, m.pairs, n)
}

func TestWindowCorrelationBounds(t *testing.T) {
	x := []float64{0.01, -0.01, 0.02, -0.02, 0.01}
	y := []float64{0.01, -0.01, 0.02, -0.02, 0.01}
	assert.InDelta(t, 1.0, windowCorrelation(x, y, 3), 1e-9)
	assert.InDelta(t, 1.0, windowCorrelation(x, y, 50), 1e-9, "window larger than data uses all data")
	assert.Equal(t, 0.0, windowCorrelation(x[:1], y[:1], 3))
}
