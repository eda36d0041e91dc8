package stress

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/marketdata"
	"github.com/aristath/bastion/internal/risk"
)

func newTestEngine(t *testing.T) (*Engine, *marketdata.Cache, time.Time) {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := domain.FixedClock{T: now}
	cache := marketdata.NewCache(clock, zerolog.Nop())
	varCalc := risk.NewCalculator(cache, clock, zerolog.Nop())
	return NewEngine(varCalc, cache, nil, clock, zerolog.Nop()), cache, now
}

func TestSeverityMultipliers(t *testing.T) {
	assert.Equal(t, 1.0, Mild.Multiplier())
	assert.Equal(t, 1.5, Moderate.Multiplier())
	assert.Equal(t, 2.5, Severe.Multiplier())
	assert.Equal(t, 4.0, Extreme.Multiplier())
	assert.Equal(t, 6.0, Catastrophic.Multiplier())
}

func TestRunScenarioFlashCrash(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res, err := e.RunScenario(FlashCrash, []string{"BTC", "ETH"}, []float64{0.5, 0.5}, 1_000_000, Severe, Intraday)
	require.NoError(t, err)

	assert.Equal(t, FlashCrash, res.Scenario)
	assert.True(t, res.IsValid)
	assert.Greater(t, res.PctLoss, 0.0)
	assert.LessOrEqual(t, res.PctLoss, 1.0)
	assert.InDelta(t, res.PortfolioValue-res.StressedValue, res.AbsoluteLoss, 1e-6)
	assert.Len(t, res.AssetLosses, 2)
	assert.Greater(t, res.RecoveryProbability, 0.0)
	assert.LessOrEqual(t, res.RecoveryProbability, 1.0)

	// Severity scales recovery: severe = 2.5x the mild base.
	cal := defaultCalibrations()[FlashCrash]
	assert.Equal(t, time.Duration(float64(cal.RecoveryBase)*2.5), res.RecoveryEstimate)
}

func TestSeverityOrdering(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assets := []string{"BTC", "ETH"}
	w := []float64{0.5, 0.5}

	mild, err := e.RunScenario(FlashCrash, assets, w, 1e6, Mild, Intraday)
	require.NoError(t, err)
	severe, err := e.RunScenario(FlashCrash, assets, w, 1e6, Severe, Intraday)
	require.NoError(t, err)
	cat, err := e.RunScenario(FlashCrash, assets, w, 1e6, Catastrophic, Intraday)
	require.NoError(t, err)

	assert.Less(t, mild.PctLoss, severe.PctLoss)
	assert.Less(t, severe.PctLoss, cat.PctLoss)
}

func TestAssetOverridesApply(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res, err := e.RunScenario(LunaCollapse2022, []string{"BTC", "LUNA"}, []float64{0.5, 0.5}, 1e6, Mild, Intraday)
	require.NoError(t, err)

	// LUNA's override (-0.99) dwarfs BTC's base shock.
	assert.Less(t, res.AssetLosses["LUNA"], res.AssetLosses["BTC"])
}

func TestStressedVaRAttached(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res, err := e.RunScenario(VolatilitySpike, []string{"BTC", "ETH"}, []float64{0.5, 0.5}, 1e6, Severe, Intraday)
	require.NoError(t, err)

	require.NotNil(t, res.StressedVaR)
	assert.Greater(t, res.StressVaRMultiplier, 1.0, "stress must inflate VaR")
	require.NotNil(t, res.StressedCorrelations)
	for i := range res.StressedCorrelations {
		for j := range res.StressedCorrelations[i] {
			assert.LessOrEqual(t, res.StressedCorrelations[i][j], 1.0)
			assert.GreaterOrEqual(t, res.StressedCorrelations[i][j], -1.0)
		}
	}
}

func TestRunSuiteRunsEveryScenario(t *testing.T) {
	e, _, _ := newTestEngine(t)

	results, errs := e.RunSuite([]string{"BTC", "ETH"}, []float64{0.5, 0.5}, 1e6, Severe)
	assert.Len(t, results, len(AllScenarios))
	assert.Empty(t, errs)
}

func TestRunScenarioInputValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.RunScenario(FlashCrash, nil, nil, 1e6, Severe, Intraday)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.RunScenario(FlashCrash, []string{"BTC"}, []float64{1}, -5, Severe, Intraday)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.RunScenario(Scenario("nonsense"), []string{"BTC"}, []float64{1}, 1e6, Severe, Intraday)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRunCustomScenario(t *testing.T) {
	e, _, _ := newTestEngine(t)

	custom := CustomScenario{
		Name:        "exchange delisting",
		Severity:    Moderate,
		Horizon:     ShortTerm,
		AssetShocks: map[string]float64{"BTC": -0.05, "DOGE": -0.40},
		LiquidityShocks: map[string]float64{
			"DOGE": 0.02,
		},
	}
	res, err := e.RunCustom(custom, []string{"BTC", "DOGE"}, []float64{0.7, 0.3}, 1e6)
	require.NoError(t, err)

	assert.Equal(t, CustomScenarioMarker, res.Scenario)
	assert.Greater(t, res.PctLoss, 0.0)
	assert.Less(t, res.AssetLosses["DOGE"], res.AssetLosses["BTC"], "the delisted asset takes the bigger loss")
}

func TestLoadCalibrationsOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibrations.yaml")
	yaml := `
flash_crash:
  base_price_shock: -0.20
  vol_multiplier: 5
  recovery_base_hours: 1
  description: override
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cals, err := LoadCalibrations(path)
	require.NoError(t, err)

	assert.Equal(t, -0.20, cals[FlashCrash].BasePriceShock)
	// Untouched scenarios keep their defaults.
	assert.Equal(t, defaultCalibrations()[CryptoWinter], cals[CryptoWinter])
}

func TestLoadCalibrationsMissingFileUsesDefaults(t *testing.T) {
	cals, err := LoadCalibrations(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultCalibrations(), cals)
}

func TestOperationalDrill(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunOperationalDrill(DatabaseRecovery, func() error { return nil })
	assert.True(t, res.MeetsTarget, "instant probe beats the 60s target")
	assert.Equal(t, DatabaseRecoveryTarget, res.Target)

	res = e.RunOperationalDrill(APIFailover, func() error { return errors.New("backup endpoint unreachable") })
	assert.False(t, res.MeetsTarget)
	assert.NotEmpty(t, res.Notes)
}
