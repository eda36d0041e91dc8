// Package stress runs market and operational stress scenarios against the
// portfolio, detects live stress conditions, and produces protection
// recommendations.
package stress

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario names a stress test scenario.
type Scenario string

// Parametric market scenarios.
const (
	FlashCrash           Scenario = "flash_crash"
	LiquidityCrisis      Scenario = "liquidity_crisis"
	CorrelationBreakdown Scenario = "correlation_breakdown"
	VolatilitySpike      Scenario = "volatility_spike"
	MomentumReversal     Scenario = "momentum_reversal"
	CryptoWinter         Scenario = "crypto_winter"
)

// Historical replays, calibrated from the event record.
const (
	FinancialCrisis2008 Scenario = "financial_crisis_2008"
	Covid2020           Scenario = "covid_2020"
	LunaCollapse2022    Scenario = "luna_collapse_2022"
	FTXCollapse2022     Scenario = "ftx_collapse_2022"
	SVBBanking2023      Scenario = "svb_banking_2023"
)

// Tail events.
const (
	ExchangeHack         Scenario = "exchange_hack"
	RegulatoryCrackdown  Scenario = "regulatory_crackdown"
	StablecoinDepeg      Scenario = "stablecoin_depeg"
	MarketManipulation   Scenario = "market_manipulation"
	CustomScenarioMarker Scenario = "custom"
)

// AllScenarios lists the built-in scenario suite in execution order.
var AllScenarios = []Scenario{
	FlashCrash, LiquidityCrisis, CorrelationBreakdown, VolatilitySpike,
	MomentumReversal, CryptoWinter,
	FinancialCrisis2008, Covid2020, LunaCollapse2022, FTXCollapse2022, SVBBanking2023,
	ExchangeHack, RegulatoryCrackdown, StablecoinDepeg, MarketManipulation,
}

// Severity grades scenario strength.
type Severity int

const (
	Mild Severity = iota + 1
	Moderate
	Severe
	Extreme
	Catastrophic
)

// Multiplier maps severity to the shock scale factor.
func (s Severity) Multiplier() float64 {
	switch s {
	case Mild:
		return 1.0
	case Moderate:
		return 1.5
	case Severe:
		return 2.5
	case Extreme:
		return 4.0
	case Catastrophic:
		return 6.0
	default:
		return 1.0
	}
}

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case Mild:
		return "mild"
	case Moderate:
		return "moderate"
	case Severe:
		return "severe"
	case Extreme:
		return "extreme"
	case Catastrophic:
		return "catastrophic"
	default:
		return "unknown"
	}
}

// TimeHorizon scales how long the stress evolution runs.
type TimeHorizon string

const (
	Immediate TimeHorizon = "immediate" // minutes
	ShortTerm TimeHorizon = "short_term"
	Intraday  TimeHorizon = "intraday"
	MultiDay  TimeHorizon = "multi_day"
	Extended  TimeHorizon = "extended"
)

// Steps returns the number of evolution steps modeled for the horizon.
func (h TimeHorizon) Steps() int {
	switch h {
	case Immediate:
		return 5
	case ShortTerm:
		return 12
	case Intraday:
		return 24
	case MultiDay:
		return 7 * 24
	case Extended:
		return 30 * 24
	default:
		return 24
	}
}

// Calibration holds the per-scenario shock parameters at base (Mild)
// severity. Values for declared-but-unobserved events are documented
// estimates, not measurements.
type Calibration struct {
	BasePriceShock   float64            // negative fraction
	VolMultiplier    float64            // applied to asset vols
	CorrelationShift float64            // added to pairwise rho
	LiquidityImpact  float64            // additional loss fraction
	RecoveryBase     time.Duration      // recovery at Mild severity
	AssetOverrides   map[string]float64 // per-symbol price shock overrides
	Description      string
}

// defaultCalibrations is the compiled-in calibration table. Historical
// entries follow the observed event; tail entries are estimates.
func defaultCalibrations() map[Scenario]Calibration {
	return map[Scenario]Calibration{
		FlashCrash: {
			BasePriceShock: -0.08, VolMultiplier: 2.0, CorrelationShift: 0.15,
			LiquidityImpact: 0.01, RecoveryBase: 6 * time.Hour,
			Description: "sudden severe market drop",
		},
		LiquidityCrisis: {
			BasePriceShock: -0.04, VolMultiplier: 1.5, CorrelationShift: 0.10,
			LiquidityImpact: 0.03, RecoveryBase: 48 * time.Hour,
			Description: "extreme spread widening and depth loss",
		},
		CorrelationBreakdown: {
			BasePriceShock: -0.03, VolMultiplier: 1.4, CorrelationShift: 0.35,
			LiquidityImpact: 0.005, RecoveryBase: 72 * time.Hour,
			Description: "correlation matrix destabilizes toward 1",
		},
		VolatilitySpike: {
			BasePriceShock: -0.05, VolMultiplier: 3.0, CorrelationShift: 0.20,
			LiquidityImpact: 0.01, RecoveryBase: 24 * time.Hour,
			Description: "volatility triples without a clear direction",
		},
		MomentumReversal: {
			BasePriceShock: -0.06, VolMultiplier: 1.8, CorrelationShift: 0.10,
			LiquidityImpact: 0.01, RecoveryBase: 36 * time.Hour,
			Description: "sharp trend reversal against positioning",
		},
		CryptoWinter: {
			BasePriceShock: -0.15, VolMultiplier: 1.6, CorrelationShift: 0.25,
			LiquidityImpact: 0.02, RecoveryBase: 90 * 24 * time.Hour,
			Description: "extended bear market",
		},
		FinancialCrisis2008: {
			BasePriceShock: -0.12, VolMultiplier: 2.5, CorrelationShift: 0.30,
			LiquidityImpact: 0.03, RecoveryBase: 120 * 24 * time.Hour,
			Description: "2008 systemic deleveraging replay",
		},
		Covid2020: {
			BasePriceShock: -0.13, VolMultiplier: 3.0, CorrelationShift: 0.35,
			LiquidityImpact: 0.02, RecoveryBase: 60 * 24 * time.Hour,
			Description: "March 2020 pandemic crash replay",
		},
		LunaCollapse2022: {
			BasePriceShock: -0.10, VolMultiplier: 2.2, CorrelationShift: 0.25,
			LiquidityImpact: 0.04, RecoveryBase: 45 * 24 * time.Hour,
			AssetOverrides: map[string]float64{"LUNA": -0.99, "UST": -0.90},
			Description:    "Terra LUNA/UST collapse replay",
		},
		FTXCollapse2022: {
			BasePriceShock: -0.09, VolMultiplier: 2.0, CorrelationShift: 0.25,
			LiquidityImpact: 0.05, RecoveryBase: 60 * 24 * time.Hour,
			AssetOverrides: map[string]float64{"FTT": -0.92, "SOL": -0.25},
			Description:    "FTX exchange collapse replay",
		},
		SVBBanking2023: {
			BasePriceShock: -0.06, VolMultiplier: 1.7, CorrelationShift: 0.20,
			LiquidityImpact: 0.02, RecoveryBase: 21 * 24 * time.Hour,
			AssetOverrides: map[string]float64{"USDC": -0.10},
			Description:    "SVB bank run and USDC depeg replay",
		},
		ExchangeHack: {
			BasePriceShock: -0.07, VolMultiplier: 2.0, CorrelationShift: 0.15,
			LiquidityImpact: 0.06, RecoveryBase: 14 * 24 * time.Hour,
			Description: "major exchange security breach (estimate)",
		},
		RegulatoryCrackdown: {
			BasePriceShock: -0.08, VolMultiplier: 1.8, CorrelationShift: 0.20,
			LiquidityImpact: 0.03, RecoveryBase: 30 * 24 * time.Hour,
			Description: "severe regulatory action (estimate)",
		},
		StablecoinDepeg: {
			BasePriceShock: -0.05, VolMultiplier: 2.5, CorrelationShift: 0.30,
			LiquidityImpact: 0.05, RecoveryBase: 10 * 24 * time.Hour,
			AssetOverrides: map[string]float64{"USDT": -0.08, "USDC": -0.08, "DAI": -0.06},
			Description:    "major stablecoin loses peg (estimate)",
		},
		MarketManipulation: {
			BasePriceShock: -0.06, VolMultiplier: 2.2, CorrelationShift: 0.10,
			LiquidityImpact: 0.02, RecoveryBase: 3 * 24 * time.Hour,
			Description: "coordinated manipulation event (estimate)",
		},
	}
}

// LoadCalibrations reads a YAML calibration file and overlays it on the
// compiled-in defaults. A missing path returns the defaults unchanged.
func LoadCalibrations(path string) (map[Scenario]Calibration, error) {
	calibrations := defaultCalibrations()
	if path == "" {
		return calibrations, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return calibrations, nil
		}
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var overrides map[Scenario]yamlCalibration
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}
	for scenario, y := range overrides {
		calibrations[scenario] = Calibration{
			BasePriceShock:   y.BasePriceShock,
			VolMultiplier:    y.VolMultiplier,
			CorrelationShift: y.CorrelationShift,
			LiquidityImpact:  y.LiquidityImpact,
			RecoveryBase:     time.Duration(y.RecoveryBaseHours * float64(time.Hour)),
			AssetOverrides:   y.AssetOverrides,
			Description:      y.Description,
		}
	}
	return calibrations, nil
}

// yamlCalibration is the on-disk calibration shape. Recovery time is in
// hours so the file stays plain numbers.
type yamlCalibration struct {
	BasePriceShock    float64            `yaml:"base_price_shock"`
	VolMultiplier     float64            `yaml:"vol_multiplier"`
	CorrelationShift  float64            `yaml:"correlation_shift"`
	LiquidityImpact   float64            `yaml:"liquidity_impact"`
	RecoveryBaseHours float64            `yaml:"recovery_base_hours"`
	AssetOverrides    map[string]float64 `yaml:"asset_overrides"`
	Description       string             `yaml:"description"`
}

// CustomScenario is a user-supplied stress definition.
type CustomScenario struct {
	Name              string                `json:"name"`
	Description       string                `json:"description"`
	Severity          Severity              `json:"severity"`
	Horizon           TimeHorizon           `json:"horizon"`
	AssetShocks       map[string]float64    `json:"asset_shocks"`       // price shocks per asset
	VolatilityShocks  map[string]float64    `json:"volatility_shocks"`  // vol multipliers per asset
	CorrelationShocks map[[2]string]float64 `json:"-"`                  // pairwise rho shifts
	LiquidityShocks   map[string]float64    `json:"liquidity_shocks"`   // extra loss per asset
	TimeEvolution     []float64             `json:"time_evolution"`     // optional shock intensity curve
}
