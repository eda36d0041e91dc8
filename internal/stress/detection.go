package stress

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/bastion/internal/exclusion"
	"github.com/aristath/bastion/pkg/formulas"
)

// DetectionConfig holds the real-time stress detection thresholds.
type DetectionConfig struct {
	FlashCrashThreshold       float64 // price drop fraction, negative
	FlashCrashWindow          time.Duration
	VolatilitySpikeFactor     float64 // recent/historical vol ratio
	VolatilityWindow          time.Duration
	CorrelationSpikeThreshold float64 // mean pair |rho|
	LiquidityDryupThreshold   float64 // spread / baseline ratio
	LiquidityWindow           time.Duration
	MaxAutomaticReduction     float64 // cap on unattended position cuts
	MonitoredAssets           []string
}

// DefaultDetectionConfig returns the stock detection thresholds.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		FlashCrashThreshold:       -0.10,
		FlashCrashWindow:          15 * time.Minute,
		VolatilitySpikeFactor:     2.0,
		VolatilityWindow:          time.Hour,
		CorrelationSpikeThreshold: 0.8,
		LiquidityDryupThreshold:   3.0,
		LiquidityWindow:           10 * time.Minute,
		MaxAutomaticReduction:     0.20,
	}
}

// DetectionResult reports live stress conditions across monitored assets.
type DetectionResult struct {
	StressDetected          bool               `json:"stress_detected"`
	FlashCrashDetected      bool               `json:"flash_crash_detected"`
	VolatilitySpikeDetected bool               `json:"volatility_spike_detected"`
	CorrelationSpike        bool               `json:"correlation_spike_detected"`
	LiquidityCrisis         bool               `json:"liquidity_crisis_detected"`
	Intensity               float64            `json:"intensity"` // [0, 1]
	AffectedAssets          []string           `json:"affected_assets,omitempty"`
	RecommendedActions      []ProtectionAction `json:"recommended_actions,omitempty"`
	DetectionTime           time.Time          `json:"detection_time"`
	Details                 []string           `json:"details,omitempty"`
}

// DetectMarketStress scans the monitored assets (or every cached symbol
// when none are configured) for flash crashes, volatility spikes,
// correlation spikes and liquidity dry-ups.
func (e *Engine) DetectMarketStress() DetectionResult {
	res := DetectionResult{DetectionTime: e.clock.Now()}
	cfg := e.detectCfg

	symbols := cfg.MonitoredAssets
	if len(symbols) == 0 {
		symbols = e.cache.Symbols()
	}

	affected := map[string]bool{}
	signals := 0

	var meanAbsCorr float64
	var corrPairs int

	rets := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		// Flash crash: worst drop from the window's high to the latest.
		window := e.cache.PricesWithin(sym, cfg.FlashCrashWindow)
		if len(window) >= 2 {
			high := window[0]
			for _, p := range window {
				if p > high {
					high = p
				}
			}
			last := window[len(window)-1]
			if high > 0 {
				drop := last/high - 1
				if drop < cfg.FlashCrashThreshold {
					res.FlashCrashDetected = true
					affected[sym] = true
					res.Details = append(res.Details, fmt.Sprintf("%s dropped %.1f%% inside %s", sym, drop*100, cfg.FlashCrashWindow))
				}
			}
		}

		// Volatility spike: recent window vs full history.
		prices := e.cache.RecentPrices(sym, 60)
		if len(prices) >= 20 {
			r := formulas.Returns(prices)
			rets[sym] = r
			recent := formulas.StdDev(r[len(r)-5:])
			historical := formulas.StdDev(r)
			if historical > 0 && recent/historical > cfg.VolatilitySpikeFactor {
				res.VolatilitySpikeDetected = true
				affected[sym] = true
				res.Details = append(res.Details, fmt.Sprintf("%s recent vol %.1fx historical", sym, recent/historical))
			}
		}

		// Liquidity: spread estimate against the tightest tier as baseline.
		volumes := e.cache.RecentVolumes(sym, 7)
		if len(volumes) > 0 {
			spread := exclusion.EstimateSpread(formulas.Mean(volumes))
			baseline := exclusion.EstimateSpread(200e6)
			if spread/baseline > cfg.LiquidityDryupThreshold {
				res.LiquidityCrisis = true
				affected[sym] = true
				res.Details = append(res.Details, fmt.Sprintf("%s spread estimate %.1fx baseline", sym, spread/baseline))
			}
		}
	}

	// Correlation spike: mean |rho| across monitored symbol pairs.
	symsWithReturns := make([]string, 0, len(rets))
	for _, sym := range symbols {
		if _, ok := rets[sym]; ok {
			symsWithReturns = append(symsWithReturns, sym)
		}
	}
	for i := 0; i < len(symsWithReturns); i++ {
		for j := i + 1; j < len(symsWithReturns); j++ {
			ri, rj := rets[symsWithReturns[i]], rets[symsWithReturns[j]]
			n := len(ri)
			if len(rj) < n {
				n = len(rj)
			}
			if n < 5 {
				continue
			}
			meanAbsCorr += math.Abs(formulas.Correlation(ri[len(ri)-n:], rj[len(rj)-n:]))
			corrPairs++
		}
	}
	if corrPairs > 0 {
		meanAbsCorr /= float64(corrPairs)
		if meanAbsCorr > cfg.CorrelationSpikeThreshold {
			res.CorrelationSpike = true
			res.Details = append(res.Details, fmt.Sprintf("mean pair |rho| %.2f above %.2f", meanAbsCorr, cfg.CorrelationSpikeThreshold))
		}
	}

	for _, flag := range []bool{res.FlashCrashDetected, res.VolatilitySpikeDetected, res.CorrelationSpike, res.LiquidityCrisis} {
		if flag {
			signals++
		}
	}
	res.StressDetected = signals > 0
	res.Intensity = math.Min(float64(signals)/4+0.25*math.Min(meanAbsCorr, 1), 1)
	if !res.StressDetected {
		res.Intensity = 0
	}

	for sym := range affected {
		res.AffectedAssets = append(res.AffectedAssets, sym)
	}
	if res.StressDetected {
		res.RecommendedActions = e.protectionActions(res)
		e.log.Warn().
			Bool("flash_crash", res.FlashCrashDetected).
			Bool("vol_spike", res.VolatilitySpikeDetected).
			Bool("corr_spike", res.CorrelationSpike).
			Bool("liquidity", res.LiquidityCrisis).
			Float64("intensity", res.Intensity).
			Msg("Market stress detected")
	}
	return res
}

// Monitor runs stress detection on an interval until ctx is cancelled,
// delivering positive detections to out. The stop signal is observed
// between ticks.
func (e *Engine) Monitor(ctx context.Context, interval time.Duration, out chan<- DetectionResult) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info().Dur("interval", interval).Msg("Stress monitor started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Stress monitor stopped")
			return
		case <-ticker.C:
			res := e.DetectMarketStress()
			if res.StressDetected {
				select {
				case out <- res:
				default:
					e.log.Warn().Msg("Detection channel full, dropping stress signal")
				}
			}
		}
	}
}
