// Package exclusion decides which symbols may enter a trading pair. Five
// gates (liquidity, volatility, model confidence, technical, news) each
// score a symbol; any firing gate removes it from the investable universe.
package exclusion

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/marketdata"
	"github.com/aristath/bastion/pkg/formulas"
)

// Level grades how hard a gate fired.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Reason names the condition behind a gate result.
type Reason string

const (
	ReasonNone               Reason = "none"
	ReasonLiquidityCrisis    Reason = "LiquidityCrisis"
	ReasonExtremeVolatility  Reason = "ExtremeVolatility"
	ReasonLowModelConfidence Reason = "LowModelConfidence"
	ReasonTechnicalExtreme   Reason = "TechnicalExtreme"
	ReasonNewsEvent          Reason = "NewsEvent"
	ReasonInsufficientData   Reason = "InsufficientData"
)

// GateResult is the outcome of one exclusion gate for one symbol.
type GateResult struct {
	Gate          string             `json:"gate"`
	Level         Level              `json:"level"`
	Reason        Reason             `json:"reason"`
	Score         float64            `json:"score"` // [0, 1]
	ShouldExclude bool               `json:"should_exclude"`
	Message       string             `json:"message"`
	Quality       domain.DataQuality `json:"quality"`
}

// Report combines all gate results for a symbol.
type Report struct {
	Symbol         string       `json:"symbol"`
	Gates          []GateResult `json:"gates"`
	ExclusionScore float64      `json:"exclusion_score"` // clip(sum of fired scores, 0, 1)
	Excluded       bool         `json:"excluded"`
}

// Config holds the gate thresholds.
type Config struct {
	MinDailyVolumeUSD  float64
	MaxBidAskSpread    float64
	MinExchangeCount   int
	MaxDailyVolatility float64 // realized daily vol ceiling
	MaxVolatilitySpike float64 // recent/historical vol ratio ceiling
	MinModelConfidence float64
	RSIOverbought      float64
	RSIOversold        float64
	NegativeSentiment  float64 // average below this fires the news gate
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinDailyVolumeUSD:  100e6,
		MaxBidAskSpread:    0.005,
		MinExchangeCount:   3,
		MaxDailyVolatility: 0.25,
		MaxVolatilitySpike: 3.0,
		MinModelConfidence: 0.30,
		RSIOverbought:      85,
		RSIOversold:        15,
		NegativeSentiment:  -0.3,
	}
}

// modelState tracks the latest model quality signals for one symbol.
type modelState struct {
	confidence float64
	modelR2    float64
	hasData    bool
	failed     bool
}

// Engine runs the exclusion gates against cached market data.
type Engine struct {
	cache *marketdata.Cache
	cfg   Config
	log   zerolog.Logger

	mu     sync.RWMutex
	models map[string]modelState
}

// NewEngine creates an exclusion engine reading from the given cache.
func NewEngine(cache *marketdata.Cache, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		cache:  cache,
		cfg:    cfg,
		log:    log.With().Str("component", "exclusion_engine").Logger(),
		models: make(map[string]modelState),
	}
}

// UpdateModelSignal records the latest prediction quality for a symbol.
func (e *Engine) UpdateModelSignal(symbol string, confidence, modelR2 float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[symbol] = modelState{confidence: confidence, modelR2: modelR2, hasData: true}
}

// RecordModelFailure flags a recent model failure for the symbol; the
// confidence gate fires until the next successful update.
func (e *Engine) RecordModelFailure(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.models[symbol]
	s.failed = true
	e.models[symbol] = s
}

// Evaluate runs all five gates and combines them. The symbol is excluded
// iff any gate fires; the composite score is the clipped sum.
func (e *Engine) Evaluate(symbol string) Report {
	gates := []GateResult{
		e.CheckLiquidity(symbol),
		e.CheckVolatility(symbol),
		e.CheckModelConfidence(symbol),
		e.CheckTechnical(symbol),
		e.CheckNews(symbol),
	}

	sum := 0.0
	excluded := false
	for _, g := range gates {
		if g.ShouldExclude {
			excluded = true
			sum += g.Score
		}
	}

	report := Report{
		Symbol:         symbol,
		Gates:          gates,
		ExclusionScore: clip01(sum),
		Excluded:       excluded,
	}
	if excluded {
		e.log.Debug().
			Str("symbol", symbol).
			Float64("score", report.ExclusionScore).
			Msg("Symbol excluded from universe")
	}
	return report
}

// FilterPredictions drops predictions whose symbols fail any gate and
// returns the survivors with their exclusion reports.
func (e *Engine) FilterPredictions(predictions []domain.Prediction) ([]domain.Prediction, map[string]Report) {
	reports := make(map[string]Report, len(predictions))
	survivors := make([]domain.Prediction, 0, len(predictions))
	for _, p := range predictions {
		e.UpdateModelSignal(p.Symbol, p.Confidence, p.ModelR2)
		r := e.Evaluate(p.Symbol)
		reports[p.Symbol] = r
		if !r.Excluded {
			survivors = append(survivors, p)
		}
	}
	return survivors, reports
}

// CheckLiquidity fires when the 7-day average volume, the spread estimate,
// or the exchange-count estimate fall outside their limits. Spread and
// exchange count are volume-tier proxies, not measurements.
func (e *Engine) CheckLiquidity(symbol string) GateResult {
	volumes := e.cache.RecentVolumes(symbol, 7)
	if len(volumes) == 0 {
		return missingData("liquidity", symbol)
	}

	avgVolume := formulas.Mean(volumes)
	spread := EstimateSpread(avgVolume)
	exchanges := EstimateExchangeCount(avgVolume)

	var (
		fired bool
		score float64
		msgs  []string
	)
	if avgVolume < e.cfg.MinDailyVolumeUSD {
		fired = true
		s := clip01(1 - avgVolume/e.cfg.MinDailyVolumeUSD)
		score = math.Max(score, s)
		msgs = append(msgs, fmt.Sprintf("avg 7d volume %.0f below %.0f", avgVolume, e.cfg.MinDailyVolumeUSD))
	}
	if spread > e.cfg.MaxBidAskSpread {
		fired = true
		score = math.Max(score, 0.5)
		msgs = append(msgs, fmt.Sprintf("estimated spread %.4f above %.4f", spread, e.cfg.MaxBidAskSpread))
	}
	if exchanges < e.cfg.MinExchangeCount {
		fired = true
		score = math.Max(score, 0.5)
		msgs = append(msgs, fmt.Sprintf("estimated exchange count %d below %d", exchanges, e.cfg.MinExchangeCount))
	}

	if !fired {
		return GateResult{
			Gate:    "liquidity",
			Level:   LevelInfo,
			Reason:  ReasonNone,
			Quality: domain.QualityProxy,
			Message: fmt.Sprintf("liquidity ok: avg volume %.0f, spread %.4f", avgVolume, spread),
		}
	}

	level := LevelWarning
	if score >= 0.7 {
		level = LevelCritical
	}
	return GateResult{
		Gate:          "liquidity",
		Level:         level,
		Reason:        ReasonLiquidityCrisis,
		Score:         score,
		ShouldExclude: true,
		Quality:       domain.QualityProxy,
		Message:       strings.Join(msgs, "; "),
	}
}

// CheckVolatility fires on excessive realized daily volatility or a
// recent/historical volatility spike.
func (e *Engine) CheckVolatility(symbol string) GateResult {
	prices := e.cache.RecentPrices(symbol, 31)
	if len(prices) < 3 {
		// Not enough history to measure; report the class fallback but err
		// on the side of exclusion.
		fallback := FallbackAnnualizedVol(symbol)
		r := missingData("volatility", symbol)
		r.Message = fmt.Sprintf("insufficient history for %s, fallback annualized vol %.2f", symbol, fallback)
		return r
	}

	returns := formulas.Returns(prices)
	realized := formulas.StdDev(returns)

	var (
		fired bool
		score float64
		msgs  []string
	)
	if realized > e.cfg.MaxDailyVolatility {
		fired = true
		score = math.Max(score, clip01(realized/e.cfg.MaxDailyVolatility-1))
		if score < 0.5 {
			score = 0.5
		}
		msgs = append(msgs, fmt.Sprintf("realized daily vol %.4f above %.4f", realized, e.cfg.MaxDailyVolatility))
	}

	// Spike check: last 7 observations against the full window.
	if len(returns) >= 14 {
		recent := formulas.StdDev(returns[len(returns)-7:])
		if realized > 0 && recent/realized > e.cfg.MaxVolatilitySpike {
			fired = true
			score = math.Max(score, 0.6)
			msgs = append(msgs, fmt.Sprintf("recent vol %.4f is %.1fx the 30d level", recent, recent/realized))
		}
	}

	if !fired {
		return GateResult{
			Gate:    "volatility",
			Level:   LevelInfo,
			Reason:  ReasonNone,
			Quality: domain.QualityMeasured,
			Message: fmt.Sprintf("volatility ok: realized daily vol %.4f", realized),
		}
	}
	return GateResult{
		Gate:          "volatility",
		Level:         LevelWarning,
		Reason:        ReasonExtremeVolatility,
		Score:         score,
		ShouldExclude: true,
		Quality:       domain.QualityMeasured,
		Message:       strings.Join(msgs, "; "),
	}
}

// CheckModelConfidence fires when composite confidence is below the floor
// or a recent model failure was recorded.
func (e *Engine) CheckModelConfidence(symbol string) GateResult {
	e.mu.RLock()
	state, ok := e.models[symbol]
	e.mu.RUnlock()

	if !ok || !state.hasData {
		return missingData("model_confidence", symbol)
	}
	if state.failed {
		return GateResult{
			Gate:          "model_confidence",
			Level:         LevelCritical,
			Reason:        ReasonLowModelConfidence,
			Score:         0.8,
			ShouldExclude: true,
			Quality:       domain.QualityMeasured,
			Message:       fmt.Sprintf("recent model failure for %s", symbol),
		}
	}

	// Composite blends stated confidence with model fit.
	composite := 0.7*state.confidence + 0.3*clip01(state.modelR2)
	if composite < e.cfg.MinModelConfidence {
		return GateResult{
			Gate:          "model_confidence",
			Level:         LevelWarning,
			Reason:        ReasonLowModelConfidence,
			Score:         clip01(1 - composite/e.cfg.MinModelConfidence),
			ShouldExclude: true,
			Quality:       domain.QualityMeasured,
			Message:       fmt.Sprintf("composite confidence %.3f below %.2f", composite, e.cfg.MinModelConfidence),
		}
	}
	return GateResult{
		Gate:    "model_confidence",
		Level:   LevelInfo,
		Reason:  ReasonNone,
		Quality: domain.QualityMeasured,
		Message: fmt.Sprintf("confidence ok: %.3f", composite),
	}
}

// CheckTechnical fires on extreme RSI(14) readings.
func (e *Engine) CheckTechnical(symbol string) GateResult {
	prices := e.cache.RecentPrices(symbol, 30)
	if len(prices) < 15 {
		// RSI needs a full period; neutral reading, no exclusion. The
		// liquidity and volatility gates already guard data-poor symbols.
		return GateResult{
			Gate:    "technical",
			Level:   LevelInfo,
			Reason:  ReasonNone,
			Quality: domain.QualityDefaulted,
			Message: "insufficient history for RSI, neutral",
		}
	}

	rsi := formulas.RSI(prices, 14)
	if rsi > e.cfg.RSIOverbought || rsi < e.cfg.RSIOversold {
		side := "overbought"
		if rsi < e.cfg.RSIOversold {
			side = "oversold"
		}
		return GateResult{
			Gate:          "technical",
			Level:         LevelWarning,
			Reason:        ReasonTechnicalExtreme,
			Score:         0.4,
			ShouldExclude: true,
			Quality:       domain.QualityMeasured,
			Message:       fmt.Sprintf("RSI(14) %.1f is %s", rsi, side),
		}
	}
	return GateResult{
		Gate:    "technical",
		Level:   LevelInfo,
		Reason:  ReasonNone,
		Quality: domain.QualityMeasured,
		Message: fmt.Sprintf("RSI(14) %.1f in range", rsi),
	}
}

// CheckNews fires on recent negative sentiment or sentiment instability.
func (e *Engine) CheckNews(symbol string) GateResult {
	samples := e.cache.RecentSentiments(symbol, marketdata.SentimentHistoryCap)
	if len(samples) == 0 {
		// No news coverage is common for small symbols; not an exclusion.
		return GateResult{
			Gate:    "news",
			Level:   LevelInfo,
			Reason:  ReasonNone,
			Quality: domain.QualityDefaulted,
			Message: "no sentiment history",
		}
	}

	values := make([]float64, 0, len(samples))
	significant := make([]float64, 0, len(samples))
	for _, s := range samples {
		values = append(values, s.AvgSentiment)
		if s.IsSignificant() {
			significant = append(significant, s.AvgSentiment)
		}
	}

	recent := values
	if len(recent) > 7 {
		recent = recent[len(recent)-7:]
	}
	recentAvg := formulas.Mean(recent)

	if len(significant) > 0 && recentAvg < e.cfg.NegativeSentiment {
		return GateResult{
			Gate:          "news",
			Level:         LevelWarning,
			Reason:        ReasonNewsEvent,
			Score:         clip01(-recentAvg),
			ShouldExclude: true,
			Quality:       domain.QualityMeasured,
			Message:       fmt.Sprintf("recent sentiment %.2f below %.2f", recentAvg, e.cfg.NegativeSentiment),
		}
	}

	// Instability: recent dispersion far above the historical level.
	if len(values) >= 14 {
		recentStd := formulas.StdDev(recent)
		histStd := formulas.StdDev(values)
		if histStd > 0 && recentStd > 2*histStd {
			return GateResult{
				Gate:          "news",
				Level:         LevelWarning,
				Reason:        ReasonNewsEvent,
				Score:         0.4,
				ShouldExclude: true,
				Quality:       domain.QualityMeasured,
				Message:       fmt.Sprintf("sentiment instability: recent sigma %.3f vs history %.3f", recentStd, histStd),
			}
		}
	}

	return GateResult{
		Gate:    "news",
		Level:   LevelInfo,
		Reason:  ReasonNone,
		Quality: domain.QualityMeasured,
		Message: fmt.Sprintf("sentiment ok: recent avg %.2f", recentAvg),
	}
}

// missingData is the conservative result when a gate has nothing to measure.
func missingData(gate, symbol string) GateResult {
	return GateResult{
		Gate:          gate,
		Level:         LevelWarning,
		Reason:        ReasonInsufficientData,
		Score:         0.5,
		ShouldExclude: true,
		Quality:       domain.QualityDefaulted,
		Message:       fmt.Sprintf("no data for %s, excluding conservatively", symbol),
	}
}

func clip01(x float64) float64 {
	return math.Min(math.Max(x, 0), 1)
}
