// Package correlation maintains rolling cross-asset correlations between
// crypto and traditional market symbols, and derives market stress and
// regime signals from them.
package correlation

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/internal/marketdata"
	"github.com/aristath/bastion/pkg/formulas"
)

// CrossAssetPair names one monitored crypto/traditional relationship.
type CrossAssetPair struct {
	CryptoSymbol      string `json:"crypto_symbol"`
	TraditionalSymbol string `json:"traditional_symbol"`
	Description       string `json:"description"`
}

// Key returns the stable identifier for the pair.
func (p CrossAssetPair) Key() string {
	return p.CryptoSymbol + "/" + p.TraditionalSymbol
}

// DefaultPairs is the monitored set the system ships with.
var DefaultPairs = []CrossAssetPair{
	{"BTC", "SPX", "Bitcoin vs S&P 500"},
	{"BTC", "GLD", "Bitcoin vs Gold"},
	{"BTC", "DXY", "Bitcoin vs US Dollar Index"},
	{"BTC", "VIX", "Bitcoin vs Volatility Index"},
	{"ETH", "SPX", "Ethereum vs S&P 500"},
	{"ETH", "GLD", "Ethereum vs Gold"},
	{"ETH", "TLT", "Ethereum vs Treasury Bonds"},
	{"ADA", "HYG", "Cardano vs High Yield Bonds"},
}

// Snapshot is one correlation observation for a monitored pair.
type Snapshot struct {
	Pair          CrossAssetPair `json:"pair"`
	Correlation   float64        `json:"correlation"`
	Correlation3D float64        `json:"correlation_3d"`
	Correlation7D float64        `json:"correlation_7d"`
	Correlation30 float64        `json:"correlation_30d"`
	PValue        float64        `json:"p_value"`
	ZScore        float64        `json:"z_score"`
	SampleSize    int            `json:"sample_size"`
	IsSignificant bool           `json:"is_significant"`
	Spike         bool           `json:"spike"`
	RegimeChange  bool           `json:"regime_change"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Regime labels the broad market state derived from cross-asset correlations.
type Regime string

const (
	RegimeNeutral    Regime = "neutral"
	RegimeRiskOn     Regime = "risk_on"
	RegimeRiskOff    Regime = "risk_off"
	RegimeDecoupling Regime = "decoupling"
)

// Config holds the stress-detection thresholds.
type Config struct {
	SpikeThreshold  float64 // z-score threshold for correlation spikes
	RegimeThreshold float64 // mean |rho| level whose crossing flags a regime change
	HistoryLength   int     // per-pair correlation history retained
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		SpikeThreshold:  2.0,
		RegimeThreshold: 0.3,
		HistoryLength:   90,
	}
}

// Monitor computes correlation snapshots from cached market data. Readers
// receive value copies; Update, AddPair and RemovePair are the mutators.
type Monitor struct {
	cache *marketdata.Cache
	cfg   Config
	clock domain.Clock
	log   zerolog.Logger

	mu            sync.RWMutex
	pairs         []CrossAssetPair
	history       map[string][]float64 // pair key -> correlation history
	meanAbsHist   []float64            // history of mean |rho| across pairs
	snapshots     []Snapshot
	currentStress float64
	lastUpdate    time.Time
}

// NewMonitor creates a monitor over the default pair set.
func NewMonitor(cache *marketdata.Cache, cfg Config, clock domain.Clock, log zerolog.Logger) *Monitor {
	pairs := make([]CrossAssetPair, len(DefaultPairs))
	copy(pairs, DefaultPairs)
	return &Monitor{
		cache:   cache,
		cfg:     cfg,
		clock:   clock,
		log:     log.With().Str("component", "correlation_monitor").Logger(),
		pairs:   pairs,
		history: make(map[string][]float64),
	}
}

// AddPair registers an additional cross-asset pair.
func (m *Monitor) AddPair(p CrossAssetPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.pairs {
		if existing.Key() == p.Key() {
			return
		}
	}
	m.pairs = append(m.pairs, p)
}

// RemovePair unregisters a pair and drops its history.
func (m *Monitor) RemovePair(crypto, traditional string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := crypto + "/" + traditional
	out := m.pairs[:0]
	for _, p := range m.pairs {
		if p.Key() != key {
			out = append(out, p)
		}
	}
	m.pairs = out
	delete(m.history, key)
}

// Update recomputes all pair snapshots from the cache and refreshes the
// aggregate stress score. It is called between orchestrator stages or from
// the background monitor loop; never concurrently with itself.
func (m *Monitor) Update() []Snapshot {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(m.pairs))
	meanAbs := 0.0
	counted := 0

	for _, pair := range m.pairs {
		snap, ok := m.computePair(pair, now)
		if !ok {
			continue
		}

		key := pair.Key()
		hist := m.history[key]
		snap.Spike = isSpike(snap.Correlation, hist, m.cfg.SpikeThreshold)
		snap.ZScore = correlationZScore(snap.Correlation, hist)

		m.history[key] = appendBounded(hist, snap.Correlation, m.cfg.HistoryLength)

		snapshots = append(snapshots, snap)
		meanAbs += math.Abs(snap.Correlation)
		counted++
	}

	if counted > 0 {
		meanAbs /= float64(counted)
		regimeChanged := crossed(m.meanAbsHist, meanAbs, m.cfg.RegimeThreshold)
		m.meanAbsHist = appendBounded(m.meanAbsHist, meanAbs, m.cfg.HistoryLength)
		if regimeChanged {
			for i := range snapshots {
				snapshots[i].RegimeChange = true
			}
		}
	}

	m.snapshots = snapshots
	m.currentStress = marketStress(snapshots)
	m.lastUpdate = now
	return append([]Snapshot(nil), snapshots...)
}

// computePair builds one snapshot; ok is false when either leg lacks data.
func (m *Monitor) computePair(pair CrossAssetPair, now time.Time) (Snapshot, bool) {
	const maxWindow = 30

	crypto := m.cache.RecentPrices(pair.CryptoSymbol, maxWindow+1)
	trad := m.cache.RecentPrices(pair.TraditionalSymbol, maxWindow+1)
	n := min(len(crypto), len(trad))
	if n < 4 {
		return Snapshot{}, false
	}

	cryptoRet := formulas.Returns(crypto[len(crypto)-n:])
	tradRet := formulas.Returns(trad[len(trad)-n:])

	snap := Snapshot{
		Pair:          pair,
		Correlation:   formulas.Correlation(cryptoRet, tradRet),
		Correlation3D: windowCorrelation(cryptoRet, tradRet, 3),
		Correlation7D: windowCorrelation(cryptoRet, tradRet, 7),
		Correlation30: windowCorrelation(cryptoRet, tradRet, 30),
		SampleSize:    len(cryptoRet),
		Timestamp:     now,
	}
	snap.PValue = fisherPValue(snap.Correlation, snap.SampleSize)
	snap.IsSignificant = snap.PValue < 0.05
	return snap, true
}

// Snapshots returns the latest snapshots by value.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.snapshots...)
}

// MarketStress returns the aggregate stress score in [0, 1].
func (m *Monitor) MarketStress() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentStress
}

// CorrelationFor returns the latest correlation for a crypto/traditional pair.
func (m *Monitor) CorrelationFor(crypto, traditional string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := crypto + "/" + traditional
	for _, s := range m.snapshots {
		if s.Pair.Key() == key {
			return s.Correlation, true
		}
	}
	return 0, false
}

// CurrentRegime derives the market regime from BTC/SPX, BTC/GLD and the
// VIX level: risk-off when BTC/SPX > 0.5 with VIX above 25, risk-on when
// BTC/SPX > 0.3 with VIX below 20, decoupling when both BTC/SPX and
// BTC/GLD are below -0.2.
func (m *Monitor) CurrentRegime() Regime {
	btcSpx, okSpx := m.CorrelationFor("BTC", "SPX")
	btcGld, okGld := m.CorrelationFor("BTC", "GLD")

	vix := 0.0
	if latest, ok := m.cache.Latest("VIX"); ok {
		vix = latest.Close
	}

	switch {
	case okSpx && btcSpx > 0.5 && vix > 25:
		return RegimeRiskOff
	case okSpx && btcSpx > 0.3 && vix > 0 && vix < 20:
		return RegimeRiskOn
	case okSpx && okGld && btcSpx < -0.2 && btcGld < -0.2:
		return RegimeDecoupling
	default:
		return RegimeNeutral
	}
}

// windowCorrelation computes the correlation over the trailing w observations.
func windowCorrelation(x, y []float64, w int) float64 {
	if w > len(x) {
		w = len(x)
	}
	if w < 2 {
		return 0
	}
	return formulas.Correlation(x[len(x)-w:], y[len(y)-w:])
}

// fisherPValue estimates the two-sided p-value of a correlation estimate
// via the Fisher transform.
func fisherPValue(r float64, n int) float64 {
	if n < 4 {
		return 1
	}
	if r >= 1 || r <= -1 {
		return 0
	}
	z := 0.5 * math.Log((1+r)/(1-r)) * math.Sqrt(float64(n-3))
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

// correlationZScore measures the deviation of current from its history.
func correlationZScore(current float64, history []float64) float64 {
	if len(history) < 3 {
		return 0
	}
	sd := formulas.StdDev(history)
	if sd == 0 {
		return 0
	}
	return (current - formulas.Mean(history)) / sd
}

// isSpike reports whether the change from the last observation exceeds
// threshold standard deviations of the history.
func isSpike(current float64, history []float64, threshold float64) bool {
	if len(history) < 3 {
		return false
	}
	sd := formulas.StdDev(history)
	if sd == 0 {
		return false
	}
	delta := math.Abs(current - history[len(history)-1])
	return delta/sd > threshold
}

// crossed reports whether value crosses threshold relative to the last
// recorded mean-|rho| observation, in either direction.
func crossed(history []float64, value, threshold float64) bool {
	if len(history) == 0 {
		return false
	}
	prev := history[len(history)-1]
	return (prev < threshold && value >= threshold) || (prev >= threshold && value < threshold)
}

// marketStress blends the fraction of pairs with active spike or regime
// events with the mean |z-score|, clipped to [0, 1].
func marketStress(snapshots []Snapshot) float64 {
	if len(snapshots) == 0 {
		return 0
	}
	events := 0
	sumAbsZ := 0.0
	for _, s := range snapshots {
		if s.Spike || s.RegimeChange {
			events++
		}
		sumAbsZ += math.Abs(s.ZScore)
	}
	frac := float64(events) / float64(len(snapshots))
	meanZ := sumAbsZ / float64(len(snapshots))

	stress := 0.6*frac + 0.4*math.Min(meanZ/3.0, 1.0)
	return math.Min(math.Max(stress, 0), 1)
}

func appendBounded(xs []float64, v float64, maxLen int) []float64 {
	xs = append(xs, v)
	if maxLen > 0 && len(xs) > maxLen {
		xs = xs[len(xs)-maxLen:]
	}
	return xs
}
