package marketdata

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/domain"
)

// Capacity limits for the per-symbol histories.
const (
	PriceHistoryCap     = 250
	VolumeHistoryCap    = 250
	SentimentHistoryCap = 30

	// MaxSampleAge bounds how long samples survive; the periodic sweep
	// drops symbols whose latest sample is older than this.
	MaxSampleAge = 24 * time.Hour
)

type symbolHistory struct {
	prices     *Ring
	volumes    *Ring
	times      *Ring // unix seconds, parallel to prices
	sentiments []domain.SentimentSample
	latest     domain.MarketSample
	hasLatest  bool
}

// Cache is the bounded per-symbol price/volume/sentiment store. Writes come
// from the single ingestion entry point; engines read copies under RLock.
type Cache struct {
	mu      sync.RWMutex
	symbols map[string]*symbolHistory
	clock   domain.Clock
	log     zerolog.Logger
}

// NewCache creates an empty cache using the given clock for age decisions.
func NewCache(clock domain.Clock, log zerolog.Logger) *Cache {
	return &Cache{
		symbols: make(map[string]*symbolHistory),
		clock:   clock,
		log:     log.With().Str("component", "marketdata_cache").Logger(),
	}
}

func (c *Cache) historyFor(symbol string) *symbolHistory {
	h, ok := c.symbols[symbol]
	if !ok {
		h = &symbolHistory{
			prices:  NewRing(PriceHistoryCap),
			volumes: NewRing(VolumeHistoryCap),
			times:   NewRing(PriceHistoryCap),
		}
		c.symbols[symbol] = h
	}
	return h
}

// InsertMarket appends a market sample to the symbol's history. Samples
// with a timestamp equal to the latest stored one are deduplicated:
// re-inserting the same sample never grows history.
func (c *Cache) InsertMarket(sample domain.MarketSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.historyFor(sample.Symbol)
	if h.hasLatest && !sample.Timestamp.After(h.latest.Timestamp) {
		if sample.Timestamp.Equal(h.latest.Timestamp) {
			return nil // duplicate
		}
		c.log.Warn().
			Str("symbol", sample.Symbol).
			Time("ts", sample.Timestamp).
			Time("latest", h.latest.Timestamp).
			Msg("Dropping out-of-order market sample")
		return nil
	}

	h.prices.Push(sample.Close)
	h.volumes.Push(sample.VolumeFrom + sample.VolumeTo)
	h.times.Push(float64(sample.Timestamp.Unix()))
	h.latest = sample
	h.hasLatest = true
	return nil
}

// PricesWithin returns closes observed within maxAge of the latest sample's
// timestamp, oldest-first. Age here is relative to the data, not the wall
// clock, so replayed history behaves identically.
func (c *Cache) PricesWithin(symbol string, maxAge time.Duration) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.symbols[symbol]
	if !ok || !h.hasLatest {
		return []float64{}
	}

	cutoff := float64(h.latest.Timestamp.Add(-maxAge).Unix())
	prices := h.prices.Values()
	times := h.times.Values()
	out := make([]float64, 0, len(prices))
	for i := range prices {
		if times[i] >= cutoff {
			out = append(out, prices[i])
		}
	}
	return out
}

// InsertSentiment appends a sentiment sample, keeping at most
// SentimentHistoryCap entries per ticker.
func (c *Cache) InsertSentiment(sample domain.SentimentSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.historyFor(sample.Ticker)
	h.sentiments = append(h.sentiments, sample)
	if len(h.sentiments) > SentimentHistoryCap {
		h.sentiments = h.sentiments[len(h.sentiments)-SentimentHistoryCap:]
	}
	return nil
}

// RecentPrices returns up to n most recent closes for the symbol, oldest-first.
func (c *Cache) RecentPrices(symbol string, n int) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.symbols[symbol]
	if !ok {
		return []float64{}
	}
	return h.prices.Tail(n)
}

// RecentVolumes returns up to n most recent combined volumes, oldest-first.
func (c *Cache) RecentVolumes(symbol string, n int) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.symbols[symbol]
	if !ok {
		return []float64{}
	}
	return h.volumes.Tail(n)
}

// RecentSentiments returns up to n most recent sentiment samples, oldest-first.
func (c *Cache) RecentSentiments(symbol string, n int) []domain.SentimentSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.symbols[symbol]
	if !ok || n <= 0 {
		return nil
	}
	s := h.sentiments
	if n < len(s) {
		s = s[len(s)-n:]
	}
	out := make([]domain.SentimentSample, len(s))
	copy(out, s)
	return out
}

// Latest returns the most recent market sample for the symbol.
func (c *Cache) Latest(symbol string) (domain.MarketSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.symbols[symbol]
	if !ok || !h.hasLatest {
		return domain.MarketSample{}, false
	}
	return h.latest, true
}

// HasRecent reports whether the symbol's latest sample is within maxAge of
// the current clock time.
func (c *Cache) HasRecent(symbol string, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.symbols[symbol]
	if !ok || !h.hasLatest {
		return false
	}
	return c.clock.Now().Sub(h.latest.Timestamp) <= maxAge
}

// Symbols returns all symbols currently held.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}

// Sweep drops symbols whose latest sample is older than MaxSampleAge.
// Returns the number of symbols dropped. Intended to run periodically.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for sym, h := range c.symbols {
		if !h.hasLatest || now.Sub(h.latest.Timestamp) > MaxSampleAge {
			delete(c.symbols, sym)
			dropped++
		}
	}
	if dropped > 0 {
		c.log.Info().Int("dropped", dropped).Msg("Swept stale symbols from cache")
	}
	return dropped
}
