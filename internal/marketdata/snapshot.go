package marketdata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/bastion/internal/domain"
)

// snapshotSymbol is the serialized form of one symbol's history.
type snapshotSymbol struct {
	Prices     []float64                `msgpack:"prices"`
	Volumes    []float64                `msgpack:"volumes"`
	Times      []float64                `msgpack:"times"`
	Sentiments []domain.SentimentSample `msgpack:"sentiments"`
	Latest     domain.MarketSample      `msgpack:"latest"`
	HasLatest  bool                     `msgpack:"has_latest"`
}

type snapshot struct {
	Symbols map[string]snapshotSymbol `msgpack:"symbols"`
}

// SaveSnapshot writes the cache contents to path as msgpack, for warm
// restarts. The write goes through a temp file and rename.
func (c *Cache) SaveSnapshot(path string) error {
	c.mu.RLock()
	snap := snapshot{Symbols: make(map[string]snapshotSymbol, len(c.symbols))}
	for sym, h := range c.symbols {
		sentiments := make([]domain.SentimentSample, len(h.sentiments))
		copy(sentiments, h.sentiments)
		snap.Symbols[sym] = snapshotSymbol{
			Prices:     h.prices.Values(),
			Volumes:    h.volumes.Values(),
			Times:      h.times.Values(),
			Sentiments: sentiments,
			Latest:     h.latest,
			HasLatest:  h.hasLatest,
		}
	}
	c.mu.RUnlock()

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal cache snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize cache snapshot: %w", err)
	}

	c.log.Debug().Str("path", path).Int("symbols", len(snap.Symbols)).Msg("Saved cache snapshot")
	return nil
}

// LoadSnapshot restores cache contents from a msgpack snapshot written by
// SaveSnapshot. A missing file is not an error; existing contents are replaced.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal cache snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.symbols = make(map[string]*symbolHistory, len(snap.Symbols))
	for sym, s := range snap.Symbols {
		h := &symbolHistory{
			prices:     NewRing(PriceHistoryCap),
			volumes:    NewRing(VolumeHistoryCap),
			times:      NewRing(PriceHistoryCap),
			sentiments: s.Sentiments,
			latest:     s.Latest,
			hasLatest:  s.HasLatest,
		}
		for _, p := range s.Prices {
			h.prices.Push(p)
		}
		for _, v := range s.Volumes {
			h.volumes.Push(v)
		}
		for _, ts := range s.Times {
			h.times.Push(ts)
		}
		c.symbols[sym] = h
	}

	c.log.Info().Str("path", path).Int("symbols", len(c.symbols)).Msg("Restored cache snapshot")
	return nil
}
