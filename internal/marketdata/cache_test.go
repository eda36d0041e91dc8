package marketdata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bastion/internal/domain"
)

func testClock(t time.Time) domain.FixedClock {
	return domain.FixedClock{T: t}
}

func sampleAt(symbol string, ts time.Time, close float64) domain.MarketSample {
	return domain.MarketSample{
		Symbol:     symbol,
		Timestamp:  ts,
		Close:      close,
		VolumeFrom: 1000,
		VolumeTo:   900,
	}
}

func TestInsertMarketAndQuery(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(testClock(now), zerolog.Nop())

	for i := 0; i < 5; i++ {
		ts := now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, cache.InsertMarket(sampleAt("BTC", ts, 100+float64(i))))
	}

	prices := cache.RecentPrices("BTC", 3)
	assert.Equal(t, []float64{102, 103, 104}, prices)

	latest, ok := cache.Latest("BTC")
	require.True(t, ok)
	assert.Equal(t, 104.0, latest.Close)

	assert.Empty(t, cache.RecentPrices("UNKNOWN", 3))
}

func TestInsertMarketDeduplicatesTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(testClock(now), zerolog.Nop())

	s := sampleAt("BTC", now, 100)
	require.NoError(t, cache.InsertMarket(s))
	require.NoError(t, cache.InsertMarket(s))

	assert.Len(t, cache.RecentPrices("BTC", 10), 1, "duplicate timestamp must not grow history")
}

func TestInsertMarketRejectsInvalid(t *testing.T) {
	cache := NewCache(testClock(time.Now()), zerolog.Nop())
	err := cache.InsertMarket(domain.MarketSample{Symbol: "BTC", Close: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRingBounds(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCache(testClock(now), zerolog.Nop())

	for i := 0; i < PriceHistoryCap+50; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		require.NoError(t, cache.InsertMarket(sampleAt("BTC", ts, float64(i))))
	}

	prices := cache.RecentPrices("BTC", PriceHistoryCap*2)
	assert.Len(t, prices, PriceHistoryCap)
	// Oldest surviving sample is the 50th.
	assert.Equal(t, 50.0, prices[0])
}

func TestSentimentBounds(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCache(testClock(now), zerolog.Nop())

	for i := 0; i < SentimentHistoryCap+10; i++ {
		require.NoError(t, cache.InsertSentiment(domain.SentimentSample{
			Ticker:       "BTC",
			Source:       "news",
			Date:         now.Add(time.Duration(i) * time.Hour),
			ArticleCount: i,
			AvgSentiment: 0.1,
		}))
	}

	sents := cache.RecentSentiments("BTC", SentimentHistoryCap*2)
	assert.Len(t, sents, SentimentHistoryCap)
	assert.Equal(t, 10, sents[0].ArticleCount)
}

func TestHasRecent(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(testClock(now), zerolog.Nop())

	require.NoError(t, cache.InsertMarket(sampleAt("BTC", now.Add(-30*time.Minute), 100)))

	assert.True(t, cache.HasRecent("BTC", time.Hour))
	assert.False(t, cache.HasRecent("BTC", 10*time.Minute))
	assert.False(t, cache.HasRecent("ETH", time.Hour))
}

func TestSweepDropsStaleSymbols(t *testing.T) {
	now := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	cache := NewCache(testClock(now), zerolog.Nop())

	require.NoError(t, cache.InsertMarket(sampleAt("STALE", now.Add(-25*time.Hour), 100)))
	require.NoError(t, cache.InsertMarket(sampleAt("FRESH", now.Add(-time.Hour), 100)))

	dropped := cache.Sweep()
	assert.Equal(t, 1, dropped)
	assert.Empty(t, cache.RecentPrices("STALE", 1))
	assert.Len(t, cache.RecentPrices("FRESH", 1), 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(testClock(now), zerolog.Nop())

	for i := 0; i < 10; i++ {
		ts := now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, cache.InsertMarket(sampleAt("BTC", ts, 100+float64(i))))
	}
	require.NoError(t, cache.InsertSentiment(domain.SentimentSample{
		Ticker: "BTC", Source: "news", Date: now, ArticleCount: 7, AvgSentiment: -0.2,
	}))

	path := filepath.Join(t.TempDir(), "cache.msgpack")
	require.NoError(t, cache.SaveSnapshot(path))

	restored := NewCache(testClock(now), zerolog.Nop())
	require.NoError(t, restored.LoadSnapshot(path))

	assert.Equal(t, cache.RecentPrices("BTC", 10), restored.RecentPrices("BTC", 10))

	original := cache.RecentSentiments("BTC", 5)
	decoded := restored.RecentSentiments("BTC", 5)
	require.Len(t, decoded, len(original))
	for i := range original {
		assert.Equal(t, original[i].ArticleCount, decoded[i].ArticleCount)
		assert.Equal(t, original[i].AvgSentiment, decoded[i].AvgSentiment)
		assert.True(t, original[i].Date.Equal(decoded[i].Date), "sentiment timestamps must survive the round trip")
	}

	latest, ok := restored.Latest("BTC")
	require.True(t, ok)
	assert.Equal(t, 109.0, latest.Close)
	orig, _ := cache.Latest("BTC")
	assert.True(t, orig.Timestamp.Equal(latest.Timestamp))
}

func TestLoadSnapshotMissingFileIsNoop(t *testing.T) {
	cache := NewCache(testClock(time.Now()), zerolog.Nop())
	assert.NoError(t, cache.LoadSnapshot(filepath.Join(t.TempDir(), "absent.msgpack")))
}

func TestRingTail(t *testing.T) {
	r := NewRing(4)
	for i := 1; i <= 6; i++ {
		r.Push(float64(i))
	}
	assert.Equal(t, []float64{3, 4, 5, 6}, r.Values())
	assert.Equal(t, []float64{5, 6}, r.Tail(2))

	last, ok := r.Last()
	assert.True(t, ok)
	assert.Equal(t, 6.0, last)
}
