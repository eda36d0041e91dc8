package exclusion

import "strings"

// Spread and exchange-count estimates are volume-tier proxies: the core
// carries no order book. Documented tiers, not measurements.

// EstimateSpread returns the bid/ask spread estimate for an average daily
// volume: 0.1% above 100M USD, 0.2% above 50M, 0.5% otherwise.
func EstimateSpread(avgVolumeUSD float64) float64 {
	switch {
	case avgVolumeUSD > 100e6:
		return 0.001
	case avgVolumeUSD > 50e6:
		return 0.002
	default:
		return 0.005
	}
}

// EstimateExchangeCount returns the listing-count estimate for an average
// daily volume, tiered like the spread proxy.
func EstimateExchangeCount(avgVolumeUSD float64) int {
	switch {
	case avgVolumeUSD > 100e6:
		return 5
	case avgVolumeUSD > 50e6:
		return 3
	default:
		return 1
	}
}

// stablecoins recognized by the volatility fallback.
var stablecoins = map[string]bool{
	"USDT": true, "USDC": true, "DAI": true, "BUSD": true, "TUSD": true, "USDP": true,
}

// FallbackAnnualizedVol returns the annualized volatility assumed for a
// symbol with insufficient history: 0.6 for BTC, 0.8 for ETH, 0.05 for
// stablecoins, 0.9 otherwise.
func FallbackAnnualizedVol(symbol string) float64 {
	switch {
	case symbol == "BTC":
		return 0.6
	case symbol == "ETH":
		return 0.8
	case stablecoins[strings.ToUpper(symbol)]:
		return 0.05
	default:
		return 0.9
	}
}
