package formulas

import (
	"github.com/markcheno/go-talib"
)

// RSINeutral is returned when there is not enough history to compute RSI.
const RSINeutral = 50.0

// RSI returns the latest Relative Strength Index value over the given
// period, using Wilder's smoothing (via TA-Lib). Fewer than period+1
// prices returns the neutral 50.0.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return RSINeutral
	}
	series := talib.Rsi(prices, period)
	if len(series) == 0 {
		return RSINeutral
	}
	return series[len(series)-1]
}
