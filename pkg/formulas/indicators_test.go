package formulas

import "testing"

func TestRSIInsufficientData(t *testing.T) {
	if got := RSI([]float64{100, 101}, 14); got != RSINeutral {
		t.Errorf("RSI(short) = %v, want %v", got, RSINeutral)
	}
	if got := RSI(nil, 14); got != RSINeutral {
		t.Errorf("RSI(nil) = %v, want %v", got, RSINeutral)
	}
}

func TestRSITrendingDirections(t *testing.T) {
	up := make([]float64, 30)
	down := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 130 - float64(i)
	}

	if got := RSI(up, 14); got < 70 {
		t.Errorf("RSI(all up) = %v, want >= 70", got)
	}
	if got := RSI(down, 14); got > 30 {
		t.Errorf("RSI(all down) = %v, want <= 30", got)
	}
}
