package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationRisk(t *testing.T) {
	identity := [][]float64{{1, 0}, {0, 1}}
	assert.Equal(t, 0.0, CorrelationRisk([]float64{0.5, 0.5}, identity))

	perfect := [][]float64{{1, 1}, {1, 1}}
	assert.InDelta(t, 1.0, CorrelationRisk([]float64{0.5, 0.5}, perfect), 1e-9)

	half := [][]float64{{1, 0.5}, {0.5, 1}}
	assert.InDelta(t, 0.5, CorrelationRisk([]float64{0.4, 0.6}, half), 1e-9)

	// Degenerate shapes.
	assert.Equal(t, 0.0, CorrelationRisk([]float64{1}, [][]float64{{1}}))
	assert.Equal(t, 0.0, CorrelationRisk([]float64{0.5, 0.5}, nil))
}

func TestDiversificationRatio(t *testing.T) {
	vols := []float64{0.02, 0.03}
	w := []float64{0.5, 0.5}

	// Perfectly correlated assets offer no diversification.
	perfect := [][]float64{{1, 1}, {1, 1}}
	assert.InDelta(t, 1.0, DiversificationRatio(w, vols, perfect), 1e-9)

	// Uncorrelated assets diversify: ratio above 1.
	identity := [][]float64{{1, 0}, {0, 1}}
	ratio := DiversificationRatio(w, vols, identity)
	assert.Greater(t, ratio, 1.0)
	want := (0.5*0.02 + 0.5*0.03) / math.Sqrt(0.25*0.0004+0.25*0.0009)
	assert.InDelta(t, want, ratio, 1e-9)

	assert.Equal(t, 1.0, DiversificationRatio(nil, nil, nil))
}
