package formulas

import (
	"errors"
	"math"
	"testing"
)

func TestCovarianceMatrix(t *testing.T) {
	returns := map[string][]float64{
		"BTC": {0.01, -0.02, 0.03, -0.01},
		"ETH": {0.02, -0.01, 0.02, -0.02},
	}
	cov, err := CovarianceMatrix(returns, []string{"BTC", "ETH"})
	if err != nil {
		t.Fatalf("CovarianceMatrix() error = %v", err)
	}

	if math.Abs(cov[0][1]-cov[1][0]) > 1e-12 {
		t.Errorf("covariance matrix not symmetric: %v vs %v", cov[0][1], cov[1][0])
	}
	if math.Abs(cov[0][0]-Variance(returns["BTC"])) > 1e-12 {
		t.Errorf("diagonal = %v, want plug-in variance %v", cov[0][0], Variance(returns["BTC"]))
	}
}

func TestCovarianceMatrixErrors(t *testing.T) {
	if _, err := CovarianceMatrix(nil, nil); err == nil {
		t.Error("expected error for empty symbols")
	}
	if _, err := CovarianceMatrix(map[string][]float64{"BTC": {0.01}}, []string{"BTC", "ETH"}); err == nil {
		t.Error("expected error for missing symbol")
	}
	returns := map[string][]float64{
		"BTC": {0.01, 0.02},
		"ETH": {0.01},
	}
	if _, err := CovarianceMatrix(returns, []string{"BTC", "ETH"}); err == nil {
		t.Error("expected error for inconsistent lengths")
	}
}

func TestCholeskyRoundTrip(t *testing.T) {
	cov := [][]float64{
		{0.0004, 0.00012},
		{0.00012, 0.0009},
	}
	l, err := Cholesky(cov)
	if err != nil {
		t.Fatalf("Cholesky() error = %v", err)
	}

	// Reconstruct L * L^T and compare.
	n := len(cov)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += l[i][k] * l[j][k]
			}
			if math.Abs(sum-cov[i][j]) > 1e-12 {
				t.Errorf("L*L^T[%d][%d] = %v, want %v", i, j, sum, cov[i][j])
			}
		}
	}
}

func TestCholeskyNotPositiveDefinite(t *testing.T) {
	// Perfectly correlated assets: singular matrix.
	cov := [][]float64{
		{0.0004, 0.0004},
		{0.0004, 0.0004},
	}
	_, err := Cholesky(cov)
	if !errors.Is(err, ErrNotPositiveDefinite) {
		t.Fatalf("Cholesky() error = %v, want ErrNotPositiveDefinite", err)
	}

	// Regularizing the diagonal makes it factorizable.
	fixed := RegularizeDiagonal(cov, 1e-8)
	if _, err := Cholesky(fixed); err != nil {
		t.Errorf("Cholesky(regularized) error = %v", err)
	}
}

func TestPortfolioVariance(t *testing.T) {
	// Worked example: w=[0.4,0.6], sigma=[0.02,0.03], rho=0.5.
	cov := [][]float64{
		{0.0004, 0.0003},
		{0.0003, 0.0009},
	}
	v := PortfolioVariance([]float64{0.4, 0.6}, cov)
	if math.Abs(v-0.000532) > 1e-9 {
		t.Errorf("PortfolioVariance = %v, want 0.000532", v)
	}
}

func TestCorrelationFromCovariance(t *testing.T) {
	cov := [][]float64{
		{0.0004, 0.0003},
		{0.0003, 0.0009},
	}
	corr := CorrelationFromCovariance(cov)
	if math.Abs(corr[0][1]-0.5) > 1e-9 {
		t.Errorf("correlation = %v, want 0.5", corr[0][1])
	}
	if corr[0][0] != 1 || corr[1][1] != 1 {
		t.Errorf("diagonal must be 1, got %v, %v", corr[0][0], corr[1][1])
	}
}
