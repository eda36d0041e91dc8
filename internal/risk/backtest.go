package risk

import (
	"fmt"
	"math"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/pkg/formulas"
)

// chiSquared95Critical is the 95% critical value of chi-squared with 1 dof,
// shared by the Kupiec and Christoffersen tests.
const chiSquared95Critical = 3.841

// BacktestResult summarizes a VaR backtest over paired
// (realized return, VaR estimate) observations.
type BacktestResult struct {
	Methodology       Methodology     `json:"methodology"`
	Confidence        ConfidenceLevel `json:"confidence"`
	Observations      int             `json:"observations"`
	Breaches          int             `json:"breaches"`
	BreachRate        float64         `json:"breach_rate"`
	ExpectedRate      float64         `json:"expected_rate"`
	KupiecStatistic   float64         `json:"kupiec_statistic"`
	KupiecPValue      float64         `json:"kupiec_p_value"`
	KupiecPassed      bool            `json:"kupiec_test_passed"`
	ChristoffersenLR  float64         `json:"christoffersen_statistic"`
	ChristoffersenP   float64         `json:"christoffersen_p_value"`
	IndependencePass  bool            `json:"christoffersen_test_passed"`
	MeanAbsoluteError float64         `json:"mean_absolute_error"`
	RMSE              float64         `json:"root_mean_square_error"`
	AverageAccuracy   float64         `json:"average_var_accuracy"`
	BreachFlags       []bool          `json:"-"`
}

// Backtest evaluates a VaR estimate series against realized returns.
// A breach is a realized loss exceeding the VaR estimate for that period.
func Backtest(
	methodology Methodology,
	confidence ConfidenceLevel,
	realizedReturns []float64,
	varEstimates []float64,
) (BacktestResult, error) {
	if len(realizedReturns) == 0 || len(realizedReturns) != len(varEstimates) {
		return BacktestResult{}, fmt.Errorf("%w: %d returns vs %d estimates",
			domain.ErrInvalidInput, len(realizedReturns), len(varEstimates))
	}

	res := BacktestResult{
		Methodology:  methodology,
		Confidence:   confidence,
		Observations: len(realizedReturns),
		ExpectedRate: 1 - confidence.Alpha(),
		BreachFlags:  make([]bool, len(realizedReturns)),
	}

	var absErrSum, sqErrSum, accSum float64
	for i, ret := range realizedReturns {
		loss := -ret
		breach := loss > varEstimates[i]
		res.BreachFlags[i] = breach
		if breach {
			res.Breaches++
		}

		err := math.Abs(loss - varEstimates[i])
		absErrSum += err
		sqErrSum += err * err
		if varEstimates[i] > 0 {
			accSum += math.Max(0, 1-err/varEstimates[i])
		}
	}
	n := float64(res.Observations)
	res.BreachRate = float64(res.Breaches) / n
	res.MeanAbsoluteError = absErrSum / n
	res.RMSE = math.Sqrt(sqErrSum / n)
	res.AverageAccuracy = accSum / n

	var err error
	res.KupiecStatistic, res.KupiecPValue, res.KupiecPassed, err = KupiecPOF(res.Breaches, res.Observations, res.ExpectedRate)
	if err != nil {
		return res, err
	}
	res.ChristoffersenLR, res.ChristoffersenP, res.IndependencePass = ChristoffersenIndependence(res.BreachFlags)
	return res, nil
}

// KupiecPOF is the proportion-of-failures likelihood ratio test of
// unconditional coverage:
//
//	LR = 2 [ n1 ln(p_hat/p) + n0 ln((1-p_hat)/(1-p)) ]
//
// tested against the chi-squared(1) 95% critical value. The p-value uses
// the exact chi-squared survival function.
func KupiecPOF(breaches, observations int, expectedRate float64) (statistic, pValue float64, passed bool, err error) {
	if observations <= 0 {
		return 0, 0, false, fmt.Errorf("%w: no observations", domain.ErrInvalidInput)
	}
	if expectedRate <= 0 || expectedRate >= 1 {
		return 0, 0, false, fmt.Errorf("%w: expected rate %v", domain.ErrInvalidInput, expectedRate)
	}

	n1 := float64(breaches)
	n0 := float64(observations) - n1
	pHat := n1 / float64(observations)

	// Degenerate edges: all or no breaches make one log term infinite in
	// the observed likelihood; the LR reduces to the null term alone.
	switch {
	case breaches == 0:
		statistic = -2 * n0 * math.Log(1-expectedRate)
	case breaches == observations:
		statistic = -2 * n1 * math.Log(expectedRate)
	default:
		statistic = 2 * (n1*math.Log(pHat/expectedRate) + n0*math.Log((1-pHat)/(1-expectedRate)))
	}

	if math.IsNaN(statistic) || math.IsInf(statistic, 0) {
		return 0, 0, false, fmt.Errorf("%w: kupiec statistic %v", domain.ErrNumericFailure, statistic)
	}

	pValue = formulas.ChiSquaredSurvival(statistic, 1)
	passed = statistic <= chiSquared95Critical
	return statistic, pValue, passed, nil
}

// ChristoffersenIndependence tests whether breaches cluster in time using
// the first-order Markov transition counts n00, n01, n10, n11.
func ChristoffersenIndependence(breaches []bool) (statistic, pValue float64, passed bool) {
	if len(breaches) < 2 {
		return 0, 1, true
	}

	var n00, n01, n10, n11 float64
	for i := 1; i < len(breaches); i++ {
		switch {
		case !breaches[i-1] && !breaches[i]:
			n00++
		case !breaches[i-1] && breaches[i]:
			n01++
		case breaches[i-1] && !breaches[i]:
			n10++
		default:
			n11++
		}
	}

	pi01 := safeRatio(n01, n00+n01)
	pi11 := safeRatio(n11, n10+n11)
	pi := safeRatio(n01+n11, n00+n01+n10+n11)

	// Without consecutive breaches the independence hypothesis cannot be
	// rejected.
	if n11 == 0 || pi == 0 || pi == 1 || (pi01 == pi11) {
		return 0, 1, true
	}

	logL0 := (n00+n10)*math.Log(1-pi) + (n01+n11)*math.Log(pi)
	logL1 := 0.0
	if pi01 > 0 && pi01 < 1 {
		logL1 += n00*math.Log(1-pi01) + n01*math.Log(pi01)
	}
	if pi11 > 0 && pi11 < 1 {
		logL1 += n10*math.Log(1-pi11) + n11*math.Log(pi11)
	}

	statistic = 2 * (logL1 - logL0)
	if statistic < 0 || math.IsNaN(statistic) {
		statistic = 0
	}
	pValue = formulas.ChiSquaredSurvival(statistic, 1)
	passed = statistic <= chiSquared95Critical
	return statistic, pValue, passed
}

// ModelValidation is the outcome of validating one methodology against its
// own backtest.
type ModelValidation struct {
	Methodology Methodology    `json:"methodology"`
	IsValid     bool           `json:"is_valid"`
	Accuracy    float64        `json:"accuracy"`
	Warnings    []string       `json:"warnings,omitempty"`
	Backtest    BacktestResult `json:"backtest"`
}

// ValidateModels backtests each methodology against the portfolio's
// historical returns using that methodology's own VaR estimates, and
// checks the accuracy floor.
func (c *Calculator) ValidateModels(
	assets []string,
	weights []float64,
	portfolioValue float64,
	confidence ConfidenceLevel,
) []ModelValidation {
	var out []ModelValidation

	returns, missing := c.assetReturns(assets, c.histCfg.LookbackDays)
	if len(missing) > 0 {
		for _, m := range Methodologies {
			out = append(out, ModelValidation{
				Methodology: m,
				Warnings:    []string{fmt.Sprintf("no return history for %v", missing)},
			})
		}
		return out
	}
	port := portfolioReturns(assets, weights, returns)

	for _, m := range Methodologies {
		res, err := c.Calculate(assets, weights, portfolioValue, m, confidence, HorizonDaily)
		if err != nil {
			out = append(out, ModelValidation{
				Methodology: m,
				Warnings:    []string{err.Error()},
			})
			continue
		}

		estimates := make([]float64, len(port))
		for i := range estimates {
			estimates[i] = res.VaRPct
		}
		bt, err := Backtest(m, confidence, port, estimates)
		if err != nil {
			out = append(out, ModelValidation{
				Methodology: m,
				Warnings:    []string{err.Error()},
			})
			continue
		}

		v := ModelValidation{
			Methodology: m,
			Accuracy:    bt.AverageAccuracy,
			Backtest:    bt,
			IsValid:     bt.KupiecPassed && bt.IndependencePass,
		}
		if bt.AverageAccuracy < c.trs.MinBacktestAccuracy {
			v.Warnings = append(v.Warnings, fmt.Sprintf("accuracy %.3f below floor %.2f", bt.AverageAccuracy, c.trs.MinBacktestAccuracy))
		}
		out = append(out, v)
	}
	return out
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
