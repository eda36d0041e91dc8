package orchestrator

import (
	"math"

	"github.com/aristath/bastion/pkg/formulas"
)

// TradingReport is the per-cycle performance summary.
type TradingReport struct {
	PortfolioValue  float64 `json:"portfolio_value"`
	CashBalance     float64 `json:"cash_balance"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	LongExposure    float64 `json:"long_exposure"`
	ShortExposure   float64 `json:"short_exposure"`
	Turnover        float64 `json:"turnover"`
	ActivePositions int     `json:"active_positions"`
}

// TradingReport summarizes the current portfolio: exposures, drawdowns,
// annualized Sharpe over the recorded value path, and last-cycle turnover.
func (e *Engine) TradingReport() TradingReport {
	long, short := e.exposures()
	report := TradingReport{
		PortfolioValue:  e.portfolio.TotalValue,
		CashBalance:     e.portfolio.CashBalance,
		CurrentDrawdown: e.portfolio.CurrentDrawdown(),
		MaxDrawdown:     formulas.MaxDrawdown(e.valueHistory),
		LongExposure:    long,
		ShortExposure:   short,
		ActivePositions: len(e.portfolio.Positions),
	}

	if len(e.valueHistory) >= 3 {
		returns := formulas.Returns(e.valueHistory)
		sd := formulas.StdDev(returns)
		if sd > 0 {
			report.SharpeRatio = formulas.Mean(returns) / sd * math.Sqrt(365)
		}
	}

	if e.portfolio.TotalValue > 0 {
		notional := 0.0
		for _, o := range e.lastOrders {
			if o.FillPrice > 0 {
				notional += math.Abs(o.Quantity) * o.FillPrice
			}
		}
		report.Turnover = notional / e.portfolio.TotalValue
	}
	return report
}
