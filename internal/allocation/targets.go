package allocation

import (
	"github.com/aristath/bastion/internal/domain"
)

// ToTargetPositions expands each pair into its long and short target.
// Stop-loss prices sit half the drawdown stop away from the current price,
// on the losing side. Leverage is fixed at 1.0; the short leg mirrors the
// long leg's weight.
func ToTargetPositions(
	pairs []domain.TradingPair,
	prices map[string]float64,
	params domain.StrategyParameters,
) []domain.TargetPosition {
	targets := make([]domain.TargetPosition, 0, len(pairs)*2)
	stopDistance := 0.5 * params.PortfolioDrawdownStop

	for _, pair := range pairs {
		w := pair.AllocationWeight
		concentration := 0.0
		if params.TotalInvestmentRatio > 0 {
			concentration = w / params.TotalInvestmentRatio
		}

		long := domain.TargetPosition{
			Symbol:            pair.LongSymbol,
			TargetWeight:      w,
			Confidence:        pair.PairConfidence,
			ExpectedReturn:    pair.LongExpectedRet,
			IsLong:            true,
			ConcentrationRisk: concentration,
		}
		if p, ok := prices[pair.LongSymbol]; ok && p > 0 {
			long.StopLossPrice = p * (1 - stopDistance)
		}

		short := domain.TargetPosition{
			Symbol:            pair.ShortSymbol,
			TargetWeight:      -w,
			Confidence:        pair.PairConfidence,
			ExpectedReturn:    pair.ShortExpectedRet,
			IsShort:           true,
			ConcentrationRisk: concentration,
		}
		if p, ok := prices[pair.ShortSymbol]; ok && p > 0 {
			short.StopLossPrice = p * (1 + stopDistance)
		}

		targets = append(targets, long, short)
	}
	return targets
}
