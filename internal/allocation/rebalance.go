package allocation

import (
	"math"
	"time"

	"github.com/aristath/bastion/internal/domain"
)

// RebalanceDecision explains whether and why a rebalance should run.
type RebalanceDecision struct {
	Rebalance bool   `json:"rebalance"`
	Emergency bool   `json:"emergency"`
	Reason    string `json:"reason"`
}

// ShouldRebalance applies the rebalancing rules: the interval must have
// elapsed and at least one weight deviation must clear the threshold, or
// the drawdown must have reached 80% of the stop (emergency).
func ShouldRebalance(
	portfolio domain.Portfolio,
	targets []domain.TargetPosition,
	params domain.StrategyParameters,
	now time.Time,
) RebalanceDecision {
	if portfolio.CurrentDrawdown() >= 0.8*params.PortfolioDrawdownStop {
		return RebalanceDecision{
			Rebalance: true,
			Emergency: true,
			Reason:    "drawdown approaching the portfolio stop",
		}
	}

	if !portfolio.LastRebalance.IsZero() && now.Sub(portfolio.LastRebalance) < params.RebalanceInterval {
		return RebalanceDecision{Reason: "rebalance interval not elapsed"}
	}

	for _, t := range targets {
		deviation := math.Abs(t.TargetWeight - portfolio.WeightOf(t.Symbol))
		if deviation >= params.MinRebalanceThreshold {
			return RebalanceDecision{
				Rebalance: true,
				Reason:    "weight deviation above threshold",
			}
		}
	}
	return RebalanceDecision{Reason: "no deviation above threshold"}
}
