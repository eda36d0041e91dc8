package risk

import (
	"fmt"
	"math"

	"github.com/aristath/bastion/internal/domain"
)

// validateResult applies the TRS limit checks to a freshly computed result.
// Exceeding the soft calculation budget is a warning, not an invalidation.
func (c *Calculator) validateResult(res *Result) {
	res.IsValid = true

	if res.VaRPct < 0 || math.IsNaN(res.VaRPct) || math.IsInf(res.VaRPct, 0) {
		res.IsValid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("var_pct %v is not a valid loss fraction", res.VaRPct))
		return
	}

	if limit, ok := c.limitFor(res.Confidence, res.Horizon); ok && res.VaRPct > limit {
		res.IsValid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("var_pct %.4f exceeds TRS limit %.4f", res.VaRPct, limit))
	}

	if res.VaRPct > 0 && res.CVaRPct > res.VaRPct*c.trs.CVaRLimitMultiple {
		res.Warnings = append(res.Warnings, fmt.Sprintf("cvar %.4f above %.1fx var", res.CVaRPct, c.trs.CVaRLimitMultiple))
	}

	if c.trs.MaxCalculationTime > 0 && res.Duration > c.trs.MaxCalculationTime {
		res.Warnings = append(res.Warnings, fmt.Sprintf("calculation took %s, budget %s", res.Duration, c.trs.MaxCalculationTime))
	}
}

// limitFor maps a confidence/horizon combination to its TRS ceiling.
func (c *Calculator) limitFor(confidence ConfidenceLevel, horizon Horizon) (float64, bool) {
	switch {
	case confidence == Confidence95 && horizon == HorizonDaily:
		return c.trs.MaxDailyVaR95, true
	case confidence == Confidence99 && horizon == HorizonDaily:
		return c.trs.MaxDailyVaR99, true
	case confidence == Confidence95 && horizon == HorizonWeekly:
		return c.trs.MaxWeeklyVaR95, true
	case confidence == Confidence95 && horizon == HorizonMonthly:
		return c.trs.MaxMonthlyVaR95, true
	default:
		return 0, false
	}
}

// CheckRiskLimits converts a result into the alerts it implies: limit
// breaches, near-limit warnings, and excessive correlation risk.
func (c *Calculator) CheckRiskLimits(res Result) []domain.Alert {
	var alerts []domain.Alert
	now := c.clock.Now()

	if limit, ok := c.limitFor(res.Confidence, res.Horizon); ok && limit > 0 {
		switch {
		case res.VaRPct > limit:
			alerts = append(alerts, domain.Alert{
				Level:     domain.AlertCritical,
				Type:      domain.AlertVaRLimitBreach,
				Message:   fmt.Sprintf("VaR %.2f%% breaches the %.2f%% limit", res.VaRPct*100, limit*100),
				Severity:  math.Min(res.VaRPct/limit-1, 1),
				Timestamp: now,
				RecommendedActions: []string{
					"reduce position sizes",
					"increase cash buffer",
				},
			})
		case res.VaRPct > limit*c.trs.VaRBreachThreshold:
			alerts = append(alerts, domain.Alert{
				Level:     domain.AlertWarning,
				Type:      domain.AlertVaRLimitBreach,
				Message:   fmt.Sprintf("VaR %.2f%% above %.0f%% of the %.2f%% limit", res.VaRPct*100, c.trs.VaRBreachThreshold*100, limit*100),
				Severity:  res.VaRPct / limit,
				Timestamp: now,
			})
		}
	}

	if res.CorrelationRisk > c.trs.CorrelationRiskLimit {
		alerts = append(alerts, domain.Alert{
			Level:     domain.AlertWarning,
			Type:      domain.AlertCorrelationSpike,
			Message:   fmt.Sprintf("correlation risk %.2f above limit %.2f", res.CorrelationRisk, c.trs.CorrelationRiskLimit),
			Severity:  math.Min(res.CorrelationRisk/c.trs.CorrelationRiskLimit-1, 1),
			Timestamp: now,
			RecommendedActions: []string{
				"diversify across less correlated assets",
			},
		})
	}

	return alerts
}
