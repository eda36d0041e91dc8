package domain

import (
	"fmt"
	"math"
	"time"
)

// StrategyParameters is the validated strategy configuration. The zero
// value is not usable; construct with DefaultStrategyParameters and
// override, then Validate before use.
type StrategyParameters struct {
	MaxPairsToCreate        int           `json:"max_pairs_to_create"`        // [1, 50]
	TotalInvestmentRatio    float64       `json:"total_investment_ratio"`     // (0.5, 0.95]
	CashBufferPct           float64       `json:"cash_buffer_pct"`            // [0.05, 0.30]
	MinConfidenceThreshold  float64       `json:"min_confidence_threshold"`   // [0, 1]
	MaxSinglePairAllocation float64       `json:"max_single_pair_allocation"` // (0, 0.5]
	MinRebalanceThreshold   float64       `json:"min_rebalance_threshold"`
	TradingFeeBps           float64       `json:"estimated_trading_fee_bps"`
	MinExpectedBenefitBps   float64       `json:"min_expected_benefit_bps"`
	PortfolioDrawdownStop   float64       `json:"portfolio_drawdown_stop"` // (0, 0.5]
	RebalanceInterval       time.Duration `json:"rebalance_interval"`
}

// DefaultStrategyParameters returns the conservative defaults the system
// ships with. CashBufferPct of 0.10 with 0.90 deployed satisfies the sum
// invariant exactly.
func DefaultStrategyParameters() StrategyParameters {
	return StrategyParameters{
		MaxPairsToCreate:        10,
		TotalInvestmentRatio:    0.90,
		CashBufferPct:           0.10,
		MinConfidenceThreshold:  0.30,
		MaxSinglePairAllocation: 0.12,
		MinRebalanceThreshold:   0.01,
		TradingFeeBps:           10,
		MinExpectedBenefitBps:   5,
		PortfolioDrawdownStop:   0.15,
		RebalanceInterval:       time.Hour,
	}
}

// Validate checks every parameter range and the investment/cash-buffer sum
// invariant. Rejected configurations are never applied.
func (p StrategyParameters) Validate() error {
	if p.MaxPairsToCreate < 1 || p.MaxPairsToCreate > 50 {
		return fmt.Errorf("%w: max_pairs_to_create %d outside [1, 50]", ErrInvalidInput, p.MaxPairsToCreate)
	}
	if p.TotalInvestmentRatio <= 0.5 || p.TotalInvestmentRatio > 0.95 {
		return fmt.Errorf("%w: total_investment_ratio %v outside (0.5, 0.95]", ErrInvalidInput, p.TotalInvestmentRatio)
	}
	if p.CashBufferPct < 0.05 || p.CashBufferPct > 0.30 {
		return fmt.Errorf("%w: cash_buffer_pct %v outside [0.05, 0.30]", ErrInvalidInput, p.CashBufferPct)
	}
	if p.MinConfidenceThreshold < 0 || p.MinConfidenceThreshold > 1 {
		return fmt.Errorf("%w: min_confidence_threshold %v outside [0, 1]", ErrInvalidInput, p.MinConfidenceThreshold)
	}
	if p.MaxSinglePairAllocation <= 0 || p.MaxSinglePairAllocation > 0.5 {
		return fmt.Errorf("%w: max_single_pair_allocation %v outside (0, 0.5]", ErrInvalidInput, p.MaxSinglePairAllocation)
	}
	if p.MinRebalanceThreshold < 0 {
		return fmt.Errorf("%w: min_rebalance_threshold %v negative", ErrInvalidInput, p.MinRebalanceThreshold)
	}
	if p.TradingFeeBps < 0 || p.MinExpectedBenefitBps < 0 {
		return fmt.Errorf("%w: fee/benefit bps must be non-negative", ErrInvalidInput)
	}
	if p.PortfolioDrawdownStop <= 0 || p.PortfolioDrawdownStop > 0.5 {
		return fmt.Errorf("%w: portfolio_drawdown_stop %v outside (0, 0.5]", ErrInvalidInput, p.PortfolioDrawdownStop)
	}
	if p.RebalanceInterval < 0 {
		return fmt.Errorf("%w: rebalance_interval negative", ErrInvalidInput)
	}
	if math.Abs(p.TotalInvestmentRatio+p.CashBufferPct-1.0) > 0.05 {
		return fmt.Errorf("%w: total_investment_ratio + cash_buffer_pct = %v, must be within 0.05 of 1.0",
			ErrInvalidInput, p.TotalInvestmentRatio+p.CashBufferPct)
	}
	return nil
}
