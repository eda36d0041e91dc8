package stress

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ActionType enumerates portfolio protection actions.
type ActionType string

const (
	ReducePositions       ActionType = "reduce_positions"
	IncreaseCash          ActionType = "increase_cash"
	HedgePortfolio        ActionType = "hedge"
	StopTrading           ActionType = "stop_trading"
	RebalanceConservative ActionType = "rebalance_conservative"
	ActivateStopLosses    ActionType = "activate_stop_losses"
	NotifyOperators       ActionType = "notify_operators"
)

// ProtectionAction is one recommended or executed protection step.
type ProtectionAction struct {
	Type                 ActionType    `json:"type"`
	Magnitude            float64       `json:"magnitude"` // [0, 1]
	TargetAssets         []string      `json:"target_assets,omitempty"`
	Timeframe            time.Duration `json:"timeframe"`
	Description          string        `json:"description"`
	RequiresConfirmation bool          `json:"requires_confirmation"`
	Priority             int           `json:"priority"` // 1 highest
}

// ProtectionResult reports what automatic protection did and what is
// queued for human confirmation.
type ProtectionResult struct {
	Triggered          bool               `json:"triggered"`
	ExecutedActions    []ProtectionAction `json:"executed_actions,omitempty"`
	PendingActions     []ProtectionAction `json:"pending_actions,omitempty"`
	PortfolioReduction float64            `json:"portfolio_reduction"`
	Reason             string             `json:"reason"`
	TriggerTime        time.Time          `json:"trigger_time"`
}

// protectionActions derives the ranked action list for a detection result.
func (e *Engine) protectionActions(det DetectionResult) []ProtectionAction {
	var actions []ProtectionAction

	if det.FlashCrashDetected {
		actions = append(actions,
			ProtectionAction{
				Type:        ReducePositions,
				Magnitude:   math.Max(0.2, det.Intensity*0.5),
				TargetAssets: det.AffectedAssets,
				Timeframe:   5 * time.Minute,
				Description: "cut exposure in crashing assets",
				Priority:    1,
			},
			ProtectionAction{
				Type:        ActivateStopLosses,
				Magnitude:   1,
				Timeframe:   time.Minute,
				Description: "arm all standing stop losses",
				Priority:    2,
			})
	}
	if det.LiquidityCrisis {
		actions = append(actions, ProtectionAction{
			Type:        IncreaseCash,
			Magnitude:   0.3,
			Timeframe:   30 * time.Minute,
			Description: "raise cash while exits remain orderly",
			Priority:    2,
		})
	}
	if det.VolatilitySpikeDetected {
		actions = append(actions, ProtectionAction{
			Type:        RebalanceConservative,
			Magnitude:   0.4,
			Timeframe:   time.Hour,
			Description: "shift allocation toward lower-vol pairs",
			Priority:    3,
		})
	}
	if det.CorrelationSpike {
		actions = append(actions, ProtectionAction{
			Type:        HedgePortfolio,
			Magnitude:   0.3,
			Timeframe:   time.Hour,
			Description: "pairs lose neutrality when correlations converge",
			Priority:    3,
		})
	}
	if det.Intensity >= 0.75 {
		actions = append(actions, ProtectionAction{
			Type:        StopTrading,
			Magnitude:   1,
			Timeframe:   time.Minute,
			Description: "halt order generation until stress clears",
			Priority:    1,
		})
	}
	actions = append(actions, ProtectionAction{
		Type:        NotifyOperators,
		Magnitude:   det.Intensity,
		Timeframe:   time.Minute,
		Description: "page the operator channel",
		Priority:    4,
	})

	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Priority < actions[j].Priority })
	return actions
}

// ExecuteAutomaticProtection splits the recommended actions into those
// executed unattended and those queued for confirmation. A single cycle
// may reduce positions by at most MaxAutomaticReduction; larger cuts are
// queued.
func (e *Engine) ExecuteAutomaticProtection(det DetectionResult) ProtectionResult {
	res := ProtectionResult{
		TriggerTime: e.clock.Now(),
		Reason:      fmt.Sprintf("stress intensity %.2f", det.Intensity),
	}
	if !det.StressDetected {
		return res
	}
	res.Triggered = true

	maxCut := e.detectCfg.MaxAutomaticReduction
	for _, a := range det.RecommendedActions {
		if a.Type == ReducePositions && a.Magnitude > maxCut {
			clipped := a
			clipped.Magnitude = maxCut
			clipped.Description = fmt.Sprintf("%s (clipped to %.0f%% automatic cap)", a.Description, maxCut*100)
			res.ExecutedActions = append(res.ExecutedActions, clipped)
			res.PortfolioReduction += maxCut

			a.RequiresConfirmation = true
			a.Magnitude -= maxCut
			a.Description = fmt.Sprintf("%s (remainder beyond automatic cap)", a.Description)
			res.PendingActions = append(res.PendingActions, a)
			continue
		}
		if a.Type == StopTrading {
			// Halting trading always goes through a human.
			a.RequiresConfirmation = true
			res.PendingActions = append(res.PendingActions, a)
			continue
		}
		if a.Type == ReducePositions {
			res.PortfolioReduction += a.Magnitude
		}
		res.ExecutedActions = append(res.ExecutedActions, a)
	}

	e.log.Info().
		Int("executed", len(res.ExecutedActions)).
		Int("pending", len(res.PendingActions)).
		Float64("reduction", res.PortfolioReduction).
		Msg("Automatic protection applied")
	return res
}
