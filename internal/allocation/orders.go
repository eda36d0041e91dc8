package allocation

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/bastion/internal/domain"
)

// DefaultSlippage is the slippage estimate used when no per-symbol
// estimate is supplied.
const DefaultSlippage = 0.001

// IDGen produces order identifiers. Generation order defines the total
// order in which a cycle's orders execute.
type IDGen func() string

// UUIDGen returns random identifiers. The orchestrator substitutes a
// sequential generator so cycles replay deterministically.
func UUIDGen() IDGen {
	return uuid.NewString
}

// OrderPlan is the cycle's order batch with its cost/benefit accounting.
type OrderPlan struct {
	Orders        []domain.TradeOrder `json:"orders"`
	TotalCost     float64             `json:"total_cost"`
	TotalBenefit  float64             `json:"total_benefit"`
	PassesGate    bool                `json:"passes_cost_gate"`
	CashAfterFill float64             `json:"cash_after_fill"`
}

// BuildOrders converts weight deviations into a totally ordered batch of
// trade orders, respecting the cash-buffer invariant: if the hypothetical
// fills would take cash below the buffer, buy orders are scaled down.
func BuildOrders(
	targets []domain.TargetPosition,
	portfolio domain.Portfolio,
	prices map[string]float64,
	slippage map[string]float64,
	params domain.StrategyParameters,
	now time.Time,
	ids IDGen,
) OrderPlan {
	plan := OrderPlan{}
	if ids == nil {
		ids = UUIDGen()
	}
	value := portfolio.TotalValue
	if value <= 0 {
		return plan
	}

	// Deterministic symbol order keeps order IDs reproducible per cycle.
	sorted := make([]domain.TargetPosition, len(targets))
	copy(sorted, targets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	type staged struct {
		order   domain.TradeOrder
		target  domain.TargetPosition
		deltaW  float64
		notional float64
	}
	var stagedOrders []staged

	for _, t := range sorted {
		price, ok := prices[t.Symbol]
		if !ok || price <= 0 {
			continue
		}
		deltaW := t.TargetWeight - portfolio.WeightOf(t.Symbol)
		if math.Abs(deltaW) < params.MinRebalanceThreshold {
			continue
		}

		slip := DefaultSlippage
		if s, ok := slippage[t.Symbol]; ok {
			slip = s
		}

		notional := deltaW * value
		quantity := notional / price
		orderType := domain.OrderMarketBuy
		if quantity < 0 {
			orderType = domain.OrderMarketSell
		}

		cost := math.Abs(notional) * (params.TradingFeeBps/10000 + slip)
		stagedOrders = append(stagedOrders, staged{
			order: domain.TradeOrder{
				ID:               ids(),
				Symbol:           t.Symbol,
				Quantity:         quantity,
				Type:             orderType,
				Status:           domain.OrderPending,
				CreatedAt:        now,
				ExpectedSlippage: slip,
				EstimatedCost:    cost,
				IsRebalance:      true,
			},
			target:   t,
			deltaW:   deltaW,
			notional: notional,
		})
	}

	// Cash-buffer invariant: simulate fills and scale buys if needed.
	buffer := params.CashBufferPct * value
	cashAfter := portfolio.CashBalance
	buyNotional := 0.0
	for _, s := range stagedOrders {
		cashAfter -= s.notional // buys consume cash, sells release it
		cashAfter -= s.order.EstimatedCost
		if s.notional > 0 {
			buyNotional += s.notional
		}
	}
	if cashAfter < buffer && buyNotional > 0 {
		shortfall := buffer - cashAfter
		scale := 1 - shortfall/buyNotional
		if scale < 0 {
			scale = 0
		}
		cashAfter = portfolio.CashBalance
		for i := range stagedOrders {
			if stagedOrders[i].notional > 0 {
				stagedOrders[i].notional *= scale
				stagedOrders[i].order.Quantity *= scale
				stagedOrders[i].order.EstimatedCost *= scale
				stagedOrders[i].deltaW *= scale
			}
			cashAfter -= stagedOrders[i].notional + stagedOrders[i].order.EstimatedCost
		}
	}

	for _, s := range stagedOrders {
		if s.order.Quantity == 0 {
			continue
		}
		plan.Orders = append(plan.Orders, s.order)
		plan.TotalCost += s.order.EstimatedCost
		plan.TotalBenefit += math.Abs(s.deltaW) * s.target.ExpectedReturn * s.target.Confidence * value
	}
	plan.CashAfterFill = cashAfter
	plan.PassesGate = plan.TotalBenefit >= plan.TotalCost+params.MinExpectedBenefitBps/10000*value
	return plan
}

// CloseAllPairs produces risk-control orders flattening every position,
// subject to the cash buffer: selling longs always proceeds (it raises
// cash); buying back a short is skipped when it would push cash below the
// buffer. Longs close first, largest first.
func CloseAllPairs(
	portfolio domain.Portfolio,
	prices map[string]float64,
	params domain.StrategyParameters,
	now time.Time,
	ids IDGen,
) []domain.TradeOrder {
	if ids == nil {
		ids = UUIDGen()
	}
	buffer := params.CashBufferPct * portfolio.TotalValue
	cash := portfolio.CashBalance

	positions := make([]domain.Position, len(portfolio.Positions))
	copy(positions, portfolio.Positions)
	sort.SliceStable(positions, func(i, j int) bool {
		pi, pj := positions[i], positions[j]
		if pi.IsShort != pj.IsShort {
			return !pi.IsShort // longs first
		}
		return pi.MarketValue() > pj.MarketValue()
	})

	var orders []domain.TradeOrder
	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			price = pos.MarkPrice
		}
		if price <= 0 || pos.Quantity == 0 {
			continue
		}

		notional := math.Abs(pos.Quantity) * price
		if pos.IsShort || pos.Quantity < 0 {
			// Buying back consumes cash; respect the buffer.
			if cash-notional < buffer {
				continue
			}
			cash -= notional
			orders = append(orders, domain.TradeOrder{
				ID:            ids(),
				Symbol:        pos.Symbol,
				Quantity:      math.Abs(pos.Quantity),
				Type:          domain.OrderMarketBuy,
				Status:        domain.OrderPending,
				CreatedAt:     now,
				IsRiskControl: true,
			})
			continue
		}

		cash += notional
		orders = append(orders, domain.TradeOrder{
			ID:            ids(),
			Symbol:        pos.Symbol,
			Quantity:      -pos.Quantity,
			Type:          domain.OrderMarketSell,
			Status:        domain.OrderPending,
			CreatedAt:     now,
			IsRiskControl: true,
		})
	}
	return orders
}
