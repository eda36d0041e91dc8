package allocation

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/bastion/internal/domain"
)

// Executor simulates order execution: market orders fill at the current
// price adjusted for slippage and walk PENDING -> SUBMITTED -> FILLED.
// A circuit breaker trips after repeated rejections so a dead venue stops
// absorbing the batch.
type Executor struct {
	clock   domain.Clock
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker
}

// NewExecutor creates a simulated executor.
func NewExecutor(clock domain.Clock, log zerolog.Logger) *Executor {
	componentLog := log.With().Str("component", "order_executor").Logger()
	settings := gobreaker.Settings{
		Name:        "order-execution",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			componentLog.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Execution breaker state changed")
		},
	}
	return &Executor{
		clock:   clock,
		log:     componentLog,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// ExecuteBatch fills the batch in order-ID generation order. Orders without
// a valid price are REJECTED; the rest fill at price * (1 +/- slippage).
func (e *Executor) ExecuteBatch(orders []domain.TradeOrder, prices map[string]float64) []domain.TradeOrder {
	out := make([]domain.TradeOrder, len(orders))
	for i, order := range orders {
		out[i] = e.execute(order, prices)
	}
	return out
}

func (e *Executor) execute(order domain.TradeOrder, prices map[string]float64) domain.TradeOrder {
	now := e.clock.Now()
	order.Status = domain.OrderSubmitted
	order.SubmittedAt = now

	filled, err := e.breaker.Execute(func() (interface{}, error) {
		price, ok := prices[order.Symbol]
		if !ok || price <= 0 || math.IsNaN(price) {
			return nil, fmt.Errorf("no valid price for %s", order.Symbol)
		}

		// Slippage moves the fill against the order's direction.
		fill := price * (1 + order.ExpectedSlippage)
		if order.Quantity < 0 {
			fill = price * (1 - order.ExpectedSlippage)
		}
		order.FillPrice = fill
		order.FilledAt = now
		order.Status = domain.OrderFilled
		return order, nil
	})
	if err != nil {
		order.Status = domain.OrderRejected
		e.log.Warn().
			Err(err).
			Str("order_id", order.ID).
			Str("symbol", order.Symbol).
			Msg("Order rejected")
		return order
	}
	return filled.(domain.TradeOrder)
}
