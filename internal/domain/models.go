// Package domain holds the core data model shared by every engine:
// market and sentiment samples, predictions, pairs, target positions,
// orders, and the portfolio snapshot the orchestrator owns.
package domain

import (
	"fmt"
	"math"
	"time"
)

// DataQuality tags a derived value with how it was obtained. Downstream
// consumers (and tests) use it to detect values that are proxies or
// defaults rather than measurements.
type DataQuality string

const (
	// QualityMeasured - value computed from actual observations
	QualityMeasured DataQuality = "measured"
	// QualityProxy - value estimated from a documented proxy (e.g. spread from volume tier)
	QualityProxy DataQuality = "proxy"
	// QualityDefaulted - value substituted from a named default constant
	QualityDefaulted DataQuality = "defaulted"
)

// MarketSample is one observation of price and volume for a symbol.
// Bid/ask are not carried; spread is estimated downstream from volume tier.
type MarketSample struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Close      float64   `json:"close"`
	VolumeFrom float64   `json:"volume_from"`
	VolumeTo   float64   `json:"volume_to"`
}

// NetInflow returns volume bought minus volume sold.
func (m MarketSample) NetInflow() float64 {
	return m.VolumeFrom - m.VolumeTo
}

// Validate checks the sample invariants: non-negative finite close and volumes.
func (m MarketSample) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("%w: market sample without symbol", ErrInvalidInput)
	}
	if m.Close < 0 || math.IsNaN(m.Close) || math.IsInf(m.Close, 0) {
		return fmt.Errorf("%w: close price %v for %s", ErrInvalidInput, m.Close, m.Symbol)
	}
	for _, v := range []float64{m.VolumeFrom, m.VolumeTo} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: volume %v for %s", ErrInvalidInput, v, m.Symbol)
		}
	}
	return nil
}

// SignificantArticleCount is the minimum number of articles for a
// sentiment sample to be treated as significant.
const SignificantArticleCount = 5

// SentimentSample is one aggregated news-sentiment observation for a ticker.
type SentimentSample struct {
	Ticker       string    `json:"ticker"`
	Source       string    `json:"source"`
	Date         time.Time `json:"date"`
	ArticleCount int       `json:"article_count"`
	AvgSentiment float64   `json:"avg_sentiment"` // in [-1, 1]
}

// IsSignificant reports whether the sample carries enough articles to matter.
func (s SentimentSample) IsSignificant() bool {
	return s.ArticleCount >= SignificantArticleCount
}

// Validate checks ticker presence and the sentiment range.
func (s SentimentSample) Validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("%w: sentiment sample without ticker", ErrInvalidInput)
	}
	if s.AvgSentiment < -1 || s.AvgSentiment > 1 || math.IsNaN(s.AvgSentiment) {
		return fmt.Errorf("%w: avg sentiment %v for %s", ErrInvalidInput, s.AvgSentiment, s.Ticker)
	}
	if s.ArticleCount < 0 {
		return fmt.Errorf("%w: article count %d for %s", ErrInvalidInput, s.ArticleCount, s.Ticker)
	}
	return nil
}

// Prediction is a model output for one symbol. Predictions enter the core
// as typed input; the model itself is an external collaborator.
type Prediction struct {
	Symbol             string    `json:"symbol"`
	PredictedReturn    float64   `json:"predicted_return"`
	Confidence         float64   `json:"confidence"` // in [0, 1]
	ModelR2            float64   `json:"model_r2"`
	VolatilityForecast float64   `json:"volatility_forecast"`
	Timestamp          time.Time `json:"timestamp"`
}

// Validate checks the prediction invariants: finite return, confidence in range.
func (p Prediction) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: prediction without symbol", ErrInvalidInput)
	}
	if math.IsNaN(p.PredictedReturn) || math.IsInf(p.PredictedReturn, 0) {
		return fmt.Errorf("%w: predicted return %v for %s", ErrInvalidInput, p.PredictedReturn, p.Symbol)
	}
	if p.Confidence < 0 || p.Confidence > 1 || math.IsNaN(p.Confidence) {
		return fmt.Errorf("%w: confidence %v for %s", ErrInvalidInput, p.Confidence, p.Symbol)
	}
	return nil
}

// TradingPair is one market-neutral long/short pairing with its capital share.
type TradingPair struct {
	LongSymbol       string  `json:"long_symbol"`
	ShortSymbol      string  `json:"short_symbol"`
	LongExpectedRet  float64 `json:"long_expected_return"`
	ShortExpectedRet float64 `json:"short_expected_return"`
	PairConfidence   float64 `json:"pair_confidence"`   // in [0, 1]
	AllocationWeight float64 `json:"allocation_weight"` // >= 0, fraction of portfolio value
}

// ExpectedReturn is the pair spread: long expected return minus short.
func (p TradingPair) ExpectedReturn() float64 {
	return p.LongExpectedRet - p.ShortExpectedRet
}

// Validate checks the pair invariants.
func (p TradingPair) Validate() error {
	if p.LongSymbol == "" || p.ShortSymbol == "" {
		return fmt.Errorf("%w: pair with empty symbol", ErrInvalidInput)
	}
	if p.LongSymbol == p.ShortSymbol {
		return fmt.Errorf("%w: pair long and short are both %s", ErrInvalidInput, p.LongSymbol)
	}
	if p.PairConfidence < 0 || p.PairConfidence > 1 {
		return fmt.Errorf("%w: pair confidence %v", ErrInvalidInput, p.PairConfidence)
	}
	if p.AllocationWeight < 0 {
		return fmt.Errorf("%w: pair allocation %v", ErrInvalidInput, p.AllocationWeight)
	}
	return nil
}

// TargetPosition is one side of a pair expressed as a desired portfolio weight.
type TargetPosition struct {
	Symbol            string  `json:"symbol"`
	TargetWeight      float64 `json:"target_weight"` // in [-1, 1], sign matches side
	Confidence        float64 `json:"confidence"`
	ExpectedReturn    float64 `json:"expected_return"`
	IsLong            bool    `json:"is_long"`
	IsShort           bool    `json:"is_short"`
	StopLossPrice     float64 `json:"stop_loss_price"`
	ConcentrationRisk float64 `json:"concentration_risk"`
}

// Validate checks that exactly one side is set and the weight sign matches it.
func (t TargetPosition) Validate() error {
	if t.IsLong == t.IsShort {
		return fmt.Errorf("%w: target %s must be exactly one of long/short", ErrInvalidInput, t.Symbol)
	}
	if t.TargetWeight < -1 || t.TargetWeight > 1 {
		return fmt.Errorf("%w: target weight %v for %s", ErrInvalidInput, t.TargetWeight, t.Symbol)
	}
	if t.IsLong && t.TargetWeight < 0 {
		return fmt.Errorf("%w: long target %s with negative weight", ErrInvalidInput, t.Symbol)
	}
	if t.IsShort && t.TargetWeight > 0 {
		return fmt.Errorf("%w: short target %s with positive weight", ErrInvalidInput, t.Symbol)
	}
	return nil
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	OrderMarketBuy  OrderType = "MKT_BUY"
	OrderMarketSell OrderType = "MKT_SELL"
	OrderLimit      OrderType = "LMT"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderExpired   OrderStatus = "EXPIRED"
)

// TradeOrder is an instruction produced by the allocator. Orders are value
// types: created fresh each cycle and either consumed or journaled.
type TradeOrder struct {
	ID               string      `json:"id"`
	Symbol           string      `json:"symbol"`
	Quantity         float64     `json:"quantity"` // signed: positive buy, negative sell
	Type             OrderType   `json:"type"`
	Status           OrderStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	SubmittedAt      time.Time   `json:"submitted_at,omitempty"`
	FilledAt         time.Time   `json:"filled_at,omitempty"`
	FillPrice        float64     `json:"fill_price,omitempty"`
	ExpectedSlippage float64     `json:"expected_slippage"`
	EstimatedCost    float64     `json:"estimated_cost"`
	IsRebalance      bool        `json:"is_rebalance"`
	IsRiskControl    bool        `json:"is_risk_control"`
}

// Position is a currently held exposure.
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"` // signed
	EntryPrice float64 `json:"entry_price"`
	MarkPrice  float64 `json:"mark_price"`
	StopLoss   float64 `json:"stop_loss"`
	IsShort    bool    `json:"is_short"`
}

// MarketValue is the absolute notional of the position at the mark.
func (p Position) MarketValue() float64 {
	return math.Abs(p.Quantity) * p.MarkPrice
}

// Portfolio is the orchestrator-owned snapshot of current holdings.
type Portfolio struct {
	TotalValue    float64    `json:"total_value"`
	CashBalance   float64    `json:"cash_balance"`
	PeakValue     float64    `json:"peak_value"`
	Positions     []Position `json:"positions"`
	LastRebalance time.Time  `json:"last_rebalance"`
}

// CurrentDrawdown returns the fraction lost from the running peak, >= 0.
func (p Portfolio) CurrentDrawdown() float64 {
	if p.PeakValue <= 0 {
		return 0
	}
	dd := (p.PeakValue - p.TotalValue) / p.PeakValue
	if dd < 0 {
		return 0
	}
	return dd
}

// WeightOf returns the signed portfolio weight of a symbol's position.
func (p Portfolio) WeightOf(symbol string) float64 {
	if p.TotalValue <= 0 {
		return 0
	}
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			w := pos.MarketValue() / p.TotalValue
			if pos.IsShort || pos.Quantity < 0 {
				return -w
			}
			return w
		}
	}
	return 0
}
