// Package allocation turns filtered predictions into market-neutral pairs,
// capital allocations, target positions and finally trade orders.
package allocation

import (
	"sort"

	"github.com/aristath/bastion/internal/domain"
	"github.com/aristath/bastion/pkg/formulas"
)

// ConcentrationThreshold is the average pair confidence at which the
// allocator switches from equal weighting to concentration. The boundary
// is inclusive: exactly 0.80 concentrates.
const ConcentrationThreshold = 0.80

// concentratedTopShare is the investable share each of the top two pairs
// receives under concentration.
const concentratedTopShare = 0.40

// RankPredictions sorts predictions by predicted return descending, with
// deterministic tie-breaks: confidence descending, then symbol ascending.
func RankPredictions(predictions []domain.Prediction) []domain.Prediction {
	ranked := make([]domain.Prediction, len(predictions))
	copy(ranked, predictions)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.PredictedReturn != b.PredictedReturn {
			return a.PredictedReturn > b.PredictedReturn
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Symbol < b.Symbol
	})
	return ranked
}

// BuildPairs forms market-neutral pairs from ranked predictions: the i-th
// best long against the i-th worst short, up to min(maxPairs, N/2).
// Capital shares are assigned by AllocateCapital.
func BuildPairs(predictions []domain.Prediction, params domain.StrategyParameters) []domain.TradingPair {
	// Drop predictions below the confidence floor before ranking.
	eligible := make([]domain.Prediction, 0, len(predictions))
	for _, p := range predictions {
		if p.Validate() != nil {
			continue
		}
		if p.Confidence >= params.MinConfidenceThreshold {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) < 2 {
		return nil
	}

	ranked := RankPredictions(eligible)
	n := len(ranked)
	numPairs := n / 2
	if numPairs > params.MaxPairsToCreate {
		numPairs = params.MaxPairsToCreate
	}

	pairs := make([]domain.TradingPair, 0, numPairs)
	for i := 0; i < numPairs; i++ {
		long := ranked[i]
		short := ranked[n-1-i]
		if long.Symbol == short.Symbol {
			continue
		}
		pairs = append(pairs, domain.TradingPair{
			LongSymbol:       long.Symbol,
			ShortSymbol:      short.Symbol,
			LongExpectedRet:  long.PredictedReturn,
			ShortExpectedRet: short.PredictedReturn,
			PairConfidence:   (long.Confidence + short.Confidence) / 2,
		})
	}

	return AllocateCapital(pairs, params)
}

// AllocateCapital assigns the investable fraction across pairs. With
// average pair confidence at or above the concentration threshold, the top
// two pairs take 40% of the investable fraction each and the rest split
// the remainder; otherwise pairs are weighted equally. The per-pair cap
// binds whenever capital is spread over more than one pair; a lone pair
// deploys the full investable fraction.
func AllocateCapital(pairs []domain.TradingPair, params domain.StrategyParameters) []domain.TradingPair {
	if len(pairs) == 0 {
		return pairs
	}
	investable := params.TotalInvestmentRatio

	confidences := make([]float64, len(pairs))
	for i, p := range pairs {
		confidences[i] = p.PairConfidence
	}
	avgConf := formulas.Mean(confidences)

	out := make([]domain.TradingPair, len(pairs))
	copy(out, pairs)

	// Pairs are already ranked best-first by construction.
	if avgConf >= ConcentrationThreshold && len(out) >= 2 {
		rest := len(out) - 2
		restShare := 0.0
		if rest > 0 {
			restShare = investable * (1 - 2*concentratedTopShare) / float64(rest)
		}
		for i := range out {
			if i < 2 {
				out[i].AllocationWeight = investable * concentratedTopShare
			} else {
				out[i].AllocationWeight = restShare
			}
			out[i].AllocationWeight = capAllocation(out[i].AllocationWeight, len(out), params)
		}
		return out
	}

	share := investable / float64(len(out))
	for i := range out {
		out[i].AllocationWeight = capAllocation(share, len(out), params)
	}
	return out
}

// capAllocation applies the per-pair ceiling when capital is split across
// multiple pairs.
func capAllocation(share float64, numPairs int, params domain.StrategyParameters) float64 {
	if numPairs <= 1 {
		return share
	}
	if share > params.MaxSinglePairAllocation {
		return params.MaxSinglePairAllocation
	}
	return share
}
