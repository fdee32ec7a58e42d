package heuristics

import (
	"math"

	"github.com/rawblock/wager-engine/internal/metrics"
	"github.com/rawblock/wager-engine/pkg/models"
)

// Betting-Progression Detection
//
// Classic wagering systems leave a shape in consecutive bet amounts:
//
//   - Martingale: double the stake after every loss (curr ≈ 2 × prev)
//   - d'Alembert: step the stake up or down by one unit (|curr - prev| ≈ 1)
//   - Flat: repeat the same stake (curr ≈ prev)
//
// Each detector walks the consecutive pairs of a time-ordered bet list and
// reports the share of matching pairs, the longest run of matching pairs and
// a flag once the share passes FlagThreshold. The detectors are independent
// and may all flag the same counterparty.

// absTolerance is added to every relative comparison so that values at or
// near zero can still compare equal.
const absTolerance = 1e-8

// StrategyConfig holds the detector tolerances.
type StrategyConfig struct {
	MartingaleTol float64 // relative tolerance around a 2.0 ratio
	MinPrevAmount float64 // pairs with prev <= this never match a Martingale step
	DAlembertTol  float64 // relative tolerance around a 1.0 step
	FlatTol       float64 // relative tolerance between consecutive amounts
	FlagThreshold float64 // a detector flags when its ratio is strictly above this
}

// DefaultStrategyConfig mirrors the engine defaults.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		MartingaleTol: 0.05,
		MinPrevAmount: 1e-5,
		DAlembertTol:  0.01,
		FlatTol:       0.01,
		FlagThreshold: 0.3,
	}
}

// isClose reports |a-b| <= absTolerance + tol*|b|.
func isClose(a, b, tol float64) bool {
	return math.Abs(a-b) <= absTolerance+tol*math.Abs(b)
}

// DetectMartingale matches pairs whose amount doubled. Pairs whose previous
// amount is at or below MinPrevAmount are counted as non-matches, so the ratio
// is always taken over all n-1 pairs.
func DetectMartingale(bets []Bet, cfg StrategyConfig) models.StrategySignature {
	return detect(bets, cfg.FlagThreshold, func(prev, curr float64) bool {
		if prev <= cfg.MinPrevAmount {
			return false
		}
		return isClose(curr/prev, 2.0, cfg.MartingaleTol)
	})
}

// DetectDAlembert matches pairs that moved by one unit in either direction.
func DetectDAlembert(bets []Bet, cfg StrategyConfig) models.StrategySignature {
	return detect(bets, cfg.FlagThreshold, func(prev, curr float64) bool {
		return isClose(math.Abs(curr-prev), 1.0, cfg.DAlembertTol)
	})
}

// DetectFlat matches pairs that repeat the previous amount.
func DetectFlat(bets []Bet, cfg StrategyConfig) models.StrategySignature {
	return detect(bets, cfg.FlagThreshold, func(prev, curr float64) bool {
		return isClose(curr, prev, cfg.FlatTol)
	})
}

// Classify runs every detector over a counterparty's bets and attaches the
// activity profile when there are enough bets to build one.
func Classify(counterparty string, bets []Bet, cfg StrategyConfig) models.StrategyResult {
	res := models.StrategyResult{
		Counterparty: counterparty,
		NTx:          len(bets),
		Martingale:   DetectMartingale(bets, cfg),
		DAlembert:    DetectDAlembert(bets, cfg),
		Flat:         DetectFlat(bets, cfg),
	}
	if len(bets) >= minProfileBets {
		profile := AnalyzeActivity(BetTimes(bets))
		res.Profile = &profile
	}
	return res
}

// detect re-sorts a copy of bets by time and scores every consecutive pair.
// Fewer than two bets have no pair and yield the zero signature.
func detect(bets []Bet, flagThreshold float64, match func(prev, curr float64) bool) models.StrategySignature {
	if len(bets) < 2 {
		return models.StrategySignature{}
	}
	sorted := append([]Bet(nil), bets...)
	sortBets(sorted)

	mask := make([]bool, len(sorted)-1)
	matches := 0
	for i := 1; i < len(sorted); i++ {
		if match(sorted[i-1].Amount, sorted[i].Amount) {
			mask[i-1] = true
			matches++
		}
	}

	ratio := metrics.Round2(metrics.SafeDivide(float64(matches), float64(len(mask))))
	return models.StrategySignature{
		Ratio:     ratio,
		MaxStreak: LongestRun(mask),
		Flag:      ratio > flagThreshold,
	}
}
