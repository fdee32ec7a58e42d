package heuristics

import (
	"sort"

	"github.com/rawblock/wager-engine/internal/metrics"
	"github.com/rawblock/wager-engine/pkg/models"
)

// Rolling Inter-Arrival Variance Analysis
//
// Scripted betting clients fire at a near-constant cadence. A human placing
// bets by hand produces gaps that wander by seconds to minutes. The analyzer
// slides a trailing window over a counterparty's inter-arrival times and
// measures the variance inside every window position:
//
//   1. Percentage of window positions whose variance is below a threshold
//   2. Longest run of consecutive low-variance positions
//   3. Mean and standard deviation of the raw gap series
//
// A single quiet stretch is common for humans as well, so the verdict rests
// on the percentage across the whole window and the streak, not on any one
// position.

// Bet is one received transfer of a counterparty, reduced to what the
// analyzers look at.
type Bet struct {
	TxID   string  `json:"txid"`
	Time   int64   `json:"time"`
	Amount float64 `json:"amount"`
}

// RollingConfig holds the rolling analyzer's tunables.
type RollingConfig struct {
	WindowSize       int     // trailing positions per variance value
	VarThreshold     float64 // seconds², a position is low-variance strictly below this
	PercentThreshold float64 // share of low-variance positions for a bot-like verdict
	Policy           metrics.TimestampPolicy
}

// DefaultRollingConfig mirrors the engine defaults.
func DefaultRollingConfig() RollingConfig {
	return RollingConfig{WindowSize: 10, VarThreshold: 10, PercentThreshold: 0.5, Policy: metrics.TimestampKeep}
}

// ExtractBets selects the timed received transactions of counterparty and
// sorts them by time. Equal timestamps keep their input order, and with
// metrics.TimestampCollapse only the first bet of each timestamp survives.
func ExtractBets(txs []models.Transaction, counterparty string, policy metrics.TimestampPolicy) []Bet {
	var bets []Bet
	for _, tx := range txs {
		if tx.Received == nil || !tx.HasTime || tx.Received.Counterparty != counterparty {
			continue
		}
		bets = append(bets, Bet{TxID: tx.TxID, Time: tx.Time, Amount: tx.Received.Amount})
	}
	sortBets(bets)
	if policy != metrics.TimestampCollapse || len(bets) < 2 {
		return bets
	}
	kept := bets[:1]
	for _, b := range bets[1:] {
		if b.Time != kept[len(kept)-1].Time {
			kept = append(kept, b)
		}
	}
	return kept
}

// GroupBets extracts the bets of every counterparty in one pass over txs.
func GroupBets(txs []models.Transaction, policy metrics.TimestampPolicy) map[string][]Bet {
	byID := make(map[string][]models.Transaction)
	for _, tx := range txs {
		if tx.Received != nil {
			byID[tx.Received.Counterparty] = append(byID[tx.Received.Counterparty], tx)
		}
	}
	out := make(map[string][]Bet, len(byID))
	for id, own := range byID {
		out[id] = ExtractBets(own, id, policy)
	}
	return out
}

// BetTimes returns the timestamps of bets in order.
func BetTimes(bets []Bet) []int64 {
	times := make([]int64, len(bets))
	for i, b := range bets {
		times[i] = b.Time
	}
	return times
}

// RollingVariance returns the sample variance of every trailing window of w
// diffs. Only positions with a full window are returned, so the result has
// max(0, len(diffs)-w+1) values. A window of fewer than two values has no
// sample variance, so w < 2 yields nothing.
func RollingVariance(diffs []float64, w int) []float64 {
	if w < 2 || len(diffs) < w {
		return nil
	}
	out := make([]float64, 0, len(diffs)-w+1)
	for end := w; end <= len(diffs); end++ {
		out = append(out, metrics.SampleVariance(diffs[end-w:end]))
	}
	return out
}

// AnalyzeRolling summarizes the rolling variance of a counterparty's sorted
// bets. When no window position is defined the summary reports zero low
// variance and is marked as insufficient data.
func AnalyzeRolling(counterparty string, bets []Bet, cfg RollingConfig) models.RollingBehaviorSummary {
	summary := models.RollingBehaviorSummary{
		Counterparty:     counterparty,
		NTx:              len(bets),
		InsufficientData: true,
		Verdict:          models.VerdictInsufficientData,
	}
	if len(bets) == 0 {
		return summary
	}

	diffs := metrics.InterArrival(BetTimes(bets))
	summary.MeanTimeDiff = metrics.Round2(metrics.Mean(diffs))
	summary.StdTimeDiff = metrics.Round2(metrics.StdDev(diffs))

	variances := RollingVariance(diffs, cfg.WindowSize)
	summary.DefinedWindows = len(variances)
	if len(variances) == 0 {
		return summary
	}

	low := make([]bool, len(variances))
	lowCount := 0
	for i, v := range variances {
		if v < cfg.VarThreshold {
			low[i] = true
			lowCount++
		}
	}

	summary.InsufficientData = false
	summary.PercentLowVarWindows = metrics.Round2(metrics.SafeDivide(float64(lowCount), float64(len(variances))))
	summary.LongestLowVarStreak = LongestRun(low)
	if summary.PercentLowVarWindows >= cfg.PercentThreshold {
		summary.Verdict = models.VerdictBotLike
	} else {
		summary.Verdict = models.VerdictHumanLike
	}
	return summary
}

func sortBets(bets []Bet) {
	sort.SliceStable(bets, func(i, j int) bool { return bets[i].Time < bets[j].Time })
}
