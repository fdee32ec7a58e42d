package metrics

import (
	"math"
	"sort"
)

// SafeDivide returns num/den, or 0 when den is zero or the quotient is not
// finite. It is the single zero-policy for every ratio in the engine.
func SafeDivide(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	q := num / den
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0
	}
	return q
}

// Round2 rounds x to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Mean returns the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SampleVariance returns the unbiased (n-1) variance of xs, 0 when fewer than
// two values are given.
//
//	s² = Σ(xᵢ - x̄)² / (n - 1)
func SampleVariance(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mean := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(n-1)
}

// StdDev is the square root of SampleVariance.
func StdDev(xs []float64) float64 {
	return math.Sqrt(SampleVariance(xs))
}

// TimestampPolicy decides how equal consecutive timestamps are treated before
// inter-arrival times are taken.
type TimestampPolicy string

const (
	// TimestampKeep keeps every event; ties produce zero-second gaps.
	TimestampKeep TimestampPolicy = "keep"
	// TimestampCollapse drops an event whose timestamp equals the previous kept one.
	TimestampCollapse TimestampPolicy = "collapse"
)

// SortTimes returns a sorted copy of times with the policy applied.
func SortTimes(times []int64, policy TimestampPolicy) []int64 {
	sorted := append([]int64(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if policy != TimestampCollapse || len(sorted) < 2 {
		return sorted
	}
	kept := sorted[:1]
	for _, ts := range sorted[1:] {
		if ts != kept[len(kept)-1] {
			kept = append(kept, ts)
		}
	}
	return kept
}

// InterArrival returns the gaps in seconds between consecutive sorted times.
func InterArrival(sorted []int64) []float64 {
	if len(sorted) < 2 {
		return nil
	}
	diffs := make([]float64, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		diffs[i-1] = float64(sorted[i] - sorted[i-1])
	}
	return diffs
}
