package heuristics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rawblock/wager-engine/internal/metrics"
	"github.com/rawblock/wager-engine/pkg/models"
)

// Pattern-of-Life Profile
//
// When a counterparty bets is as telling as how much. The profile extracts:
//
//   1. Peak hour: the UTC hour with the most bets, and the UTC offset that
//      would put that peak at 13:00 local time
//   2. Schedule: share of bets placed Monday to Friday
//   3. Regularity: scripts fire on a fixed period (CV of gaps near 0),
//      humans wander
//   4. Frequency: bets per day over the observed span
//
// The profile is attached to every strategy result as context for the
// operator; it does not feed any flag.

const minProfileBets = 3

// AnalyzeActivity profiles a set of bet timestamps (unix seconds). Fewer than
// three timestamps yield a profile with unknown timezone and cadence.
func AnalyzeActivity(times []int64) models.ActivityProfile {
	profile := models.ActivityProfile{
		InferredTimezone: "unknown",
		Cadence:          "unknown",
	}
	if len(times) < minProfileBets {
		return profile
	}

	sorted := append([]int64(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	hourCounts := make([]int, 24)
	weekdays := 0
	for _, ts := range sorted {
		t := time.Unix(ts, 0).UTC()
		hourCounts[t.Hour()]++
		if wd := t.Weekday(); wd >= time.Monday && wd <= time.Friday {
			weekdays++
		}
	}

	maxCount := 0
	for h, n := range hourCounts {
		if n > maxCount {
			maxCount = n
			profile.PeakHourUTC = h
		}
	}
	profile.InferredTimezone = inferTimezoneFromPeak(profile.PeakHourUTC)
	profile.WeekdayRatio = metrics.Round2(metrics.SafeDivide(float64(weekdays), float64(len(sorted))))
	profile.Regularity = computeRegularity(sorted)

	spanDays := float64(sorted[len(sorted)-1]-sorted[0]) / 86400
	profile.BetsPerDay = metrics.Round2(metrics.SafeDivide(float64(len(sorted)), spanDays))

	profile.Cadence = classifyCadence(profile)
	return profile
}

// inferTimezoneFromPeak assumes the peak falls at 13:00 local time.
func inferTimezoneFromPeak(peakHourUTC int) string {
	offset := peakHourUTC - 13
	if offset > 12 {
		offset -= 24
	}
	if offset < -12 {
		offset += 24
	}
	return fmt.Sprintf("UTC%+d", offset)
}

// computeRegularity maps the coefficient of variation of the gaps to
// 1 / (1 + CV): 1.0 for a perfectly periodic series, toward 0 for noise.
func computeRegularity(sorted []int64) float64 {
	gaps := metrics.InterArrival(sorted)
	mean := metrics.Mean(gaps)
	if mean <= 0 {
		return 0
	}
	cv := metrics.SafeDivide(math.Sqrt(populationVariance(gaps, mean)), mean)
	return metrics.Round2(1.0 / (1.0 + cv))
}

func populationVariance(xs []float64, mean float64) float64 {
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return metrics.SafeDivide(ss, float64(len(xs)))
}

func classifyCadence(p models.ActivityProfile) string {
	switch {
	case p.Regularity >= 0.8 && p.BetsPerDay >= 10:
		return "scripted"
	case p.BetsPerDay >= 100:
		return "high-volume"
	case p.WeekdayRatio >= 0.8 && p.BetsPerDay >= 1:
		return "weekday"
	case p.BetsPerDay >= 0.1:
		return "casual"
	default:
		return "unknown"
	}
}
