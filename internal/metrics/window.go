// Package metrics builds the per-counterparty statistics table of a window and
// the numeric helpers every analysis stage shares.
package metrics

import (
	"math"
	"sort"

	"github.com/rawblock/wager-engine/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

// DefaultMinInDegree is the in-degree a counterparty must exceed to be kept.
const DefaultMinInDegree = 10

// Options configure BuildWindowMetrics.
type Options struct {
	MinInDegree int             // keep counterparties with in_degree > MinInDegree
	Workers     int             // bound on concurrent time-statistics jobs, <1 means 1
	Policy      TimestampPolicy // tie handling before inter-arrival times
}

type accumulator struct {
	in, out  int
	received decimal.Decimal
	sent     decimal.Decimal
	times    []int64 // timestamps of received bets
}

// BuildWindowMetrics aggregates a window's transactions per counterparty.
//
// Sent transactions are attributed to their first output; a sent transaction
// without outputs counts toward models.UnknownCounterparty with amount 0.
// Counterparties with in_degree <= MinInDegree are dropped before derived
// values are computed. Time statistics cover received bets only. Rows are
// ordered by out_degree descending, ties by counterparty id.
func BuildWindowMetrics(txs []models.Transaction, opts Options) []models.CounterpartyWindowMetrics {
	acc := make(map[string]*accumulator)
	for _, tx := range txs {
		id, amount, dir := tx.Flow()
		if dir == "" {
			continue
		}
		a, ok := acc[id]
		if !ok {
			a = &accumulator{}
			acc[id] = a
		}
		switch dir {
		case models.DirectionReceived:
			a.in++
			a.received = a.received.Add(decimal.NewFromFloat(amount))
			if tx.HasTime {
				a.times = append(a.times, tx.Time)
			}
		case models.DirectionSent:
			a.out++
			a.sent = a.sent.Add(decimal.NewFromFloat(amount))
		}
	}

	rows := make([]models.CounterpartyWindowMetrics, 0, len(acc))
	times := make([][]int64, 0, len(acc))
	for id, a := range acc {
		if a.in <= opts.MinInDegree {
			continue
		}
		received := a.received.InexactFloat64()
		rows = append(rows, models.CounterpartyWindowMetrics{
			Counterparty:  id,
			InDegree:      a.in,
			OutDegree:     a.out,
			TotalReceived: received,
			TotalSent:     a.sent.InexactFloat64(),
			AverageAmount: SafeDivide(received, float64(a.in)),
			NetBalance:    a.received.Sub(a.sent).InexactFloat64(),
		})
		times = append(times, a.times)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i := range rows {
		p.Go(func() {
			diffs := InterArrival(SortTimes(times[i], opts.Policy))
			if ts, ok := ComputeTimeStatistics(diffs); ok {
				rows[i].Time = &ts
			}
		})
	}
	p.Wait()

	SortRows(rows)
	return rows
}

// SortRows orders rows by out_degree descending with the counterparty id as the
// tie-break, so identical input always yields identical tables.
func SortRows(rows []models.CounterpartyWindowMetrics) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Counterparty < rows[j].Counterparty })
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].OutDegree > rows[j].OutDegree })
}

// ComputeTimeStatistics summarizes inter-arrival times. It reports false when
// there is not a single gap to describe.
func ComputeTimeStatistics(diffs []float64) (models.TimeStats, bool) {
	if len(diffs) == 0 {
		return models.TimeStats{}, false
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, d := range diffs {
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return models.TimeStats{
		Samples:  len(diffs),
		Variance: SampleVariance(diffs),
		Mean:     Mean(diffs),
		StdDev:   StdDev(diffs),
		Min:      lo,
		Max:      hi,
	}, true
}
