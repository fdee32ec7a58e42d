// Package chunker splits a service's transaction history into fixed-length
// calendar-month windows anchored to the earliest transaction of the dataset.
//
// Window assignment is a pure function of the transaction's timestamp, the
// global start and the interval, so every interval yields an independent,
// non-overlapping partition and re-running on the same input reproduces the
// same labels and membership.
package chunker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rawblock/wager-engine/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Window is one partition cell and its transactions in input order.
type Window struct {
	Label        models.WindowLabel
	Transactions []models.Transaction
}

// GlobalStart returns the earliest timestamp in txs. ok is false when no
// transaction carries a timestamp.
func GlobalStart(txs []models.Transaction) (start time.Time, ok bool) {
	var minTS int64
	for _, tx := range txs {
		if !tx.HasTime {
			continue
		}
		if !ok || tx.Time < minTS {
			minTS = tx.Time
			ok = true
		}
	}
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(minTS, 0).UTC(), true
}

// MonthsSince counts whole calendar months between start's month and t's month.
func MonthsSince(start, t time.Time) int {
	start, t = start.UTC(), t.UTC()
	return (t.Year()-start.Year())*12 + int(t.Month()-start.Month())
}

// PeriodIndex returns the index of the interval-month window containing t.
func PeriodIndex(start, t time.Time, interval int) int {
	return floorDiv(MonthsSince(start, t), interval)
}

// WindowFor builds the label of window index for the given start and interval.
// The window begins at start shifted by index*interval months and ends one
// second before the following window begins.
func WindowFor(start time.Time, interval, index int) models.WindowLabel {
	from := AddMonths(start, index*interval)
	to := AddMonths(from, interval).Add(-time.Second)
	return models.WindowLabel{Interval: interval, Index: index, Start: from, End: to}
}

// AddMonths shifts t by n calendar months, clamping the day to the last day of
// the target month (Jan 31 + 1 month is Feb 28/29, not Mar 3).
func AddMonths(t time.Time, n int) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// Partition assigns every timestamped transaction to its window. Transactions
// without a timestamp are skipped. Windows are returned in index order.
func Partition(txs []models.Transaction, start time.Time, interval int) []Window {
	byIndex := make(map[int]*Window)
	for _, tx := range txs {
		if !tx.HasTime {
			continue
		}
		idx := PeriodIndex(start, time.Unix(tx.Time, 0), interval)
		w, ok := byIndex[idx]
		if !ok {
			w = &Window{Label: WindowFor(start, interval, idx)}
			byIndex[idx] = w
		}
		w.Transactions = append(w.Transactions, tx)
	}

	windows := make([]Window, 0, len(byIndex))
	for _, w := range byIndex {
		windows = append(windows, *w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Label.Index < windows[j].Label.Index })
	return windows
}

// PartitionAll partitions txs for every interval against one global start.
// ok is false when no transaction carries a timestamp.
func PartitionAll(ctx context.Context, txs []models.Transaction, intervals []int) (map[int][]Window, time.Time, bool, error) {
	start, ok := GlobalStart(txs)
	if !ok {
		return nil, time.Time{}, false, nil
	}

	var mu sync.Mutex
	out := make(map[int][]Window, len(intervals))
	g, ctx := errgroup.WithContext(ctx)
	for _, interval := range intervals {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			windows := Partition(txs, start, interval)
			mu.Lock()
			out[interval] = windows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, start, true, err
	}
	return out, start, true, nil
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
