package chunker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/pkg/models"
)

// Inventory is the persisted count report of one interval's partition. It is
// written last, so a fresh inventory means every listed window was written.
type Inventory struct {
	Interval    int                 `json:"interval"`
	GlobalStart time.Time           `json:"global_start"`
	Chunks      []models.ChunkCount `json:"chunks"` // sorted by count, descending
}

// Writer materializes windows as JSON files tracked by a manifest.
type Writer struct {
	manifest *artifacts.Manifest
	log      *slog.Logger
	onPrune  func(ctx context.Context, label string) error
}

// NewWriter returns a Writer recording into m.
func NewWriter(m *artifacts.Manifest, log *slog.Logger) *Writer {
	return &Writer{manifest: m, log: log.With("component", "chunker")}
}

// OnPrune registers fn to run before a window that left the partition is
// removed. An error from fn keeps the window file and aborts Materialize, so
// the next run retries.
func (w *Writer) OnPrune(fn func(ctx context.Context, label string) error) {
	w.onPrune = fn
}

// MaterializeResult reports what Materialize did.
type MaterializeResult struct {
	Written   int
	Unchanged int
	Pruned    []string // labels of removed windows
	Inventory Inventory
}

// UpToDate reports whether the interval's inventory and every window it lists
// match params. It reads nothing but the inventory and hashes.
func (w *Writer) UpToDate(interval int, params artifacts.Params) (Inventory, bool) {
	rel := artifacts.InventoryFile(interval)
	if !w.manifest.Fresh(rel, artifacts.StageChunk, params) {
		return Inventory{}, false
	}
	var inv Inventory
	if err := artifacts.ReadJSON(w.manifest.Path(rel), &inv); err != nil {
		return Inventory{}, false
	}
	for _, c := range inv.Chunks {
		if !w.manifest.Fresh(artifacts.ChunkFile(interval, c.Chunk), artifacts.StageChunk, params) {
			return Inventory{}, false
		}
	}
	return inv, true
}

// Materialize writes every window of one interval, skipping windows whose file
// is already fresh for params, removes window files that are no longer part of
// the partition, and finally writes the inventory.
func (w *Writer) Materialize(ctx context.Context, interval int, start time.Time, windows []Window, params artifacts.Params) (MaterializeResult, error) {
	var res MaterializeResult
	keep := make(map[string]struct{}, len(windows))

	for _, win := range windows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		label := win.Label.String()
		rel := artifacts.ChunkFile(interval, label)
		keep[path.Base(rel)] = struct{}{}

		if w.manifest.Fresh(rel, artifacts.StageChunk, params) {
			res.Unchanged++
			continue
		}
		if err := w.manifest.WriteJSON(rel, artifacts.StageChunk, params, win.Transactions); err != nil {
			return res, fmt.Errorf("write window %s: %w", label, err)
		}
		res.Written++
	}

	pruned, err := w.prune(ctx, interval, keep)
	res.Pruned = pruned
	if err != nil {
		return res, err
	}

	res.Inventory = Inventory{Interval: interval, GlobalStart: start, Chunks: Counts(windows)}
	if err := w.manifest.WriteJSON(artifacts.InventoryFile(interval), artifacts.StageChunk, params, res.Inventory); err != nil {
		return res, fmt.Errorf("write inventory: %w", err)
	}

	w.log.Info("interval materialized",
		"interval_months", interval,
		"windows", len(windows),
		"written", res.Written,
		"unchanged", res.Unchanged,
		"pruned", len(res.Pruned))
	return res, nil
}

// ReadWindow loads one materialized window.
func (w *Writer) ReadWindow(interval int, label string) ([]models.Transaction, error) {
	var txs []models.Transaction
	if err := artifacts.ReadJSON(w.manifest.Path(artifacts.ChunkFile(interval, label)), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// prune removes window files not in keep, along with their manifest entries,
// and returns the removed labels.
func (w *Writer) prune(ctx context.Context, interval int, keep map[string]struct{}) ([]string, error) {
	dir := w.manifest.Path(artifacts.IntervalDir(interval))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var pruned []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		label := strings.TrimSuffix(name, ".json")
		if w.onPrune != nil {
			if err := w.onPrune(ctx, label); err != nil {
				return pruned, fmt.Errorf("drop artifacts of window %s: %w", label, err)
			}
		}
		if _, err := w.manifest.Remove(artifacts.ChunkFile(interval, label)); err != nil {
			return pruned, fmt.Errorf("remove stale window %s: %w", name, err)
		}
		w.log.Warn("removed window no longer in partition", "interval_months", interval, "file", name)
		pruned = append(pruned, label)
	}
	return pruned, nil
}
