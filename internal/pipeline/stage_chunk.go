package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/chunker"
	"github.com/rawblock/wager-engine/internal/store"
)

// chunkParams key every window file on the raw data it came from. The
// fingerprint lets an up-to-date service skip chunking without loading the
// raw pages.
func (r *Runner) chunkParams(fingerprint string) artifacts.Params {
	return artifacts.Params{}.
		Set("raw", fingerprint).
		Set("dedup", r.cfg.Store.Dedup)
}

// chunk is the Raw -> Chunked transition for every configured interval.
func (r *Runner) chunk(ctx context.Context, _ *Report) (StageReport, error) {
	var c stageCounter
	rawDir := r.cfg.Store.RawDir

	fp, err := store.Fingerprint(rawDir)
	if err != nil {
		return c.report(), fmt.Errorf("fingerprint raw data: %w", err)
	}
	params := r.chunkParams(fp)
	r.chunks.OnPrune(func(ctx context.Context, label string) error {
		return r.dropWindow(ctx, &c, label)
	})

	var pending []int
	for _, interval := range r.cfg.Chunking.Intervals {
		if inv, ok := r.chunks.UpToDate(interval, params); ok {
			c.skipped()
			r.deps.Telemetry.Artifact(artifacts.StageChunk, "skipped")
			r.deps.Telemetry.Windows(strconv.Itoa(interval), "produced", len(inv.Chunks))
			r.log.Info("interval already chunked", "interval_months", interval, "windows", len(inv.Chunks))
			continue
		}
		pending = append(pending, interval)
	}
	r.progress.begin(StageChunked, len(pending))
	if len(pending) == 0 {
		return c.report(), nil
	}

	ds, err := store.Load(ctx, rawDir, store.Options{Dedup: store.DedupPolicy(r.cfg.Store.Dedup), Logger: r.log})
	if err != nil {
		return c.report(), err
	}
	if n := ds.Stats.SkippedFiles; n > 0 {
		r.warn(&c, StageChunked, "", fmt.Sprintf("%d malformed raw files skipped", n))
	}
	if n := ds.Stats.SkippedRecords; n > 0 {
		r.warn(&c, StageChunked, "", fmt.Sprintf("%d malformed raw records skipped", n))
	}
	if n := ds.Stats.Untimed; n > 0 {
		r.warn(&c, StageChunked, "", fmt.Sprintf("%d transactions without a timestamp left out of every window", n))
	}

	all, start, ok, err := chunker.PartitionAll(ctx, ds.Transactions, pending)
	if err != nil {
		return c.report(), err
	}
	if !ok {
		return c.report(), ErrNoWindows
	}

	for _, interval := range pending {
		res, err := r.chunks.Materialize(ctx, interval, start, all[interval], params)
		if err != nil {
			return c.report(), fmt.Errorf("materialize %d-month windows: %w", interval, err)
		}
		c.processed()
		for range res.Written {
			r.deps.Telemetry.Artifact(artifacts.StageChunk, "written")
		}
		r.deps.Telemetry.Windows(strconv.Itoa(interval), "produced", len(res.Inventory.Chunks))
		r.progress.windowsDone.Add(1)
	}
	return c.report(), nil
}

// dropWindow removes the stored state of a window that is no longer part of
// the partition: the sink's rows, the loaded graph, and every derived
// artifact with its manifest entry.
func (r *Runner) dropWindow(ctx context.Context, c *stageCounter, label string) error {
	if r.deps.Sink != nil {
		if err := r.deps.Sink.DeleteWindow(ctx, label); err != nil {
			return fmt.Errorf("sink delete: %w", err)
		}
	}
	if r.deps.Graphs != nil {
		if err := r.deps.Graphs.Delete(ctx, label); err != nil {
			return fmt.Errorf("graph delete: %w", err)
		}
	}
	n, err := r.manifest.Remove(artifacts.WindowArtifacts(label)...)
	if err != nil {
		return err
	}
	r.deps.Telemetry.Artifact(artifacts.StageChunk, "pruned")
	r.warn(c, StageChunked, label, fmt.Sprintf("window %s left the partition, %d derived artifacts removed", label, n))
	return nil
}
