package pipeline

import (
	"context"
	"fmt"

	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/heuristics"
	"github.com/rawblock/wager-engine/pkg/models"
	"github.com/sourcegraph/conc/pool"
)

func (r *Runner) strategyParams(interval int, label string) artifacts.Params {
	s := r.cfg.Strategy
	return artifacts.Params{}.
		Float("percent_low_var_threshold", r.cfg.Analysis.PercentLowVarThreshold).
		Float("martingale_tol", s.MartingaleTol).
		Float("min_prev_amount", s.MinPrevAmount).
		Float("dalembert_tol", s.DAlembertTol).
		Float("flat_tol", s.FlatTol).
		Float("flag_threshold", s.FlagThreshold).
		Set("timestamp_policy", r.cfg.Analysis.TimestampPolicy).
		Set("log", r.sourceSum(artifacts.LogFile(label))).
		Set("source", r.sourceSum(artifacts.ChunkFile(interval, label)))
}

// classify is the RollingAnalysisLogged -> StrategyClassified transition.
// Windows without a qualifying counterparty still get an empty result file.
func (r *Runner) classify(ctx context.Context, rep *Report) (StageReport, error) {
	var c stageCounter
	interval := r.cfg.Analysis.Interval

	windows, err := r.selectWindows(interval)
	if err != nil {
		return c.report(), err
	}
	err = r.forEachWindow(ctx, StageStrategyClassified, windows, func(ctx context.Context, _ int, label string) error {
		return r.windowStrategy(ctx, &c, interval, label)
	})
	rep.EmptyWindows = c.emptyWindows()
	return c.report(), err
}

func (r *Runner) windowStrategy(ctx context.Context, c *stageCounter, interval int, label string) error {
	rel := artifacts.ResultFile(label)
	params := r.strategyParams(interval, label)

	var existing []models.StrategyResult
	if r.manifest.Fresh(rel, artifacts.StageStrategy, params) &&
		artifacts.ReadJSON(r.manifest.Path(rel), &existing) == nil {
		if len(existing) == 0 {
			c.markEmpty(label)
			r.warn(c, StageStrategyClassified, label, emptyWindowMessage(label))
		}
		r.progress.flagged.Add(int64(countFlagged(existing)))
		c.skipped()
		r.deps.Telemetry.Artifact(artifacts.StageStrategy, "skipped")
		return nil
	}

	var log models.RollingLog
	if err := artifacts.ReadJSON(r.manifest.Path(artifacts.LogFile(label)), &log); err != nil {
		r.warn(c, StageStrategyClassified, label, fmt.Sprintf("window %s has no rolling log, skipped: %v", label, err))
		r.deps.Telemetry.Artifact(artifacts.StageStrategy, "failed")
		return nil
	}

	threshold := r.cfg.Analysis.PercentLowVarThreshold
	var qualified []string
	for _, w := range log.Wallets {
		if !w.InsufficientData && w.PercentLowVarWindows >= threshold {
			qualified = append(qualified, w.Counterparty)
		}
	}

	results := make([]models.StrategyResult, len(qualified))
	if len(qualified) > 0 {
		txs, err := r.chunks.ReadWindow(interval, label)
		if err != nil {
			r.warn(c, StageStrategyClassified, label, fmt.Sprintf("window %s unreadable, skipped: %v", label, err))
			r.deps.Telemetry.Artifact(artifacts.StageStrategy, "failed")
			return nil
		}
		bets := heuristics.GroupBets(txs, r.timestampPolicy())
		cfg := r.strategyConfig()

		p := pool.New().WithMaxGoroutines(r.workers())
		for i, id := range qualified {
			p.Go(func() {
				results[i] = heuristics.Classify(id, bets[id], cfg)
			})
		}
		p.Wait()
	}

	for _, res := range results {
		if res.Martingale.Flag {
			r.deps.Telemetry.Flagged("martingale")
		}
		if res.DAlembert.Flag {
			r.deps.Telemetry.Flagged("dalembert")
		}
		if res.Flat.Flag {
			r.deps.Telemetry.Flagged("flat")
		}
	}
	r.progress.flagged.Add(int64(countFlagged(results)))

	if len(results) == 0 {
		c.markEmpty(label)
		r.warn(c, StageStrategyClassified, label, emptyWindowMessage(label))
	}

	if r.deps.Sink != nil {
		if err := r.deps.Sink.SaveStrategyResults(ctx, label, results); err != nil {
			return fmt.Errorf("sink strategy results: %w", err)
		}
	}
	if err := r.manifest.WriteJSON(rel, artifacts.StageStrategy, params, results); err != nil {
		return err
	}
	c.processed()
	r.deps.Telemetry.Artifact(artifacts.StageStrategy, "written")
	r.log.Info("strategies classified", "window", label, "classified", len(results), "flagged", countFlagged(results))
	return nil
}

func countFlagged(results []models.StrategyResult) int {
	n := 0
	for _, res := range results {
		if res.Flagged() {
			n++
		}
	}
	return n
}

func emptyWindowMessage(label string) string {
	return fmt.Sprintf("window %s: no counterparty reached the low variance threshold, consider lowering analysis.percent_low_var_threshold", label)
}
