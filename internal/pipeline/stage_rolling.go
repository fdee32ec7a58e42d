package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/heuristics"
	"github.com/rawblock/wager-engine/pkg/models"
	"github.com/sourcegraph/conc/pool"
)

func (r *Runner) rollingParams(interval int, label string) artifacts.Params {
	a := r.cfg.Analysis
	return artifacts.Params{}.
		Int("min_transactions", a.MinTransactions).
		Int("window_size", a.WindowSize).
		Float("var_threshold", a.VarThreshold).
		Float("percent_low_var_threshold", a.PercentLowVarThreshold).
		Set("timestamp_policy", a.TimestampPolicy).
		Set("metrics", r.sourceSum(artifacts.MetricsFile(label))).
		Set("source", r.sourceSum(artifacts.ChunkFile(interval, label)))
}

// analyzeRolling is the WindowMetricsComputed -> RollingAnalysisLogged
// transition.
func (r *Runner) analyzeRolling(ctx context.Context, _ *Report) (StageReport, error) {
	var c stageCounter
	interval := r.cfg.Analysis.Interval

	windows, err := r.selectWindows(interval)
	if err != nil {
		return c.report(), err
	}
	err = r.forEachWindow(ctx, StageRollingAnalysisLogged, windows, func(ctx context.Context, _ int, label string) error {
		return r.windowRolling(ctx, &c, interval, label)
	})
	return c.report(), err
}

func (r *Runner) windowRolling(ctx context.Context, c *stageCounter, interval int, label string) error {
	rel := artifacts.LogFile(label)
	params := r.rollingParams(interval, label)
	if r.manifest.Fresh(rel, artifacts.StageRolling, params) {
		c.skipped()
		r.deps.Telemetry.Artifact(artifacts.StageRolling, "skipped")
		return nil
	}

	var table models.WindowMetrics
	if err := artifacts.ReadJSON(r.manifest.Path(artifacts.MetricsFile(label)), &table); err != nil {
		r.warn(c, StageRollingAnalysisLogged, label, fmt.Sprintf("window %s has no metrics table, skipped: %v", label, err))
		r.deps.Telemetry.Artifact(artifacts.StageRolling, "failed")
		return nil
	}
	txs, err := r.chunks.ReadWindow(interval, label)
	if err != nil {
		r.warn(c, StageRollingAnalysisLogged, label, fmt.Sprintf("window %s unreadable, skipped: %v", label, err))
		r.deps.Telemetry.Artifact(artifacts.StageRolling, "failed")
		return nil
	}

	minTx := r.cfg.Analysis.MinTransactions
	var candidates []string
	for _, row := range table.Rows {
		if row.OutDegree >= minTx {
			candidates = append(candidates, row.Counterparty)
		}
	}

	bets := heuristics.GroupBets(txs, r.timestampPolicy())
	cfg := r.rollingConfig()
	summaries := make([]models.RollingBehaviorSummary, len(candidates))
	p := pool.New().WithMaxGoroutines(r.workers())
	for i, id := range candidates {
		p.Go(func() {
			summaries[i] = heuristics.AnalyzeRolling(id, bets[id], cfg)
		})
	}
	p.Wait()

	wallets := make([]models.RollingBehaviorSummary, 0, len(summaries))
	insufficient := 0
	for _, s := range summaries {
		if s.NTx < minTx {
			continue
		}
		if s.InsufficientData {
			insufficient++
		}
		r.deps.Telemetry.Verdict(string(s.Verdict))
		wallets = append(wallets, s)
	}
	sort.SliceStable(wallets, func(i, j int) bool { return wallets[i].Counterparty < wallets[j].Counterparty })
	if insufficient > 0 {
		r.log.Warn("counterparties without a defined rolling window",
			"window", label, "count", insufficient, "window_size", cfg.WindowSize)
	}

	log := models.RollingLog{
		MinTransactions: minTx,
		WindowSize:      cfg.WindowSize,
		VarThreshold:    cfg.VarThreshold,
		Wallets:         wallets,
	}
	if r.deps.Sink != nil {
		if err := r.deps.Sink.SaveRollingLog(ctx, label, log); err != nil {
			return fmt.Errorf("sink rolling log: %w", err)
		}
	}
	if err := r.manifest.WriteJSON(rel, artifacts.StageRolling, params, log); err != nil {
		return err
	}
	c.processed()
	r.deps.Telemetry.Artifact(artifacts.StageRolling, "written")
	r.log.Info("rolling analysis logged", "window", label, "candidates", len(candidates), "logged", len(wallets))
	return nil
}
