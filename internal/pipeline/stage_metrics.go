package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/graph"
	"github.com/rawblock/wager-engine/internal/metrics"
	"github.com/rawblock/wager-engine/pkg/models"
)

func (r *Runner) metricsParams(interval int, label string) artifacts.Params {
	return artifacts.Params{}.
		Int("min_in_degree", r.cfg.Analysis.MinInDegree).
		Set("timestamp_policy", r.cfg.Analysis.TimestampPolicy).
		Set("source", r.sourceSum(artifacts.ChunkFile(interval, label)))
}

func (r *Runner) graphParams(interval int, label string) artifacts.Params {
	return artifacts.Params{}.
		Set("service", r.cfg.Service).
		Set("source", r.sourceSum(artifacts.ChunkFile(interval, label)))
}

// computeMetrics is the Chunked -> WindowMetricsComputed transition. It also
// exports the window graphs when enabled and aggregates the global metrics
// report of the interval.
func (r *Runner) computeMetrics(ctx context.Context, rep *Report) (StageReport, error) {
	var c stageCounter
	interval := r.cfg.Analysis.Interval

	windows, err := r.selectWindows(interval)
	if err != nil {
		return c.report(), err
	}
	rep.Selected = make([]string, len(windows))
	for i, w := range windows {
		rep.Selected[i] = w.Chunk
	}
	r.deps.Telemetry.Windows(strconv.Itoa(interval), "selected", len(windows))
	r.log.Info("windows selected", "interval_months", interval, "threshold", r.cfg.Chunking.Threshold, "selected", len(windows))

	globals := make([]*models.WindowGlobalMetrics, len(windows))
	err = r.forEachWindow(ctx, StageWindowMetricsComputed, windows, func(ctx context.Context, i int, label string) error {
		g, err := r.windowMetrics(ctx, &c, interval, label)
		globals[i] = g
		return err
	})
	if err != nil {
		return c.report(), err
	}
	if err := r.writeGlobalMetrics(interval, globals); err != nil {
		return c.report(), err
	}
	return c.report(), nil
}

// windowMetrics returns nil global metrics when the window could not be read.
func (r *Runner) windowMetrics(ctx context.Context, c *stageCounter, interval int, label string) (*models.WindowGlobalMetrics, error) {
	rel := artifacts.MetricsFile(label)
	params := r.metricsParams(interval, label)

	var table models.WindowMetrics
	metricsFresh := r.manifest.Fresh(rel, artifacts.StageMetrics, params) &&
		artifacts.ReadJSON(r.manifest.Path(rel), &table) == nil
	graphFresh := !r.cfg.Graph.Enabled || r.graphFresh(interval, label)

	if metricsFresh && graphFresh {
		c.skipped()
		r.deps.Telemetry.Artifact(artifacts.StageMetrics, "skipped")
		g := metrics.GlobalMetrics(label, table.Rows)
		return &g, nil
	}

	txs, err := r.chunks.ReadWindow(interval, label)
	if err != nil {
		r.warn(c, StageWindowMetricsComputed, label, fmt.Sprintf("window %s unreadable, skipped: %v", label, err))
		r.deps.Telemetry.Artifact(artifacts.StageMetrics, "failed")
		return nil, nil
	}

	if metricsFresh {
		c.skipped()
	} else {
		rows := metrics.BuildWindowMetrics(txs, metrics.Options{
			MinInDegree: r.cfg.Analysis.MinInDegree,
			Workers:     r.workers(),
			Policy:      r.timestampPolicy(),
		})
		if len(rows) == 0 {
			r.warn(c, StageWindowMetricsComputed, label,
				fmt.Sprintf("window %s: no counterparty above in-degree %d", label, r.cfg.Analysis.MinInDegree))
		}
		table = models.WindowMetrics{Window: label, Rows: rows}

		if r.deps.Sink != nil {
			if err := r.deps.Sink.SaveWindowMetrics(ctx, interval, label, rows); err != nil {
				return nil, fmt.Errorf("sink window metrics: %w", err)
			}
		}
		if err := r.manifest.WriteJSON(rel, artifacts.StageMetrics, params, table); err != nil {
			return nil, err
		}
		c.processed()
		r.deps.Telemetry.Artifact(artifacts.StageMetrics, "written")
	}

	if !graphFresh {
		if err := r.exportGraph(ctx, interval, label, txs); err != nil {
			return nil, err
		}
	}

	g := metrics.GlobalMetrics(label, table.Rows)
	return &g, nil
}

func (r *Runner) graphFresh(interval int, label string) bool {
	params := r.graphParams(interval, label)
	return r.manifest.Fresh(artifacts.NodesFile(label), artifacts.StageGraph, params) &&
		r.manifest.Fresh(artifacts.EdgesFile(label), artifacts.StageGraph, params)
}

func (r *Runner) exportGraph(ctx context.Context, interval int, label string, txs []models.Transaction) error {
	g := graph.BuildWalletGraph(r.cfg.Service, txs)

	nodes, err := graph.EncodeNodes(g)
	if err != nil {
		return err
	}
	edges, err := graph.EncodeEdges(g)
	if err != nil {
		return err
	}

	if r.deps.Graphs != nil {
		if err := r.deps.Graphs.Load(ctx, label, g); err != nil {
			return fmt.Errorf("load graph: %w", err)
		}
	}

	params := r.graphParams(interval, label)
	if err := r.manifest.Write(artifacts.NodesFile(label), artifacts.StageGraph, params, nodes); err != nil {
		return err
	}
	if err := r.manifest.Write(artifacts.EdgesFile(label), artifacts.StageGraph, params, edges); err != nil {
		return err
	}
	r.deps.Telemetry.Artifact(artifacts.StageGraph, "written")
	r.log.Debug("window graph exported", "window", label, "nodes", len(g.Nodes()), "edges", len(g.Edges))
	return nil
}

// writeGlobalMetrics writes one row per readable window, keyed on the hashes
// of the metrics tables it was built from.
func (r *Runner) writeGlobalMetrics(interval int, globals []*models.WindowGlobalMetrics) error {
	rows := make([]models.WindowGlobalMetrics, 0, len(globals))
	for _, g := range globals {
		if g != nil {
			rows = append(rows, *g)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Chunk < rows[j].Chunk })

	sources := make([]string, len(rows))
	for i, row := range rows {
		sources[i] = row.Chunk + "=" + r.sourceSum(artifacts.MetricsFile(row.Chunk))
	}
	params := artifacts.Params{}.Set("sources", artifacts.Sum([]byte(strings.Join(sources, "\n"))))

	rel := artifacts.GlobalMetricsFile(interval)
	if r.manifest.Fresh(rel, artifacts.StageMetrics, params) {
		return nil
	}
	if err := r.manifest.WriteJSON(rel, artifacts.StageMetrics, params, rows); err != nil {
		return fmt.Errorf("write global metrics: %w", err)
	}
	return nil
}
