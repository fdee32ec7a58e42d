// Package pipeline chains chunking, window metrics, rolling analysis and
// strategy classification for one service.
//
// Every stage writes its artifacts through the manifest and records the
// parameters and input hashes that produced them. A rerun with unchanged data
// and settings therefore writes nothing; changing a threshold recomputes only
// the artifacts that depend on it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/chunker"
	"github.com/rawblock/wager-engine/internal/config"
	"github.com/rawblock/wager-engine/internal/graph"
	"github.com/rawblock/wager-engine/internal/heuristics"
	"github.com/rawblock/wager-engine/internal/metrics"
	"github.com/rawblock/wager-engine/internal/telemetry"
	"github.com/rawblock/wager-engine/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ResultSink receives every freshly computed artifact. It is called before
// the artifact is written, so a failing sink leaves the artifact stale and the
// next run retries it.
type ResultSink interface {
	SaveWindowMetrics(ctx context.Context, interval int, window string, rows []models.CounterpartyWindowMetrics) error
	SaveRollingLog(ctx context.Context, window string, log models.RollingLog) error
	SaveStrategyResults(ctx context.Context, window string, results []models.StrategyResult) error
	// DeleteWindow drops everything stored for a window that left the
	// partition.
	DeleteWindow(ctx context.Context, window string) error
}

// GraphLoader receives every freshly built window graph.
type GraphLoader interface {
	Load(ctx context.Context, window string, g *graph.Graph) error
	Delete(ctx context.Context, window string) error
}

// Deps are the runner's optional collaborators. OnEvent is called from worker
// goroutines and must be safe for concurrent use.
type Deps struct {
	Sink      ResultSink
	Graphs    GraphLoader
	Telemetry *telemetry.Metrics
	OnEvent   func(Event)
}

// Runner drives a service's artifacts through the pipeline stages.
type Runner struct {
	cfg      config.Config
	manifest *artifacts.Manifest
	chunks   *chunker.Writer
	log      *slog.Logger
	deps     Deps

	progress tracker
}

// New returns a runner writing below m's root.
func New(cfg config.Config, m *artifacts.Manifest, log *slog.Logger, deps Deps) *Runner {
	return &Runner{
		cfg:      cfg,
		manifest: m,
		chunks:   chunker.NewWriter(m, log),
		log:      log.With("component", "pipeline"),
		deps:     deps,
	}
}

// Progress returns the live state of the runner.
func (r *Runner) Progress() Progress {
	return r.progress.snapshot()
}

// Manifest returns the manifest the runner records into.
func (r *Runner) Manifest() *artifacts.Manifest { return r.manifest }

// Chunks returns the window writer, for reading materialized windows.
func (r *Runner) Chunks() *chunker.Writer { return r.chunks }

type step struct {
	stage Stage
	run   func(context.Context, *Report) (StageReport, error)
}

// Run advances the service up to and including upTo. It stops at the first
// stage that fails; the report covers the stages that ran.
func (r *Runner) Run(ctx context.Context, upTo Stage) (*Report, error) {
	if !r.progress.isRunning.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.progress.isRunning.Store(false)
	r.progress.flagged.Store(0)

	rep := &Report{RunID: r.manifest.RunID()}
	steps := []step{
		{StageChunked, r.chunk},
		{StageWindowMetricsComputed, r.computeMetrics},
		{StageRollingAnalysisLogged, r.analyzeRolling},
		{StageStrategyClassified, r.classify},
	}

	for _, s := range steps {
		if s.stage > upTo {
			break
		}
		r.emit(Event{Type: EventStageStarted, Stage: s.stage.String()})

		start := time.Now()
		sr, err := s.run(ctx, rep)
		sr.Stage = s.stage
		sr.Duration = time.Since(start)
		sort.Strings(sr.Warnings)
		rep.Stages = append(rep.Stages, sr)
		r.deps.Telemetry.ObserveStage(s.stage.String(), sr.Duration)

		if err != nil {
			r.progress.setErr(err)
			r.log.Error("stage failed", "stage", s.stage, "error", err)
			r.emit(Event{Type: EventStageFinished, Stage: s.stage.String(), Message: err.Error()})
			return rep, fmt.Errorf("%s stage: %w", s.stage, err)
		}

		r.log.Info("stage finished",
			"stage", s.stage,
			"processed", sr.Processed,
			"skipped", sr.Skipped,
			"warnings", len(sr.Warnings),
			"duration", sr.Duration)
		r.emit(Event{Type: EventStageFinished, Stage: s.stage.String()})
	}

	r.progress.setErr(nil)
	rep.Flagged = int(r.progress.flagged.Load())
	r.emit(Event{Type: EventRunFinished, Message: fmt.Sprintf("%d counterparties flagged", rep.Flagged)})
	return rep, nil
}

// selectWindows reads the analyzed interval's inventory and keeps the windows
// above the chunk threshold, in chronological order.
func (r *Runner) selectWindows(interval int) ([]models.ChunkCount, error) {
	var inv chunker.Inventory
	if err := artifacts.ReadJSON(r.manifest.Path(artifacts.InventoryFile(interval)), &inv); err != nil {
		return nil, fmt.Errorf("read %d-month inventory, run the chunk stage first: %w", interval, err)
	}

	threshold := r.cfg.Chunking.Threshold
	selected := chunker.SelectChunks(inv.Chunks, threshold)
	if len(selected) == 0 {
		suggestion, ok := chunker.SuggestThreshold(inv.Chunks, threshold)
		return nil, &ThresholdError{Interval: interval, Threshold: threshold, Suggestion: suggestion, HasSuggestion: ok}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Chunk < selected[j].Chunk })
	return selected, nil
}

// forEachWindow runs fn for every window on a bounded number of goroutines.
func (r *Runner) forEachWindow(ctx context.Context, stage Stage, windows []models.ChunkCount, fn func(ctx context.Context, i int, label string) error) error {
	r.progress.begin(stage, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	for i, w := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(gctx, i, w.Chunk); err != nil {
				return fmt.Errorf("window %s: %w", w.Chunk, err)
			}
			r.progress.windowsDone.Add(1)
			r.emit(Event{Type: EventWindowDone, Stage: stage.String(), Window: w.Chunk})
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) workers() int {
	if r.cfg.Pipeline.Workers < 1 {
		return 1
	}
	return r.cfg.Pipeline.Workers
}

// sourceSum is the recorded hash of an input artifact, empty when unknown.
func (r *Runner) sourceSum(rel string) string {
	e, err := r.manifest.Lookup(rel)
	if err != nil {
		return ""
	}
	return e.SHA256
}

func (r *Runner) warn(c *stageCounter, stage Stage, window, msg string) {
	r.log.Warn(msg, "stage", stage, "window", window)
	c.warn(msg)
	r.emit(Event{Type: EventWarning, Stage: stage.String(), Window: window, Message: msg})
}

func (r *Runner) emit(e Event) {
	if r.deps.OnEvent == nil {
		return
	}
	e.RunID = r.manifest.RunID()
	e.Time = time.Now().UTC()
	r.deps.OnEvent(e)
}

func (r *Runner) timestampPolicy() metrics.TimestampPolicy {
	return metrics.TimestampPolicy(r.cfg.Analysis.TimestampPolicy)
}

func (r *Runner) rollingConfig() heuristics.RollingConfig {
	a := r.cfg.Analysis
	return heuristics.RollingConfig{
		WindowSize:       a.WindowSize,
		VarThreshold:     a.VarThreshold,
		PercentThreshold: a.PercentLowVarThreshold,
		Policy:           r.timestampPolicy(),
	}
}

func (r *Runner) strategyConfig() heuristics.StrategyConfig {
	s := r.cfg.Strategy
	return heuristics.StrategyConfig{
		MartingaleTol: s.MartingaleTol,
		MinPrevAmount: s.MinPrevAmount,
		DAlembertTol:  s.DAlembertTol,
		FlatTol:       s.FlatTol,
		FlagThreshold: s.FlagThreshold,
	}
}
