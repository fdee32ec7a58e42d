package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olekukonko/tablewriter"
	"github.com/rawblock/wager-engine/internal/api"
	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/chunker"
	"github.com/rawblock/wager-engine/internal/config"
	"github.com/rawblock/wager-engine/internal/db"
	"github.com/rawblock/wager-engine/internal/graph"
	"github.com/rawblock/wager-engine/internal/logging"
	"github.com/rawblock/wager-engine/internal/pipeline"
	"github.com/rawblock/wager-engine/internal/telemetry"
	"github.com/rawblock/wager-engine/pkg/models"
	"github.com/spf13/pflag"
)

const usage = `usage: engine <command> [flags]

commands:
  run        chunk, compute metrics, analyze and classify
  chunk      partition raw transactions into calendar-month windows
  inventory  print the window counts of every interval
  metrics    run up to the window metrics
  graph      run up to the window metrics and export wallet graphs
  rolling    run up to the rolling-variance logs
  strategy   same as run
  serve      serve artifacts and pipeline runs over HTTP

Run "engine <command> --help" for the flags.
`

var stages = map[string]pipeline.Stage{
	"run":      pipeline.StageStrategyClassified,
	"chunk":    pipeline.StageChunked,
	"metrics":  pipeline.StageWindowMetricsComputed,
	"graph":    pipeline.StageWindowMetricsComputed,
	"rolling":  pipeline.StageRollingAnalysisLogged,
	"strategy": pipeline.StageStrategyClassified,
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd := args[0]
	if _, ok := stages[cmd]; !ok && cmd != "inventory" && cmd != "serve" {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfgPath, _ := fs.GetString("config")
	cfg, err := config.Load(cfgPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if cmd == "graph" {
		cfg.Graph.Enabled = true
	}

	log := logging.New(cfg.Log, cfg.Service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "inventory":
		err = printInventory(cfg, log, stdout)
	case "serve":
		err = serve(ctx, cfg, log)
	default:
		err = runPipeline(ctx, cfg, log, stages[cmd], stdout)
	}

	var te *pipeline.ThresholdError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &te):
		log.Error("no window selected", "interval_months", te.Interval, "threshold", te.Threshold,
			"suggestion", te.Suggestion, "has_suggestion", te.HasSuggestion)
		fmt.Fprintln(stderr, te.Error())
		return 1
	default:
		log.Error("command failed", "command", cmd, "error", err)
		return 1
	}
}

// openManifest opens the service manifest, falling back to an empty one when
// it cannot be decoded.
func openManifest(cfg config.Config, log *slog.Logger) *artifacts.Manifest {
	m, err := artifacts.Open(cfg.ServiceRoot())
	if err != nil {
		log.Warn("manifest unreadable, every artifact will be recomputed", "error", err)
	}
	return m
}

// buildDeps connects the optional collaborators. Connection failures are
// logged and the collaborator left out, so a run never depends on them.
func buildDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (pipeline.Deps, *db.PostgresStore, func()) {
	deps := pipeline.Deps{Telemetry: telemetry.New()}
	var closers []func()

	var store *db.PostgresStore
	if cfg.Database.URL != "" {
		s, err := db.Connect(ctx, cfg.Database.URL, cfg.Service, log)
		if err != nil {
			log.Warn("failed to connect to PostgreSQL, continuing without persisting results", "error", err)
		} else if err := s.InitSchema(ctx); err != nil {
			log.Warn("result schema init failed, continuing without persisting results", "error", err)
			s.Close()
		} else {
			store = s
			deps.Sink = s
			closers = append(closers, s.Close)
		}
	}

	if cfg.Graph.Enabled && cfg.Graph.Neo4jURI != "" {
		loader, err := graph.NewNeo4jLoader(ctx, cfg.Graph.Neo4jURI, cfg.Graph.Neo4jUser, cfg.Graph.Neo4jPassword,
			cfg.Service, cfg.Graph.BatchSize, log)
		if err != nil {
			log.Warn("failed to connect to Neo4j, exporting graphs as CSV only", "error", err)
		} else {
			deps.Graphs = loader
			closers = append(closers, func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = loader.Close(closeCtx)
			})
		}
	}

	return deps, store, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func runPipeline(ctx context.Context, cfg config.Config, log *slog.Logger, upTo pipeline.Stage, stdout io.Writer) error {
	deps, _, closeDeps := buildDeps(ctx, cfg, log)
	defer closeDeps()

	runner := pipeline.New(cfg, openManifest(cfg, log), log, deps)
	rep, err := runner.Run(ctx, upTo)
	if rep != nil {
		renderReport(stdout, rep)
	}
	return err
}

func renderReport(w io.Writer, rep *pipeline.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Stage", "Processed", "Skipped", "Warnings", "Duration"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCaption(true, fmt.Sprintf("run %s: %d windows selected, %d empty, %d counterparties flagged",
		rep.RunID, len(rep.Selected), len(rep.EmptyWindows), rep.Flagged))
	for _, sr := range rep.Stages {
		table.Append([]string{
			sr.Stage.String(),
			strconv.Itoa(sr.Processed),
			strconv.Itoa(sr.Skipped),
			strconv.Itoa(len(sr.Warnings)),
			sr.Duration.Round(time.Millisecond).String(),
		})
	}
	table.Render()
}

// printInventory renders each interval's count report. When a report is
// missing but the interval's window files exist, the windows are recounted.
func printInventory(cfg config.Config, log *slog.Logger, stdout io.Writer) error {
	m := artifacts.New(cfg.ServiceRoot())
	found := false
	for _, interval := range cfg.Chunking.Intervals {
		counts, err := intervalCounts(m, interval, log)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		found = true
		chunker.RenderInventory(stdout, interval, counts, cfg.Chunking.Threshold)
		fmt.Fprintln(stdout)
	}
	if !found {
		return fmt.Errorf("no inventory under %s, run the chunk command first", cfg.ServiceRoot())
	}
	return nil
}

func intervalCounts(m *artifacts.Manifest, interval int, log *slog.Logger) ([]models.ChunkCount, error) {
	var inv chunker.Inventory
	err := artifacts.ReadJSON(m.Path(artifacts.InventoryFile(interval)), &inv)
	if err == nil {
		return inv.Chunks, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %d-month inventory: %w", interval, err)
	}

	dir := m.Path(artifacts.IntervalDir(interval))
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	log.Warn("inventory report missing, recounting window files", "interval_months", interval)
	counts, skipped, err := chunker.CountDir(dir)
	if err != nil {
		return nil, fmt.Errorf("recount %d-month windows: %w", interval, err)
	}
	for _, name := range skipped {
		log.Warn("unreadable window file left out of the count", "interval_months", interval, "file", name)
	}
	return counts, nil
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	deps, store, closeDeps := buildDeps(ctx, cfg, log)
	defer closeDeps()

	wsHub := api.NewHub(log)
	go wsHub.Run(ctx)
	deps.OnEvent = wsHub.Publish

	runner := pipeline.New(cfg, openManifest(cfg, log), log, deps)

	opts := api.Options{
		Service:      cfg.Service,
		GraphEnabled: cfg.Graph.Enabled,
		HTTP:         cfg.HTTP,
		Release:      gin.Mode() == gin.ReleaseMode,
		Pipeline:     runner,
		Hub:          wsHub,
		Telemetry:    deps.Telemetry,
		Log:          log,
		BaseContext:  ctx,
	}
	// A nil *PostgresStore must not become a non-nil interface.
	if store != nil {
		opts.Results = store
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.SetupRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("report API listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down report API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
