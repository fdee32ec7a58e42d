package artifacts

import (
	"fmt"
	"path"
)

// Stage names recorded in manifest entries.
const (
	StageChunk    = "chunk"
	StageMetrics  = "metrics"
	StageRolling  = "rolling"
	StageStrategy = "strategy"
	StageGraph    = "graph"
)

// Relative artifact paths inside a service root. All use forward slashes.

// IntervalDir is the directory holding one interval's window files.
func IntervalDir(interval int) string {
	return fmt.Sprintf("%d_months", interval)
}

// ChunkFile is the window transaction file.
func ChunkFile(interval int, label string) string {
	return path.Join(IntervalDir(interval), label+".json")
}

// InventoryFile is the per-interval chunk count report.
func InventoryFile(interval int) string {
	return path.Join("reports", IntervalDir(interval)+".json")
}

// GlobalMetricsFile aggregates one row per analyzed window.
func GlobalMetricsFile(interval int) string {
	return path.Join("reports", fmt.Sprintf("chunk_global_metrics_%d_months.json", interval))
}

// MetricsFile is the window metrics table.
func MetricsFile(label string) string {
	return path.Join("metrics", label+".json")
}

// LogFile is the window rolling-analysis log.
func LogFile(label string) string {
	return path.Join("logs", label+".json")
}

// ResultFile is the window strategy-classification result.
func ResultFile(label string) string {
	return path.Join("results", label+"_bet_analysis.json")
}

// GraphDir holds the per-window node and edge CSV files.
const GraphDir = "graphs"

// NodesFile is the window's graph node table.
func NodesFile(label string) string {
	return path.Join(GraphDir, "nodes_"+label+".csv")
}

// EdgesFile is the window's graph edge table.
func EdgesFile(label string) string {
	return path.Join(GraphDir, "edges_"+label+".csv")
}

// WindowArtifacts lists every artifact derived from a window file.
func WindowArtifacts(label string) []string {
	return []string{MetricsFile(label), LogFile(label), ResultFile(label), NodesFile(label), EdgesFile(label)}
}
