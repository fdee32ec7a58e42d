package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Expected default config to validate. Got: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Analysis.WindowSize != 10 || cfg.Analysis.VarThreshold != 10 {
		t.Errorf("Expected rolling defaults 10/10. Got: %d/%v", cfg.Analysis.WindowSize, cfg.Analysis.VarThreshold)
	}
	if !slices.Equal(cfg.Chunking.Intervals, []int{3, 6, 12, 24}) {
		t.Errorf("Expected default intervals. Got: %v", cfg.Chunking.Intervals)
	}
	if !strings.HasSuffix(cfg.Store.RawDir, "/raw/transactions/"+cfg.Service) {
		t.Errorf("Expected raw dir derived from service. Got: %s", cfg.Store.RawDir)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	content := `
service: BitZillions.com
chunking:
  threshold: 10000
analysis:
  min_transactions: 200
strategy:
  flag_threshold: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WAGER_ANALYSIS_WINDOW_SIZE", "20")
	t.Setenv("DATABASE_URL", "postgres://localhost/wager")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--min-transactions=300"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Service != "BitZillions.com" {
		t.Errorf("Expected service from file. Got: %s", cfg.Service)
	}
	if cfg.Chunking.Threshold != 10000 {
		t.Errorf("Expected threshold from file. Got: %d", cfg.Chunking.Threshold)
	}
	if cfg.Analysis.WindowSize != 20 {
		t.Errorf("Expected window size from env. Got: %d", cfg.Analysis.WindowSize)
	}
	if cfg.Analysis.MinTransactions != 300 {
		t.Errorf("Expected flag to win over file. Got: %d", cfg.Analysis.MinTransactions)
	}
	if cfg.Strategy.FlagThreshold != 0.5 {
		t.Errorf("Expected flag threshold 0.5. Got: %v", cfg.Strategy.FlagThreshold)
	}
	if cfg.Database.URL != "postgres://localhost/wager" {
		t.Errorf("Expected DATABASE_URL to be picked up. Got: %q", cfg.Database.URL)
	}
}

func TestValidateRejectsInconsistentConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"interval not chunked", func(c *Config) { c.Analysis.Interval = 5 }},
		{"window too small", func(c *Config) { c.Analysis.WindowSize = 1 }},
		{"percent above one", func(c *Config) { c.Analysis.PercentLowVarThreshold = 1.5 }},
		{"unknown dedup", func(c *Config) { c.Store.Dedup = "hash" }},
		{"unknown timestamp policy", func(c *Config) { c.Analysis.TimestampPolicy = "drop" }},
		{"neo4j user without uri", func(c *Config) { c.Graph.Neo4jUser = "neo4j" }},
		{"no intervals", func(c *Config) { c.Chunking.Intervals = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}
