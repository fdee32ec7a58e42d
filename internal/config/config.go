// Package config assembles the engine's Config value object.
//
// Precedence, lowest to highest: built-in defaults, optional config file,
// .env file, WAGER_* environment variables, command-line flags. The result is
// passed explicitly to every stage; nothing here is package-level state.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rawblock/wager-engine/internal/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "WAGER"

// Config holds every tunable of a run.
type Config struct {
	Service  string         `mapstructure:"service" validate:"required"`
	DataDir  string         `mapstructure:"data_dir" validate:"required"`
	Store    StoreConfig    `mapstructure:"store"`
	Chunking ChunkingConfig `mapstructure:"chunking"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      logging.Config `mapstructure:"log"`
}

// StoreConfig controls raw transaction loading.
type StoreConfig struct {
	RawDir string `mapstructure:"raw_dir"` // defaults to <data_dir>/raw/transactions/<service>
	Dedup  string `mapstructure:"dedup" validate:"oneof=none txid"`
}

// ChunkingConfig controls partitioning and window selection.
type ChunkingConfig struct {
	Intervals []int `mapstructure:"intervals" validate:"required,min=1,dive,gt=0"`
	Threshold int   `mapstructure:"threshold" validate:"gte=0"` // windows need more transactions than this
}

// AnalysisConfig controls window metrics and the rolling analyzer.
type AnalysisConfig struct {
	Interval               int     `mapstructure:"interval" validate:"gt=0"` // interval analyzed past chunking
	MinInDegree            int     `mapstructure:"min_in_degree" validate:"gte=0"`
	MinTransactions        int     `mapstructure:"min_transactions" validate:"gte=0"`
	WindowSize             int     `mapstructure:"window_size" validate:"gte=2"`
	VarThreshold           float64 `mapstructure:"var_threshold" validate:"gt=0"`
	PercentLowVarThreshold float64 `mapstructure:"percent_low_var_threshold" validate:"gte=0,lte=1"`
	TimestampPolicy        string  `mapstructure:"timestamp_policy" validate:"oneof=keep collapse"`
}

// StrategyConfig holds detector tolerances and the shared flag threshold.
type StrategyConfig struct {
	MartingaleTol float64 `mapstructure:"martingale_tol" validate:"gt=0"`
	MinPrevAmount float64 `mapstructure:"min_prev_amount" validate:"gte=0"`
	DAlembertTol  float64 `mapstructure:"dalembert_tol" validate:"gt=0"`
	FlatTol       float64 `mapstructure:"flat_tol" validate:"gt=0"`
	FlagThreshold float64 `mapstructure:"flag_threshold" validate:"gte=0,lte=1"`
}

// PipelineConfig bounds stage concurrency.
type PipelineConfig struct {
	Workers int `mapstructure:"workers" validate:"gte=1,lte=256"`
}

// GraphConfig controls the per-window wallet graph export.
type GraphConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
	BatchSize     int    `mapstructure:"batch_size" validate:"gte=1"`
}

// DatabaseConfig points at the optional PostgreSQL result sink.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// HTTPConfig controls the report API.
type HTTPConfig struct {
	Addr           string `mapstructure:"addr" validate:"required"`
	AuthToken      string `mapstructure:"auth_token"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
	RatePerMinute  int    `mapstructure:"rate_per_minute" validate:"gte=1"`
	Burst          int    `mapstructure:"burst" validate:"gte=1"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Service: "SatoshiDice.com-original",
		DataDir: "Data",
		Store:   StoreConfig{Dedup: "none"},
		Chunking: ChunkingConfig{
			Intervals: []int{3, 6, 12, 24},
			Threshold: 100000,
		},
		Analysis: AnalysisConfig{
			Interval:               3,
			MinInDegree:            10,
			MinTransactions:        1000,
			WindowSize:             10,
			VarThreshold:           10,
			PercentLowVarThreshold: 0.50,
			TimestampPolicy:        "keep",
		},
		Strategy: StrategyConfig{
			MartingaleTol: 0.05,
			MinPrevAmount: 0.00001,
			DAlembertTol:  0.01,
			FlatTol:       0.01,
			FlagThreshold: 0.3,
		},
		Pipeline: PipelineConfig{Workers: 4},
		Graph:    GraphConfig{BatchSize: 500},
		HTTP: HTTPConfig{
			Addr:          ":5339",
			RatePerMinute: 30,
			Burst:         10,
		},
		Log: logging.Config{Level: "info", Format: "text", MaxSize: 100, MaxBackups: 5, MaxAge: 30},
	}
}

// RegisterFlags declares the command-line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a config file (yaml, toml or json)")
	fs.String("service", d.Service, "service wallet name")
	fs.String("data-dir", d.DataDir, "root data directory")
	fs.IntSlice("intervals", d.Chunking.Intervals, "chunk interval lengths in months")
	fs.Int("chunk-threshold", d.Chunking.Threshold, "minimum transactions (exclusive) for a window to be analyzed")
	fs.Int("interval", d.Analysis.Interval, "interval analyzed after chunking")
	fs.Int("min-transactions", d.Analysis.MinTransactions, "minimum bets for a counterparty to be analyzed")
	fs.Int("window-size", d.Analysis.WindowSize, "rolling window size")
	fs.Float64("var-threshold", d.Analysis.VarThreshold, "low variance threshold in seconds squared")
	fs.Float64("percent-threshold", d.Analysis.PercentLowVarThreshold, "fraction of low variance windows selecting a counterparty")
	fs.Int("workers", d.Pipeline.Workers, "parallel workers per stage")
	fs.Bool("graph", d.Graph.Enabled, "export per-window wallet graphs")
	fs.String("addr", d.HTTP.Addr, "report API listen address")
	fs.String("log-level", d.Log.Level, "log level")
}

var flagKeys = map[string]string{
	"service":           "service",
	"data-dir":          "data_dir",
	"intervals":         "chunking.intervals",
	"chunk-threshold":   "chunking.threshold",
	"interval":          "analysis.interval",
	"min-transactions":  "analysis.min_transactions",
	"window-size":       "analysis.window_size",
	"var-threshold":     "analysis.var_threshold",
	"percent-threshold": "analysis.percent_low_var_threshold",
	"workers":           "pipeline.workers",
	"graph":             "graph.enabled",
	"addr":              "http.addr",
	"log-level":         "log.level",
}

// Load resolves the configuration. path may be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed names shared with the deployment environment.
	_ = v.BindEnv("database.url", envPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("http.auth_token", envPrefix+"_HTTP_AUTH_TOKEN", "API_AUTH_TOKEN")
	_ = v.BindEnv("http.allowed_origins", envPrefix+"_HTTP_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Store.RawDir == "" {
		cfg.Store.RawDir = filepath.Join(cfg.DataDir, "raw", "transactions", cfg.Service)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field consistency.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if !slices.Contains(c.Chunking.Intervals, c.Analysis.Interval) {
		return fmt.Errorf("config validation failed: analysis interval %d is not one of the chunk intervals %v",
			c.Analysis.Interval, c.Chunking.Intervals)
	}
	if c.Graph.Neo4jURI == "" && (c.Graph.Neo4jUser != "" || c.Graph.Neo4jPassword != "") {
		return errors.New("config validation failed: neo4j credentials set without graph.neo4j_uri")
	}
	return nil
}

// ServiceRoot is the artifact root of the configured service.
func (c Config) ServiceRoot() string {
	return filepath.Join(c.DataDir, "chunks", c.Service)
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("service", d.Service)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("store.raw_dir", d.Store.RawDir)
	v.SetDefault("store.dedup", d.Store.Dedup)
	v.SetDefault("chunking.intervals", d.Chunking.Intervals)
	v.SetDefault("chunking.threshold", d.Chunking.Threshold)
	v.SetDefault("analysis.interval", d.Analysis.Interval)
	v.SetDefault("analysis.min_in_degree", d.Analysis.MinInDegree)
	v.SetDefault("analysis.min_transactions", d.Analysis.MinTransactions)
	v.SetDefault("analysis.window_size", d.Analysis.WindowSize)
	v.SetDefault("analysis.var_threshold", d.Analysis.VarThreshold)
	v.SetDefault("analysis.percent_low_var_threshold", d.Analysis.PercentLowVarThreshold)
	v.SetDefault("analysis.timestamp_policy", d.Analysis.TimestampPolicy)
	v.SetDefault("strategy.martingale_tol", d.Strategy.MartingaleTol)
	v.SetDefault("strategy.min_prev_amount", d.Strategy.MinPrevAmount)
	v.SetDefault("strategy.dalembert_tol", d.Strategy.DAlembertTol)
	v.SetDefault("strategy.flat_tol", d.Strategy.FlatTol)
	v.SetDefault("strategy.flag_threshold", d.Strategy.FlagThreshold)
	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("graph.enabled", d.Graph.Enabled)
	v.SetDefault("graph.neo4j_uri", d.Graph.Neo4jURI)
	v.SetDefault("graph.neo4j_user", d.Graph.Neo4jUser)
	v.SetDefault("graph.neo4j_password", d.Graph.Neo4jPassword)
	v.SetDefault("graph.batch_size", d.Graph.BatchSize)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.auth_token", d.HTTP.AuthToken)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)
	v.SetDefault("http.rate_per_minute", d.HTTP.RatePerMinute)
	v.SetDefault("http.burst", d.HTTP.Burst)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
}
