package models

// TimeStats summarizes a counterparty's inter-arrival times in seconds.
type TimeStats struct {
	Samples  int     `json:"samples"`       // number of inter-arrival times
	Variance float64 `json:"time_variance"` // sample variance (n-1), 0 below two samples
	Mean     float64 `json:"mean_time_diff"`
	StdDev   float64 `json:"std_dev_time_diff"`
	Min      float64 `json:"min_time_diff"`
	Max      float64 `json:"max_time_diff"`
}

// CounterpartyWindowMetrics is one row of a window's metrics table.
type CounterpartyWindowMetrics struct {
	Counterparty  string     `json:"wallet_id"`
	InDegree      int        `json:"in_degree"`
	OutDegree     int        `json:"out_degree"`
	TotalReceived float64    `json:"total_btc_received"`
	TotalSent     float64    `json:"total_btc_sent"`
	AverageAmount float64    `json:"average_amount"`
	NetBalance    float64    `json:"net_balance"`
	Time          *TimeStats `json:"time_stats,omitempty"` // nil when fewer than two timed bets
}

// WindowMetrics is the persisted metrics table of one window.
type WindowMetrics struct {
	Window string                      `json:"window"`
	Rows   []CounterpartyWindowMetrics `json:"rows"`
}

// WindowGlobalMetrics aggregates a window's metrics table into one row.
type WindowGlobalMetrics struct {
	Chunk                string  `json:"chunk"`
	TotalTransactions    int     `json:"total_transactions"`
	UniqueWallets        int     `json:"unique_wallets"`
	TotalBTCReceived     float64 `json:"total_btc_received"`
	MeanNetBalance       float64 `json:"mean_net_balance"`
	VarianceNetBalance   float64 `json:"variance_net_balance"`
	MeanTimeVariance     float64 `json:"mean_time_variance"`
	VarianceTimeVariance float64 `json:"variance_time_variance"`
}

// Verdict is the rolling analyzer's classification of a counterparty.
type Verdict string

const (
	VerdictBotLike          Verdict = "bot-like"
	VerdictHumanLike        Verdict = "human-like"
	VerdictInsufficientData Verdict = "insufficient-data"
)

// RollingBehaviorSummary condenses a counterparty's rolling-variance series.
type RollingBehaviorSummary struct {
	Counterparty         string  `json:"wallet_id"`
	NTx                  int     `json:"n_tx"`
	PercentLowVarWindows float64 `json:"percent_low_var_windows"`
	LongestLowVarStreak  int     `json:"longest_low_var_streak"`
	MeanTimeDiff         float64 `json:"mean_time_diff"`
	StdTimeDiff          float64 `json:"std_time_diff"`
	DefinedWindows       int     `json:"defined_windows"`
	InsufficientData     bool    `json:"insufficient_data"`
	Verdict              Verdict `json:"verdict"`
}

// RollingLog is the per-window rolling-analysis artifact.
type RollingLog struct {
	MinTransactions int                      `json:"min_transactions"`
	WindowSize      int                      `json:"window_size"`
	VarThreshold    float64                  `json:"var_threshold"`
	Wallets         []RollingBehaviorSummary `json:"wallets"`
}

// StrategySignature is the outcome of a single betting-pattern detector.
type StrategySignature struct {
	Ratio     float64 `json:"ratio"` // matching transitions / all transitions
	MaxStreak int     `json:"max_streak"`
	Flag      bool    `json:"flag"`
}

// ActivityProfile describes when a counterparty bets.
type ActivityProfile struct {
	PeakHourUTC      int     `json:"peak_hour_utc"`
	InferredTimezone string  `json:"inferred_timezone"` // e.g. "UTC-5", assumes a 13:00 local peak
	WeekdayRatio     float64 `json:"weekday_ratio"`
	Regularity       float64 `json:"regularity"` // 0.0 (random) to 1.0 (perfectly periodic)
	BetsPerDay       float64 `json:"bets_per_day"`
	Cadence          string  `json:"cadence"` // "scripted"/"high-volume"/"weekday"/"casual"/"unknown"
}

// StrategyResult combines all detectors for one counterparty.
type StrategyResult struct {
	Counterparty string            `json:"wallet_id"`
	NTx          int               `json:"n_tx"`
	Martingale   StrategySignature `json:"martingale"`
	DAlembert    StrategySignature `json:"dalembert"`
	Flat         StrategySignature `json:"flat"`
	Profile      *ActivityProfile  `json:"profile,omitempty"`
}

// Flagged reports whether any detector raised its flag.
func (r StrategyResult) Flagged() bool {
	return r.Martingale.Flag || r.DAlembert.Flag || r.Flat.Flag
}

// ChunkCount is one row of a chunk inventory report.
type ChunkCount struct {
	Chunk string `json:"chunk"`
	Count int    `json:"count"`
}
