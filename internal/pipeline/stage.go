package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage is a pipeline state. A run advances a service from StageRaw up to the
// requested stage; every transition is skipped when its artifacts are fresh.
type Stage int

const (
	StageRaw Stage = iota
	StageChunked
	StageWindowMetricsComputed
	StageRollingAnalysisLogged
	StageStrategyClassified
)

var stageNames = [...]string{"raw", "chunked", "metrics", "rolling", "strategy"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText renders the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStage accepts a stage name as printed by String.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if strings.EqualFold(n, name) {
			return Stage(i), nil
		}
	}
	return StageRaw, fmt.Errorf("unknown stage %q", name)
}

// ErrAlreadyRunning is returned by Run while another run is in progress.
var ErrAlreadyRunning = errors.New("pipeline run already in progress")

// ErrNoWindows is returned when no transaction carries a timestamp.
var ErrNoWindows = errors.New("no timestamped transactions to partition")

// ThresholdError reports that no window of the analyzed interval holds more
// transactions than the configured threshold. Suggestion is the largest
// window count below the threshold, when there is one.
type ThresholdError struct {
	Interval      int
	Threshold     int
	Suggestion    int
	HasSuggestion bool
}

func (e *ThresholdError) Error() string {
	msg := fmt.Sprintf("no %d-month window holds more than %d transactions", e.Interval, e.Threshold)
	if !e.HasSuggestion {
		return msg + "; no window holds any transaction below the threshold either"
	}
	return fmt.Sprintf("%s; the largest window below the threshold holds %d transactions, lower chunking.threshold below %d to analyze it",
		msg, e.Suggestion, e.Suggestion)
}

// StageReport summarizes one stage of a run.
type StageReport struct {
	Stage     Stage         `json:"stage"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Warnings  []string      `json:"warnings,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Report is the outcome of a run.
type Report struct {
	RunID        string        `json:"run_id"`
	Stages       []StageReport `json:"stages"`
	Selected     []string      `json:"selected_windows,omitempty"`
	EmptyWindows []string      `json:"empty_windows,omitempty"` // windows without a qualifying counterparty
	Flagged      int           `json:"flagged"`
}
