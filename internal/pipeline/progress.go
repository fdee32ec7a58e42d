package pipeline

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a progress notification.
type EventType string

const (
	EventStageStarted  EventType = "stage_started"
	EventWindowDone    EventType = "window_done"
	EventWarning       EventType = "warning"
	EventStageFinished EventType = "stage_finished"
	EventRunFinished   EventType = "run_finished"
)

// Event is emitted to the optional event callback as a run advances.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage,omitempty"`
	Window  string    `json:"window,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Progress is a snapshot of the runner's state for the API.
type Progress struct {
	IsRunning    bool   `json:"is_running"`
	Stage        string `json:"stage"`
	WindowsTotal int64  `json:"windows_total"`
	WindowsDone  int64  `json:"windows_done"`
	Flagged      int64  `json:"flagged"`
	LastError    string `json:"last_error,omitempty"`
}

// tracker holds the live counters. Fields are atomic so that Progress can be
// read while workers update them.
type tracker struct {
	isRunning    atomic.Bool
	stage        atomic.Int32
	windowsTotal atomic.Int64
	windowsDone  atomic.Int64
	flagged      atomic.Int64

	mu      sync.Mutex
	lastErr string
}

func (t *tracker) begin(s Stage, windows int) {
	t.stage.Store(int32(s))
	t.windowsTotal.Store(int64(windows))
	t.windowsDone.Store(0)
}

func (t *tracker) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.lastErr = ""
		return
	}
	t.lastErr = err.Error()
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	lastErr := t.lastErr
	t.mu.Unlock()
	return Progress{
		IsRunning:    t.isRunning.Load(),
		Stage:        Stage(t.stage.Load()).String(),
		WindowsTotal: t.windowsTotal.Load(),
		WindowsDone:  t.windowsDone.Load(),
		Flagged:      t.flagged.Load(),
		LastError:    lastErr,
	}
}

// stageCounter accumulates a StageReport from concurrent window jobs.
type stageCounter struct {
	mu    sync.Mutex
	rep   StageReport
	empty []string
}

func (c *stageCounter) processed() {
	c.mu.Lock()
	c.rep.Processed++
	c.mu.Unlock()
}

func (c *stageCounter) skipped() {
	c.mu.Lock()
	c.rep.Skipped++
	c.mu.Unlock()
}

func (c *stageCounter) warn(msg string) {
	c.mu.Lock()
	c.rep.Warnings = append(c.rep.Warnings, msg)
	c.mu.Unlock()
}

func (c *stageCounter) markEmpty(window string) {
	c.mu.Lock()
	c.empty = append(c.empty, window)
	c.mu.Unlock()
}

func (c *stageCounter) emptyWindows() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.empty...)
	sort.Strings(out)
	return out
}

func (c *stageCounter) report() StageReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rep
}
