package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.Artifact("metrics", "written")
	m.Artifact("metrics", "written")
	m.Artifact("metrics", "skipped")
	m.Flagged("martingale")
	m.Verdict("bot-like")
	m.Windows("3", "selected", 4)
	m.ObserveStage("chunk", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.artifacts.WithLabelValues("metrics", "written")); got != 2 {
		t.Errorf("Expected 2 written artifacts. Got: %v", got)
	}
	if got := testutil.ToFloat64(m.windows.WithLabelValues("3", "selected")); got != 4 {
		t.Errorf("Expected 4 selected windows. Got: %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"wager_artifacts_total", "wager_strategy_flags_total", "wager_stage_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected %s in exposition", name)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Artifact("chunk", "written")
	m.ObserveStage("chunk", time.Second)
	m.Flagged("flat")
	if m.Registry() != nil {
		t.Errorf("Expected nil registry")
	}
}
