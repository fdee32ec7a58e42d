package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v. Got: %v", in, want, got)
		}
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "info", Format: "json"}, "SatoshiDice.com-original", &buf)
	log.Debug("hidden")
	log.Info("window processed", "window", "2012-06-01_to_2012-08-31")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 record above debug level. Got: %d", len(lines))
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("Expected JSON record: %v", err)
	}
	if rec["service"] != "SatoshiDice.com-original" {
		t.Errorf("Expected service attribute. Got: %v", rec["service"])
	}
	if ts, _ := rec["time"].(string); len(ts) != len(timeLayout) {
		t.Errorf("Expected time formatted as %q. Got: %q", timeLayout, ts)
	}
}
