package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeRawPage(t *testing.T, dataDir, service string, n int) {
	t.Helper()
	dir := filepath.Join(dataDir, "raw", "transactions", service)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2012, time.June, 15, 0, 0, 0, 0, time.UTC).Unix()
	var recs []string
	for i := range n {
		recs = append(recs, fmt.Sprintf(`{"txid":"t%d","time":%d,"type":"received","wallet_id":"w%d","amount":0.1}`, i, start+int64(i)*600, i%3))
	}
	page := "[" + strings.Join(recs, ",") + "]"
	if err := os.WriteFile(filepath.Join(dir, "svc_transactions_0.json"), []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := realMain([]string{"deploy"}, &stdout, &stderr); code != 2 {
		t.Errorf("Expected exit code 2. Got: %d", code)
	}
	if !strings.Contains(stderr.String(), "usage: engine") {
		t.Errorf("Expected usage on stderr. Got: %s", stderr.String())
	}
}

func TestChunkThenInventory(t *testing.T) {
	dataDir := t.TempDir()
	writeRawPage(t, dataDir, "svc", 40)
	common := []string{"--data-dir", dataDir, "--service", "svc", "--log-level", "error"}

	var stdout, stderr bytes.Buffer
	if code := realMain(append([]string{"chunk"}, common...), &stdout, &stderr); code != 0 {
		t.Fatalf("Expected chunk to succeed. Got: %d (%s)", code, stderr.String())
	}
	if !strings.Contains(strings.ToUpper(stdout.String()), "CHUNKED") {
		t.Errorf("Expected a stage report. Got: %s", stdout.String())
	}

	stdout.Reset()
	if code := realMain(append([]string{"inventory", "--chunk-threshold", "10"}, common...), &stdout, &stderr); code != 0 {
		t.Fatalf("Expected inventory to succeed. Got: %d (%s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "2012-06-15_to_2012-09-14") {
		t.Errorf("Expected the first window in the inventory. Got: %s", stdout.String())
	}
}

func TestThresholdExitCode(t *testing.T) {
	dataDir := t.TempDir()
	writeRawPage(t, dataDir, "svc", 40)

	var stdout, stderr bytes.Buffer
	args := []string{"metrics", "--data-dir", dataDir, "--service", "svc", "--chunk-threshold", "100", "--log-level", "error"}
	if code := realMain(args, &stdout, &stderr); code != 1 {
		t.Fatalf("Expected exit code 1. Got: %d", code)
	}
	if !strings.Contains(stderr.String(), "lower chunking.threshold below 40") {
		t.Errorf("Expected the threshold suggestion. Got: %s", stderr.String())
	}
}

func TestInventoryRecountsWithoutReport(t *testing.T) {
	dataDir := t.TempDir()
	writeRawPage(t, dataDir, "svc", 40)
	common := []string{"--data-dir", dataDir, "--service", "svc", "--log-level", "error"}

	var stdout, stderr bytes.Buffer
	if code := realMain(append([]string{"chunk"}, common...), &stdout, &stderr); code != 0 {
		t.Fatalf("Expected chunk to succeed. Got: %d (%s)", code, stderr.String())
	}
	report := filepath.Join(dataDir, "chunks", "svc", "reports", "3_months.json")
	if err := os.Remove(report); err != nil {
		t.Fatalf("Expected a 3-month report to remove: %v", err)
	}

	stdout.Reset()
	if code := realMain(append([]string{"inventory"}, common...), &stdout, &stderr); code != 0 {
		t.Fatalf("Expected inventory to succeed. Got: %d (%s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "2012-06-15_to_2012-09-14") || !strings.Contains(stdout.String(), "40") {
		t.Errorf("Expected the recounted window. Got: %s", stdout.String())
	}
}
