package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rawblock/wager-engine/internal/logging"
	"github.com/rawblock/wager-engine/pkg/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMixedPages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "svc_transactions_0.json", `[
		{"txid":"t1","time":100,"type":"received","wallet_id":"w1","amount":1},
		{"txid":"t2","time":200,"type":"sent","outputs":[{"wallet_id":"w1","amount":1.9}]}
	]`)
	writeFile(t, dir, "svc_transactions_100.json", `{"found":true,"txs":[
		{"txid":"t3","time":300,"type":"received","wallet_id":"w2","amount":0.1},
		{"txid":"t4","type":"received","wallet_id":"w2","amount":0.1},
		{"txid":"t5","time":400,"type":"bogus"}
	]}`)
	writeFile(t, dir, "svc_transactions_200.json", `{"transactions":[{"txid":"t1","time":100,"type":"received","wallet_id":"w1","amount":1}]}`)
	writeFile(t, dir, "broken.json", `{"transactions": [`)
	writeFile(t, dir, "shape.json", `"just a string"`)
	writeFile(t, dir, "notes.txt", `ignored`)

	ds, err := Load(context.Background(), dir, Options{Dedup: DedupNone, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if ds.Stats.Files != 5 {
		t.Errorf("Expected 5 json files. Got: %d", ds.Stats.Files)
	}
	if ds.Stats.SkippedFiles != 2 {
		t.Errorf("Expected 2 skipped files. Got: %d", ds.Stats.SkippedFiles)
	}
	if ds.Stats.SkippedRecords != 1 {
		t.Errorf("Expected 1 skipped record. Got: %d", ds.Stats.SkippedRecords)
	}
	if len(ds.Transactions) != 5 {
		t.Errorf("Expected 5 transactions without dedup. Got: %d", len(ds.Transactions))
	}
	if ds.Stats.Untimed != 1 {
		t.Errorf("Expected 1 untimed record. Got: %d", ds.Stats.Untimed)
	}
	if ds.Stats.NonCanonicalIDs != 5 {
		t.Errorf("Expected short ids to be counted as non canonical. Got: %d", ds.Stats.NonCanonicalIDs)
	}
}

func TestLoadDedupTxID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `[
		{"txid":"t1","time":100,"type":"received","wallet_id":"w1","amount":1},
		{"txid":"t1","time":100,"type":"sent","outputs":[]}
	]`)
	writeFile(t, dir, "b.json", `[{"txid":"t1","time":100,"type":"received","wallet_id":"w1","amount":1}]`)

	ds, err := Load(context.Background(), dir, Options{Dedup: DedupTxID, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(ds.Transactions) != 2 || ds.Stats.Duplicates != 1 {
		t.Errorf("Expected 2 kept and 1 duplicate. Got: %d kept, %d duplicates", len(ds.Transactions), ds.Stats.Duplicates)
	}
	if ds.Transactions[1].Direction() != models.DirectionSent {
		t.Errorf("Expected the sent leg of t1 to be kept")
	}
}

func TestLoadEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `[]`)
	_, err := Load(context.Background(), dir, Options{Logger: logging.Discard()})
	if !errors.Is(err, ErrNoTransactions) {
		t.Errorf("Expected ErrNoTransactions. Got: %v", err)
	}
}

func TestReadTransactionsRejectsUnknownRecords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "w.json", `[{"txid":"t","time":1,"type":"fee"}]`)
	if _, err := ReadTransactions(filepath.Join(dir, "w.json")); !errors.Is(err, models.ErrUnknownDirection) {
		t.Errorf("Expected ErrUnknownDirection. Got: %v", err)
	}
}
