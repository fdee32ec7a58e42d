// Package store loads a service's raw transaction history from the JSON pages
// downloaded from the explorer API.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rawblock/wager-engine/pkg/models"
)

// ErrNoTransactions is returned when no file yields a single record.
var ErrNoTransactions = errors.New("no transactions loaded")

// DedupPolicy selects how repeated records are handled at load time.
type DedupPolicy string

const (
	DedupNone DedupPolicy = "none"
	DedupTxID DedupPolicy = "txid" // drop repeated (tx id, direction) pairs, keep the first
)

// Options configure Load.
type Options struct {
	Dedup  DedupPolicy
	Logger *slog.Logger
}

// Stats counts what Load saw.
type Stats struct {
	Files           int `json:"files"`
	SkippedFiles    int `json:"skipped_files"`
	Records         int `json:"records"`
	SkippedRecords  int `json:"skipped_records"`
	Duplicates      int `json:"duplicates"`
	Untimed         int `json:"untimed"`
	NonCanonicalIDs int `json:"non_canonical_ids"`
}

// Dataset is one service's flat transaction list.
type Dataset struct {
	Transactions []models.Transaction
	Stats        Stats
}

// page is the object form of a downloaded page.
type page struct {
	Transactions []json.RawMessage `json:"transactions"`
	Txs          []json.RawMessage `json:"txs"`
}

// Load reads every *.json file in dir in lexical order. Files that are not a
// record array or an object with a "transactions"/"txs" array are skipped and
// logged; records with an unknown type are skipped and counted.
func Load(ctx context.Context, dir string, opts Options) (*Dataset, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	names, err := listJSON(dir)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds.Stats.Files++

		records, err := readPage(filepath.Join(dir, name))
		if err != nil {
			ds.Stats.SkippedFiles++
			log.Warn("skipping malformed transaction file", "file", name, "error", err)
			continue
		}

		for _, raw := range records {
			var tx models.Transaction
			if err := json.Unmarshal(raw, &tx); err != nil {
				ds.Stats.SkippedRecords++
				log.Debug("skipping malformed record", "file", name, "error", err)
				continue
			}
			ds.Stats.Records++
			if !tx.HasTime {
				ds.Stats.Untimed++
			}
			if !models.IsCanonicalTxID(tx.TxID) {
				ds.Stats.NonCanonicalIDs++
			}
			ds.Transactions = append(ds.Transactions, tx)
		}
	}

	ds.Transactions, ds.Stats.Duplicates = Dedup(ds.Transactions, opts.Dedup)

	if len(ds.Transactions) == 0 {
		return ds, fmt.Errorf("%s: %w", dir, ErrNoTransactions)
	}

	log.Info("transactions loaded",
		"dir", dir,
		"files", ds.Stats.Files,
		"skipped_files", ds.Stats.SkippedFiles,
		"records", len(ds.Transactions),
		"skipped_records", ds.Stats.SkippedRecords,
		"duplicates", ds.Stats.Duplicates,
		"untimed", ds.Stats.Untimed)
	return ds, nil
}

// Dedup applies policy and returns the kept records and the number dropped.
func Dedup(txs []models.Transaction, policy DedupPolicy) ([]models.Transaction, int) {
	if policy != DedupTxID {
		return txs, 0
	}

	type key struct {
		id  string
		dir models.Direction
	}
	seen := make(map[key]struct{}, len(txs))
	kept := txs[:0:0]
	for _, tx := range txs {
		k := key{tx.TxID, tx.Direction()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, tx)
	}
	return kept, len(txs) - len(kept)
}

// ReadTransactions decodes a single window or page file, accepting both the
// array and the object form. Unknown records fail the whole file.
func ReadTransactions(path string) ([]models.Transaction, error) {
	records, err := readPage(path)
	if err != nil {
		return nil, err
	}
	txs := make([]models.Transaction, 0, len(records))
	for _, raw := range records {
		var tx models.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func readPage(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}

	switch data[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	case '{':
		var p page
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		if p.Transactions != nil {
			return p.Transactions, nil
		}
		if p.Txs != nil {
			return p.Txs, nil
		}
		return nil, errors.New(`object has neither "transactions" nor "txs"`)
	}
	return nil, fmt.Errorf("unexpected JSON value starting with %q", data[0])
}

func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read transaction dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
