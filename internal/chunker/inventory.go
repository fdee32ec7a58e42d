package chunker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rawblock/wager-engine/internal/store"
	"github.com/rawblock/wager-engine/pkg/models"
)

// Counts tabulates the transaction count of every window, largest first.
func Counts(windows []Window) []models.ChunkCount {
	counts := make([]models.ChunkCount, 0, len(windows))
	for _, w := range windows {
		counts = append(counts, models.ChunkCount{Chunk: w.Label.String(), Count: len(w.Transactions)})
	}
	sortCounts(counts)
	return counts
}

// CountDir recounts the window files of an interval directory. Files that
// cannot be decoded are reported in skipped rather than failing the count.
func CountDir(dir string) (counts []models.ChunkCount, skipped []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read chunk dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		txs, err := store.ReadTransactions(filepath.Join(dir, name))
		if err != nil {
			skipped = append(skipped, name)
			continue
		}
		counts = append(counts, models.ChunkCount{Chunk: strings.TrimSuffix(name, ".json"), Count: len(txs)})
	}
	sortCounts(counts)
	return counts, skipped, nil
}

// SelectChunks keeps the windows holding more than threshold transactions.
func SelectChunks(counts []models.ChunkCount, threshold int) []models.ChunkCount {
	var selected []models.ChunkCount
	for _, c := range counts {
		if c.Count > threshold {
			selected = append(selected, c)
		}
	}
	return selected
}

// SuggestThreshold returns the largest window count strictly below threshold,
// the value an operator can fall back to when no window exceeds threshold.
func SuggestThreshold(counts []models.ChunkCount, threshold int) (int, bool) {
	best, ok := 0, false
	for _, c := range counts {
		if c.Count < threshold && (!ok || c.Count > best) {
			best, ok = c.Count, true
		}
	}
	return best, ok
}

// RenderInventory writes the count report as a text table.
func RenderInventory(w io.Writer, interval int, counts []models.ChunkCount, threshold int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Chunk", "Transactions", "Selected"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCaption(true, fmt.Sprintf("%d-month windows, threshold %d", interval, threshold))

	total := 0
	for _, c := range counts {
		selected := ""
		if c.Count > threshold {
			selected = "yes"
		}
		table.Append([]string{c.Chunk, strconv.Itoa(c.Count), selected})
		total += c.Count
	}
	table.SetFooter([]string{strconv.Itoa(len(counts)) + " windows", strconv.Itoa(total), ""})
	table.Render()
}

func sortCounts(counts []models.ChunkCount) {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Chunk < counts[j].Chunk
	})
}
