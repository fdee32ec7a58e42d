package graph

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// EncodeNodes renders the node table with an id,type header.
func EncodeNodes(g *Graph) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "type"}); err != nil {
		return nil, err
	}
	for _, n := range g.Nodes() {
		if err := w.Write([]string{n.ID, string(n.Kind)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode nodes: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeEdges renders the edge table. Untimed edges leave the timestamp
// column empty.
func EncodeEdges(g *Graph) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"source", "target", "amount", "timestamp", "txid", "direction"}); err != nil {
		return nil, err
	}
	for _, e := range g.Edges {
		ts := ""
		if e.HasTime {
			ts = strconv.FormatInt(e.Timestamp, 10)
		}
		row := []string{e.Source, e.Target, strconv.FormatFloat(e.Amount, 'f', -1, 64), ts, e.TxID, string(e.Direction)}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode edges: %w", err)
	}
	return buf.Bytes(), nil
}
