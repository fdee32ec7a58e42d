// Package graph turns a window's transactions into a service-centred wallet
// graph and exports it as node/edge CSV files or into Neo4j.
package graph

import (
	"github.com/rawblock/wager-engine/pkg/models"
)

// NodeKind distinguishes the analyzed service from its counterparties.
type NodeKind string

const (
	KindService NodeKind = "service"
	KindWallet  NodeKind = "wallet"
)

// Node is a graph vertex.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"type"`
}

// Edge is one transfer. Sent transfers point from the service to the wallet,
// received ones from the wallet to the service.
type Edge struct {
	Source    string           `json:"source"`
	Target    string           `json:"target"`
	Amount    float64          `json:"amount"`
	Sats      int64            `json:"amount_sats"`
	Timestamp int64            `json:"timestamp"`
	HasTime   bool             `json:"-"`
	TxID      string           `json:"txid"`
	Direction models.Direction `json:"direction"`
}

// Graph is a directed multigraph; parallel edges are kept.
type Graph struct {
	nodes []Node
	index map[string]int
	Edges []Edge
}

// New returns a graph holding only the service node.
func New(service string) *Graph {
	g := &Graph{index: make(map[string]int)}
	g.addNode(service, KindService)
	return g
}

// Nodes returns the vertices in insertion order, the service first.
func (g *Graph) Nodes() []Node { return g.nodes }

func (g *Graph) addNode(id string, kind NodeKind) {
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, Node{ID: id, Kind: kind})
}

// BuildWalletGraph adds one edge per transaction. Sent transactions use their
// first output, or models.UnknownCounterparty with a zero amount when there is
// none.
func BuildWalletGraph(service string, txs []models.Transaction) *Graph {
	g := New(service)
	for _, tx := range txs {
		wallet, amount, dir := tx.Flow()
		e := Edge{Amount: amount, Sats: int64(tx.Satoshis()), Timestamp: tx.Time, HasTime: tx.HasTime, TxID: tx.TxID, Direction: dir}
		switch dir {
		case models.DirectionSent:
			e.Source, e.Target = service, wallet
		case models.DirectionReceived:
			e.Source, e.Target = wallet, service
		default:
			continue
		}
		g.addNode(wallet, KindWallet)
		g.Edges = append(g.Edges, e)
	}
	return g
}
