package graph

import (
	"reflect"
	"strings"
	"testing"

	"github.com/rawblock/wager-engine/pkg/models"
)

func sampleTxs() []models.Transaction {
	return []models.Transaction{
		{TxID: "r1", Time: 100, HasTime: true, Received: &models.Received{Counterparty: "alice", Amount: 0.5}},
		{TxID: "s1", Time: 110, HasTime: true, Sent: &models.Sent{Outputs: []models.Output{{Counterparty: "alice", Amount: 0.98}, {Counterparty: "change", Amount: 3}}}},
		{TxID: "s2", Time: 120, HasTime: true, Sent: &models.Sent{}},
		{TxID: "r2", Received: &models.Received{Counterparty: "bob", Amount: 1}},
	}
}

func TestBuildWalletGraph(t *testing.T) {
	g := BuildWalletGraph("SatoshiDice", sampleTxs())

	wantNodes := []Node{
		{ID: "SatoshiDice", Kind: KindService},
		{ID: "alice", Kind: KindWallet},
		{ID: models.UnknownCounterparty, Kind: KindWallet},
		{ID: "bob", Kind: KindWallet},
	}
	if !reflect.DeepEqual(g.Nodes(), wantNodes) {
		t.Errorf("Unexpected nodes: %+v", g.Nodes())
	}
	if len(g.Edges) != 4 {
		t.Fatalf("Expected one edge per transaction. Got: %d", len(g.Edges))
	}

	tests := []struct {
		name           string
		edge           Edge
		source, target string
		amount         float64
		direction      models.Direction
	}{
		{"Received Points At Service", g.Edges[0], "alice", "SatoshiDice", 0.5, models.DirectionReceived},
		{"Sent Uses First Output", g.Edges[1], "SatoshiDice", "alice", 0.98, models.DirectionSent},
		{"Sent Without Outputs", g.Edges[2], "SatoshiDice", models.UnknownCounterparty, 0, models.DirectionSent},
	}
	if g.Edges[1].Sats != 98_000_000 || g.Edges[2].Sats != 0 {
		t.Errorf("Expected satoshi amounts 98000000 and 0. Got: %d and %d", g.Edges[1].Sats, g.Edges[2].Sats)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.edge.Source != tt.source || tt.edge.Target != tt.target || tt.edge.Amount != tt.amount || tt.edge.Direction != tt.direction {
				t.Errorf("Unexpected edge: %+v", tt.edge)
			}
		})
	}
}

func TestEncodeCSV(t *testing.T) {
	g := BuildWalletGraph("svc", sampleTxs())

	nodes, err := EncodeNodes(g)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(nodes), "id,type\nsvc,service\nalice,wallet\n") {
		t.Errorf("Unexpected nodes CSV:\n%s", nodes)
	}

	edges, err := EncodeEdges(g)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(edges)), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected header plus 4 edges. Got:\n%s", edges)
	}
	if lines[0] != "source,target,amount,timestamp,txid,direction" {
		t.Errorf("Unexpected header %q", lines[0])
	}
	if lines[2] != "svc,alice,0.98,110,s1,sent" {
		t.Errorf("Unexpected sent row %q", lines[2])
	}
	if lines[4] != "bob,svc,1,,r2,received" {
		t.Errorf("Expected empty timestamp for untimed edge. Got: %q", lines[4])
	}
}

func TestBatches(t *testing.T) {
	tests := []struct {
		n, size  int
		expected [][2]int
	}{
		{0, 3, nil},
		{3, 3, [][2]int{{0, 3}}},
		{7, 3, [][2]int{{0, 3}, {3, 6}, {6, 7}}},
	}
	for _, tt := range tests {
		if got := batches(tt.n, tt.size); !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("batches(%d, %d) = %v, want %v", tt.n, tt.size, got, tt.expected)
		}
	}
}

func TestLoaderScopesEdgesByService(t *testing.T) {
	a := &Neo4jLoader{service: "SatoshiDice.com-original"}
	b := &Neo4jLoader{service: "BitZino.com"}
	window := "2013-01-07_to_2013-04-06"

	pa, pb := a.windowParams(window), b.windowParams(window)
	if pa["window"] != window || pb["window"] != window {
		t.Fatalf("Expected both loaders to carry the window. Got: %v %v", pa, pb)
	}
	if reflect.DeepEqual(pa, pb) {
		t.Errorf("Expected different services to produce different delete params. Got: %v", pa)
	}

	for name, cypher := range map[string]string{"delete": deleteWindowCypher, "create": createEdgesCypher} {
		if !strings.Contains(cypher, "service: $service") || !strings.Contains(cypher, "window: $window") {
			t.Errorf("Expected %s statement keyed by service and window. Got: %s", name, cypher)
		}
	}
}
