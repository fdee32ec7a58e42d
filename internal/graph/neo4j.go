package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v6/neo4j"
)

const (
	mergeNodesCypher = `UNWIND $rows AS row
MERGE (n:Entity {id: row.id})
SET n.kind = row.kind`

	createEdgesCypher = `UNWIND $rows AS row
MATCH (a:Entity {id: row.source}), (b:Entity {id: row.target})
CREATE (a)-[:TRANSFER {txid: row.txid, amount: row.amount, amount_sats: row.amount_sats, timestamp: row.timestamp, direction: row.direction, service: $service, window: $window}]->(b)`

	deleteWindowCypher = `MATCH ()-[r:TRANSFER {service: $service, window: $window}]->() DELETE r`
)

// Neo4jLoader writes one service's window graphs into Neo4j. Nodes are merged
// across windows; the edges of a window are replaced on every load. Edges
// carry the service, so services sharing a database never touch each other's
// windows.
type Neo4jLoader struct {
	driver    neo4j.Driver
	service   string
	batchSize int
	log       *slog.Logger
}

// NewNeo4jLoader connects to uri and verifies the connection.
func NewNeo4jLoader(ctx context.Context, uri, user, password, service string, batchSize int, log *slog.Logger) (*Neo4jLoader, error) {
	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	if batchSize < 1 {
		batchSize = 500
	}
	return &Neo4jLoader{
		driver:    driver,
		service:   service,
		batchSize: batchSize,
		log:       log.With("component", "neo4j", "service", service),
	}, nil
}

// Close releases the driver.
func (l *Neo4jLoader) Close(ctx context.Context) error {
	return l.driver.Close(ctx)
}

// Load replaces the window's edges and merges its nodes.
func (l *Neo4jLoader) Load(ctx context.Context, window string, g *Graph) error {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	start := time.Now()
	if err := l.run(ctx, session, deleteWindowCypher, l.windowParams(window)); err != nil {
		return fmt.Errorf("clear window %s: %w", window, err)
	}

	nodes := nodeRows(g)
	for _, b := range batches(len(nodes), l.batchSize) {
		if err := l.run(ctx, session, mergeNodesCypher, map[string]any{"rows": nodes[b[0]:b[1]]}); err != nil {
			return fmt.Errorf("merge nodes of %s: %w", window, err)
		}
	}

	edges := edgeRows(g)
	for _, b := range batches(len(edges), l.batchSize) {
		params := l.windowParams(window)
		params["rows"] = edges[b[0]:b[1]]
		if err := l.run(ctx, session, createEdgesCypher, params); err != nil {
			return fmt.Errorf("create edges of %s: %w", window, err)
		}
	}

	l.log.Info("window graph loaded",
		"window", window,
		"nodes", len(nodes),
		"edges", len(edges),
		"duration", time.Since(start))
	return nil
}

// Delete removes the service's edges of a window.
func (l *Neo4jLoader) Delete(ctx context.Context, window string) error {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if err := l.run(ctx, session, deleteWindowCypher, l.windowParams(window)); err != nil {
		return fmt.Errorf("delete window %s: %w", window, err)
	}
	l.log.Info("window graph deleted", "window", window)
	return nil
}

func (l *Neo4jLoader) windowParams(window string) map[string]any {
	return map[string]any{"service": l.service, "window": window}
}

func (l *Neo4jLoader) run(ctx context.Context, session neo4j.Session, cypher string, params map[string]any) error {
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func nodeRows(g *Graph) []any {
	rows := make([]any, 0, len(g.Nodes()))
	for _, n := range g.Nodes() {
		rows = append(rows, map[string]any{"id": n.ID, "kind": string(n.Kind)})
	}
	return rows
}

func edgeRows(g *Graph) []any {
	rows := make([]any, 0, len(g.Edges))
	for _, e := range g.Edges {
		var ts any
		if e.HasTime {
			ts = e.Timestamp
		}
		rows = append(rows, map[string]any{
			"source":      e.Source,
			"target":      e.Target,
			"txid":        e.TxID,
			"amount":      e.Amount,
			"amount_sats": e.Sats,
			"timestamp":   ts,
			"direction":   string(e.Direction),
		})
	}
	return rows
}

// batches splits [0, n) into half-open ranges of at most size elements.
func batches(n, size int) [][2]int {
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}
