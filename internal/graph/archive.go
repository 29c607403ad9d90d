// File: internal/graph/archive.go
// Archive persists finished exploration graphs to PostgreSQL so runs can be
// compared and resumed across sessions. The in-memory Graph stays the source
// of truth during a run; the archive only sees exports.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Archive is a PostgreSQL-backed store for graph exports.
type Archive struct {
	pool DBPool
	log  *zap.Logger
}

// NewArchive creates an archive and verifies the connection.
func NewArchive(ctx context.Context, pool DBPool, logger *zap.Logger) (*Archive, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Archive{
		pool: pool,
		log:  logger.Named("GraphArchive"),
	}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS exploration_runs (
    run_id       TEXT PRIMARY KEY,
    target_url   TEXT NOT NULL,
    node_count   INTEGER NOT NULL,
    edge_count   INTEGER NOT NULL,
    end_reason   TEXT NOT NULL,
    exported_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS exploration_nodes (
    run_id       TEXT NOT NULL REFERENCES exploration_runs(run_id) ON DELETE CASCADE,
    node_id      TEXT NOT NULL,
    url          TEXT NOT NULL,
    status       TEXT NOT NULL,
    visit_count  INTEGER NOT NULL,
    depth        INTEGER NOT NULL,
    payload      JSONB NOT NULL,
    first_seen   TIMESTAMPTZ NOT NULL,
    last_seen    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, node_id)
);
`

// EnsureSchema creates the archive tables if they do not exist.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// SaveExport writes a run's full graph export in a single transaction. Nodes
// carry their edges inside the JSONB payload, so one table per run suffices.
func (a *Archive) SaveExport(ctx context.Context, export schemas.GraphExport, targetURL string, endReason schemas.ExhaustionReason) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			a.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	edgeCount := 0
	for i := range export.Nodes {
		edgeCount += len(export.Nodes[i].Edges)
	}

	exportedAt := export.ExportedAt
	if exportedAt.IsZero() {
		exportedAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO exploration_runs (run_id, target_url, node_count, edge_count, end_reason, exported_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			node_count = EXCLUDED.node_count,
			edge_count = EXCLUDED.edge_count,
			end_reason = EXCLUDED.end_reason,
			exported_at = EXCLUDED.exported_at;
	`, export.RunID, targetURL, len(export.Nodes), edgeCount, string(endReason), exportedAt); err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}

	if len(export.Nodes) > 0 {
		rows := make([][]interface{}, len(export.Nodes))
		for i, n := range export.Nodes {
			payload, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("failed to marshal node %s: %w", n.ID, err)
			}
			rows[i] = []interface{}{
				export.RunID, n.ID, n.URL, string(n.Status),
				n.VisitCount, n.Depth, payload,
				n.FirstSeen.UTC(), n.LastSeen.UTC(),
			}
		}

		copyCount, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"exploration_nodes"},
			[]string{"run_id", "node_id", "url", "status", "visit_count", "depth", "payload", "first_seen", "last_seen"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy nodes: %w", err)
		}
		if int(copyCount) != len(export.Nodes) {
			return fmt.Errorf("mismatch in copied node count: expected %d, got %d", len(export.Nodes), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	a.log.Info("Graph export archived",
		zap.String("run_id", export.RunID),
		zap.Int("nodes", len(export.Nodes)),
		zap.Int("edges", edgeCount))
	return nil
}

// LoadExport reads a previously archived run back into a GraphExport.
func (a *Archive) LoadExport(ctx context.Context, runID string) (*schemas.GraphExport, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT payload FROM exploration_nodes
		WHERE run_id = $1
		ORDER BY first_seen ASC;
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived nodes: %w", err)
	}
	defer rows.Close()

	export := &schemas.GraphExport{RunID: runID}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan node payload: %w", err)
		}
		var node schemas.GraphNode
		if err := json.Unmarshal(payload, &node); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node payload: %w", err)
		}
		export.Nodes = append(export.Nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading archived nodes: %w", err)
	}
	if len(export.Nodes) == 0 {
		return nil, fmt.Errorf("run with id '%s' not found in archive", runID)
	}
	return export, nil
}

// ListRuns returns the IDs of archived runs, newest first.
func (a *Archive) ListRuns(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx, `
		SELECT run_id FROM exploration_runs
		ORDER BY exported_at DESC
		LIMIT $1;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
