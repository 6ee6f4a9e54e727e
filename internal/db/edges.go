package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"neuralvault/graphcore/internal/model"
)

const edgeColumns = `e.edge_id, e.source_node_id, e.target_node_id, e.relation_type,
	e.confidence_score, e.is_manual, e.created_at, e.updated_at`

// scanEdge scans a row into an Edge. The row must have every column of
// edgeColumns in order.
func scanEdge(scanner interface{ Scan(dest ...any) error }) (model.Edge, error) {
	var r model.EdgeRecord
	err := scanner.Scan(
		&r.EdgeID, &r.SourceNodeID, &r.TargetNodeID, &r.RelationType,
		&r.ConfidenceScore, &r.IsManual, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return model.Edge{}, err
	}
	return r.Edge()
}

func scanEdges(rows *sql.Rows) ([]model.Edge, error) {
	defer rows.Close()
	edges := []model.Edge{}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// LinkOptions carries the optional attributes of a new edge.
type LinkOptions struct {
	Confidence *float64
	IsManual   bool
}

// Link creates the edge src→dst. related_to is stored with the smaller id
// as source. A contains edge that would close a cycle is refused.
func (d *DB) Link(ctx context.Context, src, dst int64, rel model.RelationType, opts LinkOptions) (model.Edge, error) {
	if src == dst {
		return model.Edge{}, fmt.Errorf("linking node %d to itself: %w", src, ErrCycle)
	}
	if c := opts.Confidence; c != nil && (*c < 0 || *c > 1) {
		return model.Edge{}, &model.ValidationError{Field: "confidence_score", Reason: fmt.Sprintf("%v outside [0,1]", *c)}
	}
	key := model.NewEdgeKey(src, dst, rel)

	var edgeID int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []int64{key.Source, key.Target} {
			if _, err := getNode(ctx, tx, id, false); err != nil {
				return err
			}
		}
		if rel == model.RelContains {
			cycle, err := createsCycle(ctx, tx, key.Source, key.Target)
			if err != nil {
				return err
			}
			if cycle {
				return fmt.Errorf("%d contains %d: %w", key.Source, key.Target, ErrCycle)
			}
		}

		now := model.FormatTimestamp(d.now())
		res, err := tx.ExecContext(ctx, `
			INSERT INTO edges (source_node_id, target_node_id, relation_type,
				confidence_score, is_manual, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			key.Source, key.Target, string(rel), opts.Confidence, opts.IsManual, now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%d -%s-> %d: %w", key.Source, rel, key.Target, ErrDuplicateEdge)
			}
			return fmt.Errorf("inserting edge: %w", err)
		}
		edgeID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return model.Edge{}, err
	}
	return scanEdge(d.conn.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges e WHERE e.edge_id = ?`, edgeID))
}

// createsCycle reports whether src contains dst would close a contains
// cycle, i.e. whether src is already reachable from dst.
func createsCycle(ctx context.Context, tx *sql.Tx, src, dst int64) (bool, error) {
	var found int
	err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE reachable(node_id) AS (
			SELECT ?
			UNION
			SELECT e.target_node_id FROM edges e
			INNER JOIN reachable r ON e.source_node_id = r.node_id
			WHERE e.relation_type = 'contains'
		)
		SELECT 1 FROM reachable WHERE node_id = ? LIMIT 1`, dst, src).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking containment cycle: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Unlink removes the edge. Removing an absent edge succeeds.
func (d *DB) Unlink(ctx context.Context, src, dst int64, rel model.RelationType) error {
	key := model.NewEdgeKey(src, dst, rel)
	_, err := d.conn.ExecContext(ctx,
		`DELETE FROM edges WHERE source_node_id = ? AND target_node_id = ? AND relation_type = ?`,
		key.Source, key.Target, string(key.Relation))
	if err != nil {
		return fmt.Errorf("deleting edge: %w", err)
	}
	return nil
}

// ConfirmEdge marks a suggested edge as manual and returns it.
func (d *DB) ConfirmEdge(ctx context.Context, src, dst int64, rel model.RelationType) (model.Edge, error) {
	key := model.NewEdgeKey(src, dst, rel)
	res, err := d.conn.ExecContext(ctx, `
		UPDATE edges SET is_manual = 1, updated_at = ?
		WHERE source_node_id = ? AND target_node_id = ? AND relation_type = ?`,
		model.FormatTimestamp(d.now()), key.Source, key.Target, string(key.Relation))
	if err != nil {
		return model.Edge{}, fmt.Errorf("confirming edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Edge{}, fmt.Errorf("edge %d -%s-> %d: %w", key.Source, rel, key.Target, ErrNotFound)
	}
	return scanEdge(d.conn.QueryRowContext(ctx, `
		SELECT `+edgeColumns+` FROM edges e
		WHERE e.source_node_id = ? AND e.target_node_id = ? AND e.relation_type = ?`,
		key.Source, key.Target, string(key.Relation)))
}

// ListTargets returns the live nodes one rel hop from src, in edge
// creation order.
func (d *DB) ListTargets(ctx context.Context, src int64, rel model.RelationType) ([]model.Node, error) {
	if _, err := d.GetNode(ctx, src); err != nil {
		return nil, err
	}
	rows, err := d.conn.QueryContext(ctx, `
		SELECT `+qualify("n", nodeColumns)+`
		FROM edges e
		INNER JOIN nodes n ON n.node_id = e.target_node_id
		WHERE e.source_node_id = ? AND e.relation_type = ? AND n.is_deleted = 0
		ORDER BY e.created_at, e.edge_id`, src, string(rel))
	if err != nil {
		return nil, fmt.Errorf("listing targets of %d: %w", src, err)
	}
	return scanNodes(rows)
}

// ListSources returns the live nodes with a rel edge to dst, in edge
// creation order. For contains these are the containers of dst.
func (d *DB) ListSources(ctx context.Context, dst int64, rel model.RelationType) ([]model.Node, error) {
	if _, err := d.GetNode(ctx, dst); err != nil {
		return nil, err
	}
	rows, err := d.conn.QueryContext(ctx, `
		SELECT `+qualify("n", nodeColumns)+`
		FROM edges e
		INNER JOIN nodes n ON n.node_id = e.source_node_id
		WHERE e.target_node_id = ? AND e.relation_type = ? AND n.is_deleted = 0
		ORDER BY e.created_at, e.edge_id`, dst, string(rel))
	if err != nil {
		return nil, fmt.Errorf("listing sources of %d: %w", dst, err)
	}
	return scanNodes(rows)
}

// ListEdgesTo returns the edges of rel pointing at dst.
func (d *DB) ListEdgesTo(ctx context.Context, dst int64, rel model.RelationType) ([]model.Edge, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT `+edgeColumns+`
		FROM edges e
		INNER JOIN nodes s ON s.node_id = e.source_node_id
		WHERE e.target_node_id = ? AND e.relation_type = ? AND s.is_deleted = 0
		ORDER BY e.created_at, e.edge_id`, dst, string(rel))
	if err != nil {
		return nil, fmt.Errorf("listing edges to %d: %w", dst, err)
	}
	return scanEdges(rows)
}

// ListEdges returns every edge of rel between live nodes. An empty rel
// lists all relations.
func (d *DB) ListEdges(ctx context.Context, rel model.RelationType) ([]model.Edge, error) {
	query := `
		SELECT ` + edgeColumns + `
		FROM edges e
		INNER JOIN nodes s ON s.node_id = e.source_node_id
		INNER JOIN nodes t ON t.node_id = e.target_node_id
		WHERE s.is_deleted = 0 AND t.is_deleted = 0`
	var args []any
	if rel != "" {
		query += ` AND e.relation_type = ?`
		args = append(args, string(rel))
	}
	rows, err := d.conn.QueryContext(ctx, query+` ORDER BY e.edge_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	return scanEdges(rows)
}
