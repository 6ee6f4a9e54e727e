package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/wire"
)

const nodeColumns = `node_id, uuid, title, summary, node_type, task_status, priority,
	due_date, done_date, file_hash, file_path, file_content, user_note,
	resource_subtype, embedded_hash, processing_hash, embedding_status,
	last_embedding_error, processing_stage, review_status, is_pinned, pinned_at,
	created_at, updated_at, is_deleted, deleted_at`

// priorityRank orders high before medium before low, unset last.
const priorityRank = `CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END`

func qualify(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// scanNode scans a row into a Node. The row must have every column of
// nodeColumns in order. Rows go through the same decoding as wire payloads.
func scanNode(scanner interface{ Scan(dest ...any) error }) (model.Node, error) {
	var r model.NodeRecord
	err := scanner.Scan(
		&r.NodeID, &r.UUID, &r.Title, &r.Summary, &r.NodeType, &r.TaskStatus, &r.Priority,
		&r.DueDate, &r.DoneDate, &r.FileHash, &r.FilePath, &r.FileContent, &r.UserNote,
		&r.ResourceSubtype, &r.EmbeddedHash, &r.ProcessingHash, &r.EmbeddingStatus,
		&r.LastEmbeddingError, &r.ProcessingStage, &r.ReviewStatus, &r.IsPinned, &r.PinnedAt,
		&r.CreatedAt, &r.UpdatedAt, &r.IsDeleted, &r.DeletedAt,
	)
	if err != nil {
		return model.Node{}, err
	}
	return r.Node()
}

func scanNodes(rows *sql.Rows) ([]model.Node, error) {
	defer rows.Close()
	nodes := []model.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getNode(ctx context.Context, q querier, id int64, includeDeleted bool) (model.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE node_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	n, err := scanNode(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Node{}, fmt.Errorf("loading node %d: %w", id, err)
	}
	return n, nil
}

// GetNode returns a live node by id.
func (d *DB) GetNode(ctx context.Context, id int64) (model.Node, error) {
	return getNode(ctx, d.conn, id, false)
}

// FetchByFilter lists nodes matching f, newest first.
func (d *DB) FetchByFilter(ctx context.Context, f wire.FilterArgs) ([]model.Node, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if f.NodeType != "" {
		where = append(where, "node_type = ?")
		args = append(args, f.NodeType)
	}
	if f.TaskStatus != "" {
		where = append(where, "task_status = ?")
		args = append(args, f.TaskStatus)
	}
	if f.PinnedOnly {
		where = append(where, "is_pinned = 1")
	}
	if f.UnreviewedOnly {
		where = append(where, "review_status = 'unreviewed'")
	}
	if f.DueOn != "" {
		if _, err := time.Parse(time.DateOnly, f.DueOn); err != nil {
			return nil, &model.ValidationError{NodeType: model.NodeTask, Field: "due_date", Reason: fmt.Sprintf("%q is not a YYYY-MM-DD day", f.DueOn)}
		}
		where = append(where, "DATE(due_date) = DATE(?)")
		args = append(args, f.DueOn)
	}
	if f.HasDueDate {
		where = append(where, "due_date IS NOT NULL")
	}
	if f.Query != "" {
		patterns := BuildSearchPatterns(f.Query)
		if len(patterns) == 0 {
			return []model.Node{}, nil
		}
		var terms []string
		for _, p := range patterns {
			terms = append(terms, "title LIKE ? ESCAPE '\\'")
			args = append(args, p)
		}
		where = append(where, "("+strings.Join(terms, " OR ")+")")
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	switch {
	case f.PinnedOnly:
		query += ` ORDER BY pinned_at DESC, node_id DESC`
	case f.DueOn != "" || f.HasDueDate:
		query += ` ORDER BY due_date ASC, ` + priorityRank + `, node_id`
	default:
		query += ` ORDER BY created_at DESC, node_id DESC`
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching nodes: %w", err)
	}
	return scanNodes(rows)
}

// CreateNode inserts a node built from args and returns it.
func (d *DB) CreateNode(ctx context.Context, args wire.CreateNodeArgs) (model.Node, error) {
	nodeType, err := model.ParseNodeType(args.NodeType)
	if err != nil {
		return model.Node{}, &model.ValidationError{Field: "node_type", Reason: err.Error()}
	}
	if strings.TrimSpace(args.Title) == "" {
		return model.Node{}, &model.ValidationError{NodeType: nodeType, Field: "title", Reason: "title is required"}
	}

	now := d.now()
	n := model.Node{
		UUID:    uuid.New().String(),
		Type:    nodeType,
		Title:   args.Title,
		Summary: args.Summary,
		Lifecycle: model.Lifecycle{
			ReviewStatus:    model.ReviewUnreviewed,
			ProcessingStage: model.StageTodo,
			EmbeddingStatus: model.EmbeddingPending,
		},
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	switch nodeType {
	case model.NodeTask:
		n.Task = &model.TaskFields{Status: model.TaskTodo, Priority: model.PriorityMedium}
	case model.NodeResource:
		n.Resource = &model.ResourceFields{Subtype: model.SubtypeOther}
	}

	fields := []struct {
		field model.Field
		value *string
	}{
		{model.FieldTaskStatus, args.TaskStatus},
		{model.FieldPriority, args.Priority},
		{model.FieldDueDate, args.DueDate},
		{model.FieldResourceSubtype, args.ResourceSubtype},
		{model.FieldFilePath, args.FilePath},
		{model.FieldFileContent, args.FileContent},
		{model.FieldUserNote, args.UserNote},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if err := model.ApplyField(&n, f.field, *f.value, now); err != nil {
			return model.Node{}, err
		}
	}

	r := n.Record()
	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO nodes (uuid, title, summary, node_type, task_status, priority,
			due_date, done_date, file_path, file_content, user_note, resource_subtype,
			embedding_status, processing_stage, review_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UUID, r.Title, r.Summary, r.NodeType, r.TaskStatus, r.Priority,
		r.DueDate, r.DoneDate, r.FilePath, r.FileContent, r.UserNote, r.ResourceSubtype,
		r.EmbeddingStatus, r.ProcessingStage, r.ReviewStatus, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return model.Node{}, fmt.Errorf("creating node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Node{}, fmt.Errorf("creating node: %w", err)
	}
	return d.GetNode(ctx, id)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// saveNode writes every mutable column of n back to its row.
func saveNode(ctx context.Context, e execer, n model.Node) error {
	r := n.Record()
	_, err := e.ExecContext(ctx, `
		UPDATE nodes SET title = ?, summary = ?, node_type = ?, task_status = ?,
			priority = ?, due_date = ?, done_date = ?, file_hash = ?, file_path = ?,
			file_content = ?, user_note = ?, resource_subtype = ?, embedded_hash = ?,
			processing_hash = ?, embedding_status = ?, last_embedding_error = ?,
			processing_stage = ?, review_status = ?, is_pinned = ?, pinned_at = ?,
			updated_at = ?, is_deleted = ?, deleted_at = ?
		WHERE node_id = ?`,
		r.Title, r.Summary, r.NodeType, r.TaskStatus,
		r.Priority, r.DueDate, r.DoneDate, r.FileHash, r.FilePath,
		r.FileContent, r.UserNote, r.ResourceSubtype, r.EmbeddedHash,
		r.ProcessingHash, r.EmbeddingStatus, r.LastEmbeddingError,
		r.ProcessingStage, r.ReviewStatus, r.IsPinned, r.PinnedAt,
		r.UpdatedAt, r.IsDeleted, r.DeletedAt,
		r.NodeID,
	)
	if err != nil {
		return fmt.Errorf("saving node %d: %w", n.NodeID, err)
	}
	return nil
}
