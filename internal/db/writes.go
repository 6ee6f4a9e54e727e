package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"neuralvault/graphcore/internal/model"
)

// UpdateField sets one field of a live node and returns the updated node.
// value is a decoded JSON scalar.
func (d *DB) UpdateField(ctx context.Context, id int64, field model.Field, value any) (model.Node, error) {
	var out model.Node
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		n, err := getNode(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if err := model.ApplyField(&n, field, value, d.now()); err != nil {
			return err
		}
		if err := saveNode(ctx, tx, n); err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// DecodeValue turns a raw JSON field value into the scalar ApplyField
// expects.
func DecodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding field value: %w", err)
	}
	return v, nil
}

// ConvertType changes the node's type in place. id and uuid are kept;
// fields that don't belong to the new type are cleared.
func (d *DB) ConvertType(ctx context.Context, id int64, target model.NodeType) (model.Node, error) {
	var out model.Node
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		n, err := getNode(ctx, tx, id, false)
		if err != nil {
			return err
		}
		converted, err := model.Convert(n, target)
		if err != nil {
			return err
		}
		now := d.now()
		converted.UpdatedAt = &now
		if err := saveNode(ctx, tx, converted); err != nil {
			return err
		}
		out = converted
		return nil
	})
	return out, err
}

// SoftDelete marks the node deleted. nodeType must match the stored type.
func (d *DB) SoftDelete(ctx context.Context, id int64, nodeType model.NodeType) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		n, err := getNode(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if err := checkFamily(n, nodeType); err != nil {
			return err
		}
		now := d.now()
		n.IsDeleted = true
		n.DeletedAt = &now
		n.UpdatedAt = &now
		return saveNode(ctx, tx, n)
	})
}

// HardDelete removes the node and every edge touching it. Soft-deleted
// nodes can be hard deleted.
func (d *DB) HardDelete(ctx context.Context, id int64, nodeType model.NodeType) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		n, err := getNode(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := checkFamily(n, nodeType); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM edges WHERE source_node_id = ? OR target_node_id = ?`, id, id); err != nil {
			return fmt.Errorf("deleting edges of %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE node_id = ?`, id); err != nil {
			return fmt.Errorf("deleting node %d: %w", id, err)
		}
		return nil
	})
}

func checkFamily(n model.Node, nodeType model.NodeType) error {
	if n.Type != nodeType {
		return &model.ValidationError{
			NodeType: n.Type,
			Field:    "node_type",
			Reason:   fmt.Sprintf("node %d is a %s, not a %s", n.NodeID, n.Type, nodeType),
		}
	}
	return nil
}
