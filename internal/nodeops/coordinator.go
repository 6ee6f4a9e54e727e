// Package nodeops runs the node-level workflows: review, pinning, task
// status, deletion, conversion and edge confirmation. Each succeeds only
// after the authority confirmed it, then brings the shared cache in line.
package nodeops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/store"
)

// ErrDeleteDeclined is returned when the confirmer refused a delete.
var ErrDeleteDeclined = errors.New("delete declined")

// Op names a coordinator operation in a Success signal.
type Op string

const (
	OpApprove       Op = "approve"
	OpReject        Op = "reject"
	OpTogglePinned  Op = "toggle_pinned"
	OpSetTaskStatus Op = "set_task_status"
	OpDelete        Op = "delete"
	OpConvert       Op = "convert"
	OpConfirmEdge   Op = "confirm_edge"
)

// Success is emitted once per successful operation.
type Success struct {
	Op     Op
	NodeID int64
}

// Graph is the part of the graph API the coordinator calls.
type Graph interface {
	UpdateField(ctx context.Context, id int64, field model.Field, value any) (model.Node, error)
	ConvertType(ctx context.Context, id int64, target model.NodeType) (model.Node, error)
	SoftDelete(ctx context.Context, id int64, nodeType model.NodeType) error
	ConfirmEdge(ctx context.Context, src, dst int64, rel model.RelationType) (model.Edge, error)
}

// Cache is the part of the shared store the coordinator keeps current.
type Cache interface {
	Put(n model.Node, topics ...store.Topic)
	Replace(n model.Node)
	Evict(id int64)
	Invalidate(topics ...store.Topic)
	EdgesTo(ctx context.Context, dst int64, rel model.RelationType) ([]model.Edge, error)
	PatchEdges(key model.EdgeKey, fn func(*model.Edge)) int
}

// Confirmer asks the user whether a node may be deleted.
type Confirmer interface {
	ConfirmDelete(ctx context.Context, n model.Node) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, n model.Node) (bool, error)

func (f ConfirmFunc) ConfirmDelete(ctx context.Context, n model.Node) (bool, error) {
	return f(ctx, n)
}

type Coordinator struct {
	graph   Graph
	cache   Cache
	confirm Confirmer
	logger  *slog.Logger

	mu        sync.Mutex
	onSuccess []func(Success)
}

// New builds a coordinator. A nil confirmer declines every delete that is
// not explicitly confirmed by the caller.
func New(g Graph, c Cache, confirm Confirmer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{graph: g, cache: c, confirm: confirm, logger: logger}
}

// OnSuccess registers fn for the success signal.
func (c *Coordinator) OnSuccess(fn func(Success)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSuccess = append(c.onSuccess, fn)
}

func (c *Coordinator) emit(op Op, nodeID int64) {
	c.mu.Lock()
	listeners := append([]func(Success){}, c.onSuccess...)
	c.mu.Unlock()
	c.logger.Debug("node operation succeeded", "op", op, "node_id", nodeID)
	for _, fn := range listeners {
		fn(Success{Op: op, NodeID: nodeID})
	}
}

// update applies one remote field change and patches the cache with the
// returned node. Lists filtered on the field are dropped.
func (c *Coordinator) update(ctx context.Context, op Op, n model.Node, field model.Field, value any, topics ...store.Topic) (model.Node, error) {
	updated, err := c.graph.UpdateField(ctx, n.NodeID, field, value)
	if err != nil {
		return model.Node{}, fmt.Errorf("%s node %d: %w", op, n.NodeID, err)
	}
	c.cache.Put(updated)
	c.cache.Invalidate(topics...)
	c.emit(op, n.NodeID)
	return updated, nil
}

func (c *Coordinator) Approve(ctx context.Context, n model.Node) (model.Node, error) {
	return c.update(ctx, OpApprove, n, model.FieldReviewStatus, string(model.ReviewReviewed), store.TopicList)
}

func (c *Coordinator) Reject(ctx context.Context, n model.Node) (model.Node, error) {
	return c.update(ctx, OpReject, n, model.FieldReviewStatus, string(model.ReviewRejected), store.TopicList)
}

// TogglePinned flips is_pinned. Pinned views hear about it on their own
// topic.
func (c *Coordinator) TogglePinned(ctx context.Context, n model.Node) (model.Node, error) {
	return c.update(ctx, OpTogglePinned, n, model.FieldIsPinned, !n.IsPinned, store.TopicPinned)
}

// SetTaskStatus marks a task todo, done or cancelled. The authority keeps
// done_date in step.
func (c *Coordinator) SetTaskStatus(ctx context.Context, n model.Node, status model.TaskStatus) (model.Node, error) {
	if n.Type != model.NodeTask {
		return model.Node{}, &model.ValidationError{NodeType: n.Type, Field: string(model.FieldTaskStatus), Reason: "only tasks have a status"}
	}
	return c.update(ctx, OpSetTaskStatus, n, model.FieldTaskStatus, string(status), store.TopicList)
}

// Delete soft-deletes n after confirmation, unless skipConfirm is set, and
// evicts it from every cache.
func (c *Coordinator) Delete(ctx context.Context, n model.Node, skipConfirm bool) error {
	if !skipConfirm {
		ok := false
		if c.confirm != nil {
			var err error
			if ok, err = c.confirm.ConfirmDelete(ctx, n); err != nil {
				return fmt.Errorf("confirming delete of node %d: %w", n.NodeID, err)
			}
		}
		if !ok {
			return ErrDeleteDeclined
		}
	}
	if err := c.graph.SoftDelete(ctx, n.NodeID, n.Type); err != nil {
		return fmt.Errorf("deleting node %d: %w", n.NodeID, err)
	}
	c.cache.Evict(n.NodeID)
	c.emit(OpDelete, n.NodeID)
	return nil
}

// Convert changes n's type. Disallowed transitions fail locally. The
// returned node must keep n's identity and carry the new type; it then
// replaces every cached copy and every dependent view refetches.
func (c *Coordinator) Convert(ctx context.Context, n model.Node, target model.NodeType) (model.Node, error) {
	if !model.CanConvert(n.Type, target) {
		return model.Node{}, &model.ValidationError{
			NodeType: n.Type,
			Field:    "node_type",
			Reason:   fmt.Sprintf("cannot convert %s to %s", n.Type, target),
		}
	}
	got, err := c.graph.ConvertType(ctx, n.NodeID, target)
	if err != nil {
		return model.Node{}, fmt.Errorf("converting node %d: %w", n.NodeID, err)
	}
	if err := checkConverted(n, got, target); err != nil {
		return model.Node{}, err
	}
	c.cache.Replace(got)
	c.emit(OpConvert, n.NodeID)
	return got, nil
}

func checkConverted(before, after model.Node, target model.NodeType) error {
	switch {
	case after.NodeID != before.NodeID:
		return &model.SchemaViolation{Field: "node.node_id", Reason: fmt.Sprintf("conversion returned node %d for %d", after.NodeID, before.NodeID)}
	case after.UUID != before.UUID:
		return &model.SchemaViolation{Field: "node.uuid", Reason: "conversion changed the uuid"}
	case after.Type != target:
		return &model.SchemaViolation{Field: "node.node_type", Reason: fmt.Sprintf("conversion returned %s, want %s", after.Type, target)}
	}
	return after.Validate()
}

// ConfirmEdgeRelation confirms a suggested edge and marks every cached
// copy manual in place.
func (c *Coordinator) ConfirmEdgeRelation(ctx context.Context, e model.Edge) (model.Edge, error) {
	confirmed, err := c.graph.ConfirmEdge(ctx, e.SourceID, e.TargetID, e.Relation)
	if err != nil {
		return model.Edge{}, fmt.Errorf("confirming edge %d->%d: %w", e.SourceID, e.TargetID, err)
	}
	patched := c.cache.PatchEdges(e.Key(), func(cached *model.Edge) {
		cached.IsManual = true
		if confirmed.UpdatedAt != nil {
			cached.UpdatedAt = confirmed.UpdatedAt
		}
	})
	c.logger.Debug("patched cached edges", "source", e.SourceID, "target", e.TargetID, "count", patched)
	c.emit(OpConfirmEdge, e.TargetID)
	return confirmed, nil
}

// EdgesTo lists, through the cache, the rel edges pointing at target.
func (c *Coordinator) EdgesTo(ctx context.Context, target int64, rel model.RelationType) ([]model.Edge, error) {
	return c.cache.EdgesTo(ctx, target, rel)
}
