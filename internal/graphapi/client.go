// Package graphapi is the typed façade over the remote graph authority.
// Each verb is exactly one round trip; nothing is retried here.
package graphapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"neuralvault/graphcore/internal/metrics"
	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/wire"
)

// Transport carries one command to the authority and returns its raw
// result. wire.SocketClient and wire.Loopback implement it.
type Transport interface {
	Invoke(ctx context.Context, command string, args any) (json.RawMessage, error)
}

// Filter selects nodes for FetchByFilter. The zero value lists every live
// node.
type Filter struct {
	Type           model.NodeType
	TaskStatus     model.TaskStatus
	PinnedOnly     bool
	UnreviewedOnly bool
	Query          string
	IncludeDeleted bool
	Limit          int
	// DueOn keeps nodes due on that calendar day; the zero time matches
	// any. HasDueDate keeps nodes with any due date.
	DueOn      time.Time
	HasDueDate bool
}

// Key identifies the filter for caching.
func (f Filter) Key() string {
	return fmt.Sprintf("type=%s|status=%s|pinned=%t|unreviewed=%t|q=%s|deleted=%t|limit=%d|due=%s|dated=%t",
		f.Type, f.TaskStatus, f.PinnedOnly, f.UnreviewedOnly, f.Query, f.IncludeDeleted, f.Limit, f.dueOn(), f.HasDueDate)
}

func (f Filter) dueOn() string {
	if f.DueOn.IsZero() {
		return ""
	}
	return f.DueOn.Format(time.DateOnly)
}

func (f Filter) args() wire.FilterArgs {
	return wire.FilterArgs{
		DueOn:          f.dueOn(),
		HasDueDate:     f.HasDueDate,
		NodeType:       string(f.Type),
		TaskStatus:     string(f.TaskStatus),
		PinnedOnly:     f.PinnedOnly,
		UnreviewedOnly: f.UnreviewedOnly,
		Query:          f.Query,
		IncludeDeleted: f.IncludeDeleted,
		Limit:          f.Limit,
	}
}

// LinkOptions are optional attributes of a new edge. Suggested edges are
// stored with is_manual=false until confirmed.
type LinkOptions struct {
	Confidence *float64
	Suggested  bool
}

// NewNode describes a node to create. Task and resource fields apply only
// to their type.
type NewNode struct {
	Type     model.NodeType
	Title    string
	Summary  *string
	Status   model.TaskStatus
	Priority model.Priority
	DueDate  *string
	Subtype  model.ResourceSubtype
	FilePath *string
	Content  *string
	UserNote *string
}

type Client struct {
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewClient wraps t. logger and m may be nil.
func NewClient(t Transport, logger *slog.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{transport: t, logger: logger, metrics: m}
}

func (c *Client) call(ctx context.Context, op string, args any) (json.RawMessage, error) {
	raw, err := c.transport.Invoke(ctx, op, args)
	if err != nil {
		cause := classify(err)
		outcome := metrics.OutcomeError
		if IsBenign(cause) {
			outcome = metrics.OutcomeBenign
		}
		c.metrics.RemoteCall(op, outcome)
		c.logger.Debug("remote call failed", "operation", op, "error", cause)
		return nil, &RemoteError{Operation: op, Cause: cause}
	}
	c.metrics.RemoteCall(op, metrics.OutcomeOK)
	return raw, nil
}

func (c *Client) decodeNode(op string, raw json.RawMessage) (model.Node, error) {
	n, err := model.DecodeNode(raw)
	if err != nil {
		return model.Node{}, &RemoteError{Operation: op, Cause: err}
	}
	return n, nil
}

func (c *Client) decodeNodes(op string, raw json.RawMessage) ([]model.Node, error) {
	nodes, err := model.DecodeNodes(raw)
	if err != nil {
		return nil, &RemoteError{Operation: op, Cause: err}
	}
	return nodes, nil
}

func (c *Client) decodeEdges(op string, raw json.RawMessage) ([]model.Edge, error) {
	edges, err := model.DecodeEdges(raw)
	if err != nil {
		return nil, &RemoteError{Operation: op, Cause: err}
	}
	return edges, nil
}

// Ping checks that the authority answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, wire.CmdPing, nil)
	return err
}

// FetchByFilter lists nodes. It has no side effects.
func (c *Client) FetchByFilter(ctx context.Context, f Filter) ([]model.Node, error) {
	raw, err := c.call(ctx, wire.CmdFetchByFilter, f.args())
	if err != nil {
		return nil, err
	}
	return c.decodeNodes(wire.CmdFetchByFilter, raw)
}

func (c *Client) GetNode(ctx context.Context, id int64) (model.Node, error) {
	raw, err := c.call(ctx, wire.CmdGetNode, wire.NodeArgs{NodeID: id})
	if err != nil {
		return model.Node{}, err
	}
	return c.decodeNode(wire.CmdGetNode, raw)
}

func (c *Client) CreateNode(ctx context.Context, nn NewNode) (model.Node, error) {
	args := wire.CreateNodeArgs{
		NodeType:    string(nn.Type),
		Title:       nn.Title,
		Summary:     nn.Summary,
		DueDate:     nn.DueDate,
		FilePath:    nn.FilePath,
		FileContent: nn.Content,
		UserNote:    nn.UserNote,
	}
	if nn.Status != "" {
		s := string(nn.Status)
		args.TaskStatus = &s
	}
	if nn.Priority != "" {
		p := string(nn.Priority)
		args.Priority = &p
	}
	if nn.Subtype != "" {
		s := string(nn.Subtype)
		args.ResourceSubtype = &s
	}
	raw, err := c.call(ctx, wire.CmdCreateNode, args)
	if err != nil {
		return model.Node{}, err
	}
	return c.decodeNode(wire.CmdCreateNode, raw)
}

// Link creates src→dst. It fails with ErrDuplicateEdge if the triple
// exists, ErrNotFound for unknown ids and ErrCycle for a contains edge
// that would close a cycle.
func (c *Client) Link(ctx context.Context, src, dst int64, rel model.RelationType, opts LinkOptions) (model.Edge, error) {
	manual := !opts.Suggested
	raw, err := c.call(ctx, wire.CmdLink, wire.EdgeArgs{
		SourceNodeID: src,
		TargetNodeID: dst,
		RelationType: string(rel),
		Confidence:   opts.Confidence,
		IsManual:     &manual,
	})
	if err != nil {
		return model.Edge{}, err
	}
	e, err := model.DecodeEdge(raw)
	if err != nil {
		return model.Edge{}, &RemoteError{Operation: wire.CmdLink, Cause: err}
	}
	return e, nil
}

// Unlink removes src→dst. An absent edge is a successful no-op.
func (c *Client) Unlink(ctx context.Context, src, dst int64, rel model.RelationType) error {
	_, err := c.call(ctx, wire.CmdUnlink, wire.EdgeArgs{SourceNodeID: src, TargetNodeID: dst, RelationType: string(rel)})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ConfirmEdge marks a suggested edge as manual.
func (c *Client) ConfirmEdge(ctx context.Context, src, dst int64, rel model.RelationType) (model.Edge, error) {
	raw, err := c.call(ctx, wire.CmdConfirmEdge, wire.EdgeArgs{SourceNodeID: src, TargetNodeID: dst, RelationType: string(rel)})
	if err != nil {
		return model.Edge{}, err
	}
	e, err := model.DecodeEdge(raw)
	if err != nil {
		return model.Edge{}, &RemoteError{Operation: wire.CmdConfirmEdge, Cause: err}
	}
	return e, nil
}

// ListTargets returns the nodes one rel hop from src in edge creation order.
func (c *Client) ListTargets(ctx context.Context, src int64, rel model.RelationType) ([]model.Node, error) {
	raw, err := c.call(ctx, wire.CmdListTargets, wire.RelationArgs{NodeID: src, RelationType: string(rel)})
	if err != nil {
		return nil, err
	}
	return c.decodeNodes(wire.CmdListTargets, raw)
}

// ListSources returns the nodes with a rel edge to dst; for contains,
// the containers of dst.
func (c *Client) ListSources(ctx context.Context, dst int64, rel model.RelationType) ([]model.Node, error) {
	raw, err := c.call(ctx, wire.CmdListSources, wire.RelationArgs{NodeID: dst, RelationType: string(rel)})
	if err != nil {
		return nil, err
	}
	return c.decodeNodes(wire.CmdListSources, raw)
}

func (c *Client) ListEdgesTo(ctx context.Context, dst int64, rel model.RelationType) ([]model.Edge, error) {
	raw, err := c.call(ctx, wire.CmdListEdgesTo, wire.RelationArgs{NodeID: dst, RelationType: string(rel)})
	if err != nil {
		return nil, err
	}
	return c.decodeEdges(wire.CmdListEdgesTo, raw)
}

// ListEdges returns every live edge of rel.
func (c *Client) ListEdges(ctx context.Context, rel model.RelationType) ([]model.Edge, error) {
	raw, err := c.call(ctx, wire.CmdListEdges, wire.RelationArgs{RelationType: string(rel)})
	if err != nil {
		return nil, err
	}
	return c.decodeEdges(wire.CmdListEdges, raw)
}

// UpdateField sets one field and returns the updated node. value must be
// a JSON scalar: string, bool or nil.
func (c *Client) UpdateField(ctx context.Context, id int64, field model.Field, value any) (model.Node, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return model.Node{}, &RemoteError{Operation: wire.CmdUpdateField, Cause: err}
	}
	raw, err := c.call(ctx, wire.CmdUpdateField, wire.UpdateFieldArgs{NodeID: id, Field: string(field), Value: v})
	if err != nil {
		return model.Node{}, err
	}
	return c.decodeNode(wire.CmdUpdateField, raw)
}

// ConvertType asks the authority to convert the node and returns the
// resulting node.
func (c *Client) ConvertType(ctx context.Context, id int64, target model.NodeType) (model.Node, error) {
	raw, err := c.call(ctx, wire.CmdConvertType, wire.ConvertArgs{NodeID: id, TargetType: string(target)})
	if err != nil {
		return model.Node{}, err
	}
	return c.decodeNode(wire.CmdConvertType, raw)
}

// SoftDelete marks the node deleted. nodeType selects the endpoint family
// on the authority.
func (c *Client) SoftDelete(ctx context.Context, id int64, nodeType model.NodeType) error {
	_, err := c.call(ctx, wire.CmdSoftDelete, wire.DeleteArgs{NodeID: id, NodeType: string(nodeType)})
	return err
}

func (c *Client) HardDelete(ctx context.Context, id int64, nodeType model.NodeType) error {
	_, err := c.call(ctx, wire.CmdHardDelete, wire.DeleteArgs{NodeID: id, NodeType: string(nodeType)})
	return err
}
