package db

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/wire"
)

// Handler serves wire commands from the database.
type Handler struct {
	db     *DB
	logger *slog.Logger
}

// NewHandler returns a wire.Handler backed by d.
func NewHandler(d *DB, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: d, logger: logger}
}

// Handle implements wire.Handler.
func (h *Handler) Handle(ctx context.Context, command string, raw json.RawMessage) (any, error) {
	result, err := h.dispatch(ctx, command, raw)
	if err != nil {
		f := toFault(err)
		if f.Code == wire.CodeInternal {
			h.logger.Error("command failed", "command", command, "error", err)
		} else {
			h.logger.Debug("command refused", "command", command, "code", f.Code, "error", f.Message)
		}
		return nil, f
	}
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, command string, raw json.RawMessage) (any, error) {
	switch command {
	case wire.CmdPing:
		return map[string]string{"status": "ok"}, nil

	case wire.CmdFetchByFilter:
		var args wire.FilterArgs
		if len(raw) > 0 {
			if err := wire.Decode(raw, &args); err != nil {
				return nil, err
			}
		}
		nodes, err := h.db.FetchByFilter(ctx, args)
		if err != nil {
			return nil, err
		}
		return nodeRecords(nodes), nil

	case wire.CmdGetNode:
		var args wire.NodeArgs
		if err := wire.Decode(raw, &args); err != nil {
			return nil, err
		}
		n, err := h.db.GetNode(ctx, args.NodeID)
		if err != nil {
			return nil, err
		}
		return n.Record(), nil

	case wire.CmdCreateNode:
		var args wire.CreateNodeArgs
		if err := wire.Decode(raw, &args); err != nil {
			return nil, err
		}
		n, err := h.db.CreateNode(ctx, args)
		if err != nil {
			return nil, err
		}
		return n.Record(), nil

	case wire.CmdLink:
		var args wire.EdgeArgs
		rel, err := decodeEdgeArgs(raw, &args)
		if err != nil {
			return nil, err
		}
		opts := LinkOptions{Confidence: args.Confidence, IsManual: true}
		if args.IsManual != nil {
			opts.IsManual = *args.IsManual
		}
		e, err := h.db.Link(ctx, args.SourceNodeID, args.TargetNodeID, rel, opts)
		if err != nil {
			return nil, err
		}
		return e.Record(), nil

	case wire.CmdUnlink:
		var args wire.EdgeArgs
		rel, err := decodeEdgeArgs(raw, &args)
		if err != nil {
			return nil, err
		}
		if err := h.db.Unlink(ctx, args.SourceNodeID, args.TargetNodeID, rel); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case wire.CmdConfirmEdge:
		var args wire.EdgeArgs
		rel, err := decodeEdgeArgs(raw, &args)
		if err != nil {
			return nil, err
		}
		e, err := h.db.ConfirmEdge(ctx, args.SourceNodeID, args.TargetNodeID, rel)
		if err != nil {
			return nil, err
		}
		return e.Record(), nil

	case wire.CmdListTargets:
		var args wire.RelationArgs
		rel, err := decodeRelationArgs(raw, &args)
		if err != nil {
			return nil, err
		}
		nodes, err := h.db.ListTargets(ctx, args.NodeID, rel)
		if err != nil {
			return nil, err
		}
		return nodeRecords(nodes), nil

	case wire.CmdListSources:
		var args wire.RelationArgs
		rel, err := decodeRelationArgs(raw, &args)
		if err != nil {
			return nil, err
		}
		nodes, err := h.db.ListSources(ctx, args.NodeID, rel)
		if err != nil {
			return nil, err
		}
		return nodeRecords(nodes), nil

	case wire.CmdListEdgesTo:
		var args wire.RelationArgs
		rel, err := decodeRelationArgs(raw, &args)
		if err != nil {
			return nil, err
		}
		edges, err := h.db.ListEdgesTo(ctx, args.NodeID, rel)
		if err != nil {
			return nil, err
		}
		return edgeRecords(edges), nil

	case wire.CmdListEdges:
		var args wire.RelationArgs
		var rel model.RelationType
		if len(raw) > 0 {
			var err error
			if rel, err = decodeRelationArgs(raw, &args); err != nil {
				return nil, err
			}
		}
		edges, err := h.db.ListEdges(ctx, rel)
		if err != nil {
			return nil, err
		}
		return edgeRecords(edges), nil

	case wire.CmdUpdateField:
		var args wire.UpdateFieldArgs
		if err := wire.Decode(raw, &args); err != nil {
			return nil, err
		}
		value, err := DecodeValue(args.Value)
		if err != nil {
			return nil, wire.NewFault(wire.CodeBadRequest, "%v", err)
		}
		n, err := h.db.UpdateField(ctx, args.NodeID, model.Field(args.Field), value)
		if err != nil {
			return nil, err
		}
		return n.Record(), nil

	case wire.CmdConvertType:
		var args wire.ConvertArgs
		if err := wire.Decode(raw, &args); err != nil {
			return nil, err
		}
		target, err := model.ParseNodeType(args.TargetType)
		if err != nil {
			return nil, wire.NewFault(wire.CodeBadRequest, "%v", err)
		}
		n, err := h.db.ConvertType(ctx, args.NodeID, target)
		if err != nil {
			return nil, err
		}
		return n.Record(), nil

	case wire.CmdSoftDelete, wire.CmdHardDelete:
		var args wire.DeleteArgs
		if err := wire.Decode(raw, &args); err != nil {
			return nil, err
		}
		nodeType, err := model.ParseNodeType(args.NodeType)
		if err != nil {
			return nil, wire.NewFault(wire.CodeBadRequest, "%v", err)
		}
		if command == wire.CmdSoftDelete {
			err = h.db.SoftDelete(ctx, args.NodeID, nodeType)
		} else {
			err = h.db.HardDelete(ctx, args.NodeID, nodeType)
		}
		if err != nil {
			return nil, err
		}
		return struct{}{}, nil

	default:
		return nil, wire.NewFault(wire.CodeBadRequest, "unknown command %q", command)
	}
}

func decodeEdgeArgs(raw json.RawMessage, args *wire.EdgeArgs) (model.RelationType, error) {
	if err := wire.Decode(raw, args); err != nil {
		return "", err
	}
	rel, err := model.ParseRelationType(args.RelationType)
	if err != nil {
		return "", wire.NewFault(wire.CodeBadRequest, "%v", err)
	}
	return rel, nil
}

func decodeRelationArgs(raw json.RawMessage, args *wire.RelationArgs) (model.RelationType, error) {
	if err := wire.Decode(raw, args); err != nil {
		return "", err
	}
	rel, err := model.ParseRelationType(args.RelationType)
	if err != nil {
		return "", wire.NewFault(wire.CodeBadRequest, "%v", err)
	}
	return rel, nil
}

func toFault(err error) *wire.Fault {
	var f *wire.Fault
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, ErrNotFound):
		return &wire.Fault{Code: wire.CodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrDuplicateEdge):
		return &wire.Fault{Code: wire.CodeDuplicateEdge, Message: err.Error()}
	case errors.Is(err, ErrCycle):
		return &wire.Fault{Code: wire.CodeCycle, Message: err.Error()}
	case errors.Is(err, model.ErrValidation):
		return &wire.Fault{Code: wire.CodeValidation, Message: err.Error()}
	default:
		return &wire.Fault{Code: wire.CodeInternal, Message: err.Error()}
	}
}

func nodeRecords(nodes []model.Node) []model.NodeRecord {
	out := make([]model.NodeRecord, len(nodes))
	for i, n := range nodes {
		out[i] = n.Record()
	}
	return out
}

func edgeRecords(edges []model.Edge) []model.EdgeRecord {
	out := make([]model.EdgeRecord, len(edges))
	for i, e := range edges {
		out[i] = e.Record()
	}
	return out
}
