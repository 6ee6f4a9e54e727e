package graph

import (
	"context"
	"fmt"

	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
)

// Source is the read side of the graph API a snapshot is loaded from.
type Source interface {
	FetchByFilter(ctx context.Context, f graphapi.Filter) ([]model.Node, error)
	ListEdges(ctx context.Context, rel model.RelationType) ([]model.Edge, error)
}

// Load fetches every live node and edge and builds a Snapshot.
func Load(ctx context.Context, src Source) (*Snapshot, error) {
	nodes, err := src.FetchByFilter(ctx, graphapi.Filter{})
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	var edges []model.Edge
	for _, rel := range []model.RelationType{model.RelContains, model.RelRelatedTo} {
		es, err := src.ListEdges(ctx, rel)
		if err != nil {
			return nil, fmt.Errorf("loading %s edges: %w", rel, err)
		}
		edges = append(edges, es...)
	}
	return NewSnapshot(nodes, edges), nil
}
