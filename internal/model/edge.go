package model

import (
	"encoding/json"
	"time"
)

// Edge is a directed, typed relation between two nodes. Suggested edges
// carry a confidence score and IsManual=false until a human confirms them.
type Edge struct {
	EdgeID     int64
	SourceID   int64
	TargetID   int64
	Relation   RelationType
	Confidence *float64
	IsManual   bool
	CreatedAt  *time.Time
	UpdatedAt  *time.Time
}

// EdgeKey is the uniqueness triple of an edge.
type EdgeKey struct {
	Source   int64
	Target   int64
	Relation RelationType
}

// NewEdgeKey builds the canonical key. related_to is symmetric and stored
// with the smaller id as source.
func NewEdgeKey(source, target int64, rel RelationType) EdgeKey {
	if rel == RelRelatedTo && source > target {
		source, target = target, source
	}
	return EdgeKey{Source: source, Target: target, Relation: rel}
}

// Key returns the canonical key of e.
func (e Edge) Key() EdgeKey { return NewEdgeKey(e.SourceID, e.TargetID, e.Relation) }

// EdgeRecord is the flat wire form of an edge.
type EdgeRecord struct {
	EdgeID          int64    `json:"edge_id"`
	SourceNodeID    int64    `json:"source_node_id"`
	TargetNodeID    int64    `json:"target_node_id"`
	RelationType    string   `json:"relation_type"`
	ConfidenceScore *float64 `json:"confidence_score"`
	IsManual        bool     `json:"is_manual"`
	CreatedAt       *string  `json:"created_at"`
	UpdatedAt       *string  `json:"updated_at"`
}

// DecodeEdge parses one edge payload from the remote boundary.
func DecodeEdge(raw json.RawMessage) (Edge, error) {
	var rec EdgeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Edge{}, schemaErr("edge", "%v", err)
	}
	return rec.Edge()
}

// DecodeEdges parses a JSON array of edges from the remote boundary.
func DecodeEdges(raw json.RawMessage) ([]Edge, error) {
	var recs []EdgeRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, schemaErr("edges", "%v", err)
	}
	edges := make([]Edge, 0, len(recs))
	for _, rec := range recs {
		e, err := rec.Edge()
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Edge converts the wire record into a validated Edge.
func (r EdgeRecord) Edge() (Edge, error) {
	rel, err := ParseRelationType(r.RelationType)
	if err != nil {
		return Edge{}, err
	}
	if r.SourceNodeID <= 0 || r.TargetNodeID <= 0 {
		return Edge{}, schemaErr("edge.source_node_id", "edge %d has non-positive endpoint", r.EdgeID)
	}
	if r.SourceNodeID == r.TargetNodeID {
		return Edge{}, schemaErr("edge.target_node_id", "edge %d is a self loop", r.EdgeID)
	}
	if c := r.ConfidenceScore; c != nil && (*c < 0 || *c > 1) {
		return Edge{}, schemaErr("edge.confidence_score", "%v outside [0,1]", *c)
	}
	e := Edge{
		EdgeID:     r.EdgeID,
		SourceID:   r.SourceNodeID,
		TargetID:   r.TargetNodeID,
		Relation:   rel,
		Confidence: r.ConfidenceScore,
		IsManual:   r.IsManual,
	}
	if e.CreatedAt, err = parseOptTime("edge.created_at", r.CreatedAt); err != nil {
		return Edge{}, err
	}
	if e.UpdatedAt, err = parseOptTime("edge.updated_at", r.UpdatedAt); err != nil {
		return Edge{}, err
	}
	return e, nil
}

// Record renders the edge in wire form.
func (e Edge) Record() EdgeRecord {
	return EdgeRecord{
		EdgeID:          e.EdgeID,
		SourceNodeID:    e.SourceID,
		TargetNodeID:    e.TargetID,
		RelationType:    string(e.Relation),
		ConfidenceScore: e.Confidence,
		IsManual:        e.IsManual,
		CreatedAt:       formatOptTime(e.CreatedAt),
		UpdatedAt:       formatOptTime(e.UpdatedAt),
	}
}
