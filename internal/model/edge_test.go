package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEdgeKey_NormalisesRelatedTo(t *testing.T) {
	assert.Equal(t, EdgeKey{Source: 2, Target: 9, Relation: RelRelatedTo}, NewEdgeKey(9, 2, RelRelatedTo))
	assert.Equal(t, EdgeKey{Source: 9, Target: 2, Relation: RelContains}, NewEdgeKey(9, 2, RelContains))
}

func TestDecodeEdges(t *testing.T) {
	edges, err := DecodeEdges(json.RawMessage(`[
		{"edge_id": 1, "source_node_id": 42, "target_node_id": 7, "relation_type": "contains", "is_manual": true},
		{"edge_id": 2, "source_node_id": 3, "target_node_id": 7, "relation_type": "related_to", "confidence_score": 0.4}
	]`))
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, RelContains, edges[0].Relation)
	assert.True(t, edges[0].IsManual)
	require.NotNil(t, edges[1].Confidence)
	assert.InDelta(t, 0.4, *edges[1].Confidence, 1e-9)
}

func TestDecodeEdges_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"unknown relation": `[{"edge_id":1,"source_node_id":1,"target_node_id":2,"relation_type":"parent_of"}]`,
		"self loop":        `[{"edge_id":1,"source_node_id":1,"target_node_id":1,"relation_type":"contains"}]`,
		"confidence":       `[{"edge_id":1,"source_node_id":1,"target_node_id":2,"relation_type":"contains","confidence_score":1.5}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEdges(json.RawMessage(raw))
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}
