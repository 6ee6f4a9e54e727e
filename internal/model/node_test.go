package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNode_Task(t *testing.T) {
	raw := json.RawMessage(`{
		"node_id": 42, "uuid": "u-42", "title": "Write report", "node_type": "task",
		"task_status": "todo", "priority": "high", "due_date": "2026-03-01",
		"review_status": "reviewed", "processing_stage": "done", "embedding_status": "synced",
		"is_pinned": true, "pinned_at": "2026-01-02 03:04:05", "created_at": "2026-01-01T10:00:00Z"
	}`)
	n, err := DecodeNode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n.NodeID)
	assert.Equal(t, NodeTask, n.Type)
	require.NotNil(t, n.Task)
	assert.Nil(t, n.Resource)
	assert.Equal(t, TaskTodo, n.Task.Status)
	assert.Equal(t, PriorityHigh, n.Task.Priority)
	require.NotNil(t, n.Task.DueDate)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *n.Task.DueDate)
	require.NotNil(t, n.PinnedAt)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *n.PinnedAt)
	assert.True(t, n.IsPinned)
}

func TestDecodeNode_Defaults(t *testing.T) {
	n, err := DecodeNode(json.RawMessage(`{"node_id": 1, "uuid": "u", "title": "t", "node_type": "topic"}`))
	require.NoError(t, err)
	assert.Equal(t, ReviewUnreviewed, n.ReviewStatus)
	assert.Equal(t, StageTodo, n.ProcessingStage)
	assert.Equal(t, EmbeddingPending, n.EmbeddingStatus)
	assert.Nil(t, n.Task)
	assert.Nil(t, n.Resource)
}

func TestDecodeNode_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"unknown node type", `{"node_id":1,"uuid":"u","node_type":"note"}`, "node_type"},
		{"unknown review status", `{"node_id":1,"uuid":"u","node_type":"topic","review_status":"maybe"}`, "review_status"},
		{"unknown stage", `{"node_id":1,"uuid":"u","node_type":"topic","processing_stage":"parsing"}`, "processing_stage"},
		{"task field on resource", `{"node_id":1,"uuid":"u","node_type":"resource","task_status":"todo"}`, "node.task_status"},
		{"resource field on task", `{"node_id":1,"uuid":"u","node_type":"task","task_status":"todo","file_path":"/a"}`, "node.resource_subtype"},
		{"task field on topic", `{"node_id":1,"uuid":"u","node_type":"topic","priority":"low"}`, "node.task_status"},
		{"task without status", `{"node_id":1,"uuid":"u","node_type":"task"}`, "node.task_status"},
		{"bad timestamp", `{"node_id":1,"uuid":"u","node_type":"topic","created_at":"yesterday"}`, "node.created_at"},
		{"missing uuid", `{"node_id":1,"node_type":"topic"}`, "node.uuid"},
		{"non-positive id", `{"node_id":0,"uuid":"u","node_type":"topic"}`, "node.node_id"},
		{"not json", `[1,2`, "node"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeNode(json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSchema), "want schema violation, got %v", err)
			var sv *SchemaViolation
			require.True(t, errors.As(err, &sv))
			assert.Equal(t, tt.field, sv.Field)
		})
	}
}

func TestDecodeNodes_OneBadElementFailsAll(t *testing.T) {
	raw := json.RawMessage(`[
		{"node_id":1,"uuid":"a","node_type":"topic"},
		{"node_id":2,"uuid":"b","node_type":"bogus"}
	]`)
	nodes, err := DecodeNodes(raw)
	assert.Nil(t, nodes)
	assert.ErrorIs(t, err, ErrSchema)
}

func TestRecordRoundTrip_Resource(t *testing.T) {
	path := "/vault/a.pdf"
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	n := Node{
		NodeID: 7, UUID: "u-7", Type: NodeResource, Title: "Paper",
		Lifecycle: Lifecycle{ReviewStatus: ReviewUnreviewed, ProcessingStage: StageChunking, EmbeddingStatus: EmbeddingPending},
		Resource:  &ResourceFields{Subtype: SubtypePDF, FilePath: &path},
		CreatedAt: &created,
	}
	data, err := json.Marshal(n.Record())
	require.NoError(t, err)
	back, err := DecodeNode(data)
	require.NoError(t, err)
	assert.Equal(t, n, back)
}

func TestClone_IsDeep(t *testing.T) {
	n := Node{NodeID: 1, UUID: "u", Type: NodeTask, Task: &TaskFields{Status: TaskTodo, Priority: PriorityLow}}
	c := n.Clone()
	c.Task.Status = TaskDone
	assert.Equal(t, TaskTodo, n.Task.Status)
}

func TestClone_CopiesPointees(t *testing.T) {
	summary, note := "summary", "note"
	due := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	created := due.Add(-time.Hour)

	task := Node{NodeID: 1, UUID: "t", Type: NodeTask, Summary: &summary, CreatedAt: &created,
		Task: &TaskFields{Status: TaskTodo, DueDate: &due}}
	c := task.Clone()
	*c.Summary = "changed"
	*c.CreatedAt = due
	*c.Task.DueDate = created
	assert.Equal(t, "summary", *task.Summary)
	assert.True(t, created.Equal(*task.CreatedAt))
	assert.True(t, due.Equal(*task.Task.DueDate))

	res := Node{NodeID: 2, UUID: "r", Type: NodeResource, Resource: &ResourceFields{UserNote: &note}}
	rc := res.Clone()
	*rc.Resource.UserNote = "changed"
	assert.Equal(t, "note", *res.Resource.UserNote)
	assert.Nil(t, rc.Resource.FilePath)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	for _, in := range []string{"2026-05-06T07:08:09Z", "2026-05-06 07:08:09", "2026-05-06T07:08:09", "2026-05-06T09:08:09+02:00"} {
		got, err := ParseTimestamp("x", in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed as %v", in, got)
	}
	_, err := ParseTimestamp("x", "06/05/2026")
	assert.ErrorIs(t, err, ErrSchema)
}
