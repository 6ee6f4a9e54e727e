// Package model holds the typed node/edge graph entities and the parse-time
// contract for data crossing the remote boundary.
package model

import (
	"encoding/json"
	"time"
)

// Lifecycle is the state every node carries regardless of type.
type Lifecycle struct {
	ReviewStatus       ReviewStatus
	IsPinned           bool
	PinnedAt           *time.Time
	ProcessingStage    ProcessingStage
	EmbeddingStatus    EmbeddingStatus
	LastEmbeddingError *string
	IsDeleted          bool
	DeletedAt          *time.Time
}

// TaskFields exist only on task nodes.
type TaskFields struct {
	Status   TaskStatus
	Priority Priority
	DueDate  *time.Time
	DoneDate *time.Time
}

// ResourceFields exist only on resource nodes. The hashes let the
// processing pipeline detect content that needs re-embedding.
type ResourceFields struct {
	Subtype        ResourceSubtype
	FilePath       *string
	FileContent    *string
	UserNote       *string
	FileHash       *string
	EmbeddedHash   *string
	ProcessingHash *string
}

// Node is a topic, task or resource. Exactly the payload matching Type is
// set: Task for tasks, Resource for resources, neither for topics.
type Node struct {
	NodeID  int64
	UUID    string
	Type    NodeType
	Title   string
	Summary *string
	Lifecycle
	Task      *TaskFields
	Resource  *ResourceFields
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// IsContainer reports whether the node can root a context set.
func (n Node) IsContainer() bool { return n.Type.IsContainer() }

// Validate checks the type-consistency invariant on a constructed value.
func (n Node) Validate() error {
	if n.NodeID <= 0 {
		return schemaErr("node.node_id", "must be positive, got %d", n.NodeID)
	}
	if n.UUID == "" {
		return schemaErr("node.uuid", "missing")
	}
	switch n.Type {
	case NodeTask:
		if n.Task == nil {
			return schemaErr("node.task_status", "task node without task fields")
		}
		if n.Resource != nil {
			return schemaErr("node.resource_subtype", "resource fields on task node")
		}
	case NodeResource:
		if n.Resource == nil {
			return schemaErr("node.resource_subtype", "resource node without resource fields")
		}
		if n.Task != nil {
			return schemaErr("node.task_status", "task fields on resource node")
		}
	case NodeTopic:
		if n.Task != nil {
			return schemaErr("node.task_status", "task fields on topic node")
		}
		if n.Resource != nil {
			return schemaErr("node.resource_subtype", "resource fields on topic node")
		}
	default:
		return schemaErr("node.node_type", "unknown value %q", n.Type)
	}
	return nil
}

// Clone returns a deep copy so cached values can't be mutated through a
// caller's copy. Every pointer field gets its own pointee.
func (n Node) Clone() Node {
	c := n
	c.Summary = clonePtr(n.Summary)
	c.PinnedAt = clonePtr(n.PinnedAt)
	c.LastEmbeddingError = clonePtr(n.LastEmbeddingError)
	c.DeletedAt = clonePtr(n.DeletedAt)
	c.CreatedAt = clonePtr(n.CreatedAt)
	c.UpdatedAt = clonePtr(n.UpdatedAt)
	if n.Task != nil {
		t := *n.Task
		t.DueDate = clonePtr(t.DueDate)
		t.DoneDate = clonePtr(t.DoneDate)
		c.Task = &t
	}
	if n.Resource != nil {
		r := *n.Resource
		r.FilePath = clonePtr(r.FilePath)
		r.FileContent = clonePtr(r.FileContent)
		r.UserNote = clonePtr(r.UserNote)
		r.FileHash = clonePtr(r.FileHash)
		r.EmbeddedHash = clonePtr(r.EmbeddedHash)
		r.ProcessingHash = clonePtr(r.ProcessingHash)
		c.Resource = &r
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NodeRecord is the flat wire form of a node.
type NodeRecord struct {
	NodeID             int64   `json:"node_id"`
	UUID               string  `json:"uuid"`
	Title              string  `json:"title"`
	Summary            *string `json:"summary"`
	NodeType           string  `json:"node_type"`
	TaskStatus         *string `json:"task_status"`
	Priority           *string `json:"priority"`
	DueDate            *string `json:"due_date"`
	DoneDate           *string `json:"done_date"`
	FileHash           *string `json:"file_hash"`
	FilePath           *string `json:"file_path"`
	FileContent        *string `json:"file_content"`
	UserNote           *string `json:"user_note"`
	ResourceSubtype    *string `json:"resource_subtype"`
	EmbeddedHash       *string `json:"embedded_hash"`
	ProcessingHash     *string `json:"processing_hash"`
	EmbeddingStatus    string  `json:"embedding_status"`
	LastEmbeddingError *string `json:"last_embedding_error"`
	ProcessingStage    string  `json:"processing_stage"`
	ReviewStatus       string  `json:"review_status"`
	IsPinned           bool    `json:"is_pinned"`
	PinnedAt           *string `json:"pinned_at"`
	CreatedAt          *string `json:"created_at"`
	UpdatedAt          *string `json:"updated_at"`
	IsDeleted          bool    `json:"is_deleted"`
	DeletedAt          *string `json:"deleted_at"`
}

// DecodeNode parses one node payload from the remote boundary.
func DecodeNode(raw json.RawMessage) (Node, error) {
	var rec NodeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Node{}, schemaErr("node", "%v", err)
	}
	return rec.Node()
}

// DecodeNodes parses a JSON array of nodes. One bad element fails the
// whole response.
func DecodeNodes(raw json.RawMessage) ([]Node, error) {
	var recs []NodeRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, schemaErr("nodes", "%v", err)
	}
	nodes := make([]Node, 0, len(recs))
	for _, rec := range recs {
		n, err := rec.Node()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Node converts the wire record into a validated Node.
func (r NodeRecord) Node() (Node, error) {
	nodeType, err := ParseNodeType(r.NodeType)
	if err != nil {
		return Node{}, err
	}
	n := Node{
		NodeID:  r.NodeID,
		UUID:    r.UUID,
		Type:    nodeType,
		Title:   r.Title,
		Summary: r.Summary,
	}

	if n.Lifecycle, err = r.lifecycle(); err != nil {
		return Node{}, err
	}
	if n.CreatedAt, err = parseOptTime("node.created_at", r.CreatedAt); err != nil {
		return Node{}, err
	}
	if n.UpdatedAt, err = parseOptTime("node.updated_at", r.UpdatedAt); err != nil {
		return Node{}, err
	}

	hasTask := r.TaskStatus != nil || r.Priority != nil || r.DueDate != nil || r.DoneDate != nil
	hasResource := r.ResourceSubtype != nil || r.FilePath != nil || r.FileContent != nil ||
		r.UserNote != nil || r.FileHash != nil || r.EmbeddedHash != nil || r.ProcessingHash != nil

	switch nodeType {
	case NodeTask:
		if hasResource {
			return Node{}, schemaErr("node.resource_subtype", "resource fields on task node %d", r.NodeID)
		}
		if n.Task, err = r.taskFields(); err != nil {
			return Node{}, err
		}
	case NodeResource:
		if hasTask {
			return Node{}, schemaErr("node.task_status", "task fields on resource node %d", r.NodeID)
		}
		if n.Resource, err = r.resourceFields(); err != nil {
			return Node{}, err
		}
	case NodeTopic:
		if hasTask {
			return Node{}, schemaErr("node.task_status", "task fields on topic node %d", r.NodeID)
		}
		if hasResource {
			return Node{}, schemaErr("node.resource_subtype", "resource fields on topic node %d", r.NodeID)
		}
	}

	if err := n.Validate(); err != nil {
		return Node{}, err
	}
	return n, nil
}

func (r NodeRecord) lifecycle() (Lifecycle, error) {
	var (
		lc  Lifecycle
		err error
	)
	lc.ReviewStatus = ReviewUnreviewed
	if r.ReviewStatus != "" {
		if lc.ReviewStatus, err = ParseReviewStatus(r.ReviewStatus); err != nil {
			return lc, err
		}
	}
	lc.ProcessingStage = StageTodo
	if r.ProcessingStage != "" {
		if lc.ProcessingStage, err = ParseProcessingStage(r.ProcessingStage); err != nil {
			return lc, err
		}
	}
	lc.EmbeddingStatus = EmbeddingPending
	if r.EmbeddingStatus != "" {
		if lc.EmbeddingStatus, err = ParseEmbeddingStatus(r.EmbeddingStatus); err != nil {
			return lc, err
		}
	}
	lc.IsPinned = r.IsPinned
	if lc.PinnedAt, err = parseOptTime("node.pinned_at", r.PinnedAt); err != nil {
		return lc, err
	}
	lc.LastEmbeddingError = r.LastEmbeddingError
	lc.IsDeleted = r.IsDeleted
	if lc.DeletedAt, err = parseOptTime("node.deleted_at", r.DeletedAt); err != nil {
		return lc, err
	}
	return lc, nil
}

func (r NodeRecord) taskFields() (*TaskFields, error) {
	if r.TaskStatus == nil {
		return nil, schemaErr("node.task_status", "missing on task node %d", r.NodeID)
	}
	status, err := ParseTaskStatus(*r.TaskStatus)
	if err != nil {
		return nil, err
	}
	t := &TaskFields{Status: status, Priority: PriorityMedium}
	if r.Priority != nil {
		if t.Priority, err = ParsePriority(*r.Priority); err != nil {
			return nil, err
		}
	}
	if t.DueDate, err = parseOptTime("node.due_date", r.DueDate); err != nil {
		return nil, err
	}
	if t.DoneDate, err = parseOptTime("node.done_date", r.DoneDate); err != nil {
		return nil, err
	}
	return t, nil
}

func (r NodeRecord) resourceFields() (*ResourceFields, error) {
	res := &ResourceFields{
		Subtype:        SubtypeOther,
		FilePath:       r.FilePath,
		FileContent:    r.FileContent,
		UserNote:       r.UserNote,
		FileHash:       r.FileHash,
		EmbeddedHash:   r.EmbeddedHash,
		ProcessingHash: r.ProcessingHash,
	}
	if r.ResourceSubtype != nil {
		subtype, err := ParseResourceSubtype(*r.ResourceSubtype)
		if err != nil {
			return nil, err
		}
		res.Subtype = subtype
	}
	return res, nil
}

// Record renders the node in wire form.
func (n Node) Record() NodeRecord {
	r := NodeRecord{
		NodeID:             n.NodeID,
		UUID:               n.UUID,
		Title:              n.Title,
		Summary:            n.Summary,
		NodeType:           string(n.Type),
		EmbeddingStatus:    string(n.EmbeddingStatus),
		LastEmbeddingError: n.LastEmbeddingError,
		ProcessingStage:    string(n.ProcessingStage),
		ReviewStatus:       string(n.ReviewStatus),
		IsPinned:           n.IsPinned,
		PinnedAt:           formatOptTime(n.PinnedAt),
		CreatedAt:          formatOptTime(n.CreatedAt),
		UpdatedAt:          formatOptTime(n.UpdatedAt),
		IsDeleted:          n.IsDeleted,
		DeletedAt:          formatOptTime(n.DeletedAt),
	}
	if t := n.Task; t != nil {
		status, priority := string(t.Status), string(t.Priority)
		r.TaskStatus = &status
		r.Priority = &priority
		r.DueDate = formatOptTime(t.DueDate)
		r.DoneDate = formatOptTime(t.DoneDate)
	}
	if res := n.Resource; res != nil {
		subtype := string(res.Subtype)
		r.ResourceSubtype = &subtype
		r.FilePath = res.FilePath
		r.FileContent = res.FileContent
		r.UserNote = res.UserNote
		r.FileHash = res.FileHash
		r.EmbeddedHash = res.EmbeddedHash
		r.ProcessingHash = res.ProcessingHash
	}
	return r
}
