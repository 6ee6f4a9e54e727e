package wire

import "encoding/json"

// FilterArgs selects nodes for fetch_by_filter. Zero values match all.
type FilterArgs struct {
	NodeType       string `json:"node_type,omitempty"`
	TaskStatus     string `json:"task_status,omitempty"`
	PinnedOnly     bool   `json:"pinned_only,omitempty"`
	UnreviewedOnly bool   `json:"unreviewed_only,omitempty"`
	Query          string `json:"query,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	// DueOn is a calendar day, YYYY-MM-DD. HasDueDate keeps only nodes
	// with any due date. Either one orders by due date.
	DueOn      string `json:"due_on,omitempty"`
	HasDueDate bool   `json:"has_due_date,omitempty"`
}

// NodeArgs addresses one node.
type NodeArgs struct {
	NodeID int64 `json:"node_id"`
}

// EdgeArgs addresses an edge triple. Confidence and IsManual are used by
// link only.
type EdgeArgs struct {
	SourceNodeID int64    `json:"source_node_id"`
	TargetNodeID int64    `json:"target_node_id"`
	RelationType string   `json:"relation_type"`
	Confidence   *float64 `json:"confidence_score,omitempty"`
	IsManual     *bool    `json:"is_manual,omitempty"`
}

// RelationArgs lists edges of one relation, optionally around a node.
type RelationArgs struct {
	NodeID       int64  `json:"node_id,omitempty"`
	RelationType string `json:"relation_type"`
}

// UpdateFieldArgs changes one field. Value is a JSON scalar or null.
type UpdateFieldArgs struct {
	NodeID int64           `json:"node_id"`
	Field  string          `json:"field"`
	Value  json.RawMessage `json:"value"`
}

// ConvertArgs converts a node in place.
type ConvertArgs struct {
	NodeID     int64  `json:"node_id"`
	TargetType string `json:"target_type"`
}

// DeleteArgs deletes a node. NodeType selects the endpoint family.
type DeleteArgs struct {
	NodeID   int64  `json:"node_id"`
	NodeType string `json:"node_type"`
}

// CreateNodeArgs creates a node of any type.
type CreateNodeArgs struct {
	NodeType        string  `json:"node_type"`
	Title           string  `json:"title"`
	Summary         *string `json:"summary,omitempty"`
	TaskStatus      *string `json:"task_status,omitempty"`
	Priority        *string `json:"priority,omitempty"`
	DueDate         *string `json:"due_date,omitempty"`
	ResourceSubtype *string `json:"resource_subtype,omitempty"`
	FilePath        *string `json:"file_path,omitempty"`
	FileContent     *string `json:"file_content,omitempty"`
	UserNote        *string `json:"user_note,omitempty"`
}

// Decode unmarshals raw command arguments into v.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return NewFault(CodeBadRequest, "missing arguments")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewFault(CodeBadRequest, "invalid arguments: %v", err)
	}
	return nil
}
