package model

import (
	"fmt"
	"time"
)

// Field names a node attribute that UpdateField may change.
type Field string

const (
	FieldTitle           Field = "title"
	FieldSummary         Field = "summary"
	FieldReviewStatus    Field = "review_status"
	FieldIsPinned        Field = "is_pinned"
	FieldProcessingStage Field = "processing_stage"
	FieldEmbeddingStatus Field = "embedding_status"
	FieldTaskStatus      Field = "task_status"
	FieldPriority        Field = "priority"
	FieldDueDate         Field = "due_date"
	FieldFilePath        Field = "file_path"
	FieldFileContent     Field = "file_content"
	FieldUserNote        Field = "user_note"
	FieldResourceSubtype Field = "resource_subtype"
)

// fieldScope maps type-specific fields to the only node type that has them.
// Fields absent here apply to every node.
var fieldScope = map[Field]NodeType{
	FieldTaskStatus:      NodeTask,
	FieldPriority:        NodeTask,
	FieldDueDate:         NodeTask,
	FieldFilePath:        NodeResource,
	FieldFileContent:     NodeResource,
	FieldUserNote:        NodeResource,
	FieldResourceSubtype: NodeResource,
}

var commonFields = map[Field]bool{
	FieldTitle:           true,
	FieldSummary:         true,
	FieldReviewStatus:    true,
	FieldIsPinned:        true,
	FieldProcessingStage: true,
	FieldEmbeddingStatus: true,
}

// AppliesTo reports whether f exists on nodes of type t.
func (f Field) AppliesTo(t NodeType) bool {
	if commonFields[f] {
		return true
	}
	scope, ok := fieldScope[f]
	return ok && scope == t
}

// ApplyField sets one field on n. value is a decoded JSON scalar: string,
// bool or nil. Dependent timestamps (pinned_at, done_date) follow the
// change using now.
func ApplyField(n *Node, f Field, value any, now time.Time) error {
	if !f.AppliesTo(n.Type) {
		if !commonFields[f] && fieldScope[f] == "" {
			return &ValidationError{NodeType: n.Type, Field: string(f), Reason: "unknown field"}
		}
		return &ValidationError{NodeType: n.Type, Field: string(f), Reason: "field not valid for this node type"}
	}
	invalid := func(reason string) error {
		return &ValidationError{NodeType: n.Type, Field: string(f), Reason: reason}
	}

	switch f {
	case FieldTitle:
		s, ok := value.(string)
		if !ok || s == "" {
			return invalid("title must be a non-empty string")
		}
		n.Title = s
	case FieldSummary:
		s, err := optString(value)
		if err != nil {
			return invalid(err.Error())
		}
		n.Summary = s
	case FieldReviewStatus:
		s, _ := value.(string)
		v, err := ParseReviewStatus(s)
		if err != nil {
			return invalid(err.Error())
		}
		n.ReviewStatus = v
	case FieldIsPinned:
		b, ok := value.(bool)
		if !ok {
			return invalid("is_pinned must be a boolean")
		}
		n.IsPinned = b
		n.PinnedAt = nil
		if b {
			t := now
			n.PinnedAt = &t
		}
	case FieldProcessingStage:
		s, _ := value.(string)
		v, err := ParseProcessingStage(s)
		if err != nil {
			return invalid(err.Error())
		}
		n.ProcessingStage = v
	case FieldEmbeddingStatus:
		s, _ := value.(string)
		v, err := ParseEmbeddingStatus(s)
		if err != nil {
			return invalid(err.Error())
		}
		n.EmbeddingStatus = v
	case FieldTaskStatus:
		s, _ := value.(string)
		v, err := ParseTaskStatus(s)
		if err != nil {
			return invalid(err.Error())
		}
		n.Task.Status = v
		n.Task.DoneDate = nil
		if v != TaskTodo {
			t := now
			n.Task.DoneDate = &t
		}
	case FieldPriority:
		s, _ := value.(string)
		v, err := ParsePriority(s)
		if err != nil {
			return invalid(err.Error())
		}
		n.Task.Priority = v
	case FieldDueDate:
		s, err := optString(value)
		if err != nil {
			return invalid(err.Error())
		}
		due, err := parseOptTime("due_date", s)
		if err != nil {
			return invalid(err.Error())
		}
		n.Task.DueDate = due
	case FieldFilePath, FieldFileContent, FieldUserNote:
		s, err := optString(value)
		if err != nil {
			return invalid(err.Error())
		}
		switch f {
		case FieldFilePath:
			n.Resource.FilePath = s
		case FieldFileContent:
			n.Resource.FileContent = s
			if n.EmbeddingStatus == EmbeddingSynced {
				n.EmbeddingStatus = EmbeddingDirty
			}
		case FieldUserNote:
			n.Resource.UserNote = s
		}
	case FieldResourceSubtype:
		s, _ := value.(string)
		v, err := ParseResourceSubtype(s)
		if err != nil {
			return invalid(err.Error())
		}
		n.Resource.Subtype = v
	}
	t := now
	n.UpdatedAt = &t
	return nil
}

func optString(value any) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	default:
		return nil, fmt.Errorf("expected string or null, got %T", value)
	}
}
