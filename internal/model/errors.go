package model

import (
	"errors"
	"fmt"
)

// ErrSchema matches every *SchemaViolation via errors.Is.
var ErrSchema = errors.New("schema violation")

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation error")

// SchemaViolation reports a payload from the remote boundary that does not
// decode into a valid entity. Such payloads must never reach a cache.
type SchemaViolation struct {
	Field  string // qualified, e.g. "node.task_status"
	Reason string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("schema violation at %s: %s", e.Field, e.Reason)
}

func (e *SchemaViolation) Is(target error) bool { return target == ErrSchema }

func schemaErr(field, format string, args ...any) *SchemaViolation {
	return &SchemaViolation{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports an update or conversion that does not fit the
// node's type. It is a caller bug, not a transient failure.
type ValidationError struct {
	NodeType NodeType
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid for %s node: %s", e.NodeType, e.Reason)
	}
	return fmt.Sprintf("invalid %s for %s node: %s", e.Field, e.NodeType, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
