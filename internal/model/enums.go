package model

// NodeType is the kind of a node. It only changes through Convert.
type NodeType string

const (
	NodeTopic    NodeType = "topic"
	NodeTask     NodeType = "task"
	NodeResource NodeType = "resource"
)

// TaskStatus is the completion state of a task node.
type TaskStatus string

const (
	TaskTodo      TaskStatus = "todo"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
)

// Priority of a task node.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ResourceSubtype describes what a captured resource holds.
type ResourceSubtype string

const (
	SubtypeText  ResourceSubtype = "text"
	SubtypeImage ResourceSubtype = "image"
	SubtypePDF   ResourceSubtype = "pdf"
	SubtypeURL   ResourceSubtype = "url"
	SubtypeEpub  ResourceSubtype = "epub"
	SubtypeOther ResourceSubtype = "other"
)

// ReviewStatus gates whether an automatically created node has been
// confirmed by a human.
type ReviewStatus string

const (
	ReviewUnreviewed ReviewStatus = "unreviewed"
	ReviewReviewed   ReviewStatus = "reviewed"
	ReviewRejected   ReviewStatus = "rejected"
)

// ProcessingStage tracks background chunking/embedding of a node.
type ProcessingStage string

const (
	StageTodo      ProcessingStage = "todo"
	StageChunking  ProcessingStage = "chunking"
	StageEmbedding ProcessingStage = "embedding"
	StageDone      ProcessingStage = "done"
)

// EmbeddingStatus tracks whether the stored vectors match the content.
type EmbeddingStatus string

const (
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingSynced  EmbeddingStatus = "synced"
	EmbeddingDirty   EmbeddingStatus = "dirty"
	EmbeddingError   EmbeddingStatus = "error"
)

// RelationType is the kind of a directed edge.
type RelationType string

const (
	RelContains  RelationType = "contains"
	RelRelatedTo RelationType = "related_to"
)

var (
	nodeTypes        = []NodeType{NodeTopic, NodeTask, NodeResource}
	taskStatuses     = []TaskStatus{TaskTodo, TaskDone, TaskCancelled}
	priorities       = []Priority{PriorityHigh, PriorityMedium, PriorityLow}
	resourceSubtypes = []ResourceSubtype{SubtypeText, SubtypeImage, SubtypePDF, SubtypeURL, SubtypeEpub, SubtypeOther}
	reviewStatuses   = []ReviewStatus{ReviewUnreviewed, ReviewReviewed, ReviewRejected}
	stages           = []ProcessingStage{StageTodo, StageChunking, StageEmbedding, StageDone}
	embeddingStates  = []EmbeddingStatus{EmbeddingPending, EmbeddingSynced, EmbeddingDirty, EmbeddingError}
	relationTypes    = []RelationType{RelContains, RelRelatedTo}
)

// parseEnum accepts only the exact values in allowed. Unknown values are a
// schema violation, never coerced to a default.
func parseEnum[T ~string](field, raw string, allowed []T) (T, error) {
	for _, v := range allowed {
		if string(v) == raw {
			return v, nil
		}
	}
	var zero T
	return zero, schemaErr(field, "unknown value %q", raw)
}

func ParseNodeType(s string) (NodeType, error) { return parseEnum("node_type", s, nodeTypes) }

func ParseTaskStatus(s string) (TaskStatus, error) {
	return parseEnum("task_status", s, taskStatuses)
}

func ParsePriority(s string) (Priority, error) { return parseEnum("priority", s, priorities) }

func ParseResourceSubtype(s string) (ResourceSubtype, error) {
	return parseEnum("resource_subtype", s, resourceSubtypes)
}

func ParseReviewStatus(s string) (ReviewStatus, error) {
	return parseEnum("review_status", s, reviewStatuses)
}

func ParseProcessingStage(s string) (ProcessingStage, error) {
	return parseEnum("processing_stage", s, stages)
}

func ParseEmbeddingStatus(s string) (EmbeddingStatus, error) {
	return parseEnum("embedding_status", s, embeddingStates)
}

func ParseRelationType(s string) (RelationType, error) {
	return parseEnum("relation_type", s, relationTypes)
}

// IsContainer reports whether nodes of this type can hold a context set.
func (t NodeType) IsContainer() bool { return t == NodeTopic || t == NodeTask }
