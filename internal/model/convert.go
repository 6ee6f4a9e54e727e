package model

// conversions lists the allowed node_type transitions. Nothing converts
// back into a resource.
var conversions = map[NodeType][]NodeType{
	NodeResource: {NodeTask, NodeTopic},
	NodeTask:     {NodeTopic},
	NodeTopic:    {NodeTask},
}

// CanConvert reports whether a node of type from may become type to.
func CanConvert(from, to NodeType) bool {
	for _, t := range conversions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Convert builds the target-type variant of n. Identity, title, summary and
// lifecycle carry over; fields that don't belong to the new type are
// dropped, and a new task starts as todo/medium.
func Convert(n Node, target NodeType) (Node, error) {
	if !CanConvert(n.Type, target) {
		return Node{}, &ValidationError{
			NodeType: n.Type,
			Field:    "node_type",
			Reason:   "cannot convert " + string(n.Type) + " to " + string(target),
		}
	}
	out := n.Clone()
	out.Type = target
	out.Task = nil
	out.Resource = nil
	if target == NodeTask {
		out.Task = &TaskFields{Status: TaskTodo, Priority: PriorityMedium}
	}
	return out, nil
}
