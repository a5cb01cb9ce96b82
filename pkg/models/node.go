package models

// NodeType is the closed set of node kinds the engine can execute.
type NodeType string

const (
	NodeTypeWhen      NodeType = "when"      // Trigger node, consumed by trigger matching
	NodeTypeCondition NodeType = "condition" // Boolean branch over the execution context
	NodeTypeAction    NodeType = "action"    // Side-effecting action
	NodeTypeWaiting   NodeType = "waiting"   // Suspends execution for human input
)

// WorkflowNode is a node instance in a workflow graph. Exactly one of the
// type-specific payloads is set, matching Type.
type WorkflowNode struct {
	ID        string          `json:"id"   validate:"required"`
	Name      string          `json:"name"`
	Type      NodeType        `json:"type" validate:"required,oneof=when condition action waiting"`
	When      *WhenConfig     `json:"when,omitempty"`
	Condition *ConditionGroup `json:"condition,omitempty"`
	Action    *ActionConfig   `json:"action,omitempty"`
	Waiting   *WaitingConfig  `json:"waiting,omitempty"`
}

// Well-known keys in NodeResult.Data.
const (
	DataKeyConditionMet = "condition_met"
	DataKeySkipped      = "skipped"
	DataKeyMessageSent  = "message_sent"
	DataKeyResponse     = "response"
)

// NodeResult is the uniform outcome of executing a single node.
type NodeResult struct {
	NodeID             string         `json:"node_id"`
	Success            bool           `json:"success"`
	WaitingForResponse bool           `json:"waiting_for_response,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
	Error              string         `json:"error,omitempty"`
}

// ConditionMet reports whether a condition node evaluated to true.
func (r NodeResult) ConditionMet() bool {
	met, _ := r.Data[DataKeyConditionMet].(bool)

	return met
}

// Skipped reports whether the node explicitly flagged a skip outcome.
func (r NodeResult) Skipped() bool {
	skipped, _ := r.Data[DataKeySkipped].(bool)

	return skipped
}
