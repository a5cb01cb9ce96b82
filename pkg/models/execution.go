package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ContextKeyWaitingNode is the execution context key holding the waiting
// node's ID while an execution is parked in the waiting state.
const ContextKeyWaitingNode = "waiting_node_id"

// Execution is one run of a workflow for a conversation. All engine state
// between worker invocations lives here (plus UserResponse rows and short
// TTL flags); there is no long-lived in-process state per execution.
type Execution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	OwnerID        string          `json:"owner_id"`
	ConversationID string          `json:"conversation_id"`
	ProfileID      string          `json:"profile_id"`
	Status         ExecutionStatus `json:"status"`
	TriggerData    map[string]any  `json:"trigger_data,omitempty"`
	Context        map[string]any  `json:"context,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// WaitingNodeID returns the parked waiting node ID, or "".
func (e *Execution) WaitingNodeID() string {
	id, _ := e.Context[ContextKeyWaitingNode].(string)

	return id
}

// SetWaitingNode records the waiting node the execution is parked on.
func (e *Execution) SetWaitingNode(nodeID string) {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}

	e.Context[ContextKeyWaitingNode] = nodeID
}

// ClearWaitingNode removes the parked waiting node marker.
func (e *Execution) ClearWaitingNode() {
	delete(e.Context, ContextKeyWaitingNode)
}

// CloneContext shallow-copies an execution context so sibling branches of a
// chain walk cannot observe each other's writes.
func CloneContext(context map[string]any) map[string]any {
	clone := make(map[string]any, len(context))
	for k, v := range context {
		clone[k] = v
	}

	return clone
}
