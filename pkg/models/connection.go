package models

// ConnectionType selects which outcome of the source node a connection
// follows.
type ConnectionType string

const (
	ConnectionSuccess ConnectionType = "success"
	ConnectionFailure ConnectionType = "failure"
	ConnectionSkip    ConnectionType = "skip"
	ConnectionTimeout ConnectionType = "timeout"
)

// NodeConnection is a directed edge between two nodes. Condition, when set,
// is an extra expression that must also evaluate true against the execution
// context for the edge to be followed.
type NodeConnection struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"source_id" validate:"required"`
	TargetID  string         `json:"target_id" validate:"required"`
	Type      ConnectionType `json:"type"      validate:"required,oneof=success failure skip timeout"`
	Condition string         `json:"condition,omitempty"`
}
