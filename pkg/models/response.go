package models

import "time"

// UserResponse records one inbound reply to a waiting node. For a given
// (execution, node) pair at most one row may have IsValid=true and a
// non-nil ProcessedAt: that is the exactly-once consumption guarantee.
type UserResponse struct {
	ID             string     `json:"id"`
	ExecutionID    string     `json:"execution_id"`
	NodeID         string     `json:"node_id"`
	ConversationID string     `json:"conversation_id"`
	ProfileID      string     `json:"profile_id"`
	Text           string     `json:"text"`
	IsValid        bool       `json:"is_valid"`
	ErrorCount     int        `json:"error_count"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
