// Package broadcast pushes realtime conversation updates to connected
// operator clients. Delivery is best effort: the engine never fails an
// execution because a broadcast could not be delivered.
package broadcast

import "context"

// Message is one realtime update scoped to a conversation.
type Message struct {
	ConversationID string         `json:"conversation_id"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Update kinds emitted by the engine.
const (
	KindMessageSent      = "message_sent"
	KindConversationMode = "conversation_mode"
	KindExecutionUpdate  = "execution_update"
)

// Hub fans a message out to every subscriber of its conversation.
type Hub interface {
	Broadcast(ctx context.Context, msg Message) error
}
