// Package gateway delivers outbound messages to the customer's channel.
// The engine only depends on the Gateway interface; concrete adapters
// (telegram, the in-memory gateway used by tests and local runs) live here.
package gateway

import (
	"context"
	"sync"

	"github.com/convoflow/convoflow/pkg/models"
)

// Delivery reports the outcome of a single outbound send.
type Delivery struct {
	Delivered        bool
	ChannelMessageID string
}

// Gateway sends a message to the profile behind a conversation.
type Gateway interface {
	Send(ctx context.Context, conversation *models.Conversation, profile *models.Profile, content string) (Delivery, error)
}

// SentMessage is one message recorded by the MemoryGateway.
type SentMessage struct {
	ConversationID string
	ProfileID      string
	Content        string
}

// MemoryGateway records sent messages in memory. Used by tests and by
// local runs without a channel adapter configured.
type MemoryGateway struct {
	mu   sync.Mutex
	sent []SentMessage
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

func (g *MemoryGateway) Send(_ context.Context, conversation *models.Conversation, profile *models.Profile, content string) (Delivery, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	msg := SentMessage{Content: content}
	if conversation != nil {
		msg.ConversationID = conversation.ID
	}
	if profile != nil {
		msg.ProfileID = profile.ID
	}
	g.sent = append(g.sent, msg)

	return Delivery{Delivered: true, ChannelMessageID: "mem-" + msg.ConversationID}, nil
}

// Sent returns a copy of all recorded messages.
func (g *MemoryGateway) Sent() []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]SentMessage, len(g.sent))
	copy(out, g.sent)

	return out
}

var _ Gateway = (*MemoryGateway)(nil)
