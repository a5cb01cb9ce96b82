package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/broadcast"
	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// messenger is the shared outbound delivery path for action nodes and
// waiting node prompts: mark the conversation's pending inbound messages
// answered, forward the content through the channel gateway, and fan it out
// to live UI subscribers. Gateway failure is authoritative; everything else
// is best effort.
type messenger struct {
	conversations persistence.ConversationRepository
	profiles      persistence.ProfileRepository
	gateway       gateway.Gateway
	hub           broadcast.Hub
	logger        *slog.Logger
}

func (m *messenger) deliver(ctx context.Context, execution *models.Execution, content string) error {
	if execution.ConversationID == "" {
		return fmt.Errorf("no conversation to deliver to")
	}

	conversation, err := m.conversations.ByID(ctx, execution.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", execution.ConversationID, err)
	}

	profile, err := m.profiles.ByID(ctx, execution.ProfileID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", execution.ProfileID, err)
	}

	if err := m.conversations.MarkInboundAnswered(ctx, conversation.ID); err != nil {
		m.logger.WarnContext(ctx, "failed to mark inbound messages answered",
			"conversation_id", conversation.ID, "error", err)
	}

	delivery, err := m.gateway.Send(ctx, conversation, profile, content)
	if err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}

	if err := m.hub.Broadcast(ctx, broadcast.Message{
		ConversationID: conversation.ID,
		Kind:           broadcast.KindMessageSent,
		Payload: map[string]any{
			"content":            content,
			"channel_message_id": delivery.ChannelMessageID,
		},
	}); err != nil {
		m.logger.WarnContext(ctx, "broadcast failed",
			"conversation_id", conversation.ID, "error", err)
	}

	return nil
}
