package gateway

import (
	"context"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/models"
)

type stubSender struct {
	lastParams *bot.SendMessageParams
	err        error
}

func (s *stubSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	s.lastParams = params
	if s.err != nil {
		return nil, s.err
	}

	return &tgmodels.Message{ID: 77}, nil
}

func TestTelegramGateway_Send(t *testing.T) {
	ctx := context.Background()
	sender := &stubSender{}
	g := &TelegramGateway{bot: sender, chats: kv.NewMemoryStore()}

	require.NoError(t, g.RegisterChat(ctx, "profile-1", 123456))

	delivery, err := g.Send(ctx, nil, &models.Profile{ID: "profile-1"}, "hello")
	require.NoError(t, err)
	assert.True(t, delivery.Delivered)
	assert.Equal(t, "77", delivery.ChannelMessageID)
	assert.Equal(t, int64(123456), sender.lastParams.ChatID)
	assert.Equal(t, "hello", sender.lastParams.Text)
}

func TestTelegramGateway_NoChatRegistered(t *testing.T) {
	g := &TelegramGateway{bot: &stubSender{}, chats: kv.NewMemoryStore()}

	_, err := g.Send(context.Background(), nil, &models.Profile{ID: "ghost"}, "hi")
	assert.ErrorContains(t, err, "no chat registered")
}

func TestMemoryGateway_RecordsMessages(t *testing.T) {
	g := NewMemoryGateway()

	_, err := g.Send(context.Background(),
		&models.Conversation{ID: "conv-1"},
		&models.Profile{ID: "profile-1"},
		"welcome")
	require.NoError(t, err)

	sent := g.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "conv-1", sent[0].ConversationID)
	assert.Equal(t, "welcome", sent[0].Content)
}
