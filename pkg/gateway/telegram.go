package gateway

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/models"
)

const telegramChatKeyPrefix = "tg:chat:"

// telegramSender is the slice of the go-telegram/bot client the gateway
// uses, kept small so tests can stub it.
type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramGateway sends messages through the Telegram Bot API. Chat IDs
// are registered per profile when inbound updates arrive and looked up
// from the kv store on send.
type TelegramGateway struct {
	bot   telegramSender
	chats kv.Store
}

// NewTelegramGateway builds the adapter around an existing bot client.
func NewTelegramGateway(b *bot.Bot, chats kv.Store) *TelegramGateway {
	return &TelegramGateway{bot: b, chats: chats}
}

// RegisterChat remembers the Telegram chat ID for a profile so later
// outbound sends can reach it.
func (g *TelegramGateway) RegisterChat(ctx context.Context, profileID string, chatID int64) error {
	return g.chats.Set(ctx, telegramChatKeyPrefix+profileID, strconv.FormatInt(chatID, 10), 0)
}

func (g *TelegramGateway) Send(ctx context.Context, _ *models.Conversation, profile *models.Profile, content string) (Delivery, error) {
	if profile == nil {
		return Delivery{}, fmt.Errorf("telegram gateway: no profile")
	}

	raw, ok, err := g.chats.Get(ctx, telegramChatKeyPrefix+profile.ID)
	if err != nil {
		return Delivery{}, fmt.Errorf("telegram gateway: chat lookup for profile %s: %w", profile.ID, err)
	}
	if !ok {
		return Delivery{}, fmt.Errorf("telegram gateway: no chat registered for profile %s", profile.ID)
	}

	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Delivery{}, fmt.Errorf("telegram gateway: bad chat id %q for profile %s: %w", raw, profile.ID, err)
	}

	msg, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   content,
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("telegram gateway: send to chat %d: %w", chatID, err)
	}

	return Delivery{Delivered: true, ChannelMessageID: strconv.Itoa(msg.ID)}, nil
}

var _ Gateway = (*TelegramGateway)(nil)
