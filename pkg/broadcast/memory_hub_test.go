package broadcast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHub_FiltersByConversation(t *testing.T) {
	h := NewMemoryHub()
	ctx := context.Background()

	convCh, cancelConv := h.Subscribe("conv-1")
	defer cancelConv()

	allCh, cancelAll := h.Subscribe("")
	defer cancelAll()

	require.NoError(t, h.Broadcast(ctx, Message{ConversationID: "conv-1", Kind: KindMessageSent}))
	require.NoError(t, h.Broadcast(ctx, Message{ConversationID: "conv-2", Kind: KindMessageSent}))

	assert.Len(t, convCh, 1)
	assert.Len(t, allCh, 2)

	msg := <-convCh
	assert.Equal(t, "conv-1", msg.ConversationID)
}

func TestMemoryHub_CancelRemovesSubscriber(t *testing.T) {
	h := NewMemoryHub()
	ctx := context.Background()

	ch, cancel := h.Subscribe("conv-1")
	cancel()

	require.NoError(t, h.Broadcast(ctx, Message{ConversationID: "conv-1"}))
	assert.Len(t, ch, 0)
}

func TestMemoryHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewMemoryHub()
	ctx := context.Background()

	_, cancel := h.Subscribe("conv-1")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, h.Broadcast(ctx, Message{ConversationID: "conv-1"}))
	}
}
