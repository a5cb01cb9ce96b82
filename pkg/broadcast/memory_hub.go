package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

type subscriber struct {
	ch             chan Message
	conversationID string
}

// MemoryHub is an in-memory Hub built on channels. Slow subscribers have
// messages dropped rather than blocking the publisher.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
}

func (h *MemoryHub) Broadcast(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.conversationID != "" && sub.conversationID != msg.ConversationID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// slow subscriber, drop
		}
	}

	return nil
}

// Subscribe registers a listener for one conversation; an empty
// conversationID receives every message. The returned cancel func
// removes the subscription.
func (h *MemoryHub) Subscribe(conversationID string) (<-chan Message, func()) {
	id := h.seq.Add(1)
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, conversationID: conversationID}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel
}

var _ Hub = (*MemoryHub)(nil)
