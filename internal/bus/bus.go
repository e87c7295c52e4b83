package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus carries messages between channels and the gateway.
// Channels push user input onto Inbound; the gateway pushes replies
// onto Outbound, and DispatchOutbound fans them back out to the
// channel that owns the conversation.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = 10
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, buffer),
		Outbound:    make(chan OutboundMessage, buffer),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the handler for one channel's outbound
// messages, replacing any previous handler for that channel.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

// DispatchOutbound delivers outbound messages to their channel handler
// until ctx is cancelled. Messages for channels without a subscriber
// are dropped with a log line.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if fn == nil {
				log.Printf("[bus] no subscriber for channel %s, dropping message", msg.Channel)
				continue
			}
			fn(msg)
		}
	}
}

// PublishInbound queues an inbound message without blocking; it
// reports false when the queue is full.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case b.Inbound <- msg:
		return true
	default:
		return false
	}
}

// PublishOutbound queues an outbound message without blocking; it
// reports false when the queue is full.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case b.Outbound <- msg:
		return true
	default:
		return false
	}
}
