package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus connects transports to the gateway. Transports push decoded
// inbound messages onto Inbound; the gateway drains it one message at a
// time. Outbound carries messages produced off the ingestion path and is
// dispatched to the subscribed transport handler.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		handlers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the delivery handler for a transport name.
func (b *MessageBus) SubscribeOutbound(transport string, handler func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[transport] = handler
}

// DispatchOutbound delivers queued outbound messages until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			handler := b.handlers[msg.Transport]
			b.mu.RUnlock()
			if handler == nil {
				log.Printf("[bus] no outbound handler for transport %q, dropping message", msg.Transport)
				continue
			}
			handler(msg)
		case <-ctx.Done():
			return
		}
	}
}
