package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"clawbot/internal/domain"
)

// InMemoryBus is a bounded Go-channel message bus for in-process delivery.
// All channel listen loops produce into one queue consumed by the agent
// dispatcher. Producers block while the queue is full; closing the bus is
// the cooperative shutdown signal for every listen loop.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	done     chan struct{}
	handlers map[string]func(domain.OutboundMessage) error
	mu       sync.RWMutex
	once     sync.Once
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given queue capacity.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		done:     make(chan struct{}),
		handlers: make(map[string]func(domain.OutboundMessage) error),
		logger:   logger,
	}
}

// Publish enqueues an inbound message, blocking while the queue is full
// rather than dropping. Once Close has been called it returns
// domain.ErrBusClosed, which listen loops take as the shutdown signal.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) error {
	// Fast-path check so a closed bus is reported even when the queue has room.
	select {
	case <-b.done:
		return domain.ErrBusClosed
	default:
	}

	select {
	case b.inbound <- msg:
		return nil
	case <-b.done:
		return domain.ErrBusClosed
	}
}

// Subscribe returns the consumer side of the delivery queue. There is a
// single consumer: the agent dispatcher.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound routes a reply to the handler its originating channel
// registered. Unknown channels are an error, not a silent drop.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) error {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, msg.Channel)
	}
	return handler(msg)
}

// OnOutbound registers the outbound handler for a channel name. Channels
// call this once at listen-loop start; later registrations replace earlier
// ones.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Close signals shutdown to all producers. Safe to call more than once.
// The inbound channel itself is left open so concurrent Publish calls can
// never panic; they observe done and return ErrBusClosed instead.
func (b *InMemoryBus) Close() {
	b.once.Do(func() {
		close(b.done)
		b.logger.Info("message bus closed")
	})
}

// Done exposes the shutdown signal for consumers that select on it.
func (b *InMemoryBus) Done() <-chan struct{} {
	return b.done
}

// Depth returns the number of messages currently queued.
func (b *InMemoryBus) Depth() int {
	return len(b.inbound)
}
