package domain

import "errors"

// ErrBusClosed is returned by Publish once the consuming side is gone.
// Listen loops treat it as the cooperative shutdown signal and return nil.
var ErrBusClosed = errors.New("message bus closed")

// ErrUnknownChannel is returned when routing to a channel that was never registered.
var ErrUnknownChannel = errors.New("unknown channel")

// MessageBus is the bounded delivery queue between channel listen loops and
// the agent dispatcher.
type MessageBus interface {
	// Publish enqueues an inbound message. It blocks for backpressure while
	// the queue is full and returns ErrBusClosed after Close.
	Publish(msg InboundMessage) error

	// Subscribe returns the single consumer side of the queue.
	Subscribe() <-chan InboundMessage

	// SendOutbound routes a reply to the handler registered for its channel.
	SendOutbound(msg OutboundMessage) error

	// OnOutbound registers the outbound handler for a channel name.
	OnOutbound(channelName string, handler func(OutboundMessage) error)

	// Close signals cooperative shutdown to all producers.
	Close()
}
