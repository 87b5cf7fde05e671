package domain

import "context"

// Channel is one external communication surface (Telegram, iMessage, webhook, CLI).
type Channel interface {
	// Name returns the stable lowercase identifier used as the routing key
	// and as InboundMessage.Channel.
	Name() string

	// Start runs the listen loop: it pushes every newly observed, allowed,
	// non-empty message into the bus until ctx is cancelled, the bus is
	// closed, or an unrecoverable failure occurs. A closed bus is the
	// cooperative shutdown signal, not an error: Start returns nil.
	Start(ctx context.Context, bus MessageBus) error

	// Stop releases channel resources. Safe to call after Start returns.
	Stop() error

	// Send delivers an outbound reply to a channel-specific target.
	// Safe to call concurrently with an in-progress Start; a failed send
	// must not corrupt any internal polling state.
	Send(ctx context.Context, chatID string, content string) error

	// Healthy reports whether the channel's transport prerequisites are met
	// (credentials present, local store reachable). It never panics and
	// returns false on any failure.
	Healthy(ctx context.Context) bool
}
