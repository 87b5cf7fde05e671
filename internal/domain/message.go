package domain

import "time"

// InboundMessage is the canonical record for a message received on any channel.
// Identity is the (Channel, ID) pair: IDs are only unique within one channel,
// and cross-channel collisions are expected and harmless since routing always
// carries the channel name alongside the id.
type InboundMessage struct {
	ID        string    // source-native identifier (row ID, message ID, uuid), stringified
	Channel   string    // name of the channel that produced this message
	SenderID  string    // source-specific sender identity: phone number, handle, user ID
	ChatID    string    // reply target for this conversation
	Content   string    // text body, never empty after filtering
	Timestamp time.Time // capture time, not necessarily send time
}

// OutboundMessage is a reply routed back through the originating channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
