package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
// It is intentionally simple to act as a wrapper for raw data.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "ws.chat.incoming").
	Topic string
	// UserID identifies the user whose session produced the message.
	UserID string
	// Payload contains the raw message data, usually a JSON frame.
	Payload []byte
	// Metadata carries transport context such as the session id and channel.
	Metadata map[string]string
}

// Metadata keys set by the websocket bridge.
const (
	MetaSessionID = "session_id"
	MetaChannel   = "channel"
)

// SessionID returns the originating session, if any.
func (m Message) SessionID() string {
	return m.Metadata[MetaSessionID]
}

// Handler defines the function signature for processing a received message.
// Handlers must not publish to the topic they are consuming: publishing blocks
// until every subscriber has acknowledged.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the Pub/Sub system.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the Pub/Sub system.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with the handler
	// in a background goroutine until ctx is canceled.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus is a Publisher that can also be subscribed to.
type Bus interface {
	Publisher
	Subscriber
}
