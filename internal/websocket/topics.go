package websocket

import (
	"time"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/protocol"
	"github.com/nfrund/livepresence/internal/pubsub"
)

// ClientEvent describes a session lifecycle change.
type ClientEvent struct {
	Channel   domain.Channel `json:"channel"`
	UserID    string         `json:"userID"`
	Username  string         `json:"username,omitempty"`
	SessionID string         `json:"sessionID"`
	Reason    string         `json:"reason,omitempty"`
	At        time.Time      `json:"at"`
}

// Disconnect reasons carried by TopicClientDisconnected.
const (
	ReasonClientClosed = "client_closed"
	ReasonTokenExpired = "token_expired"
	ReasonEvicted      = "evicted"
	ReasonShutdown     = "shutdown"
	ReasonError        = "error"
)

var (
	// TopicClientReady is published when a session has been authenticated and registered.
	TopicClientReady = pubsub.NewEvent[ClientEvent](
		"ws.client.ready",
		"Published when a websocket session is registered")

	// TopicClientDisconnected is published once a session has been unregistered.
	TopicClientDisconnected = pubsub.NewEvent[ClientEvent](
		"ws.client.disconnected",
		"Published when a websocket session is closed")

	// TopicClientHeartbeat is published for every heartbeat frame a session sends.
	TopicClientHeartbeat = pubsub.NewEvent[ClientEvent](
		"ws.client.heartbeat",
		"Published when a websocket session sends a heartbeat")

	// TopicPresenceIncoming carries client frames received on the presence channel.
	TopicPresenceIncoming = pubsub.NewEvent[protocol.Envelope](
		"ws.presence.incoming",
		"Client frames received on the presence channel")

	// TopicChatIncoming carries client frames received on the chat channel.
	TopicChatIncoming = pubsub.NewEvent[protocol.SendMessage](
		"ws.chat.incoming",
		"Client frames received on the chat channel")
)

// IncomingTopic returns the bus topic for frames received on channel.
func IncomingTopic(channel domain.Channel) string {
	return "ws." + string(channel) + ".incoming"
}
