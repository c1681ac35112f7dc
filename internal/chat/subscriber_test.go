package chat

import (
	"context"
	"testing"
	"time"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/protocol"
	"github.com/nfrund/livepresence/internal/pubsub"
	ws "github.com/nfrund/livepresence/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriber_ReportsOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := newFakeSessions()
	sessions.connect("alice", "sa", time.Time{})
	sessions.connect("bob", "sb", time.Time{})

	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	sub := NewSubscriber(NewRouter(testDirectory(), sessions), sessions, nil)
	require.NoError(t, sub.Start(ctx, bus))

	publish := func(payload string) {
		require.NoError(t, bus.Publish(ctx, pubsub.Message{
			Topic:    ws.TopicChatIncoming.Name(),
			UserID:   "alice",
			Payload:  []byte(payload),
			Metadata: map[string]string{pubsub.MetaSessionID: "sa"},
		}))
	}

	publish(`{"type":"send_message","recipientId":"bob","body":"hello","clientRef":"c1"}`)
	publish(`{"type":"send_message","recipientId":"bob","clientRef":"c2"}`)
	publish(`{"type":"send_message","recipientId":"ghost","body":"boo","clientRef":"c3"}`)

	sessions.mu.Lock()
	results := append([]any(nil), sessions.results["sa"]...)
	sessions.mu.Unlock()
	require.Len(t, results, 3)

	ok := results[0].(protocol.SendResult)
	assert.Equal(t, "c1", ok.ClientRef)
	assert.Equal(t, string(domain.DeliverySent), ok.State)
	assert.Equal(t, uint64(1), ok.MessageID)
	assert.NoError(t, ok.Err())

	malformed := results[1].(protocol.SendResult)
	assert.Equal(t, "c2", malformed.ClientRef)
	assert.Equal(t, string(domain.DeliveryFailed), malformed.State)
	assert.ErrorIs(t, malformed.Err(), domain.ErrMalformedPayload)

	invalid := results[2].(protocol.SendResult)
	assert.Equal(t, domain.CodeInvalidRecipient, invalid.Error)
	assert.ErrorIs(t, invalid.Err(), domain.ErrInvalidRecipient)

	assert.Len(t, sessions.deliveredTo(t, "bob"), 1)
}

func TestSubscriber_ReleasesLimiterOnChatDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := newFakeSessions()
	sessions.connect("alice", "sa", time.Time{})
	sessions.connect("bob", "sb", time.Time{})

	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	router := NewRouter(testDirectory(), sessions, WithLimiter(NewSenderLimiter(0.001, 1)))
	sub := NewSubscriber(router, sessions, nil)
	require.NoError(t, sub.Start(ctx, bus))

	_, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "one")})
	require.NoError(t, err)

	disconnected := func(channel domain.Channel) {
		require.NoError(t, pubsub.Publish(ctx, bus, ws.TopicClientDisconnected,
			ws.ClientEvent{Channel: channel, UserID: "alice", SessionID: "sa", Reason: ws.ReasonClientClosed},
			pubsub.WithUserID("alice")))
	}

	sessions.setOnline("alice", false)
	disconnected(domain.ChannelPresence)
	sessions.setOnline("alice", true)
	_, err = router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "two")})
	require.ErrorIs(t, err, domain.ErrRateLimited)

	sessions.setOnline("alice", false)
	disconnected(domain.ChannelChat)
	sessions.setOnline("alice", true)
	_, err = router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "three")})
	assert.NoError(t, err)
}
