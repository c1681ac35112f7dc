package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillBridge_DeliversInPublishOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge()
	defer bridge.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	err := bridge.Subscribe(ctx, "test.order", func(ctx context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(msg.Payload))
		if len(got) == 20 {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)

	var want []string
	for i := 0; i < 20; i++ {
		payload := fmt.Sprintf("%d", i)
		want = append(want, payload)
		require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.order", Payload: []byte(payload)}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestWatermillBridge_HandlerErrorDoesNotRedeliver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge()
	defer bridge.Close()

	var (
		mu    sync.Mutex
		calls int
	)
	err := bridge.Subscribe(ctx, "test.failing", func(ctx context.Context, msg Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	})
	require.NoError(t, err)

	// Publish blocks until the handler acked, so both calls have finished on return.
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.failing", Payload: []byte("a")}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.failing", Payload: []byte("b")}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestWatermillBridge_PublishWithoutSubscriber(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	err := bridge.Publish(context.Background(), Message{Topic: "test.nobody", Payload: []byte("x")})
	assert.NoError(t, err)
}

func TestMessageMapping(t *testing.T) {
	in := Message{
		Topic:    "ws.chat.incoming",
		UserID:   "u1",
		Payload:  []byte(`{}`),
		Metadata: map[string]string{MetaSessionID: "s1", MetaChannel: "chat"},
	}

	out := mapToPubSubMessage(mapToWatermillMessage(context.Background(), in))

	assert.Equal(t, in.Topic, out.Topic)
	assert.Equal(t, in.UserID, out.UserID)
	assert.Equal(t, "s1", out.SessionID())
	assert.Equal(t, "chat", out.Metadata[MetaChannel])
}
