package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/livepresence/internal/directory"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessions stands in for the chat bridge.
type fakeSessions struct {
	mu        sync.Mutex
	sessions  map[string]domain.Session
	online    map[string]bool
	delivered map[string][][]byte
	results   map[string][]any
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions:  make(map[string]domain.Session),
		online:    make(map[string]bool),
		delivered: make(map[string][][]byte),
		results:   make(map[string][]any),
	}
}

func (f *fakeSessions) connect(userID, sessionID string, expiresAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = domain.Session{ID: sessionID, UserID: userID, Channel: domain.ChannelChat, ExpiresAt: expiresAt}
	f.online[userID] = true
}

func (f *fakeSessions) setOnline(userID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = online
}

func (f *fakeSessions) Session(_ context.Context, sessionID string) (domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	return s, ok, nil
}

func (f *fakeSessions) SendToUser(_ context.Context, userID string, payload []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false, nil
	}
	f.delivered[userID] = append(f.delivered[userID], payload)
	return true, nil
}

func (f *fakeSessions) Online(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID], nil
}

func (f *fakeSessions) SendJSON(_ context.Context, sessionID string, v any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[sessionID] = append(f.results[sessionID], v)
	return true, nil
}

func (f *fakeSessions) deliveredTo(t *testing.T, userID string) []protocol.ChatMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.ChatMessage
	for _, p := range f.delivered[userID] {
		var m protocol.ChatMessage
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

func testDirectory() *directory.Memory {
	return directory.NewMemory(
		domain.User{ID: "alice", Username: "Dr. Alice"},
		domain.User{ID: "bob", Username: "Nurse Bob"},
		domain.User{ID: "carol", Username: "Dr. Carol"},
	)
}

func send(recipient, body string) protocol.SendMessage {
	return protocol.SendMessage{Type: protocol.TypeSendMessage, RecipientID: recipient, Body: body, ClientRef: "ref-" + body}
}

func TestRouter_DeliversAndSequences(t *testing.T) {
	ctx := context.Background()
	sessions := newFakeSessions()
	sessions.connect("alice", "sa", time.Time{})
	sessions.connect("bob", "sb", time.Time{})
	sessions.connect("carol", "sc", time.Time{})
	router := NewRouter(testDirectory(), sessions)

	first, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "one")})
	require.NoError(t, err)
	second, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "two")})
	require.NoError(t, err)
	other, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("carol", "three")})
	require.NoError(t, err)
	reply, err := router.Route(ctx, Request{SessionID: "sb", SenderID: "bob", Frame: send("alice", "four")})
	require.NoError(t, err)

	assert.Equal(t, domain.DeliverySent, first.DeliveryState)
	assert.Equal(t, "ref-one", first.ClientRef)
	assert.Equal(t, []uint64{1, 2, 3, 4}, []uint64{first.MessageID, second.MessageID, other.MessageID, reply.MessageID})
	assert.Equal(t, []uint64{1, 2, 1, 1}, []uint64{first.Seq, second.Seq, other.Seq, reply.Seq})

	got := sessions.deliveredTo(t, "bob")
	require.Len(t, got, 2)
	assert.Equal(t, protocol.TypeChatMessage, got[0].Type)
	assert.Equal(t, "alice", got[0].SenderID)
	assert.Equal(t, "one", got[0].Body)
	assert.Equal(t, "two", got[1].Body)
	assert.False(t, got[0].SentAt.IsZero())
}

func TestRouter_Failures(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sessions := newFakeSessions()
	sessions.connect("alice", "sa", time.Time{})
	sessions.connect("bob", "expired", now.Add(-time.Minute))
	router := NewRouter(testDirectory(), sessions, WithClock(func() time.Time { return now }))

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"unknown recipient", Request{SessionID: "sa", SenderID: "alice", Frame: send("mallory", "hi")}, domain.ErrInvalidRecipient},
		{"unknown session", Request{SessionID: "nope", SenderID: "alice", Frame: send("bob", "hi")}, domain.ErrUnauthenticated},
		{"session of another user", Request{SessionID: "sa", SenderID: "bob", Frame: send("alice", "hi")}, domain.ErrUnauthenticated},
		{"expired session", Request{SessionID: "expired", SenderID: "bob", Frame: send("alice", "hi")}, domain.ErrUnauthenticated},
		{"empty body", Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "")}, domain.ErrMalformedPayload},
		{"recipient offline", Request{SessionID: "sa", SenderID: "alice", Frame: send("carol", "hi")}, domain.ErrRecipientOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := router.Route(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, domain.DeliveryFailed, msg.DeliveryState)
			assert.True(t, domain.IsApplicationError(err))
		})
	}

	assert.Empty(t, sessions.deliveredTo(t, "mallory"))
	assert.Empty(t, sessions.deliveredTo(t, "carol"))
}

func TestRouter_OfflineDoesNotConsumeSeq(t *testing.T) {
	ctx := context.Background()
	sessions := newFakeSessions()
	sessions.connect("alice", "sa", time.Time{})
	sessions.connect("bob", "sb", time.Time{})
	router := NewRouter(testDirectory(), sessions)

	first, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "one")})
	require.NoError(t, err)

	sessions.setOnline("bob", false)
	failed, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "lost")})
	require.ErrorIs(t, err, domain.ErrRecipientOffline)

	sessions.setOnline("bob", true)
	next, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "two")})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), next.Seq)
	assert.Greater(t, next.MessageID, failed.MessageID)
	assert.Greater(t, failed.MessageID, first.MessageID)
}

func TestRouter_RateLimited(t *testing.T) {
	ctx := context.Background()
	sessions := newFakeSessions()
	sessions.connect("alice", "sa", time.Time{})
	sessions.connect("bob", "sb", time.Time{})
	router := NewRouter(testDirectory(), sessions, WithLimiter(NewSenderLimiter(0.001, 2)))

	for i := 0; i < 2; i++ {
		_, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "burst")})
		require.NoError(t, err)
	}
	_, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "too much")})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// Other senders have their own bucket.
	_, err = router.Route(ctx, Request{SessionID: "sb", SenderID: "bob", Frame: send("alice", "hi")})
	assert.NoError(t, err)
}

func TestSenderLimiter(t *testing.T) {
	l := NewSenderLimiter(0.001, 1)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	l.Forget("a")
	assert.True(t, l.Allow("a"))

	unlimited := NewSenderLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("a"))
	}
}

func TestRouter_SenderLeftReleasesBucket(t *testing.T) {
	ctx := context.Background()
	sessions := newFakeSessions()
	sessions.connect("alice", "sa", time.Time{})
	sessions.connect("bob", "sb", time.Time{})

	router := NewRouter(testDirectory(), sessions, WithLimiter(NewSenderLimiter(0.001, 1)))
	_, err := router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "one")})
	require.NoError(t, err)
	_, err = router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "two")})
	require.ErrorIs(t, err, domain.ErrRateLimited)

	// Still connected elsewhere: the bucket stays.
	require.NoError(t, router.SenderLeft(ctx, "alice"))
	_, err = router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "three")})
	require.ErrorIs(t, err, domain.ErrRateLimited)

	sessions.setOnline("alice", false)
	require.NoError(t, router.SenderLeft(ctx, "alice"))
	sessions.setOnline("alice", true)
	_, err = router.Route(ctx, Request{SessionID: "sa", SenderID: "alice", Frame: send("bob", "four")})
	assert.NoError(t, err)
}
