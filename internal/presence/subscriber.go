package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/protocol"
	"github.com/nfrund/livepresence/internal/pubsub"
	ws "github.com/nfrund/livepresence/internal/websocket"
)

const sendTimeout = 5 * time.Second

// Sender is the part of the presence-channel bridge the subscriber writes to.
type Sender interface {
	SendJSON(ctx context.Context, sessionID string, v any) (bool, error)
	Broadcast(ctx context.Context, payload []byte) error
}

// SessionCloser closes websocket sessions.
type SessionCloser interface {
	CloseSession(ctx context.Context, sessionID, reason string) (bool, error)
}

// EvictVia returns an evict handler that closes reaped sessions through closer.
func EvictVia(closer SessionCloser, logger *slog.Logger) func(userID, sessionID string) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(userID, sessionID string) {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if _, err := closer.CloseSession(ctx, sessionID, ws.ReasonEvicted); err != nil {
			logger.Warn("Failed to close evicted session", "user_id", userID, "session_id", sessionID, "error", err)
		}
	}
}

// Subscriber connects presence-channel sessions to the Registry: lifecycle
// events drive MarkOnline/MarkOffline/Heartbeat, get_online_users frames are
// answered with a snapshot, and registry deltas are broadcast to every session.
type Subscriber struct {
	registry    *Registry
	sender      Sender
	logger      *slog.Logger
	unsubscribe func()
}

// NewSubscriber creates a subscriber. Call Start to bind it to the bus.
func NewSubscriber(registry *Registry, sender Sender, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		registry: registry,
		sender:   sender,
		logger:   logger.With("service", "presence-subscriber"),
	}
}

// Start subscribes to the bus topics and to registry deltas.
func (s *Subscriber) Start(ctx context.Context, sub pubsub.Subscriber) error {
	lifecycle := []struct {
		event   pubsub.Event[ws.ClientEvent]
		handler func(context.Context, ws.ClientEvent) error
	}{
		{ws.TopicClientReady, s.handleClientReady},
		{ws.TopicClientDisconnected, s.handleClientDisconnected},
		{ws.TopicClientHeartbeat, s.handleHeartbeat},
	}
	for _, b := range lifecycle {
		if err := pubsub.Subscribe(ctx, sub, b.event, presenceOnly(b.handler)); err != nil {
			return fmt.Errorf("subscribe %s: %w", b.event.Name(), err)
		}
	}
	if err := sub.Subscribe(ctx, ws.TopicPresenceIncoming.Name(), s.handleIncoming); err != nil {
		return fmt.Errorf("subscribe %s: %w", ws.TopicPresenceIncoming.Name(), err)
	}

	s.unsubscribe = s.registry.Subscribe(s.broadcastDelta)
	s.logger.Info("Presence subscriber started")
	return nil
}

// Stop detaches from registry deltas. Bus subscriptions end with their context.
func (s *Subscriber) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// presenceOnly drops lifecycle events of chat sessions, which never affect presence.
func presenceOnly(fn func(context.Context, ws.ClientEvent) error) func(context.Context, ws.ClientEvent) error {
	return func(ctx context.Context, event ws.ClientEvent) error {
		if event.Channel != domain.ChannelPresence {
			return nil
		}
		return fn(ctx, event)
	}
}

func (s *Subscriber) handleClientReady(ctx context.Context, event ws.ClientEvent) error {
	if err := s.registry.Track(ctx, domain.User{ID: event.UserID, Username: event.Username}); err != nil {
		return err
	}
	return s.registry.MarkOnline(ctx, event.UserID, event.SessionID)
}

func (s *Subscriber) handleClientDisconnected(ctx context.Context, event ws.ClientEvent) error {
	s.logger.Debug("Processing client disconnection",
		"user_id", event.UserID, "session_id", event.SessionID, "reason", event.Reason)
	return s.registry.MarkOffline(ctx, event.UserID, event.SessionID)
}

func (s *Subscriber) handleHeartbeat(ctx context.Context, event ws.ClientEvent) error {	return s.registry.Heartbeat(ctx, event.SessionID)
}

func (s *Subscriber) handleIncoming(ctx context.Context, msg pubsub.Message) error {
	frameType, err := protocol.PeekType(msg.Payload)
	if err != nil {
		return err
	}

	switch frameType {
	case protocol.TypeGetOnlineUsers:
		sessionID := msg.SessionID()
		var sendErr error
		err := s.registry.View(ctx, func(snap domain.PresenceSnapshot) {
			sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			_, sendErr = s.sender.SendJSON(sendCtx, sessionID, protocol.NewOnlineUsersList(snap))
		})
		if err != nil {
			return err
		}
		return sendErr
	default:
		return fmt.Errorf("%w: unhandled presence frame %q", domain.ErrMalformedPayload, frameType)
	}
}

// broadcastDelta runs on the registry goroutine.
func (s *Subscriber) broadcastDelta(delta domain.PresenceDelta) {
	payload, err := protocol.Encode(protocol.NewPresenceDelta(delta))
	if err != nil {
		s.logger.Error("Failed to encode presence delta", "version", delta.Version, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.sender.Broadcast(ctx, payload); err != nil {
		s.logger.Error("Failed to broadcast presence delta", "version", delta.Version, "error", err)
	}
}
