package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/protocol"
	"github.com/nfrund/livepresence/internal/pubsub"
	ws "github.com/nfrund/livepresence/internal/websocket"
)

// ResultSender writes send_result frames back to the sending session.
type ResultSender interface {
	SendJSON(ctx context.Context, sessionID string, v any) (bool, error)
}

// Subscriber feeds chat-channel frames from the bus into the Router and
// reports every outcome to the sender. The bus delivers ws.chat.incoming one
// message at a time, which keeps routing serialized.
type Subscriber struct {
	router  *Router
	results ResultSender
	logger  *slog.Logger
}

// NewSubscriber creates a chat subscriber.
func NewSubscriber(router *Router, results ResultSender, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		router:  router,
		results: results,
		logger:  logger.With("service", "chat-subscriber"),
	}
}

// Start subscribes to incoming chat frames and chat session closures.
func (s *Subscriber) Start(ctx context.Context, sub pubsub.Subscriber) error {
	if err := sub.Subscribe(ctx, ws.TopicChatIncoming.Name(), s.handleIncoming); err != nil {
		return fmt.Errorf("subscribe %s: %w", ws.TopicChatIncoming.Name(), err)
	}
	if err := pubsub.Subscribe(ctx, sub, ws.TopicClientDisconnected, s.handleDisconnected); err != nil {
		return fmt.Errorf("subscribe %s: %w", ws.TopicClientDisconnected.Name(), err)
	}
	s.logger.Info("Chat subscriber started")
	return nil
}

func (s *Subscriber) handleDisconnected(ctx context.Context, ev ws.ClientEvent) error {
	if ev.Channel != domain.ChannelChat {
		return nil
	}
	if err := s.router.SenderLeft(ctx, ev.UserID); err != nil {
		s.logger.Debug("Could not release sender state", "user_id", ev.UserID, "error", err)
	}
	return nil
}

func (s *Subscriber) handleIncoming(ctx context.Context, msg pubsub.Message) error {
	sessionID := msg.SessionID()

	var frame protocol.SendMessage
	if err := protocol.Decode(msg.Payload, &frame); err != nil {
		// Recover the clientRef so the sender can match the failure.
		var partial struct {
			ClientRef string `json:"clientRef"`
		}
		_ = json.Unmarshal(msg.Payload, &partial)
		s.reply(ctx, sessionID, domain.ChatMessage{
			SenderID:      msg.UserID,
			ClientRef:     partial.ClientRef,
			DeliveryState: domain.DeliveryFailed,
		}, err)
		return nil
	}
	if frame.Type != protocol.TypeSendMessage {
		s.reply(ctx, sessionID, domain.ChatMessage{ClientRef: frame.ClientRef, DeliveryState: domain.DeliveryFailed},
			fmt.Errorf("%w: unexpected frame %q", domain.ErrMalformedPayload, frame.Type))
		return nil
	}

	result, err := s.router.Route(ctx, Request{
		SessionID: sessionID,
		SenderID:  msg.UserID,
		Frame:     frame,
	})
	if err != nil {
		s.logger.Info("Message not delivered",
			"sender_id", msg.UserID, "recipient_id", frame.RecipientID,
			"code", domain.ErrorCode(err), "error", err)
	}
	s.reply(ctx, sessionID, result, err)
	return nil
}

func (s *Subscriber) reply(ctx context.Context, sessionID string, m domain.ChatMessage, err error) {
	if sessionID == "" {
		return
	}
	if _, sendErr := s.results.SendJSON(ctx, sessionID, protocol.NewSendResult(m, err)); sendErr != nil {
		s.logger.Warn("Failed to send result", "session_id", sessionID, "error", sendErr)
	}
}
