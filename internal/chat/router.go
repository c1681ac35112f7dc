package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/protocol"
)

// Sessions is the part of the chat-channel bridge the router needs.
type Sessions interface {
	Session(ctx context.Context, sessionID string) (domain.Session, bool, error)
	SendToUser(ctx context.Context, userID string, payload []byte) (bool, error)
	Online(ctx context.Context, userID string) (bool, error)
}

// Request is one send_message frame together with the session it came from.
type Request struct {
	SessionID string
	SenderID  string
	Frame     protocol.SendMessage
}

type conversation struct {
	sender    string
	recipient string
}

// Router validates, sequences and delivers chat messages. Delivery is
// best-effort and at most once: a recipient without a live chat session
// gets nothing and the sender is told the message failed.
type Router struct {
	directory domain.UserDirectory
	sessions  Sessions
	limiter   *SenderLimiter
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex
	nextID uint64
	seqs   map[conversation]uint64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLimiter sets the per-sender rate limiter.
func WithLimiter(l *SenderLimiter) RouterOption {
	return func(r *Router) {
		r.limiter = l
	}
}

// WithClock replaces the time source used for SentAt and session expiry.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a router delivering through sessions.
func NewRouter(directory domain.UserDirectory, sessions Sessions, opts ...RouterOption) *Router {
	r := &Router{
		directory: directory,
		sessions:  sessions,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
		seqs:      make(map[conversation]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("service", "chat-router")
	return r
}

// Route delivers one message. The returned message carries the terminal
// DeliveryState, and the MessageID/Seq when they were assigned. Application
// failures are returned as errors wrapping the domain sentinels.
func (r *Router) Route(ctx context.Context, req Request) (domain.ChatMessage, error) {
	msg := domain.ChatMessage{
		SenderID:      req.SenderID,
		RecipientID:   req.Frame.RecipientID,
		Body:          req.Frame.Body,
		ClientRef:     req.Frame.ClientRef,
		DeliveryState: domain.DeliveryQueued,
	}

	fail := func(err error) (domain.ChatMessage, error) {
		msg.DeliveryState = domain.DeliveryFailed
		return msg, err
	}

	if err := r.authenticate(ctx, req); err != nil {
		return fail(err)
	}
	if err := protocol.Validate(req.Frame); err != nil {
		return fail(err)
	}
	if r.limiter != nil && !r.limiter.Allow(req.SenderID) {
		return fail(fmt.Errorf("%w: sender %s", domain.ErrRateLimited, req.SenderID))
	}
	if _, err := r.directory.Lookup(ctx, req.Frame.RecipientID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fail(fmt.Errorf("%w: %s", domain.ErrInvalidRecipient, req.Frame.RecipientID))
		}
		return fail(fmt.Errorf("recipient lookup: %w", err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conv := conversation{sender: req.SenderID, recipient: req.Frame.RecipientID}
	r.nextID++
	msg.MessageID = r.nextID
	msg.Seq = r.seqs[conv] + 1
	msg.SentAt = r.now()

	payload, err := protocol.Encode(protocol.NewChatMessage(msg))
	if err != nil {
		return fail(fmt.Errorf("encode chat message: %w", err))
	}

	delivered, err := r.sessions.SendToUser(ctx, msg.RecipientID, payload)
	if err != nil {
		return fail(fmt.Errorf("deliver: %w", err))
	}
	if !delivered {
		// The seq is only consumed by delivered messages so the recipient
		// sees a contiguous sequence.
		return fail(fmt.Errorf("%w: %s", domain.ErrRecipientOffline, msg.RecipientID))
	}

	r.seqs[conv] = msg.Seq
	msg.DeliveryState = domain.DeliverySent
	r.logger.Debug("Message delivered",
		"message_id", msg.MessageID, "seq", msg.Seq,
		"sender_id", msg.SenderID, "recipient_id", msg.RecipientID)
	return msg, nil
}

func (r *Router) authenticate(ctx context.Context, req Request) error {
	if req.SessionID == "" || req.SenderID == "" {
		return fmt.Errorf("%w: missing session", domain.ErrUnauthenticated)
	}
	sess, ok, err := r.sessions.Session(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("session lookup: %w", err)
	}
	if !ok || sess.UserID != req.SenderID {
		return fmt.Errorf("%w: unknown session", domain.ErrUnauthenticated)
	}
	if sess.Expired(r.now()) {
		return fmt.Errorf("%w: session expired", domain.ErrUnauthenticated)
	}
	return nil
}

// SenderLeft drops the rate-limit bucket of a user once they have no chat
// session left.
func (r *Router) SenderLeft(ctx context.Context, userID string) error {
	if r.limiter == nil {
		return nil
	}
	online, err := r.sessions.Online(ctx, userID)
	if err != nil {
		return err
	}
	if !online {
		r.limiter.Forget(userID)
	}
	return nil
}
