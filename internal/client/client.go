// Package client is the Go client for the presence and chat channels. It
// keeps one persistent connection per channel, mirrors server presence
// locally and surfaces chat messages in per-sender order.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/protocol"
)

// Client ties the presence and chat connections to one Synchronizer and one
// Notifier.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	notifier *Notifier
	sync     *Synchronizer

	presence *Manager
	chat     *Manager

	// chatMu serializes Receive with the emits that follow it, so released
	// messages reach subscribers in seq order.
	chatMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan protocol.SendResult

	stopExpire context.CancelFunc
	expireDone chan struct{}
	closeOnce  sync.Once
}

// New builds a client. Nothing is dialed until Connect.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:     cfg,
		logger:  cfg.Logger.With("service", "realtime-client"),
		sync:    NewSynchronizer(cfg.ReorderWindow, cfg.MaxBuffered),
		pending: make(map[string]chan protocol.SendResult),
	}
	c.notifier = NewNotifier(cfg.Logger)
	c.presence = NewManager(domain.ChannelPresence, cfg, c.notifier,
		WithFrameHandler(c.handlePresenceFrame),
		WithOpenHook(c.presenceOpened),
	)
	c.chat = NewManager(domain.ChannelChat, cfg, c.notifier,
		WithFrameHandler(c.handleChatFrame),
		WithOpenHook(c.chatOpened),
		WithCloseHook(c.chatClosed),
	)
	return c
}

// Dial builds a client and connects both channels.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := New(cfg)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Connect opens the presence channel and then the chat channel. If chat
// fails, presence is disconnected again.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.presence.Connect(ctx); err != nil {
		return fmt.Errorf("presence: %w", err)
	}
	if _, err := c.chat.Connect(ctx); err != nil {
		c.presence.Disconnect()
		return fmt.Errorf("chat: %w", err)
	}
	c.startExpiry()
	return nil
}

// Presence returns the presence channel manager.
func (c *Client) Presence() *Manager { return c.presence }

// Chat returns the chat channel manager.
func (c *Client) Chat() *Manager { return c.chat }

// Synchronizer returns the local presence and ordering state.
func (c *Client) Synchronizer() *Synchronizer { return c.sync }

// Notifier returns the event hub.
func (c *Client) Notifier() *Notifier { return c.notifier }

// Status returns the locally cached presence of userID.
func (c *Client) Status(userID string) domain.PresenceRecord {
	return c.sync.Status(userID)
}

// RequestSnapshot asks the server for the full presence list. The reply is
// applied asynchronously and announced with a SnapshotApplied event.
func (c *Client) RequestSnapshot(ctx context.Context) error {
	return c.presence.SendJSON(ctx, protocol.NewGetOnlineUsers())
}

// SendMessage sends body to recipientID and waits for the server's verdict.
// On failure a SendFailed event is emitted as well.
func (c *Client) SendMessage(ctx context.Context, recipientID, body string) (domain.ChatMessage, error) {
	ref := uuid.NewString()
	frame := protocol.SendMessage{
		Type:        protocol.TypeSendMessage,
		RecipientID: recipientID,
		Body:        body,
		ClientRef:   ref,
	}
	msg := domain.ChatMessage{
		RecipientID:   recipientID,
		Body:          body,
		ClientRef:     ref,
		DeliveryState: domain.DeliveryQueued,
	}
	if sess, ok := c.chat.Session(); ok {
		msg.SenderID = sess.UserID
	}

	result := make(chan protocol.SendResult, 1)
	c.pendingMu.Lock()
	c.pending[ref] = result
	c.pendingMu.Unlock()
	defer c.forget(ref)

	if err := c.chat.SendJSON(ctx, frame); err != nil {
		return c.failed(msg, err)
	}

	select {
	case r := <-result:
		msg.MessageID = r.MessageID
		msg.Seq = r.Seq
		if err := r.Err(); err != nil {
			return c.failed(msg, err)
		}
		msg.DeliveryState = domain.DeliverySent
		return msg, nil
	case <-ctx.Done():
		return c.failed(msg, ctx.Err())
	}
}

// Disconnect closes both channels. The client may Connect again.
func (c *Client) Disconnect() {
	if c.stopExpire != nil {
		c.stopExpire()
		<-c.expireDone
		c.stopExpire = nil
	}
	c.chat.Disconnect()
	c.presence.Disconnect()
}

// Close disconnects and stops event delivery after draining queued events.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.Disconnect()
		c.notifier.Close()
	})
}

func (c *Client) failed(msg domain.ChatMessage, err error) (domain.ChatMessage, error) {
	msg.DeliveryState = domain.DeliveryFailed
	c.notifier.Emit(SendFailed{MessageID: msg.MessageID, ClientRef: msg.ClientRef, Reason: err})
	return msg, err
}

func (c *Client) forget(ref string) {
	c.pendingMu.Lock()
	delete(c.pending, ref)
	c.pendingMu.Unlock()
}

func (c *Client) presenceOpened(ctx context.Context, reconnect bool) {
	if err := c.RequestSnapshot(ctx); err != nil {
		c.logger.Warn("Failed to request presence snapshot", "error", err, "reconnect", reconnect)
	}
}

func (c *Client) chatOpened(_ context.Context, reconnect bool) {
	if !reconnect {
		return
	}
	c.chatMu.Lock()
	defer c.chatMu.Unlock()
	released, violations := c.sync.ResetOrdering()
	c.emitChat(released, violations)
}

// chatClosed fails every send still waiting for a result.
func (c *Client) chatClosed(cause error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for ref, ch := range c.pending {
		select {
		case ch <- protocol.SendResult{
			Type:      protocol.TypeSendResult,
			ClientRef: ref,
			State:     string(domain.DeliveryFailed),
			Error:     domain.ErrorCode(domain.ErrConnectionLost),
			Message:   fmt.Sprintf("connection lost: %v", cause),
		}:
		default:
		}
		delete(c.pending, ref)
	}
}

func (c *Client) handlePresenceFrame(data []byte) {
	frameType, err := protocol.PeekType(data)
	if err != nil {
		c.logger.Warn("Dropping unreadable presence frame", "error", err)
		return
	}

	switch frameType {
	case protocol.TypeOnlineUsersList:
		var list protocol.OnlineUsersList
		if err := protocol.Decode(data, &list); err != nil {
			c.logger.Warn("Dropping malformed snapshot", "error", err)
			return
		}
		snap := list.Snapshot()
		c.sync.ApplySnapshot(snap)
		c.notifier.Emit(SnapshotApplied{Snapshot: snap})
	case protocol.TypePresenceDelta:
		var frame protocol.PresenceDelta
		if err := protocol.Decode(data, &frame); err != nil {
			c.logger.Warn("Dropping malformed presence delta", "error", err)
			return
		}
		if applied := c.sync.ApplyDelta(frame.Delta()); len(applied.Changes) > 0 {
			c.notifier.Emit(PresenceChanged{Delta: applied})
		}
	case protocol.TypeError:
		c.logServerError(domain.ChannelPresence, data)
	default:
		c.logger.Debug("Ignoring presence frame", "type", frameType)
	}
}

func (c *Client) handleChatFrame(data []byte) {
	frameType, err := protocol.PeekType(data)
	if err != nil {
		c.logger.Warn("Dropping unreadable chat frame", "error", err)
		return
	}

	switch frameType {
	case protocol.TypeChatMessage:
		var frame protocol.ChatMessage
		if err := protocol.Decode(data, &frame); err != nil {
			c.logger.Warn("Dropping malformed chat message", "error", err)
			return
		}
		c.chatMu.Lock()
		released, violations := c.sync.Receive(frame.Message())
		c.emitChat(released, violations)
		c.chatMu.Unlock()
	case protocol.TypeSendResult:
		var result protocol.SendResult
		if err := protocol.Decode(data, &result); err != nil {
			c.logger.Warn("Dropping malformed send result", "error", err)
			return
		}
		c.resolve(result)
	case protocol.TypeError:
		c.logServerError(domain.ChannelChat, data)
	default:
		c.logger.Debug("Ignoring chat frame", "type", frameType)
	}
}

func (c *Client) resolve(result protocol.SendResult) {
	if !domain.DeliveryState(result.State).Terminal() {
		c.logger.Debug("Ignoring non-terminal send result", "client_ref", result.ClientRef, "state", result.State)
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[result.ClientRef]
	delete(c.pending, result.ClientRef)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("Send result without a waiting sender", "client_ref", result.ClientRef, "state", result.State)
		return
	}
	ch <- result
}

func (c *Client) emitChat(released []domain.ChatMessage, violations []domain.OrderingViolation) {
	for _, v := range violations {
		c.logger.Warn("Chat ordering gap abandoned", "sender_id", v.SenderID, "from_seq", v.FromSeq, "to_seq", v.ToSeq)
		c.notifier.Emit(OrderingViolated{Violation: v})
	}
	for _, m := range released {
		c.notifier.Emit(MessageReceived{Message: m})
	}
}

func (c *Client) logServerError(channel domain.Channel, data []byte) {
	var frame protocol.Error
	if err := protocol.Decode(data, &frame); err != nil {
		return
	}
	err := domain.ErrorFromCode(frame.Code, frame.Message)
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrRateLimited) {
		level = slog.LevelInfo
	}
	c.logger.Log(context.Background(), level, "Server reported an error", "channel", string(channel), "code", frame.Code, "message", frame.Message)
}

// startExpiry releases messages stuck behind gaps older than the reorder
// window.
func (c *Client) startExpiry() {
	if c.stopExpire != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopExpire, c.expireDone = cancel, done

	interval := c.cfg.ReorderWindow / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.chatMu.Lock()
				released, violations := c.sync.Expire(now)
				c.emitChat(released, violations)
				c.chatMu.Unlock()
			}
		}
	}()
}
