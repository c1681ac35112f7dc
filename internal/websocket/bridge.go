package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/middleware"
	"github.com/nfrund/livepresence/internal/protocol"
	"github.com/nfrund/livepresence/internal/pubsub"
)

// --- Configuration Constants ---
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to publish lifecycle events on the bus.
	publishWait = 5 * time.Second
	// Maximum frame size accepted from clients.
	readLimit = 64 << 10
	// Outbound frames buffered per session before frames are dropped.
	defaultSendBuffer = 256
)

// ErrBridgeClosed is returned by bridge calls after Run has returned.
var ErrBridgeClosed = errors.New("websocket bridge closed")

// session is one authenticated websocket connection.
type session struct {
	domain.Session
	Username string

	conn *websocket.Conn
	// send is written and closed only by the bridge goroutine.
	send chan []byte
	// closeReason is set by the bridge goroutine before send is closed.
	closeReason string
}

type directMessage struct {
	userID    string
	sessionID string
	payload   []byte
	delivered chan bool
}

type closeRequest struct {
	sessionID string
	reason    string
	done      chan bool
}

type lookupRequest struct {
	sessionID string
	userID    string
	reply     chan lookupResult
}

type lookupResult struct {
	session domain.Session
	found   bool
	online  bool
}

// Bridge manages the websocket sessions of one channel and moves frames
// between them and the message bus. The session table is owned by Run.
type Bridge struct {
	channel   domain.Channel
	publisher pubsub.Publisher
	allow     *FrameAllowlist
	logger    *slog.Logger
	now       func() time.Time

	originPatterns []string
	sendBuffer     int

	sessions map[string]*session
	byUser   map[string]map[string]*session

	register   chan *session
	unregister chan *session
	direct     chan *directMessage
	broadcast  chan []byte
	closeReq   chan *closeRequest
	lookup     chan *lookupRequest
	list       chan chan []domain.Session

	done chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithAllowedFrames sets the client frame types forwarded to the bus.
func WithAllowedFrames(frameTypes ...string) Option {
	return func(b *Bridge) {
		b.allow = NewFrameAllowlist(frameTypes...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithClock replaces the time source used for session timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.now = now
	}
}

// WithOriginPatterns restricts accepted Origin headers. Without patterns any
// origin is accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) {
		b.originPatterns = patterns
	}
}

// WithSendBuffer sets the per-session outbound buffer.
func WithSendBuffer(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.sendBuffer = n
		}
	}
}

// NewBridge initializes a Bridge for channel. Call Run before serving.
func NewBridge(channel domain.Channel, pub pubsub.Publisher, opts ...Option) *Bridge {
	b := &Bridge{
		channel:    channel,
		publisher:  pub,
		allow:      NewFrameAllowlist(),
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		sendBuffer: defaultSendBuffer,
		sessions:   make(map[string]*session),
		byUser:     make(map[string]map[string]*session),
		register:   make(chan *session),
		unregister: make(chan *session),
		direct:     make(chan *directMessage),
		broadcast:  make(chan []byte),
		closeReq:   make(chan *closeRequest),
		lookup:     make(chan *lookupRequest),
		list:       make(chan chan []domain.Session),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("service", "websocket", "channel", string(channel))
	return b
}

// Channel returns the channel this bridge serves.
func (b *Bridge) Channel() domain.Channel {
	return b.channel
}

// Run is the bridge goroutine. It owns the session table until ctx is canceled,
// then closes every remaining session.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.done)
	b.logger.Info("WebSocket bridge runner started")

	for {
		select {
		case s := <-b.register:
			b.sessions[s.ID] = s
			if b.byUser[s.UserID] == nil {
				b.byUser[s.UserID] = make(map[string]*session)
			}
			b.byUser[s.UserID][s.ID] = s
			b.logger.Info("Session registered",
				"user_id", s.UserID, "session_id", s.ID, "user_sessions", len(b.byUser[s.UserID]))

		case s := <-b.unregister:
			b.remove(s.ID, ReasonClientClosed)

		case req := <-b.closeReq:
			req.done <- b.remove(req.sessionID, req.reason)

		case msg := <-b.direct:
			delivered := false
			if msg.sessionID != "" {
				if s, ok := b.sessions[msg.sessionID]; ok {
					delivered = b.enqueue(s, msg.payload)
				}
			} else {
				for _, s := range b.byUser[msg.userID] {
					delivered = b.enqueue(s, msg.payload) || delivered
				}
			}
			msg.delivered <- delivered

		case payload := <-b.broadcast:
			for _, s := range b.sessions {
				b.enqueue(s, payload)
			}

		case req := <-b.lookup:
			var res lookupResult
			if s, ok := b.sessions[req.sessionID]; ok {
				res.session, res.found = s.Session, true
			}
			res.online = len(b.byUser[req.userID]) > 0
			req.reply <- res

		case reply := <-b.list:
			out := make([]domain.Session, 0, len(b.sessions))
			for _, s := range b.sessions {
				out = append(out, s.Session)
			}
			reply <- out

		case <-ctx.Done():
			for id := range b.sessions {
				b.remove(id, ReasonShutdown)
			}
			b.logger.Info("WebSocket bridge runner stopped")
			return nil
		}
	}
}

// remove must run on the bridge goroutine. It reports whether the session existed.
func (b *Bridge) remove(sessionID, reason string) bool {
	s, ok := b.sessions[sessionID]
	if !ok {
		return false
	}
	delete(b.sessions, sessionID)
	if userSessions := b.byUser[s.UserID]; userSessions != nil {
		delete(userSessions, sessionID)
		if len(userSessions) == 0 {
			delete(b.byUser, s.UserID)
		}
	}
	s.closeReason = reason
	close(s.send)
	b.logger.Info("Session unregistered", "user_id", s.UserID, "session_id", sessionID, "reason", reason)
	return true
}

// enqueue must run on the bridge goroutine.
func (b *Bridge) enqueue(s *session, payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		b.logger.Warn("Session send buffer full, dropping frame", "user_id", s.UserID, "session_id", s.ID)
		return false
	}
}

// submit hands a request to the bridge goroutine.
func submit[T any](ctx context.Context, b *Bridge, ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-b.done:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendToUser queues payload on every live session of the user and reports
// whether at least one session accepted it.
func (b *Bridge) SendToUser(ctx context.Context, userID string, payload []byte) (bool, error) {
	msg := &directMessage{userID: userID, payload: payload, delivered: make(chan bool, 1)}
	if err := submit(ctx, b, b.direct, msg); err != nil {
		return false, err
	}
	return <-msg.delivered, nil
}

// SendToSession queues payload on one session.
func (b *Bridge) SendToSession(ctx context.Context, sessionID string, payload []byte) (bool, error) {
	msg := &directMessage{sessionID: sessionID, payload: payload, delivered: make(chan bool, 1)}
	if err := submit(ctx, b, b.direct, msg); err != nil {
		return false, err
	}
	return <-msg.delivered, nil
}

// SendJSON encodes v and queues it on one session.
func (b *Bridge) SendJSON(ctx context.Context, sessionID string, v any) (bool, error) {
	payload, err := protocol.Encode(v)
	if err != nil {
		return false, err
	}
	return b.SendToSession(ctx, sessionID, payload)
}

// Broadcast queues payload on every session of the channel.
func (b *Bridge) Broadcast(ctx context.Context, payload []byte) error {
	return submit(ctx, b, b.broadcast, payload)
}

// CloseSession closes a session with reason. It reports whether the session existed.
func (b *Bridge) CloseSession(ctx context.Context, sessionID, reason string) (bool, error) {
	req := &closeRequest{sessionID: sessionID, reason: reason, done: make(chan bool, 1)}
	if err := submit(ctx, b, b.closeReq, req); err != nil {
		return false, err
	}
	return <-req.done, nil
}

// Online reports whether the user has at least one live session on this channel.
func (b *Bridge) Online(ctx context.Context, userID string) (bool, error) {
	res, err := b.find(ctx, "", userID)
	return res.online, err
}

// Session returns a live session by id.
func (b *Bridge) Session(ctx context.Context, sessionID string) (domain.Session, bool, error) {
	res, err := b.find(ctx, sessionID, "")
	return res.session, res.found, err
}

// Sessions lists the live sessions.
func (b *Bridge) Sessions(ctx context.Context) ([]domain.Session, error) {
	reply := make(chan []domain.Session, 1)
	if err := submit(ctx, b, b.list, reply); err != nil {
		return nil, err
	}
	return <-reply, nil
}

func (b *Bridge) find(ctx context.Context, sessionID, userID string) (lookupResult, error) {
	req := &lookupRequest{sessionID: sessionID, userID: userID, reply: make(chan lookupResult, 1)}
	if err := submit(ctx, b, b.lookup, req); err != nil {
		return lookupResult{}, err
	}
	return <-req.reply, nil
}

// Handler returns the echo handler that upgrades authenticated requests.
// The route must be wrapped with middleware.TokenAuth.
func (b *Bridge) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := middleware.ClaimsFromContext(c)
		if !ok {
			b.logger.Error("Could not get claims from context for WebSocket connection")
			return c.JSON(http.StatusUnauthorized, protocol.NewError(domain.ErrAuth))
		}

		opts := &websocket.AcceptOptions{OriginPatterns: b.originPatterns}
		if len(b.originPatterns) == 0 {
			opts.InsecureSkipVerify = true
		}
		conn, err := websocket.Accept(c.Response(), c.Request(), opts)
		if err != nil {
			b.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
			return nil
		}
		conn.SetReadLimit(readLimit)

		now := b.now()
		s := &session{
			Session: domain.Session{
				ID:          uuid.NewString(),
				UserID:      claims.UserID(),
				AuthToken:   middleware.TokenFromRequest(c.Request()),
				Channel:     b.channel,
				ConnectedAt: now,
				ExpiresAt:   claims.Expiry(),
			},
			Username: claims.Username,
			conn:     conn,
			send:     make(chan []byte, b.sendBuffer),
		}

		if err := submit(context.Background(), b, b.register, s); err != nil {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		}

		// The ready event is acknowledged by every subscriber before the read
		// pump starts, so it is always processed before this session's frames.
		b.publishLifecycle(TopicClientReady, s, "")

		go b.writePump(s)
		go b.readPump(s)
		return nil
	}
}

// readPump forwards frames from the connection to the bus until it fails.
func (b *Bridge) readPump(s *session) {
	defer func() {
		if err := submit(context.Background(), b, b.unregister, s); err != nil {
			s.conn.CloseNow()
		}
		b.publishLifecycle(TopicClientDisconnected, s, b.disconnectReason(s))
	}()

	for {
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				b.logger.Info("WebSocket closed normally by client", "user_id", s.UserID, "session_id", s.ID)
			} else if status == -1 && !errors.Is(err, io.EOF) {
				b.logger.Debug("WebSocket read ended", "user_id", s.UserID, "session_id", s.ID, "error", err)
			}
			return
		}
		b.handleFrame(s, data)
	}
}

func (b *Bridge) handleFrame(s *session, data []byte) {
	ctx := context.Background()

	frameType, err := protocol.PeekType(data)
	if err != nil {
		b.replyError(ctx, s, err)
		return
	}

	if frameType == protocol.TypeHeartbeat {
		if _, err := b.SendJSON(ctx, s.ID, protocol.NewHeartbeatAck()); err != nil {
			b.logger.Debug("Failed to queue heartbeat ack", "session_id", s.ID, "error", err)
		}
		b.publishLifecycle(TopicClientHeartbeat, s, "")
		return
	}

	if !b.allow.IsAllowed(frameType) {
		b.replyError(ctx, s, fmt.Errorf("%w: frame type %q not accepted on %s channel",
			domain.ErrMalformedPayload, frameType, b.channel))
		return
	}

	msg := pubsub.Message{
		Topic:   IncomingTopic(b.channel),
		UserID:  s.UserID,
		Payload: data,
		Metadata: map[string]string{
			pubsub.MetaSessionID: s.ID,
			pubsub.MetaChannel:   string(b.channel),
			"received_at":        b.now().Format(time.RFC3339Nano),
		},
	}
	if err := b.publisher.Publish(ctx, msg); err != nil {
		b.logger.Error("Failed to publish incoming frame", "user_id", s.UserID, "error", err)
	}
}

func (b *Bridge) replyError(ctx context.Context, s *session, err error) {
	b.logger.Debug("Rejected client frame", "session_id", s.ID, "error", err)
	if _, sendErr := b.SendJSON(ctx, s.ID, protocol.NewError(err)); sendErr != nil {
		b.logger.Debug("Failed to queue error frame", "session_id", s.ID, "error", sendErr)
	}
}

// writePump drains the send channel and closes the connection when the
// session is removed or its token expires.
func (b *Bridge) writePump(s *session) {
	var expiry <-chan time.Time
	if !s.ExpiresAt.IsZero() {
		timer := time.NewTimer(s.ExpiresAt.Sub(b.now()))
		defer timer.Stop()
		expiry = timer.C
	}

	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				status, text := websocket.StatusNormalClosure, s.closeReason
				switch s.closeReason {
				case ReasonShutdown:
					status = websocket.StatusGoingAway
				case ReasonTokenExpired:
					status = websocket.StatusPolicyViolation
				}
				s.conn.Close(status, text)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := s.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				b.logger.Error("WebSocket write error", "user_id", s.UserID, "session_id", s.ID, "error", err)
				s.conn.CloseNow()
				return
			}

		case <-expiry:
			b.logger.Info("Session token expired", "user_id", s.UserID, "session_id", s.ID)
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			if _, err := b.CloseSession(ctx, s.ID, ReasonTokenExpired); err != nil {
				s.conn.CloseNow()
			}
			cancel()
			expiry = nil
		}
	}
}

func (b *Bridge) disconnectReason(s *session) string {
	// Reading closeReason here is ordered after remove by the unregister
	// round trip through the bridge goroutine.
	if s.closeReason != "" {
		return s.closeReason
	}
	return ReasonClientClosed
}

func (b *Bridge) publishLifecycle(topic pubsub.Event[ClientEvent], s *session, reason string) {
	event := ClientEvent{
		Channel:   b.channel,
		UserID:    s.UserID,
		Username:  s.Username,
		SessionID: s.ID,
		Reason:    reason,
		At:        b.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishWait)
	defer cancel()
	err := pubsub.Publish(ctx, b.publisher, topic, event,
		pubsub.WithUserID(s.UserID),
		pubsub.WithMetadata(pubsub.MetaSessionID, s.ID),
		pubsub.WithMetadata(pubsub.MetaChannel, string(b.channel)),
	)
	if err != nil {
		b.logger.Error("Failed to publish lifecycle event", "topic", topic.Name(), "session_id", s.ID, "error", err)
	}
}
