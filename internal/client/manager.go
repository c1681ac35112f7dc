package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/nfrund/livepresence/internal/auth"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/protocol"
)

// readLimit matches the server's frame size limit.
const readLimit = 64 << 10

var (
	errClientClosed     = errors.New("client closed the connection")
	errHeartbeatTimeout = fmt.Errorf("%w: heartbeat not acknowledged", domain.ErrNetwork)
	errAlreadyConnected = errors.New("already connected")
)

// FrameHandler receives every frame except heartbeat acks. It runs on the
// connection's read goroutine, so frames are handled in arrival order.
type FrameHandler func(data []byte)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFrameHandler sets the frame handler.
func WithFrameHandler(fn FrameHandler) ManagerOption {
	return func(m *Manager) {
		m.onFrame = fn
	}
}

// WithOpenHook runs fn after every successful connect, initial or not, once
// the session is open and before any further frame is read.
func WithOpenHook(fn func(ctx context.Context, reconnect bool)) ManagerOption {
	return func(m *Manager) {
		m.onOpen = fn
	}
}

// WithCloseHook runs fn after a live session ended, before reconnecting.
func WithCloseHook(fn func(cause error)) ManagerOption {
	return func(m *Manager) {
		m.onClose = fn
	}
}

// Manager owns the persistent connection of one channel: handshake,
// heartbeat, reconnection with backoff and teardown. Every state transition
// emits exactly one StateChanged event.
type Manager struct {
	channel  domain.Channel
	cfg      Config
	notifier *Notifier
	logger   *slog.Logger

	onFrame FrameHandler
	onOpen  func(ctx context.Context, reconnect bool)
	onClose func(cause error)

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	session domain.Session
	stop    context.CancelCauseFunc
	done    chan struct{}
}

// NewManager creates a manager for channel. Nothing is dialed until Connect.
func NewManager(channel domain.Channel, cfg Config, notifier *Notifier, opts ...ManagerOption) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		channel:  channel,
		cfg:      cfg,
		notifier: notifier,
		logger:   cfg.Logger.With("service", "connection-manager", "channel", string(channel)),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Channel returns the managed channel.
func (m *Manager) Channel() domain.Channel {
	return m.channel
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the live session, if any.
func (m *Manager) Session() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.state == StateOpen
}

// Connect performs the handshake. Rejected tokens fail with domain.ErrAuth
// and are never retried; other failures wrap domain.ErrNetwork. Once open,
// unexpected closures are retried in the background.
func (m *Manager) Connect(ctx context.Context) (domain.Session, error) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return domain.Session{}, errAlreadyConnected
	}
	m.mu.Unlock()

	m.transition(StateConnecting, nil)
	conn, sess, err := m.dial(ctx)
	if err != nil {
		m.transition(StateError, err)
		return domain.Session{}, err
	}

	life, stop := context.WithCancelCause(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.stop, m.done = stop, done
	m.mu.Unlock()

	m.opened(life, conn, sess, false)
	go m.loop(life, conn, done)
	return sess, nil
}

// Send writes one frame. It fails with domain.ErrNotConnected unless the
// session is open.
func (m *Manager) Send(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		return fmt.Errorf("%s: %w", m.channel, domain.ErrNotConnected)
	}
	return m.write(ctx, conn, payload)
}

// SendJSON encodes v and sends it.
func (m *Manager) SendJSON(ctx context.Context, v any) error {
	payload, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return m.Send(ctx, payload)
}

// Disconnect closes the session for good: no reconnection follows, and the
// heartbeat and any pending backoff are canceled. It waits for teardown.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.mu.Unlock()
	if stop == nil {
		return
	}
	stop(errClientClosed)
	<-done
}

func (m *Manager) transition(s State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == s {
		return
	}
	m.state = s
	m.logger.Debug("Connection state changed", "state", s, "error", err)
	m.notifier.Emit(StateChanged{Channel: m.channel, State: s, Err: err})
}

func (m *Manager) opened(ctx context.Context, conn *websocket.Conn, sess domain.Session, reconnect bool) {
	m.mu.Lock()
	m.conn, m.session = conn, sess
	m.mu.Unlock()

	m.transition(StateOpen, nil)
	m.notifier.Emit(ConnectionOpened{Channel: m.channel, Session: sess})
	m.logger.Info("Connected", "session_id", sess.ID, "user_id", sess.UserID, "reconnect", reconnect)
	if m.onOpen != nil {
		m.onOpen(ctx, reconnect)
	}
}

// loop serves one connection after another until Disconnect or until
// reconnection gives up.
func (m *Manager) loop(life context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		cause := m.serve(life, conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		if m.onClose != nil {
			m.onClose(cause)
		}

		if errors.Is(cause, errClientClosed) {
			m.notifier.Emit(ConnectionClosed{Channel: m.channel, Reason: "client_closed"})
			m.transition(StateClosed, nil)
			return
		}

		m.logger.Warn("Connection lost, reconnecting", "error", cause)
		m.notifier.Emit(ConnectionClosed{Channel: m.channel, Reason: closeReason(cause), Err: cause})
		m.transition(StateConnecting, cause)

		next, sess, err := m.reconnect(life)
		if err != nil {
			if errors.Is(err, errClientClosed) {
				m.transition(StateClosed, nil)
			} else {
				m.logger.Error("Giving up on connection", "error", err)
				m.transition(StateError, err)
			}
			return
		}
		conn = next
		m.opened(life, conn, sess, true)
	}
}

// serve runs the read loop and heartbeat of one connection and returns why
// it ended.
func (m *Manager) serve(life context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancelCause(life)
	defer cancel(nil)

	acks := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cancel(m.readLoop(conn, acks))
	}()
	go func() {
		defer wg.Done()
		m.heartbeat(ctx, conn, acks, cancel)
	}()

	<-ctx.Done()
	cause := context.Cause(ctx)
	if errors.Is(cause, errClientClosed) {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	} else {
		conn.CloseNow()
	}
	wg.Wait()
	return cause
}

func (m *Manager) readLoop(conn *websocket.Conn, acks chan<- struct{}) error {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusPolicyViolation:
				return fmt.Errorf("%w: session closed by server: %v", domain.ErrAuth, err)
			case -1:
				return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
			default:
				return fmt.Errorf("%w: closed by server: %v", domain.ErrNetwork, err)
			}
		}

		if frameType, _ := protocol.PeekType(data); frameType == protocol.TypeHeartbeatAck {
			select {
			case acks <- struct{}{}:
			default:
			}
			continue
		}
		if m.onFrame != nil {
			m.onFrame(data)
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn, acks <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	frame, _ := protocol.Encode(protocol.NewHeartbeat())
	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if timeout != nil {
				continue
			}
			if err := m.write(ctx, conn, frame); err != nil {
				cancel(err)
				return
			}
			timer = time.NewTimer(m.cfg.HeartbeatTimeout)
			timeout = timer.C
		case <-acks:
			if timer != nil {
				timer.Stop()
			}
			timeout = nil
		case <-timeout:
			m.logger.Warn("Heartbeat timed out", "timeout", m.cfg.HeartbeatTimeout)
			cancel(errHeartbeatTimeout)
			return
		}
	}
}

func (m *Manager) write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("%w: write: %v", domain.ErrNetwork, err)
	}
	return nil
}

// dial performs one handshake.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, domain.Session, error) {
	if m.cfg.Token == nil {
		return nil, domain.Session{}, fmt.Errorf("%w: no token source", domain.ErrAuth)
	}
	token, err := m.cfg.Token(ctx)
	if err != nil {
		return nil, domain.Session{}, fmt.Errorf("%w: token source: %v", domain.ErrAuth, err)
	}
	target, err := channelURL(m.cfg.URL, m.channel, token)
	if err != nil {
		return nil, domain.Session{}, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{HTTPClient: m.cfg.HTTPClient})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, domain.Session{}, fmt.Errorf("%w: handshake rejected: %s", domain.ErrAuth, resp.Status)
		}
		return nil, domain.Session{}, fmt.Errorf("%w: dial %s: %v", domain.ErrNetwork, m.channel, err)
	}
	conn.SetReadLimit(readLimit)

	sess := domain.Session{
		ID:          uuid.NewString(),
		AuthToken:   token,
		Channel:     m.channel,
		ConnectedAt: time.Now().UTC(),
	}
	if claims, err := auth.ParseUnverified(token); err == nil {
		sess.UserID = claims.UserID()
		sess.ExpiresAt = claims.Expiry()
	}
	return conn, sess, nil
}

// reconnect retries dial with exponential backoff. Rejected tokens stop the
// retries at once; exhausting the attempts yields domain.ErrConnectionLost.
func (m *Manager) reconnect(life context.Context) (*websocket.Conn, domain.Session, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = m.cfg.ReconnectBase
	expo.MaxInterval = m.cfg.ReconnectMax
	expo.RandomizationFactor = m.cfg.ReconnectJitter
	expo.Multiplier = 2
	expo.MaxElapsedTime = m.cfg.MaxElapsed
	expo.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(m.cfg.MaxAttempts-1)), life)

	var (
		conn    *websocket.Conn
		sess    domain.Session
		attempt int
	)
	op := func() error {
		attempt++
		c, s, err := m.dial(life)
		if err != nil {
			if errors.Is(err, domain.ErrAuth) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn, sess = c, s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Info("Reconnect attempt failed", "attempt", attempt, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if life.Err() != nil {
			return nil, domain.Session{}, errClientClosed
		}
		if errors.Is(err, domain.ErrAuth) {
			return nil, domain.Session{}, err
		}
		return nil, domain.Session{}, fmt.Errorf("%w: after %d attempts: %v", domain.ErrConnectionLost, attempt, err)
	}
	return conn, sess, nil
}

func closeReason(cause error) string {
	switch {
	case errors.Is(cause, errHeartbeatTimeout):
		return "heartbeat_timeout"
	case errors.Is(cause, domain.ErrAuth):
		return "auth"
	default:
		return "network"
	}
}
