package client

import "github.com/nfrund/livepresence/internal/domain"

// State is the lifecycle state of one channel connection.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// Kind identifies an event type for subscriptions.
type Kind string

const (
	KindConnectionOpened  Kind = "connection_opened"
	KindConnectionClosed  Kind = "connection_closed"
	KindStateChanged      Kind = "state_changed"
	KindPresenceChanged   Kind = "presence_changed"
	KindSnapshot          Kind = "snapshot"
	KindMessageReceived   Kind = "message_received"
	KindSendFailed        Kind = "send_failed"
	KindOrderingViolation Kind = "ordering_violation"
)

// Event is anything the Notifier delivers.
type Event interface {
	Kind() Kind
}

// ConnectionOpened is emitted when a channel session becomes live.
type ConnectionOpened struct {
	Channel domain.Channel
	Session domain.Session
}

// ConnectionClosed is emitted once per live session when it ends. Err is nil
// for a user-initiated disconnect.
type ConnectionClosed struct {
	Channel domain.Channel
	Reason  string
	Err     error
}

// StateChanged is emitted exactly once per state transition.
type StateChanged struct {
	Channel domain.Channel
	State   State
	Err     error
}

// PresenceChanged carries the records a delta actually changed locally.
type PresenceChanged struct {
	Delta domain.PresenceDelta
}

// SnapshotApplied is emitted after a full snapshot replaced the presence cache.
type SnapshotApplied struct {
	Snapshot domain.PresenceSnapshot
}

// MessageReceived is emitted after the synchronizer released a message in order.
type MessageReceived struct {
	Message domain.ChatMessage
}

// SendFailed reports a message that reached a terminal failed state.
type SendFailed struct {
	MessageID uint64
	ClientRef string
	Reason    error
}

// OrderingViolated flags a gap that was given up on.
type OrderingViolated struct {
	Violation domain.OrderingViolation
}

func (ConnectionOpened) Kind() Kind { return KindConnectionOpened }
func (ConnectionClosed) Kind() Kind { return KindConnectionClosed }
func (StateChanged) Kind() Kind     { return KindStateChanged }
func (PresenceChanged) Kind() Kind  { return KindPresenceChanged }
func (SnapshotApplied) Kind() Kind  { return KindSnapshot }
func (MessageReceived) Kind() Kind  { return KindMessageReceived }
func (SendFailed) Kind() Kind       { return KindSendFailed }
func (OrderingViolated) Kind() Kind { return KindOrderingViolation }
