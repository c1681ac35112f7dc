// Package protocol defines the JSON frames exchanged over the presence and
// chat websocket channels.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nfrund/livepresence/internal/domain"
)

// Frame types, client to server.
const (
	TypeGetOnlineUsers = "get_online_users"
	TypeSendMessage    = "send_message"
	TypeHeartbeat      = "heartbeat"
)

// Frame types, server to client.
const (
	TypeOnlineUsersList = "online_users_list"
	TypePresenceDelta   = "presence_delta"
	TypeChatMessage     = "chat_message"
	TypeSendResult      = "send_result"
	TypeHeartbeatAck    = "heartbeat_ack"
	TypeError           = "error"
)

// Envelope is the outer shape of every frame. The type-specific fields live
// next to "type" at the top level, so decoding happens in two passes: once into
// Envelope to learn the type, then into the concrete struct.
type Envelope struct {
	Type string `json:"type"`
}

// SendMessage asks the router to deliver body to recipientId.
type SendMessage struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId" validate:"required,max=128"`
	Body        string `json:"body" validate:"required,max=4000"`
	ClientRef   string `json:"clientRef,omitempty" validate:"omitempty,max=64"`
}

// UserEntry is one row of online_users_list and presence_delta.
type UserEntry struct {
	ID       string     `json:"id"`
	Username string     `json:"username,omitempty"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Version  uint64     `json:"version"`
}

// OnlineUsersList is the full snapshot answer to get_online_users.
type OnlineUsersList struct {
	Type    string      `json:"type"`
	Version uint64      `json:"version"`
	Users   []UserEntry `json:"users"`
}

// PresenceDelta carries only changed users.
type PresenceDelta struct {
	Type    string      `json:"type"`
	Version uint64      `json:"version"`
	Changes []UserEntry `json:"changes"`
}

// ChatMessage is a routed message as seen by the recipient.
type ChatMessage struct {
	Type        string    `json:"type"`
	MessageID   uint64    `json:"messageId"`
	Seq         uint64    `json:"seq"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sentAt"`
}

// SendResult reports the terminal delivery state back to the sender.
type SendResult struct {
	Type      string `json:"type"`
	ClientRef string `json:"clientRef,omitempty"`
	MessageID uint64 `json:"messageId,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Error is sent for frames the server could not act on at all.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Simple is used for frames that carry nothing but their type.
type Simple struct {
	Type string `json:"type"`
}

// PeekType returns the "type" field of a raw frame.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", domain.ErrMalformedPayload)
	}
	return env.Type, nil
}

// Decode unmarshals data into v and validates it.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return Validate(v)
}

// Encode marshals a frame. Frames are plain structs so this only fails on
// programmer error, which is returned rather than hidden.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// NewHeartbeat and friends build the trivial frames.
func NewHeartbeat() Simple      { return Simple{Type: TypeHeartbeat} }
func NewHeartbeatAck() Simple   { return Simple{Type: TypeHeartbeatAck} }
func NewGetOnlineUsers() Simple { return Simple{Type: TypeGetOnlineUsers} }

// NewError builds an error frame from err.
func NewError(err error) Error {
	return Error{Type: TypeError, Code: domain.ErrorCode(err), Message: err.Error()}
}

// FromRecord converts a presence record to its wire form. A zero LastSeen is
// omitted so clients can tell "never seen" from a real timestamp.
func FromRecord(r domain.PresenceRecord) UserEntry {
	e := UserEntry{ID: r.UserID, Username: r.Username, IsOnline: r.IsOnline, Version: r.Version}
	if !r.LastSeen.IsZero() {
		ls := r.LastSeen.UTC()
		e.LastSeen = &ls
	}
	return e
}

// ToRecord is the inverse of FromRecord.
func (e UserEntry) ToRecord() domain.PresenceRecord {
	r := domain.PresenceRecord{UserID: e.ID, Username: e.Username, IsOnline: e.IsOnline, Version: e.Version}
	if e.LastSeen != nil {
		r.LastSeen = *e.LastSeen
	}
	return r
}

// NewOnlineUsersList builds the snapshot frame.
func NewOnlineUsersList(s domain.PresenceSnapshot) OnlineUsersList {
	users := make([]UserEntry, 0, len(s.Records))
	for _, r := range s.Records {
		users = append(users, FromRecord(r))
	}
	return OnlineUsersList{Type: TypeOnlineUsersList, Version: s.Version, Users: users}
}

// Snapshot converts the frame back into a domain snapshot.
func (l OnlineUsersList) Snapshot() domain.PresenceSnapshot {
	records := make([]domain.PresenceRecord, 0, len(l.Users))
	for _, u := range l.Users {
		records = append(records, u.ToRecord())
	}
	return domain.PresenceSnapshot{Version: l.Version, Records: records}
}

// NewPresenceDelta builds the delta frame.
func NewPresenceDelta(d domain.PresenceDelta) PresenceDelta {
	changes := make([]UserEntry, 0, len(d.Changes))
	for _, r := range d.Changes {
		changes = append(changes, FromRecord(r))
	}
	return PresenceDelta{Type: TypePresenceDelta, Version: d.Version, Changes: changes}
}

// Delta converts the frame back into a domain delta.
func (p PresenceDelta) Delta() domain.PresenceDelta {
	changes := make([]domain.PresenceRecord, 0, len(p.Changes))
	for _, c := range p.Changes {
		changes = append(changes, c.ToRecord())
	}
	return domain.PresenceDelta{Version: p.Version, Changes: changes}
}

// NewChatMessage builds the recipient-facing frame.
func NewChatMessage(m domain.ChatMessage) ChatMessage {
	return ChatMessage{
		Type:        TypeChatMessage,
		MessageID:   m.MessageID,
		Seq:         m.Seq,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Body:        m.Body,
		SentAt:      m.SentAt.UTC(),
	}
}

// Message converts the frame back into a domain message.
func (c ChatMessage) Message() domain.ChatMessage {
	return domain.ChatMessage{
		MessageID:     c.MessageID,
		Seq:           c.Seq,
		SenderID:      c.SenderID,
		RecipientID:   c.RecipientID,
		Body:          c.Body,
		SentAt:        c.SentAt,
		DeliveryState: domain.DeliverySent,
	}
}

// NewSendResult reports the outcome for m; err is nil on success.
func NewSendResult(m domain.ChatMessage, err error) SendResult {
	r := SendResult{
		Type:      TypeSendResult,
		ClientRef: m.ClientRef,
		MessageID: m.MessageID,
		Seq:       m.Seq,
		State:     string(m.DeliveryState),
	}
	if err != nil {
		r.State = string(domain.DeliveryFailed)
		r.Error = domain.ErrorCode(err)
		r.Message = err.Error()
	}
	return r
}

// Err returns the error carried by the result, or nil when it was delivered.
func (r SendResult) Err() error {
	return domain.ErrorFromCode(r.Error, r.Message)
}
