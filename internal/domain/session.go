package domain

import "time"

// Channel names a logically distinct persistent connection.
type Channel string

const (
	ChannelPresence Channel = "presence"
	ChannelChat     Channel = "chat"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	return c == ChannelPresence || c == ChannelChat
}

// Session is one authenticated, live connection for a user on a channel.
type Session struct {
	ID          string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	AuthToken   string    `json:"-"`
	Channel     Channel   `json:"channel"`
	ConnectedAt time.Time `json:"connected_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session's token has expired at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
