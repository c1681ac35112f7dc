package handlers

import (
	"time"

	"github.com/nfrund/livepresence/internal/protocol"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PresenceResponse is the body of GET /api/presence. Users use the same
// shape as the online_users_list frame.
type PresenceResponse struct {
	Version uint64               `json:"version"`
	TakenAt time.Time            `json:"taken_at"`
	Online  int                  `json:"online"`
	Users   []protocol.UserEntry `json:"users"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
