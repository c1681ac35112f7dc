package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/middleware"
	"github.com/nfrund/livepresence/internal/protocol"
)

// PresenceReader is the read side of the presence registry.
type PresenceReader interface {
	Snapshot(ctx context.Context) (domain.PresenceSnapshot, error)
	Status(ctx context.Context, userID string) (domain.PresenceRecord, error)
}

// PresenceHandler serves the JSON presence read API.
type PresenceHandler struct {
	presence PresenceReader
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// GetPresence returns every known user as JSON (GET /api/presence).
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	snap, err := h.presence.Snapshot(c.Request().Context())
	if err != nil {
		return unavailable(c, err)
	}

	online := 0
	for _, r := range snap.Records {
		if r.IsOnline {
			online++
		}
	}

	return c.JSON(http.StatusOK, PresenceResponse{
		Version: snap.Version,
		TakenAt: snap.TakenAt,
		Online:  online,
		Users:   protocol.NewOnlineUsersList(snap).Users,
	})
}

// GetUserPresence returns one user's status (GET /api/presence/:userID).
// Users nobody has reported on come back offline with no last_seen.
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	var req UserPresenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: domain.CodeMalformedPayload, Message: err.Error()})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: domain.CodeMalformedPayload, Message: err.Error()})
	}

	rec, err := h.presence.Status(c.Request().Context(), req.UserID)
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, protocol.FromRecord(rec))
}

// HealthCheck reports whether the registry is answering (GET /health).
func (h *PresenceHandler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if _, err := h.presence.Snapshot(ctx); err != nil {
		middleware.FromContext(c.Request().Context()).Warn("Health check failed", slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "error", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func unavailable(c echo.Context, err error) error {
	middleware.FromContext(c.Request().Context()).Error("Presence registry unavailable", slog.Any("error", err))
	return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Code:    domain.CodeInternal,
		Message: "presence service not available",
	})
}
