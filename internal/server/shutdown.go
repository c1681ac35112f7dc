package server

import (
	"context"
	"fmt"
	"time"

	"github.com/nfrund/livepresence/internal/websocket"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take to finish.
const shutdownTimeout = 10 * time.Second

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server",
		"presence_sessions", s.liveSessions(ctx, s.presenceBridge),
		"chat_sessions", s.liveSessions(ctx, s.chatBridge))
	if err := s.E.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// liveSessions returns -1 when the bridge has already stopped.
func (s *Server) liveSessions(ctx context.Context, b *websocket.Bridge) int {
	sessions, err := b.Sessions(ctx)
	if err != nil {
		return -1
	}
	return len(sessions)
}
