package server

import (
	"github.com/nfrund/livepresence/internal/handlers"
	"github.com/nfrund/livepresence/internal/middleware"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	presenceHandler := handlers.NewPresenceHandler(s.registry)
	tokenAuth := middleware.TokenAuth(s.verifier)
	rateLimiter := middleware.RateLimiter(s.upgradeLimit)

	s.E.GET("/health", presenceHandler.HealthCheck)

	api := s.E.Group("/api", tokenAuth)
	api.GET("/presence", presenceHandler.GetPresence)
	api.GET("/presence/:userID", presenceHandler.GetUserPresence)

	// Authentication runs before the upgrade so rejected clients get a plain 401.
	s.E.GET("/ws/presence", s.presenceBridge.Handler(), rateLimiter, tokenAuth)
	s.E.GET("/ws/chat", s.chatBridge.Handler(), rateLimiter, tokenAuth)
}
