package server

import (
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/livepresence/internal/auth"
	"github.com/nfrund/livepresence/internal/config"
	"github.com/nfrund/livepresence/internal/handlers"
	appmiddleware "github.com/nfrund/livepresence/internal/middleware"
	"github.com/nfrund/livepresence/internal/presence"
	"github.com/nfrund/livepresence/internal/websocket"
)

// Dependencies holds everything the HTTP server needs. Echo is optional.
type Dependencies struct {
	Config         *config.Config
	Echo           *echo.Echo
	Verifier       auth.Verifier
	Registry       *presence.Registry
	PresenceBridge *websocket.Bridge
	ChatBridge     *websocket.Bridge
	Logger         *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E              *echo.Echo
	addr           string
	upgradeLimit   int
	verifier       auth.Verifier
	registry       *presence.Registry
	presenceBridge *websocket.Bridge
	chatBridge     *websocket.Bridge
	logger         *slog.Logger
}

// New creates a new Server instance with middleware installed. Call
// RegisterRoutes before Run.
func New(deps Dependencies) (*Server, error) {
	if deps.Config == nil || deps.Verifier == nil || deps.Registry == nil ||
		deps.PresenceBridge == nil || deps.ChatBridge == nil {
		return nil, errors.New("server: missing required dependency")
	}

	e := deps.Echo
	if e == nil {
		e = echo.New()
	}
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()

	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(middleware.Recover())
	setupErrorHandling(e)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		E:              e,
		addr:           deps.Config.ServerAddr,
		upgradeLimit:   appmiddleware.DefaultUpgradesPerMinute,
		verifier:       deps.Verifier,
		registry:       deps.Registry,
		presenceBridge: deps.PresenceBridge,
		chatBridge:     deps.ChatBridge,
		logger:         logger.With("service", "server"),
	}, nil
}
