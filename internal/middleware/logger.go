package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

type contextKey string

const loggerKey = contextKey("logger")

// Logger stores a request-scoped logger carrying the request ID in the
// request context and logs each completed request at debug level. Register it
// after echo's RequestID middleware.
func Logger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		logger := slog.Default().With(
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"method", req.Method,
			"path", req.URL.Path,
		)
		c.SetRequest(req.WithContext(WithLogger(req.Context(), logger)))

		start := time.Now()
		err := next(c)
		FromContext(c.Request().Context()).Debug("Request completed",
			"status", c.Response().Status,
			"duration", time.Since(start),
			"remote_ip", c.RealIP(),
		)
		return err
	}
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the request logger, or the default logger outside a request.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
