package server

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/handlers"
	"github.com/nfrund/livepresence/internal/middleware"
)

// setupErrorHandling installs a JSON error handler. Errors that are not
// echo.HTTPErrors are logged with a stack trace and answered with a 500.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			_ = c.JSON(he.Code, handlers.ErrorResponse{Code: codeForStatus(he.Code), Message: msg})
			return
		}

		middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.Any("error", err),
			slog.String("stack_trace", string(debug.Stack())),
		)
		_ = c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{
			Code:    domain.CodeInternal,
			Message: http.StatusText(http.StatusInternalServerError),
		})
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.CodeAuth
	case http.StatusBadRequest:
		return domain.CodeMalformedPayload
	case http.StatusTooManyRequests:
		return domain.CodeRateLimited
	case http.StatusNotFound:
		return "not_found"
	default:
		return domain.CodeInternal
	}
}
