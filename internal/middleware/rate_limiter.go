package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/nfrund/livepresence/internal/domain"
)

// DefaultUpgradesPerMinute bounds websocket upgrades per client IP.
const DefaultUpgradesPerMinute = 60

type rateLimitedResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RateLimiter limits requests per client IP to perMinute, allowing a burst of
// the full minute's budget. A non-positive value uses DefaultUpgradesPerMinute.
func RateLimiter(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		perMinute = DefaultUpgradesPerMinute
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:  rate.Limit(float64(perMinute) / 60),
		Burst: perMinute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			FromContext(c.Request().Context()).Warn("Connection rate limit exceeded",
				"remote_ip", identifier, "path", c.Path())
			return c.JSON(http.StatusTooManyRequests, rateLimitedResponse{
				Code:    domain.CodeRateLimited,
				Message: domain.ErrRateLimited.Error(),
			})
		},
	})
}
