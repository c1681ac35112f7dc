package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upgradeRequest(e *echo.Echo, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_PerClientIP(t *testing.T) {
	e := echo.New()
	e.GET("/ws/chat", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RateLimiter(3))

	for i := 0; i < 3; i++ {
		rec := upgradeRequest(e, "198.51.100.7:5000")
		require.Equal(t, http.StatusOK, rec.Code, "upgrade %d", i+1)
	}

	denied := upgradeRequest(e, "198.51.100.7:5001")
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.JSONEq(t, `{"code":"rate_limited","message":"rate limit exceeded"}`, denied.Body.String())

	other := upgradeRequest(e, "198.51.100.8:5000")
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimiter_DefaultBudget(t *testing.T) {
	e := echo.New()
	e.GET("/ws/chat", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RateLimiter(0))

	for i := 0; i < DefaultUpgradesPerMinute; i++ {
		require.Equal(t, http.StatusOK, upgradeRequest(e, "203.0.113.1:1").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, upgradeRequest(e, "203.0.113.1:1").Code)
}
