package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/livepresence/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAuth(t *testing.T) {
	svc := auth.NewService("0123456789abcdef-test", "livepresence", time.Hour)
	token, _, err := svc.Issue("u1", "Dr. Grey")
	require.NoError(t, err)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		claims, ok := ClaimsFromContext(c)
		require.True(t, ok)
		return c.String(http.StatusOK, claims.UserID())
	}, TokenAuth(svc))

	tests := []struct {
		name     string
		target   string
		header   string
		wantCode int
		wantBody string
	}{
		{"query token", "/ws?token=" + token, "", http.StatusOK, "u1"},
		{"bearer header", "/ws", "Bearer " + token, http.StatusOK, "u1"},
		{"missing token", "/ws", "", http.StatusUnauthorized, "auth_error"},
		{"bad token", "/ws?token=nope", "", http.StatusUnauthorized, "auth_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()

			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}
