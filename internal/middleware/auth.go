package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/livepresence/internal/auth"
	"github.com/nfrund/livepresence/internal/domain"
)

// ClaimsContextKey is the echo context key holding the verified *auth.Claims.
const ClaimsContextKey = "claims"

// TokenQueryParam is the query parameter carrying the session token on upgrade.
const TokenQueryParam = "token"

// TokenAuth verifies the session token before the handler runs. Browsers
// cannot set headers on websocket upgrades, so the token query parameter is
// checked first and the Authorization header second.
func TokenAuth(verifier auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c.Request())
			claims, err := verifier.Verify(token)
			if err != nil {
				FromContext(c.Request().Context()).Info("Rejected unauthenticated request",
					"path", c.Path(), "error", err)
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"code":    domain.ErrorCode(domain.ErrAuth),
					"message": authMessage(err),
				})
			}

			c.Set(ClaimsContextKey, claims)
			req := c.Request()
			logger := FromContext(req.Context()).With("user_id", claims.UserID())
			c.SetRequest(req.WithContext(WithLogger(req.Context(), logger)))
			return next(c)
		}
	}
}

// TokenFromRequest extracts the token from the query string or a Bearer header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		return token
	}
	header := r.Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// ClaimsFromContext returns the claims stored by TokenAuth.
func ClaimsFromContext(c echo.Context) (*auth.Claims, bool) {
	claims, ok := c.Get(ClaimsContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

func authMessage(err error) string {
	if errors.Is(err, domain.ErrAuth) {
		return "invalid or expired token"
	}
	return "authentication failed"
}
