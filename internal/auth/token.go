package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nfrund/livepresence/internal/domain"
)

// Claims is the payload carried by a session token.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject the token was issued for.
func (c *Claims) UserID() string {
	return c.Subject
}

// Expiry returns the expiry time, or zero when the token never expires.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Verifier validates tokens presented at websocket upgrade.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// Service issues and verifies HS256 session tokens.
type Service struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewService creates a token service. An empty issuer disables issuer checks.
func NewService(secret, issuer string, expiry time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

// WithClock returns a copy of the service that reads time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// Issue signs a token for the user that expires after the configured expiry.
func (s *Service) Issue(userID, username string) (string, time.Time, error) {
	return s.IssueFor(userID, username, s.expiry)
}

// IssueFor signs a token with an explicit lifetime.
func (s *Service) IssueFor(userID, username string, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("auth: empty user id")
	}
	now := s.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses the token and checks signature, expiry and issuer.
// Every failure wraps domain.ErrAuth.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrAuth)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrAuth)
	}
	return claims, nil
}

// ParseUnverified reads the claims of a token without checking its signature.
// Clients use it to learn their own user id and expiry; servers must Verify.
func ParseUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	return claims, nil
}
