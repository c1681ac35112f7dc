package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/middleware"
)

// TokenSource returns the session token to present at the next handshake.
// It is called on every connect and reconnect so tokens can be refreshed.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Config configures a Client and its channel Managers.
type Config struct {
	// URL is the server base URL, http(s):// or ws(s)://.
	URL   string      `envconfig:"URL" default:"ws://localhost:8080"`
	Token TokenSource `ignored:"true"`

	HandshakeTimeout  time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"10s"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"25s"`
	HeartbeatTimeout  time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	ReconnectBase   time.Duration `envconfig:"RECONNECT_BASE" default:"1s"`
	ReconnectMax    time.Duration `envconfig:"RECONNECT_MAX" default:"30s"`
	ReconnectJitter float64       `envconfig:"RECONNECT_JITTER" default:"0.2"`
	MaxAttempts     int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"10"`
	MaxElapsed      time.Duration `envconfig:"RECONNECT_MAX_ELAPSED" default:"5m"`

	ReorderWindow time.Duration `envconfig:"REORDER_WINDOW" default:"2s"`
	MaxBuffered   int           `envconfig:"REORDER_MAX_BUFFERED" default:"64"`

	HTTPClient *http.Client `ignored:"true"`
	Logger     *slog.Logger `ignored:"true"`
}

// DefaultConfig returns the defaults for a server at baseURL.
func DefaultConfig(baseURL string, token TokenSource) Config {
	cfg := Config{URL: baseURL, Token: token}
	return cfg.withDefaults()
}

// LoadConfigFromEnv reads REALTIME_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("REALTIME", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load client config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		c.ReconnectJitter = 0.2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 5 * time.Minute
	}
	if c.ReorderWindow <= 0 {
		c.ReorderWindow = 2 * time.Second
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// channelURL builds the websocket URL for channel with the token attached.
func channelURL(base string, channel domain.Channel, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + string(channel)

	q := u.Query()
	q.Set(middleware.TokenQueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
