package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the presence server.
type Config struct {
	ServerAddr string `envconfig:"SERVER_ADDR" default:":8080"`

	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer string        `envconfig:"JWT_ISSUER" default:"livepresence"`
	JWTExpiry time.Duration `envconfig:"JWT_EXPIRY" default:"24h"`

	// WSAllowedOrigins lists accepted Origin patterns. Empty accepts any origin.
	WSAllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS"`
	WSSendBuffer     int      `envconfig:"WS_SEND_BUFFER" default:"256"`

	PresenceGracePeriod   time.Duration `envconfig:"PRESENCE_GRACE_PERIOD" default:"90s"`
	PresenceSweepInterval time.Duration `envconfig:"PRESENCE_SWEEP_INTERVAL" default:"15s"`

	ChatRateLimit float64 `envconfig:"CHAT_RATE_LIMIT" default:"10"`
	ChatRateBurst int     `envconfig:"CHAT_RATE_BURST" default:"20"`

	// DatabaseURL switches the identity directory to Postgres when set.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	// DirectoryUsers seeds the in-memory directory as "id:name,id:name".
	DirectoryUsers string `envconfig:"DIRECTORY_USERS"`
	// RedisURL enables mirroring last-seen timestamps into Redis.
	RedisURL string `envconfig:"REDIS_URL"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env (if present) and the environment into a Config.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New loads configuration and exits the process when it is invalid.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.PresenceGracePeriod <= 0 {
		return errors.New("PRESENCE_GRACE_PERIOD must be positive")
	}
	if c.PresenceSweepInterval <= 0 || c.PresenceSweepInterval > c.PresenceGracePeriod {
		return errors.New("PRESENCE_SWEEP_INTERVAL must be positive and not exceed PRESENCE_GRACE_PERIOD")
	}
	if c.WSSendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	if c.ChatRateLimit <= 0 || c.ChatRateBurst <= 0 {
		return errors.New("CHAT_RATE_LIMIT and CHAT_RATE_BURST must be positive")
	}
	if _, err := ParseDirectoryUsers(c.DirectoryUsers); err != nil {
		return err
	}
	return nil
}

// DirectoryEntry is one "id:name" pair from DIRECTORY_USERS.
type DirectoryEntry struct {
	ID   string
	Name string
}

// ParseDirectoryUsers parses "id:name,id:name". A bare "id" uses the id as name.
func ParseDirectoryUsers(raw string) ([]DirectoryEntry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var entries []DirectoryEntry
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, found := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("DIRECTORY_USERS: empty id in %q", part)
		}
		if !found || strings.TrimSpace(name) == "" {
			name = id
		}
		entries = append(entries, DirectoryEntry{ID: id, Name: strings.TrimSpace(name)})
	}
	return entries, nil
}
