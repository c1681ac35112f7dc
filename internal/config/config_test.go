package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 90*time.Second, cfg.PresenceGracePeriod)
	assert.Equal(t, 15*time.Second, cfg.PresenceSweepInterval)
	assert.Equal(t, "livepresence", cfg.JWTIssuer)
	assert.Equal(t, 256, cfg.WSSendBuffer)
	assert.Empty(t, cfg.WSAllowedOrigins)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-test")
	t.Setenv("WS_ALLOWED_ORIGINS", "app.example.com,*.example.org")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"app.example.com", "*.example.org"}, cfg.WSAllowedOrigins)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_SweepMustNotExceedGrace(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-test")
	t.Setenv("PRESENCE_GRACE_PERIOD", "10s")
	t.Setenv("PRESENCE_SWEEP_INTERVAL", "30s")

	_, err := Load()
	assert.ErrorContains(t, err, "PRESENCE_SWEEP_INTERVAL")
}

func TestParseDirectoryUsers(t *testing.T) {
	entries, err := ParseDirectoryUsers("u1:Dr. Grey, u2 ,u3:")
	require.NoError(t, err)
	assert.Equal(t, []DirectoryEntry{
		{ID: "u1", Name: "Dr. Grey"},
		{ID: "u2", Name: "u2"},
		{ID: "u3", Name: "u3"},
	}, entries)

	_, err = ParseDirectoryUsers(":nobody")
	assert.Error(t, err)

	entries, err = ParseDirectoryUsers("")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
