package authcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
token:
  secret: k9Qp2vX7mW4zR8tY3uL6nB1cD5fG0hJa
  access_ttl: 10m
session:
  revoke_on_ip_mismatch: true
rate_limit:
  login_max_attempts: 3
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 10*time.Minute, cfg.Token.AccessTTL)
	assert.True(t, cfg.Session.RevokeOnIPMismatch)
	assert.Equal(t, 3, cfg.RateLimit.LoginMaxAttempts)

	// Untouched keys keep the built-in defaults.
	assert.Equal(t, 30*24*time.Hour, cfg.Token.RefreshTTL)
	assert.Equal(t, 5, cfg.RateLimit.RegisterPerIP)
	assert.Equal(t, "authcore", cfg.Token.Issuer)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AUTHCORE_TOKEN_SECRET", "k9Qp2vX7mW4zR8tY3uL6nB1cD5fG0hJa")
	t.Setenv("AUTHCORE_ENV", "staging")
	t.Setenv("AUTHCORE_ACCESS_TTL", "7m")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 7*time.Minute, cfg.Token.AccessTTL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("AUTHCORE_TOKEN_SECRET", "short")
	_, err := LoadConfig("")
	require.Error(t, err)
}

func TestValidateCatchesBadCombinations(t *testing.T) {
	cfg := DevelopmentConfig()
	cfg.Token.RememberMeTTL = cfg.Token.RefreshTTL - time.Hour
	require.Error(t, cfg.Validate())

	cfg = DevelopmentConfig()
	cfg.Password.MinLength = 4
	require.Error(t, cfg.Validate())

	cfg = DevelopmentConfig()
	cfg.RateLimit.LoginMaxAttempts = 0
	require.Error(t, cfg.Validate())

	require.NoError(t, func() error { c := DevelopmentConfig(); return c.Validate() }())
}
