package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, []string{"*"}, cfg.App.AllowedOrigins)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ChallengeWindow)
	assert.Equal(t, "EthAppList", cfg.Auth.AppName)
	assert.Equal(t, 30*time.Second, cfg.Moderation.ClaimTTL)
	assert.NotEmpty(t, cfg.Auth.SessionSecret)
	assert.Empty(t, cfg.Roles.Admins)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("ADMIN_WALLETS", "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA, 0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	t.Setenv("CURATOR_WALLETS", "0xcccccccccccccccccccccccccccccccccccccccc")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, []string{
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}, cfg.Roles.Admins)
	assert.Equal(t, []string{"0xcccccccccccccccccccccccccccccccccccccccc"}, cfg.Roles.Curators)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "app:\n  port: \"7000\"\nmoderation:\n  decision_wait: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.App.Port)
	assert.Equal(t, 2*time.Second, cfg.Moderation.DecisionWait)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("bad wallet", func(t *testing.T) {
		t.Setenv("CURATOR_WALLETS", "not-a-wallet")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("production without secret", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("bad block key", func(t *testing.T) {
		t.Setenv("SESSION_BLOCK_KEY", "short")
		_, err := Load("")
		assert.Error(t, err)
	})
}
