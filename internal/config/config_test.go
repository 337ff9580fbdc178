package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, time.Hour, cfg.AccessTTL)
	require.Equal(t, 14*24*time.Hour, cfg.RefreshTTL)
	require.Equal(t, 6, cfg.OTPDigits)
	require.Equal(t, []string{"admin", "developer", "moderator", "user"}, cfg.RolePrecedence)
	require.Equal(t, MailModeLog, cfg.MailMode)
	require.False(t, cfg.RequireActive)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateQueueNeedsRedis(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "s3cret")
	t.Setenv("MAIL_MODE", MailModeQueue)
	_, err := Load()
	require.ErrorContains(t, err, "REDIS_ADDR")

	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, MailModeQueue, cfg.MailMode)
}

func TestValidateAdminPair(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "s3cret")
	t.Setenv("ADMIN_EMAIL", "root@example.com")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("REDIS_ADDR", "  ")
	_, err := LoadWorker()
	require.ErrorContains(t, err, "REDIS_ADDR")

	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	cfg, err := LoadWorker()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Concurrency)
	require.Equal(t, 1025, cfg.SMTPPort)

	t.Setenv("WORKER_CONCURRENCY", "0")
	_, err = LoadWorker()
	require.ErrorContains(t, err, "WORKER_CONCURRENCY")
}
