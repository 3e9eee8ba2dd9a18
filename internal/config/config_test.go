package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_PROVIDER", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("NOTIFICATION_TOPIC", "")

	cfg := Load()
	assert.Equal(t, GatewaySandbox, cfg.Gateway.Provider)
	assert.Equal(t, DefaultNotificationTopic, cfg.Notification.Topic)
	assert.Empty(t, cfg.Notification.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEWAY_PROVIDER", "IAMPORT")
	t.Setenv("GATEWAY_BASE_URL", "https://gateway.test/")
	t.Setenv("GATEWAY_TIMEOUT", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOCK_WAIT", "250ms")
	t.Setenv("DATABASE_MIGRATE_ON_START", "off")

	cfg := Load()
	assert.Equal(t, GatewayIamport, cfg.Gateway.Provider)
	assert.Equal(t, "https://gateway.test", cfg.Gateway.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notification.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Lock.Wait)
	assert.False(t, cfg.DBMigrateOnStart)
}

func TestOutboxConfigHolderDefaultsWithoutFile(t *testing.T) {
	holder, err := NewOutboxConfigHolder(Config{OutboxConfigPath: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultOutboxConfig(), holder.Get())
}

func TestOutboxConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("poll_interval: 2s\nbatch_size: 7\nmax_attempts: 3\nretry_backoff: 1m\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outbox.yml"), content, 0o600))

	holder, err := NewOutboxConfigHolder(Config{OutboxConfigPath: dir}, zap.NewNop())
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, 2*time.Second, got.PollInterval)
	assert.Equal(t, 7, got.BatchSize)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, time.Minute, got.RetryBackoff)
}

func TestOutboxConfigHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outbox.yml"), []byte("batch_size: 0\n"), 0o600))

	_, err := NewOutboxConfigHolder(Config{OutboxConfigPath: dir}, zap.NewNop())
	assert.Error(t, err)
}
