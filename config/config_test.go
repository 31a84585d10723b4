package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SIDE_EFFECT_MAX_ATTEMPTS", "")
	t.Setenv("ORDER_STATUS_LOCKING", "")

	cfg := Load()

	assert.Equal(t, 3, cfg.Lifecycle.SideEffectMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Lifecycle.SideEffectRetryBackoff)
	assert.False(t, cfg.Lifecycle.StatusLocking)
	assert.Equal(t, "order-events", cfg.Kafka.TopicOrder)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SIDE_EFFECT_MAX_ATTEMPTS", "5")
	t.Setenv("SIDE_EFFECT_TASK_TIMEOUT", "2s")
	t.Setenv("ORDER_STATUS_LOCKING", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := Load()

	assert.Equal(t, 5, cfg.Lifecycle.SideEffectMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Lifecycle.SideEffectTaskTimeout)
	assert.True(t, cfg.Lifecycle.StatusLocking)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SIDE_EFFECT_RETRY_BACKOFF", "soon")
	t.Setenv("REDIS_DB", "x")

	cfg := Load()

	assert.Equal(t, 500*time.Millisecond, cfg.Lifecycle.SideEffectRetryBackoff)
	assert.Equal(t, 0, cfg.Redis.DB)
}
