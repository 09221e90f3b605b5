package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "")
	t.Setenv("WEBHOOK_TIMEOUT", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,,")

	cfg := Load()

	assert.Equal(t, 5, cfg.WebhookMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "15m")
	t.Setenv("WORKER_CONCURRENCY", "3")

	cfg := Load()

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 15*time.Minute, cfg.ExpirySweepInterval)
	assert.Equal(t, 3, cfg.WorkerConcurrency)
}
