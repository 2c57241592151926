package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5, cfg.Quota.AgentDaily)
	assert.Equal(t, "sqlite", cfg.Quota.Backend)
	assert.Equal(t, time.Duration(0), cfg.Trip.PhaseTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AGENT_DAILY_QUOTA", "7")
	t.Setenv("PHASE_TIMEOUT", "45s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FRONTEND_URL", "https://trips.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Quota.AgentDaily)
	assert.Equal(t, 45*time.Second, cfg.Trip.PhaseTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadRejectsRedisWithoutAddr(t *testing.T) {
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsZeroQuota(t *testing.T) {
	t.Setenv("DEMO_DAILY_QUOTA", "0")

	_, err := Load()
	require.Error(t, err)
}
