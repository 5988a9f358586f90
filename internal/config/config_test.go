package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_ValidateForServeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RequiresBotTokenForWorker(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "worker"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_token")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "banana"
	cfg.LogLevel = "loud"
	cfg.Scheduler.MaxAttempts = 0
	cfg.Game.PayoutMultiplier = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "payout_multiplier")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARENA_DISCORD_BOT_TOKEN", "tok")
	t.Setenv("ARENA_REDIS_ADDR", "redis:6380")
	t.Setenv("ARENA_GAME_JOIN_WINDOW", "90s")
	t.Setenv("ARENA_SCHEDULER_CONCURRENCY", "8")
	t.Setenv("ARENA_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "tok", cfg.Discord.BotToken)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Game.JoinWindow.Duration)
	assert.Equal(t, 8, cfg.Scheduler.Concurrency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestRedactedConfig_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Discord.BotToken = "secret-token"
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "s3cret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Discord.BotToken)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)

	// The original stays untouched.
	assert.Equal(t, "secret-token", cfg.Discord.BotToken)
}
