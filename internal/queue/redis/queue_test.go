package redis

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcldev/tokenarena/internal/domain"
)

func TestSchedule_SkipsElapsedDeadline(t *testing.T) {
	// No Redis behind this queue: a delay whose deadline already passed must
	// be dropped before anything touches the connection. Scheduling it would
	// fire a settlement the caller never armed.
	q := &Queue{
		cfg:    Config{}.withDefaults(),
		logger: slog.New(slog.DiscardHandler),
	}

	err := q.Schedule(context.Background(), "resolve-late",
		domain.JobPayload{Kind: domain.JobPredictionResolve, PredictionID: "p-1"},
		-time.Minute)
	assert.NoError(t, err)
}

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	base := time.Second

	assert.Equal(t, 1*time.Second, Backoff(base, 1))
	assert.Equal(t, 2*time.Second, Backoff(base, 2))
	assert.Equal(t, 4*time.Second, Backoff(base, 3))
}

func TestBackoff_ClampsNonPositiveAttempt(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(time.Second, 0))
	assert.Equal(t, time.Second, Backoff(time.Second, -3))
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestConfig_KeepsExplicitValues(t *testing.T) {
	cfg := Config{
		MaxAttempts:  5,
		BackoffBase:  2 * time.Second,
		ClaimTimeout: 30 * time.Second,
		PollInterval: time.Second,
		Concurrency:  8,
	}.withDefaults()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.ClaimTimeout)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 8, cfg.Concurrency)
}
