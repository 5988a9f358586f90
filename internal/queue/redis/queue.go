// Package redis implements the durable delayed-job queue on Redis sorted
// sets. Jobs are keyed by their caller-supplied ID, scored by their deadline,
// and survive process restarts; workers claim due jobs atomically through Lua
// scripts so the queue can be consumed by more than one process.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	cacheredis "github.com/rcldev/tokenarena/internal/cache/redis"
	"github.com/rcldev/tokenarena/internal/domain"
)

const (
	keyWaiting   = "jobs:waiting"
	keyActive    = "jobs:active"
	keyFailed    = "jobs:failed"
	keyCompleted = "jobs:completed_count"
	keyJobPrefix = "jobs:job:"
)

// scheduleLua enqueues a job only when its hash does not already exist, which
// makes Schedule an idempotent dedup on job ID.
// KEYS: [1] job hash, [2] waiting zset
// ARGV: [1] jobID, [2] payload JSON, [3] notBefore ms, [4] now ms
const scheduleLua = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1],
    'payload', ARGV[2],
    'state', 'waiting',
    'attempt', 0,
    'not_before', ARGV[3],
    'created_at', ARGV[4],
    'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`

// claimLua atomically moves the single most-due waiting job into the active
// set. Popping by ascending score gives the ordering guarantee: an earlier
// deadline is never claimed after a later one.
// KEYS: [1] waiting zset, [2] active zset
// ARGV: [1] now ms, [2] claim deadline ms, [3] job key prefix
const claimLua = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
    return false
end
local id = due[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', ARGV[3] .. id,
    'state', 'active',
    'updated_at', ARGV[1])
redis.call('HINCRBY', ARGV[3] .. id, 'attempt', 1)
return id
`

// reapLua requeues active jobs whose claim deadline passed (worker crashed or
// stalled mid-execution). The attempt counter keeps its incremented value, so
// a crash-looping job still converges on the failed set.
// KEYS: [1] active zset, [2] waiting zset
// ARGV: [1] now ms, [2] job key prefix
const reapLua = `
local stalled = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(stalled) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    redis.call('HSET', ARGV[2] .. id, 'state', 'waiting', 'updated_at', ARGV[1])
end
return #stalled
`

// Config holds the queue tuning knobs.
type Config struct {
	// MaxAttempts is the total number of executions before a job is parked in
	// the failed set.
	MaxAttempts int
	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase time.Duration
	// ClaimTimeout is how long a claimed job may run before the reaper
	// considers its worker dead and requeues it.
	ClaimTimeout time.Duration
	// PollInterval is the idle sleep between claim attempts.
	PollInterval time.Duration
	// ReapInterval is how often the reaper sweeps for stalled active jobs.
	ReapInterval time.Duration
	// Concurrency is the number of worker goroutines.
	Concurrency int
}

// withDefaults fills zero fields: three attempts with an exponential backoff
// starting at one second.
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 15 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Queue implements domain.Scheduler on Redis.
type Queue struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger

	scheduleSc *redis.Script
	claimSc    *redis.Script
	reapSc     *redis.Script
}

// NewQueue creates a Queue backed by the given cache client.
func NewQueue(c *cacheredis.Client, cfg Config, logger *slog.Logger) *Queue {
	return &Queue{
		rdb:        c.Underlying(),
		cfg:        cfg.withDefaults(),
		logger:     logger.With(slog.String("component", "queue")),
		scheduleSc: redis.NewScript(scheduleLua),
		claimSc:    redis.NewScript(claimLua),
		reapSc:     redis.NewScript(reapLua),
	}
}

func jobKey(id string) string {
	return keyJobPrefix + id
}

// Schedule enqueues a job to fire after delay. A negative delay means the
// deadline already passed when the caller got around to scheduling; that is a
// deliberate skip, not an immediate fire. An already-present job ID is a
// logged no-op.
func (q *Queue) Schedule(ctx context.Context, jobID string, payload domain.JobPayload, delay time.Duration) error {
	if delay < 0 {
		q.logger.WarnContext(ctx, "schedule requested for elapsed deadline, skipping",
			slog.String("job_id", jobID),
			slog.Duration("delay", delay),
		)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload for %s: %w", jobID, err)
	}

	now := time.Now()
	notBefore := now.Add(delay)

	created, err := q.scheduleSc.Run(ctx, q.rdb,
		[]string{jobKey(jobID), keyWaiting},
		jobID, string(body), notBefore.UnixMilli(), now.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("queue: schedule %s: %w", jobID, err)
	}

	if created == 0 {
		q.logger.DebugContext(ctx, "job already scheduled, skipping duplicate",
			slog.String("job_id", jobID),
		)
		return nil
	}

	q.logger.InfoContext(ctx, "job scheduled",
		slog.String("job_id", jobID),
		slog.String("kind", string(payload.Kind)),
		slog.Time("not_before", notBefore),
	)
	return nil
}

// claim atomically moves the most-due waiting job into the active set and
// returns it. It returns domain.ErrNotFound when nothing is due.
func (q *Queue) claim(ctx context.Context, now time.Time) (domain.Job, error) {
	res, err := q.claimSc.Run(ctx, q.rdb,
		[]string{keyWaiting, keyActive},
		now.UnixMilli(), now.Add(q.cfg.ClaimTimeout).UnixMilli(), keyJobPrefix,
	).Result()
	if err != nil {
		if err == redis.Nil {
			return domain.Job{}, domain.ErrNotFound
		}
		return domain.Job{}, fmt.Errorf("queue: claim: %w", err)
	}

	id, ok := res.(string)
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}

	return q.getJob(ctx, id)
}

// getJob loads a job hash into a domain.Job.
func (q *Queue) getJob(ctx context.Context, id string) (domain.Job, error) {
	vals, err := q.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return domain.Job{}, fmt.Errorf("queue: get job %s: %w", id, err)
	}
	if len(vals) == 0 {
		return domain.Job{}, domain.ErrNotFound
	}

	job := domain.Job{
		ID:        id,
		State:     domain.JobState(vals["state"]),
		LastError: vals["last_error"],
	}
	if err := json.Unmarshal([]byte(vals["payload"]), &job.Payload); err != nil {
		return domain.Job{}, fmt.Errorf("queue: decode payload for %s: %w", id, err)
	}
	if n, err := strconv.Atoi(vals["attempt"]); err == nil {
		job.Attempt = n
	}
	if ms, err := strconv.ParseInt(vals["not_before"], 10, 64); err == nil {
		job.NotBefore = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(vals["created_at"], 10, 64); err == nil {
		job.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(vals["updated_at"], 10, 64); err == nil {
		job.UpdatedAt = time.UnixMilli(ms)
	}
	return job, nil
}

// complete removes a finished job. Completed jobs are not retained beyond a
// counter, mirroring a removeOnComplete queue policy.
func (q *Queue) complete(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyActive, id)
	pipe.Del(ctx, jobKey(id))
	pipe.Incr(ctx, keyCompleted)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: complete %s: %w", id, err)
	}
	return nil
}

// failRetry either requeues the job with exponential backoff or, when the
// attempt cap is reached, parks it in the failed set. Failed jobs are
// retained and listable; silent loss of a settlement job would mean a
// permanent debit with no resolution.
//
// It reports whether the job was parked as failed.
func (q *Queue) failRetry(ctx context.Context, job domain.Job, jobErr error) (bool, error) {
	now := time.Now()

	if job.Attempt >= q.cfg.MaxAttempts {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, keyActive, job.ID)
		pipe.SAdd(ctx, keyFailed, job.ID)
		pipe.HSet(ctx, jobKey(job.ID),
			"state", string(domain.JobStateFailed),
			"last_error", jobErr.Error(),
			"updated_at", now.UnixMilli(),
		)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("queue: mark failed %s: %w", job.ID, err)
		}
		return true, nil
	}

	retryAt := now.Add(Backoff(q.cfg.BackoffBase, job.Attempt))
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyActive, job.ID)
	pipe.ZAdd(ctx, keyWaiting, redis.Z{Score: float64(retryAt.UnixMilli()), Member: job.ID})
	pipe.HSet(ctx, jobKey(job.ID),
		"state", string(domain.JobStateWaiting),
		"last_error", jobErr.Error(),
		"not_before", retryAt.UnixMilli(),
		"updated_at", now.UnixMilli(),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("queue: requeue %s: %w", job.ID, err)
	}
	return false, nil
}

// reap requeues active jobs whose claim deadline passed.
func (q *Queue) reap(ctx context.Context, now time.Time) (int64, error) {
	n, err := q.reapSc.Run(ctx, q.rdb,
		[]string{keyActive, keyWaiting},
		now.UnixMilli(), keyJobPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("queue: reap: %w", err)
	}
	return n, nil
}

// Stats returns per-state job counts.
func (q *Queue) Stats(ctx context.Context) (domain.QueueStats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, keyWaiting)
	active := pipe.ZCard(ctx, keyActive)
	completed := pipe.Get(ctx, keyCompleted)
	failed := pipe.SCard(ctx, keyFailed)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.QueueStats{}, fmt.Errorf("queue: stats: %w", err)
	}

	stats := domain.QueueStats{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}
	if n, err := strconv.ParseInt(completed.Val(), 10, 64); err == nil {
		stats.Completed = n
	}
	return stats, nil
}

// FailedJobs lists every job parked in the failed set.
func (q *Queue) FailedJobs(ctx context.Context) ([]domain.Job, error) {
	ids, err := q.rdb.SMembers(ctx, keyFailed).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list failed: %w", err)
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.getJob(ctx, id)
		if err != nil {
			if err == domain.ErrNotFound {
				// Hash purged out from under the set; drop the orphan member.
				_ = q.rdb.SRem(ctx, keyFailed, id).Err()
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryFailed moves a failed job back to the waiting set with a fresh attempt
// budget, due immediately.
func (q *Queue) RetryFailed(ctx context.Context, jobID string) error {
	removed, err := q.rdb.SRem(ctx, keyFailed, jobID).Result()
	if err != nil {
		return fmt.Errorf("queue: retry failed %s: %w", jobID, err)
	}
	if removed == 0 {
		return domain.ErrNotFound
	}

	now := time.Now()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID),
		"state", string(domain.JobStateWaiting),
		"attempt", 0,
		"not_before", now.UnixMilli(),
		"updated_at", now.UnixMilli(),
	)
	pipe.ZAdd(ctx, keyWaiting, redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: retry failed %s: %w", jobID, err)
	}

	q.logger.InfoContext(ctx, "failed job requeued", slog.String("job_id", jobID))
	return nil
}

// PurgeAll removes every job regardless of state. Maintenance only.
func (q *Queue) PurgeAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := q.rdb.Scan(ctx, cursor, keyJobPrefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("queue: purge scan: %w", err)
		}
		if len(keys) > 0 {
			if err := q.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("queue: purge jobs: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := q.rdb.Del(ctx, keyWaiting, keyActive, keyFailed, keyCompleted).Err(); err != nil {
		return fmt.Errorf("queue: purge sets: %w", err)
	}

	q.logger.InfoContext(ctx, "queue purged")
	return nil
}

// Backoff returns the delay before the next execution after the given
// (1-based) failed attempt: base, 2*base, 4*base, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Compile-time interface check.
var _ domain.Scheduler = (*Queue)(nil)
