package redis

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcldev/tokenarena/internal/domain"
)

// Worker drives a Queue: a pool of goroutines claims due jobs and hands them
// to the registered handler, and a reaper requeues jobs whose worker died
// mid-execution. Delivery is at-least-once; handlers are expected to be
// idempotent.
type Worker struct {
	queue    *Queue
	handler  domain.JobHandler
	onFailed func(ctx context.Context, job domain.Job, err error)
	logger   *slog.Logger
}

// NewWorker creates a Worker consuming the given queue. handler is the single
// consumer of fired jobs. onFailed, if non-nil, is invoked once when a job
// exhausts its attempts; operators typically wire an alert there.
func NewWorker(queue *Queue, handler domain.JobHandler, onFailed func(ctx context.Context, job domain.Job, err error), logger *slog.Logger) *Worker {
	return &Worker{
		queue:    queue,
		handler:  handler,
		onFailed: onFailed,
		logger:   logger.With(slog.String("component", "queue_worker")),
	}
}

// Run starts the worker pool and the reaper, blocking until the context is
// cancelled. It always returns nil on clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.queue.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.pollLoop(ctx)
			return nil
		})
	}

	g.Go(func() error {
		w.reapLoop(ctx)
		return nil
	})

	w.logger.InfoContext(ctx, "queue workers started",
		slog.Int("concurrency", w.queue.cfg.Concurrency),
		slog.Int("max_attempts", w.queue.cfg.MaxAttempts),
	)

	return g.Wait()
}

// pollLoop claims and executes jobs until the context is cancelled. It drains
// every due job before sleeping so bursts of simultaneous deadlines clear
// quickly.
func (w *Worker) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.claim(ctx, time.Now())
		if err != nil {
			if err != domain.ErrNotFound && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "claim failed", slog.String("error", err.Error()))
			}
			w.sleep(ctx, w.queue.cfg.PollInterval)
			continue
		}

		w.execute(ctx, job)
	}
}

// execute runs the handler for one claimed job and settles its outcome.
func (w *Worker) execute(ctx context.Context, job domain.Job) {
	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Payload.Kind)),
		slog.Int("attempt", job.Attempt),
	)

	err := w.handler(ctx, job)
	if err == nil {
		if cErr := w.queue.complete(ctx, job.ID); cErr != nil {
			log.ErrorContext(ctx, "could not mark job completed", slog.String("error", cErr.Error()))
		} else {
			log.InfoContext(ctx, "job completed")
		}
		return
	}

	// Do not settle job state on shutdown; the reaper on the next run will
	// requeue the stalled claim.
	if ctx.Err() != nil {
		return
	}

	parked, frErr := w.queue.failRetry(ctx, job, err)
	if frErr != nil {
		log.ErrorContext(ctx, "could not settle failed job", slog.String("error", frErr.Error()))
		return
	}

	if parked {
		log.ErrorContext(ctx, "job exhausted attempts, parked as failed",
			slog.String("error", err.Error()),
		)
		if w.onFailed != nil {
			w.onFailed(ctx, job, err)
		}
		return
	}

	log.WarnContext(ctx, "job failed, retrying with backoff",
		slog.String("error", err.Error()),
		slog.Duration("backoff", Backoff(w.queue.cfg.BackoffBase, job.Attempt)),
	)
}

// reapLoop periodically requeues active jobs whose claim deadline passed.
func (w *Worker) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(w.queue.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.reap(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					w.logger.ErrorContext(ctx, "reap failed", slog.String("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				w.logger.WarnContext(ctx, "requeued stalled jobs", slog.Int64("count", n))
			}
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
