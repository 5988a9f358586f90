package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcldev/tokenarena/internal/domain"
	"github.com/rcldev/tokenarena/internal/notify"
	queueredis "github.com/rcldev/tokenarena/internal/queue/redis"
	"github.com/rcldev/tokenarena/internal/server"
	"github.com/rcldev/tokenarena/internal/server/handler"
	"github.com/rcldev/tokenarena/internal/server/ws"
	"github.com/rcldev/tokenarena/internal/service"
)

// engines holds the settlement services built for modes that consume jobs.
type engines struct {
	users       *service.UserService
	predictions *service.PredictionService
	battles     *service.BattleService
}

// buildEngines constructs the settlement services from wired dependencies.
func (a *App) buildEngines(deps *Dependencies) *engines {
	game := a.cfg.Game
	return &engines{
		users: service.NewUserService(
			deps.Users,
			game.DailyClaimPoints,
			game.DailyClaimInterval.Duration,
			a.logger,
		),
		predictions: service.NewPredictionService(
			deps.Users,
			deps.Predictions,
			deps.Oracle,
			deps.Queue,
			deps.Presenter,
			deps.SignalBus,
			game.PayoutMultiplier,
			a.cfg.Discord.ResultChannelID,
			a.logger,
		),
		battles: service.NewBattleService(
			deps.Users,
			deps.Battles,
			deps.Oracle,
			deps.Queue,
			deps.Presenter,
			deps.SignalBus,
			deps.LockManager,
			game.PayoutMultiplier,
			game.JoinWindow.Duration,
			a.logger,
		),
	}
}

// newJobHandler maps fired jobs onto the settlement engines. Unknown kinds
// are an operator error and fail the job so it surfaces in the failed set.
func newJobHandler(eng *engines) domain.JobHandler {
	return func(ctx context.Context, job domain.Job) error {
		switch job.Payload.Kind {
		case domain.JobPredictionResolve:
			_, err := eng.predictions.Resolve(ctx, job.Payload.PredictionID)
			return err
		case domain.JobBattleCheck:
			_, err := eng.battles.CheckResult(ctx, job.Payload.BattleID)
			return err
		case domain.JobBattleExpire:
			return eng.battles.ExpireUnjoined(ctx, job.Payload.BattleID)
		default:
			return fmt.Errorf("app: unknown job kind %q", job.Payload.Kind)
		}
	}
}

// WorkerMode runs the settlement workers: the delay-queue consumer pool, the
// stalled-job reaper, and the archiver when blob storage is enabled.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps)
	return g.Wait()
}

// ServeMode runs only the ops HTTP API: queue introspection, leaderboard,
// archives, and the settlement event stream. No jobs are consumed.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything in one process: settlement workers, archiver, and
// the ops HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// startWorkers adds the queue consumer pool and, when blob storage is wired,
// the archiver loop to the errgroup.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	eng := a.buildEngines(deps)

	onFailed := func(ctx context.Context, job domain.Job, err error) {
		if notifyErr := deps.Notifier.Notify(ctx, notify.EventJobFailed,
			"Settlement job failed",
			fmt.Sprintf("job %s (%s) exhausted retries: %v", job.ID, job.Payload.Kind, err),
		); notifyErr != nil {
			a.logger.WarnContext(ctx, "job failure alert not delivered",
				slog.String("job_id", job.ID),
				slog.String("error", notifyErr.Error()),
			)
		}
	}

	worker := queueredis.NewWorker(deps.Queue, newJobHandler(eng), onFailed, a.logger)
	g.Go(func() error {
		return worker.Run(ctx)
	})

	if deps.BlobWriter != nil {
		archiver := service.NewArchiveService(
			deps.Predictions,
			deps.Battles,
			deps.BlobWriter,
			a.cfg.Game.ArchiveRetention.Duration,
			a.cfg.Game.ArchiveInterval.Duration,
			a.logger,
		)
		g.Go(func() error {
			if err := archiver.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("app: archiver: %w", err)
			}
			return nil
		})
	}
}

// startHTTPServer adds the ops API server and the WebSocket hub to the
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	users := service.NewUserService(
		deps.Users,
		a.cfg.Game.DailyClaimPoints,
		a.cfg.Game.DailyClaimInterval.Duration,
		a.logger,
	)

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: ws hub: %w", err)
		}
		return nil
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
			Jobs:     handler.NewJobsHandler(deps.Queue, a.logger),
			Users:    handler.NewUserHandler(users, a.logger),
			Archives: handler.NewArchiveHandler(deps.BlobReader, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
