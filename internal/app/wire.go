package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/rcldev/tokenarena/internal/blob/s3"
	"github.com/rcldev/tokenarena/internal/cache/redis"
	"github.com/rcldev/tokenarena/internal/config"
	"github.com/rcldev/tokenarena/internal/domain"
	"github.com/rcldev/tokenarena/internal/notify"
	"github.com/rcldev/tokenarena/internal/oracle"
	"github.com/rcldev/tokenarena/internal/oracle/coingecko"
	"github.com/rcldev/tokenarena/internal/platform/discord"
	queueredis "github.com/rcldev/tokenarena/internal/queue/redis"
	"github.com/rcldev/tokenarena/internal/server/handler"
	"github.com/rcldev/tokenarena/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Users       domain.UserStore
	Predictions domain.PredictionStore
	Battles     domain.BattleStore

	// Redis-backed infrastructure
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Queue is the delay scheduler; it also implements domain.Scheduler.
	Queue *queueredis.Queue

	// Oracle is the cached price source the settlement engines read from.
	Oracle domain.PriceOracle

	// Presenter posts settlement results to Discord. Nil in serve mode,
	// where no settlement runs.
	Presenter domain.Presenter

	// Blob storage; nil unless s3.enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Notifier fans operator alerts out to configured channels.
	Notifier *notify.Notifier

	// Pingers feed the readiness endpoint.
	Pingers map[string]handler.Pinger
}

// needsPresenter returns true for modes that run settlement and therefore
// post results to Discord.
func needsPresenter(mode string) bool {
	switch mode {
	case "worker", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Pingers["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Users = postgres.NewUserStore(pool)
	deps.Predictions = postgres.NewPredictionStore(pool)
	deps.Battles = postgres.NewBattleStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Pingers["redis"] = redisClient

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.CoinGecko.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	deps.Queue = queueredis.NewQueue(redisClient, queueredis.Config{
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		BackoffBase:  cfg.Scheduler.BackoffBase.Duration,
		ClaimTimeout: cfg.Scheduler.ClaimTimeout.Duration,
		PollInterval: cfg.Scheduler.PollInterval.Duration,
		ReapInterval: cfg.Scheduler.ReapInterval.Duration,
		Concurrency:  cfg.Scheduler.Concurrency,
	}, logger)

	// --- Price oracle ---
	gecko := coingecko.NewClient(cfg.CoinGecko.APIBase, cfg.CoinGecko.APIKey, cfg.CoinGecko.Network)
	gecko.SetRateLimiter(deps.RateLimiter, cfg.CoinGecko.RateLimit, cfg.CoinGecko.RateWindow.Duration)
	deps.Oracle = oracle.NewCached(gecko, deps.PriceCache, cfg.CoinGecko.CacheMaxAge.Duration, logger)

	// --- Discord presenter ---
	if needsPresenter(cfg.Mode) {
		deps.Presenter = discord.NewClient(cfg.Discord.APIBase, cfg.Discord.BotToken)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Pingers["s3"] = pingerFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// pingerFunc adapts a plain health function to the handler.Pinger interface.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
