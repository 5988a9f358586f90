// Package config defines the top-level configuration for the token arena
// settlement service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARENA_* environment variables.
type Config struct {
	Discord   DiscordConfig   `toml:"discord"`
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Game      GameConfig      `toml:"game"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DiscordConfig holds the bot credentials and presentation targets.
type DiscordConfig struct {
	BotToken string `toml:"bot_token"`
	APIBase  string `toml:"api_base"`

	// ResultChannelID is the channel prediction results are posted to.
	// Battle results go to the channel the battle was announced in.
	ResultChannelID string `toml:"result_channel_id"`
}

// CoinGeckoConfig holds the price oracle parameters.
type CoinGeckoConfig struct {
	APIBase string `toml:"api_base"`
	APIKey  string `toml:"api_key"`

	// Network is the on-chain network slug used by the token-price endpoint
	// (e.g. "ethereum", "solana").
	Network string `toml:"network"`

	// RateLimit caps oracle calls per RateWindow across all processes.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`

	// CacheTTL is how long fetched prices stay in the Redis cache;
	// CacheMaxAge is how stale a cached price may be and still satisfy a
	// read-through lookup.
	CacheTTL    duration `toml:"cache_ttl"`
	CacheMaxAge duration `toml:"cache_max_age"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the archive bucket parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SchedulerConfig holds the delayed-job queue parameters.
type SchedulerConfig struct {
	// MaxAttempts is the number of executions a job gets before it is parked
	// in the failed set.
	MaxAttempts int `toml:"max_attempts"`

	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase duration `toml:"backoff_base"`

	// ClaimTimeout is how long a claimed job may run before the reaper
	// requeues it.
	ClaimTimeout duration `toml:"claim_timeout"`

	PollInterval duration `toml:"poll_interval"`
	ReapInterval duration `toml:"reap_interval"`
	Concurrency  int      `toml:"concurrency"`
}

// GameConfig holds the economy policy knobs.
type GameConfig struct {
	// PayoutMultiplier scales a winning stake into its payout.
	PayoutMultiplier int64 `toml:"payout_multiplier"`

	// JoinWindow is how long a battle stays open for a second party.
	JoinWindow duration `toml:"join_window"`

	DailyClaimPoints   int64    `toml:"daily_claim_points"`
	DailyClaimInterval duration `toml:"daily_claim_interval"`

	// ArchiveRetention is how old a settled record must be before it is
	// exported to cold storage; ArchiveInterval is the pause between runs.
	ArchiveRetention duration `toml:"archive_retention"`
	ArchiveInterval  duration `toml:"archive_interval"`
}

// duration wraps time.Duration with TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds ops API server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Discord: DiscordConfig{
			APIBase: "https://discord.com/api/v10",
		},
		CoinGecko: CoinGeckoConfig{
			APIBase:     "https://api.coingecko.com/api/v3",
			Network:     "ethereum",
			RateLimit:   25,
			RateWindow:  duration{time.Minute},
			CacheTTL:    duration{5 * time.Minute},
			CacheMaxAge: duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tokenarena",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tokenarena-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Scheduler: SchedulerConfig{
			MaxAttempts:  3,
			BackoffBase:  duration{time.Second},
			ClaimTimeout: duration{time.Minute},
			PollInterval: duration{250 * time.Millisecond},
			ReapInterval: duration{15 * time.Second},
			Concurrency:  4,
		},
		Game: GameConfig{
			PayoutMultiplier:   2,
			JoinWindow:         duration{60 * time.Second},
			DailyClaimPoints:   20,
			DailyClaimInterval: duration{24 * time.Hour},
			ArchiveRetention:   duration{7 * 24 * time.Hour},
			ArchiveInterval:    duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"job_failed", "oracle_down", "refund_issued"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"worker": true,
	"serve":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: worker, serve, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Discord credentials are required wherever settlement runs, since the
	// engines post results.
	if c.Mode == "worker" || c.Mode == "full" {
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord: bot_token is required for mode "+c.Mode)
		}
	}
	if c.Discord.APIBase == "" {
		errs = append(errs, "discord: api_base must not be empty")
	}

	// CoinGecko
	if c.CoinGecko.APIBase == "" {
		errs = append(errs, "coingecko: api_base must not be empty")
	}
	if c.CoinGecko.Network == "" {
		errs = append(errs, "coingecko: network must not be empty")
	}
	if c.CoinGecko.RateLimit < 1 {
		errs = append(errs, "coingecko: rate_limit must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Scheduler
	if c.Scheduler.MaxAttempts < 1 {
		errs = append(errs, "scheduler: max_attempts must be >= 1")
	}
	if c.Scheduler.BackoffBase.Duration <= 0 {
		errs = append(errs, "scheduler: backoff_base must be > 0")
	}
	if c.Scheduler.ClaimTimeout.Duration <= 0 {
		errs = append(errs, "scheduler: claim_timeout must be > 0")
	}
	if c.Scheduler.Concurrency < 1 {
		errs = append(errs, "scheduler: concurrency must be >= 1")
	}

	// Game policy
	if c.Game.PayoutMultiplier < 1 {
		errs = append(errs, "game: payout_multiplier must be >= 1")
	}
	if c.Game.JoinWindow.Duration <= 0 {
		errs = append(errs, "game: join_window must be > 0")
	}
	if c.Game.DailyClaimPoints < 1 {
		errs = append(errs, "game: daily_claim_points must be >= 1")
	}
	if c.Game.DailyClaimInterval.Duration <= 0 {
		errs = append(errs, "game: daily_claim_interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
