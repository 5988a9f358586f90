package domain

import (
	"context"
	"io"
	"time"
)

// Scheduler is the durable delayed-job queue. It guarantees a scheduled job is
// handed to a handler at or after its deadline, at least once, surviving
// process restarts. It never interprets payload semantics.
type Scheduler interface {
	// Schedule enqueues a job to fire after delay. Scheduling a jobID that is
	// already present is a no-op, and a negative delay is a deliberate skip
	// rather than an immediate fire; neither is an error.
	Schedule(ctx context.Context, jobID string, payload JobPayload, delay time.Duration) error

	Stats(ctx context.Context) (QueueStats, error)
	FailedJobs(ctx context.Context) ([]Job, error)
	RetryFailed(ctx context.Context, jobID string) error
	PurgeAll(ctx context.Context) error
}

// PriceOracle returns the current USD price of a token. Implementations wrap
// an external market-data API; any failure surfaces as ErrPriceUnavailable.
type PriceOracle interface {
	GetPrice(ctx context.Context, tokenID string) (float64, error)
}

// Presenter is the external presentation layer (Discord). All methods are
// best-effort: callers log failures and never roll back settlement.
type Presenter interface {
	PostResult(ctx context.Context, channelID string, result SettlementNotice) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// SettlementNotice is the structured result handed to the presentation layer.
type SettlementNotice struct {
	Title  string
	Lines  []string
	UserID string
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobObject describes a stored archive object.
type BlobObject struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader lists and fetches archived objects.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobObject, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}
