// Package oracle provides decorators around the raw price oracle.
package oracle

import (
	"context"
	"log/slog"
	"time"

	"github.com/rcldev/tokenarena/internal/domain"
)

// Cached is a read-through cache over a PriceOracle. A battle check fetches
// two prices back to back and both sides of a busy token pair often resolve
// within seconds of each other; a short-lived cache absorbs that without
// affecting settlement correctness in any material way.
type Cached struct {
	inner  domain.PriceOracle
	cache  domain.PriceCache
	maxAge time.Duration
	logger *slog.Logger
}

// NewCached wraps inner with the given price cache. Cached prices older than
// maxAge are ignored.
func NewCached(inner domain.PriceOracle, cache domain.PriceCache, maxAge time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		cache:  cache,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "price_oracle")),
	}
}

// GetPrice returns a fresh-enough cached price, falling back to the inner
// oracle. Cache errors are logged and treated as misses; a cache outage must
// not make prices unavailable.
func (c *Cached) GetPrice(ctx context.Context, tokenID string) (float64, error) {
	price, ts, err := c.cache.GetPrice(ctx, tokenID)
	if err == nil && time.Since(ts) <= c.maxAge {
		return price, nil
	}
	if err != nil && err != domain.ErrNotFound {
		c.logger.WarnContext(ctx, "price cache read failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
	}

	price, err = c.inner.GetPrice(ctx, tokenID)
	if err != nil {
		return 0, err
	}

	if setErr := c.cache.SetPrice(ctx, tokenID, price, time.Now()); setErr != nil {
		c.logger.WarnContext(ctx, "price cache write failed",
			slog.String("token_id", tokenID),
			slog.String("error", setErr.Error()),
		)
	}

	return price, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Cached)(nil)
