package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rcldev/tokenarena/internal/domain"
)

// ArchiveService exports settled game records to cold storage. Resolved
// predictions and terminal battles older than the retention cutoff are written
// as JSONL objects, one batch per run, keyed by export date. Source rows are
// left in place; the archive is a queryable cold copy, not a purge.
type ArchiveService struct {
	predictions domain.PredictionStore
	battles     domain.BattleStore
	blob        domain.BlobWriter
	retention   time.Duration
	interval    time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewArchiveService creates an ArchiveService. retention is how old a settled
// record must be before it is exported; interval is the pause between runs.
func NewArchiveService(
	predictions domain.PredictionStore,
	battles domain.BattleStore,
	blob domain.BlobWriter,
	retention, interval time.Duration,
	logger *slog.Logger,
) *ArchiveService {
	return &ArchiveService{
		predictions: predictions,
		battles:     battles,
		blob:        blob,
		retention:   retention,
		interval:    interval,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// Run executes RunOnce on a fixed interval until the context is cancelled.
func (s *ArchiveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", s.interval),
		slog.Duration("retention", s.retention),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce exports one batch of settled records and returns how many
// predictions and battles were written.
func (s *ArchiveService) RunOnce(ctx context.Context) (int, int, error) {
	cutoff := s.now().Add(-s.retention)
	stamp := s.now().UTC().Format("2006-01-02")

	preds, err := s.predictions.ListResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("archive_service: list resolved predictions: %w", err)
	}
	if len(preds) > 0 {
		path := fmt.Sprintf("predictions/%s.jsonl", stamp)
		if err := s.putJSONL(ctx, path, predictionRecords(preds)); err != nil {
			return 0, 0, err
		}
	}

	battles, err := s.battles.ListSettledBefore(ctx, cutoff)
	if err != nil {
		return len(preds), 0, fmt.Errorf("archive_service: list settled battles: %w", err)
	}
	if len(battles) > 0 {
		path := fmt.Sprintf("battles/%s.jsonl", stamp)
		if err := s.putJSONL(ctx, path, battleRecords(battles)); err != nil {
			return len(preds), 0, err
		}
	}

	if len(preds) > 0 || len(battles) > 0 {
		s.logger.InfoContext(ctx, "archive batch written",
			slog.Int("predictions", len(preds)),
			slog.Int("battles", len(battles)),
			slog.String("cutoff", cutoff.Format(time.RFC3339)),
		)
	}
	return len(preds), len(battles), nil
}

// multipartThreshold is the batch size beyond which the upload switches to
// the multipart path when the writer supports it.
const multipartThreshold = 8 * 1024 * 1024

// multipartWriter is the optional upgrade offered by blob writers that can
// stream large objects in parts.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// putJSONL marshals each record onto its own line and uploads the object.
func (s *ArchiveService) putJSONL(ctx context.Context, path string, records []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("archive_service: encode record for %s: %w", path, err)
		}
	}

	if mp, ok := s.blob.(multipartWriter); ok && int64(buf.Len()) >= multipartThreshold {
		if err := mp.PutMultipart(ctx, path, &buf, "application/x-ndjson", multipartThreshold); err != nil {
			return fmt.Errorf("archive_service: multipart upload %s: %w", path, err)
		}
		return nil
	}

	if err := s.blob.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("archive_service: upload %s: %w", path, err)
	}
	return nil
}

func predictionRecords(preds []domain.Prediction) []any {
	out := make([]any, 0, len(preds))
	for _, p := range preds {
		out = append(out, map[string]any{
			"id":             p.ID,
			"user_id":        p.UserID,
			"token_id":       p.TokenID,
			"token_name":     p.TokenName,
			"timeframe":      p.Timeframe,
			"direction":      p.Direction,
			"points_wagered": p.PointsWagered,
			"price_at_start": p.PriceAtStart,
			"price_at_end":   p.PriceAtEnd,
			"is_won":         p.IsWon,
			"expires_at":     p.ExpiresAt.Format(time.RFC3339),
			"created_at":     p.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}

func battleRecords(battles []domain.Battle) []any {
	out := make([]any, 0, len(battles))
	for _, b := range battles {
		out = append(out, map[string]any{
			"id":                  b.ID,
			"channel_id":          b.ChannelID,
			"creator_id":          b.CreatorID,
			"creator_token":       b.CreatorToken,
			"joiner_id":           b.JoinerID,
			"joiner_token":        b.JoinerToken,
			"timeframe":           b.Timeframe,
			"points":              b.Points,
			"creator_token_price": b.CreatorTokenPrice,
			"joiner_token_price":  b.JoinerTokenPrice,
			"status":              b.Status,
			"start_time":          b.StartTime.Format(time.RFC3339),
			"end_time":            b.EndTime.Format(time.RFC3339),
			"created_at":          b.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}
