package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcldev/tokenarena/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionSelectCols = `id, user_id, token_id, token_name, timeframe, direction,
	points_wagered, price_at_start, price_at_end, expires_at, is_resolved, is_won, created_at`

func scanPredictionRow(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	var timeframe, direction string

	err := row.Scan(
		&p.ID, &p.UserID, &p.TokenID, &p.TokenName, &timeframe, &direction,
		&p.PointsWagered, &p.PriceAtStart, &p.PriceAtEnd, &p.ExpiresAt,
		&p.IsResolved, &p.IsWon, &p.CreatedAt,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.Timeframe = domain.Timeframe(timeframe)
	p.Direction = domain.Direction(direction)
	return p, nil
}

func scanPredictionRows(rows pgx.Rows) ([]domain.Prediction, error) {
	var predictions []domain.Prediction
	for rows.Next() {
		p, err := scanPredictionRow(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

// Create inserts a new prediction record.
func (s *PredictionStore) Create(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (
			id, user_id, token_id, token_name, timeframe, direction,
			points_wagered, price_at_start, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.TokenID, p.TokenName, string(p.Timeframe), string(p.Direction),
		p.PointsWagered, p.PriceAtStart, p.ExpiresAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a prediction by its ID.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+predictionSelectCols+` FROM predictions WHERE id = $1`, id)

	p, err := scanPredictionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// ListByUser returns the user's predictions, newest first.
func (s *PredictionStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionSelectCols+` FROM predictions
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions for %s: %w", userID, err)
	}
	defer rows.Close()

	predictions, err := scanPredictionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan predictions: %w", err)
	}
	return predictions, nil
}

// MarkResolved flips is_resolved, records the outcome, and applies the payout
// in a single statement. The inner WHERE clause is the idempotency guard (the
// second of two racing deliveries resolves zero rows) and the CTE ties the
// credit to it: the balance moves exactly when the flip commits, so a crash
// between the two can never leave a resolved record with an unpaid winner.
func (s *PredictionStore) MarkResolved(ctx context.Context, id string, priceAtEnd float64, isWon bool, payout int64) error {
	const query = `
		WITH resolved AS (
			UPDATE predictions SET
				price_at_end = $2,
				is_won       = $3,
				is_resolved  = TRUE
			WHERE id = $1 AND is_resolved = FALSE
			RETURNING user_id
		)
		UPDATE users u SET points = u.points + $4, updated_at = NOW()
		FROM resolved r
		WHERE u.id = r.user_id`

	tag, err := s.pool.Exec(ctx, query, id, priceAtEnd, isWon, payout)
	if err != nil {
		return fmt.Errorf("postgres: resolve prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}

// Delete removes a prediction record.
func (s *PredictionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM predictions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete prediction %s: %w", id, err)
	}
	return nil
}

// ListResolvedBefore returns resolved predictions that expired before the cutoff.
func (s *PredictionStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionSelectCols+` FROM predictions
		 WHERE is_resolved = TRUE AND expires_at < $1 ORDER BY expires_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved predictions: %w", err)
	}
	defer rows.Close()

	predictions, err := scanPredictionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved predictions: %w", err)
	}
	return predictions, nil
}

// Compile-time interface check.
var _ domain.PredictionStore = (*PredictionStore)(nil)
