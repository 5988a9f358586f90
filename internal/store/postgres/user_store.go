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

// UserStore implements domain.UserStore using PostgreSQL. All balance
// mutations are single conditional statements, so concurrent settlement paths
// racing on the same user never observe a stale balance.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, username, points, last_claim_at, created_at, updated_at`

func scanUserRow(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Points, &u.LastClaimAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetOrCreate upserts the user. The username is refreshed on every call since
// Discord handles change over time.
func (s *UserStore) GetOrCreate(ctx context.Context, id, username string) (domain.User, error) {
	const query = `
		INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, updated_at = NOW()
		RETURNING ` + userSelectCols

	u, err := scanUserRow(s.pool.QueryRow(ctx, query, id, username))
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: get or create user %s: %w", id, err)
	}
	return u, nil
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id string) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)
	u, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// Credit adds delta points and returns the committed balance.
func (s *UserStore) Credit(ctx context.Context, id string, delta int64) (int64, error) {
	const query = `
		UPDATE users SET points = points + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING points`

	var balance int64
	err := s.pool.QueryRow(ctx, query, id, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: credit user %s: %w", id, err)
	}
	return balance, nil
}

// Debit removes amount points, conditional on the balance covering it.
func (s *UserStore) Debit(ctx context.Context, id string, amount int64) (int64, error) {
	const query = `
		UPDATE users SET points = points - $2, updated_at = NOW()
		WHERE id = $1 AND points >= $2
		RETURNING points`

	var balance int64
	err := s.pool.QueryRow(ctx, query, id, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the user is missing or the balance is short; disambiguate
			// so callers can surface the right error.
			if _, getErr := s.Get(ctx, id); getErr != nil {
				return 0, getErr
			}
			return 0, domain.ErrInsufficientPoints
		}
		return 0, fmt.Errorf("postgres: debit user %s: %w", id, err)
	}
	return balance, nil
}

// ClaimDaily credits the daily allowance, conditional on the previous claim
// being at least claimInterval old.
func (s *UserStore) ClaimDaily(ctx context.Context, id string, amount int64, claimInterval time.Duration) (int64, error) {
	const query = `
		UPDATE users SET points = points + $2, last_claim_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND (last_claim_at IS NULL OR last_claim_at <= NOW() - $3::interval)
		RETURNING points`

	interval := fmt.Sprintf("%d seconds", int64(claimInterval.Seconds()))

	var balance int64
	err := s.pool.QueryRow(ctx, query, id, amount, interval).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.Get(ctx, id); getErr != nil {
				return 0, getErr
			}
			return 0, domain.ErrClaimNotReady
		}
		return 0, fmt.Errorf("postgres: claim daily for user %s: %w", id, err)
	}
	return balance, nil
}

// Leaderboard returns the top balances in descending order.
func (s *UserStore) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, points FROM users ORDER BY points DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Points); err != nil {
			return nil, fmt.Errorf("postgres: scan leaderboard: %w", err)
		}
		e.Rank = rank
		rank++
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Compile-time interface check.
var _ domain.UserStore = (*UserStore)(nil)
