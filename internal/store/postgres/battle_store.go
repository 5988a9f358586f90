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

// BattleStore implements domain.BattleStore using PostgreSQL. The join
// transition is a conditional UPDATE on joined = FALSE, which is the single
// atomic check-and-set the concurrency contract requires: of two racing
// joiners, exactly one affects a row.
type BattleStore struct {
	pool *pgxpool.Pool
}

// NewBattleStore creates a BattleStore backed by the given pool.
func NewBattleStore(pool *pgxpool.Pool) *BattleStore {
	return &BattleStore{pool: pool}
}

const battleSelectCols = `id, channel_id, creator_id, creator_token, joined,
	joiner_id, joiner_token, timeframe, points, start_time, end_time,
	creator_token_price, joiner_token_price, status, created_at`

func scanBattleRow(row pgx.Row) (domain.Battle, error) {
	var b domain.Battle
	var timeframe, status string

	err := row.Scan(
		&b.ID, &b.ChannelID, &b.CreatorID, &b.CreatorToken, &b.Joined,
		&b.JoinerID, &b.JoinerToken, &timeframe, &b.Points, &b.StartTime, &b.EndTime,
		&b.CreatorTokenPrice, &b.JoinerTokenPrice, &status, &b.CreatedAt,
	)
	if err != nil {
		return domain.Battle{}, err
	}
	b.Timeframe = domain.Timeframe(timeframe)
	b.Status = domain.BattleStatus(status)
	return b, nil
}

// Create inserts a new unjoined battle.
func (s *BattleStore) Create(ctx context.Context, b domain.Battle) error {
	const query = `
		INSERT INTO battles (
			id, channel_id, creator_id, creator_token, joined,
			timeframe, points, start_time, end_time, status, created_at
		) VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		b.ID, b.ChannelID, b.CreatorID, b.CreatorToken,
		string(b.Timeframe), b.Points, b.StartTime, b.EndTime,
		string(domain.BattleStatusOpen), b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create battle %s: %w", b.ID, err)
	}
	return nil
}

// GetByID retrieves a battle by its ID.
func (s *BattleStore) GetByID(ctx context.Context, id string) (domain.Battle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+battleSelectCols+` FROM battles WHERE id = $1`, id)

	b, err := scanBattleRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Battle{}, domain.ErrBattleNotFound
		}
		return domain.Battle{}, fmt.Errorf("postgres: get battle %s: %w", id, err)
	}
	return b, nil
}

// Join transitions the battle to joined, recording the joiner and the price
// snapshot pair captured at join time.
func (s *BattleStore) Join(ctx context.Context, id, joinerID, joinerToken string, creatorPrice, joinerPrice float64) error {
	const query = `
		UPDATE battles SET
			joined              = TRUE,
			joiner_id           = $2,
			joiner_token        = $3,
			creator_token_price = $4,
			joiner_token_price  = $5
		WHERE id = $1 AND joined = FALSE`

	tag, err := s.pool.Exec(ctx, query, id, joinerID, joinerToken, creatorPrice, joinerPrice)
	if err != nil {
		return fmt.Errorf("postgres: join battle %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrAlreadyJoined
	}
	return nil
}

// Settle marks the battle settled and pays the winner in a single statement.
// The status CAS admits exactly one caller, and the CTE binds the credit to
// the transition: a duplicate check job resolves zero rows and a winning one
// can never settle the record without moving the points.
func (s *BattleStore) Settle(ctx context.Context, id, winnerID string, payout int64) error {
	var (
		query string
		args  []any
	)
	if winnerID == "" {
		// A tie settles the record with no payout.
		query = `UPDATE battles SET status = 'settled' WHERE id = $1 AND status = 'open'`
		args = []any{id}
	} else {
		query = `
			WITH settled AS (
				UPDATE battles SET status = 'settled'
				WHERE id = $1 AND status = 'open'
				RETURNING id
			)
			UPDATE users u SET points = u.points + $3, updated_at = NOW()
			FROM settled
			WHERE u.id = $2`
		args = []any{id, winnerID, payout}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: settle battle %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}

// Refund marks the battle refunded and credits each party's stake back in a
// single statement, same gating as Settle.
func (s *BattleStore) Refund(ctx context.Context, id string) error {
	const query = `
		WITH refunded AS (
			UPDATE battles SET status = 'refunded'
			WHERE id = $1 AND status = 'open'
			RETURNING creator_id, joiner_id, points
		)
		UPDATE users u SET points = u.points + r.points, updated_at = NOW()
		FROM refunded r
		WHERE u.id = r.creator_id OR u.id = r.joiner_id`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: refund battle %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}

// DeleteUnjoined removes the battle only while it is still unjoined.
func (s *BattleStore) DeleteUnjoined(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM battles WHERE id = $1 AND joined = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: delete unjoined battle %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListSettledBefore returns terminal battles that ended before the cutoff.
func (s *BattleStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Battle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+battleSelectCols+` FROM battles
		 WHERE status <> $1 AND end_time < $2 ORDER BY end_time`,
		string(domain.BattleStatusOpen), before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled battles: %w", err)
	}
	defer rows.Close()

	var battles []domain.Battle
	for rows.Next() {
		b, err := scanBattleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settled battles: %w", err)
		}
		battles = append(battles, b)
	}
	return battles, rows.Err()
}

// Compile-time interface check.
var _ domain.BattleStore = (*BattleStore)(nil)
