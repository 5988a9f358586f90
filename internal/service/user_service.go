// Package service holds the game engines: user ledger operations, prediction
// settlement, battle settlement, and cold-storage archival. The engines own
// all business rules; storage adapters only provide the atomic primitives the
// engines compose.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rcldev/tokenarena/internal/domain"
)

// UserService handles user accounts and the points ledger.
type UserService struct {
	users         domain.UserStore
	dailyAmount   int64
	claimInterval time.Duration
	logger        *slog.Logger
}

// NewUserService creates a UserService. dailyAmount is the points granted per
// daily claim and claimInterval the cooldown between claims.
func NewUserService(
	users domain.UserStore,
	dailyAmount int64,
	claimInterval time.Duration,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:         users,
		dailyAmount:   dailyAmount,
		claimInterval: claimInterval,
		logger:        logger,
	}
}

// GetOrCreate looks a user up by Discord ID, creating the account with the
// starting balance on first contact. The username is refreshed on every call
// since Discord handles change over time.
func (s *UserService) GetOrCreate(ctx context.Context, id, username string) (domain.User, error) {
	u, err := s.users.GetOrCreate(ctx, id, username)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: get or create %q: %w", id, err)
	}
	return u, nil
}

// Get returns a user by Discord ID.
func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: get %q: %w", id, err)
	}
	return u, nil
}

// ClaimDaily grants the daily points allowance. The grant is conditional in
// storage on the cooldown having elapsed, so concurrent claims cannot double
// up; a claim inside the cooldown surfaces ErrClaimNotReady.
func (s *UserService) ClaimDaily(ctx context.Context, id string) (int64, error) {
	balance, err := s.users.ClaimDaily(ctx, id, s.dailyAmount, s.claimInterval)
	if err != nil {
		return 0, fmt.Errorf("user_service: claim daily for %q: %w", id, err)
	}

	s.logger.InfoContext(ctx, "user_service: daily claimed",
		slog.String("user_id", id),
		slog.Int64("amount", s.dailyAmount),
		slog.Int64("balance", balance),
	)
	return balance, nil
}

// Grant is the administrative credit path. delta may be negative to claw
// points back.
func (s *UserService) Grant(ctx context.Context, id string, delta int64) (int64, error) {
	balance, err := s.users.Credit(ctx, id, delta)
	if err != nil {
		return 0, fmt.Errorf("user_service: grant %d to %q: %w", delta, id, err)
	}

	s.logger.InfoContext(ctx, "user_service: points granted",
		slog.String("user_id", id),
		slog.Int64("delta", delta),
		slog.Int64("balance", balance),
	)
	return balance, nil
}

// Leaderboard returns the top users by balance.
func (s *UserService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := s.users.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("user_service: leaderboard: %w", err)
	}
	return entries, nil
}
