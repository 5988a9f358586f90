package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rcldev/tokenarena/internal/domain"
)

// UserService defines what the user handler needs from the service layer.
type UserService interface {
	Get(ctx context.Context, id string) (domain.User, error)
	Grant(ctx context.Context, id string, delta int64) (int64, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// UserHandler serves user and leaderboard endpoints.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler with the given service.
func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// userResponse is the wire shape of a user record.
type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Points      int64  `json:"points"`
	LastClaimAt string `json:"last_claim_at,omitempty"`
}

// GetUser returns one user by Discord ID.
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get user failed",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	resp := userResponse{
		ID:       u.ID,
		Username: u.Username,
		Points:   u.Points,
	}
	if u.LastClaimAt != nil {
		resp.LastClaimAt = u.LastClaimAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	writeJSON(w, http.StatusOK, resp)
}

// grantRequest is the body for the administrative grant endpoint.
type grantRequest struct {
	Delta int64 `json:"delta"`
}

// GrantPoints applies an administrative balance correction.
// POST /api/users/{id}/grant
func (h *UserHandler) GrantPoints(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must be non-zero")
		return
	}

	balance, err := h.users.Grant(r.Context(), id, req.Delta)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: grant failed",
			slog.String("user_id", id),
			slog.Int64("delta", req.Delta),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to grant points")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": id,
		"balance": balance,
	})
}

// Leaderboard returns the top balances.
// GET /api/leaderboard?limit=10
func (h *UserHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 10, 100)

	entries, err := h.users.Leaderboard(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: leaderboard failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   limit,
	})
}
