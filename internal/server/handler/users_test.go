package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcldev/tokenarena/internal/domain"
)

type fakeUserService struct {
	users   map[string]domain.User
	granted map[string]int64
}

func (f *fakeUserService) Get(ctx context.Context, id string) (domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserService) Grant(ctx context.Context, id string, delta int64) (int64, error) {
	u, ok := f.users[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	u.Points += delta
	f.users[id] = u
	if f.granted == nil {
		f.granted = make(map[string]int64)
	}
	f.granted[id] += delta
	return u.Points, nil
}

func (f *fakeUserService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	entries := []domain.LeaderboardEntry{
		{Rank: 1, UserID: "u1", Username: "alice", Points: 900},
		{Rank: 2, UserID: "u2", Username: "bob", Points: 500},
	}
	if limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func newUserTestServer(svc UserService) *httptest.Server {
	logger := slog.New(slog.DiscardHandler)
	h := NewUserHandler(svc, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/{id}", h.GetUser)
	mux.HandleFunc("POST /api/users/{id}/grant", h.GrantPoints)
	mux.HandleFunc("GET /api/leaderboard", h.Leaderboard)
	return httptest.NewServer(mux)
}

func TestGetUser_ReturnsRecord(t *testing.T) {
	claimed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &fakeUserService{users: map[string]domain.User{
		"u1": {ID: "u1", Username: "alice", Points: 900, LastClaimAt: &claimed},
	}}
	srv := newUserTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/users/u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body userResponse
	require.NoError(t, decodeBody(resp, &body))
	assert.Equal(t, "u1", body.ID)
	assert.Equal(t, "alice", body.Username)
	assert.Equal(t, int64(900), body.Points)
	assert.Equal(t, "2026-01-02T03:04:05Z", body.LastClaimAt)
}

func TestGetUser_UnknownIs404(t *testing.T) {
	srv := newUserTestServer(&fakeUserService{users: map[string]domain.User{}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/users/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGrantPoints_AppliesDelta(t *testing.T) {
	svc := &fakeUserService{users: map[string]domain.User{
		"u1": {ID: "u1", Points: 100},
	}}
	srv := newUserTestServer(svc)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/users/u1/grant", "application/json",
		strings.NewReader(`{"delta":-40}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, decodeBody(resp, &body))
	assert.Equal(t, float64(60), body["balance"])
	assert.Equal(t, int64(-40), svc.granted["u1"])
}

func TestGrantPoints_RejectsZeroDelta(t *testing.T) {
	srv := newUserTestServer(&fakeUserService{users: map[string]domain.User{
		"u1": {ID: "u1", Points: 100},
	}})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/users/u1/grant", "application/json",
		strings.NewReader(`{"delta":0}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLeaderboard_CapsLimit(t *testing.T) {
	srv := newUserTestServer(&fakeUserService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/leaderboard?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Entries []domain.LeaderboardEntry `json:"entries"`
		Limit   int                       `json:"limit"`
	}
	require.NoError(t, decodeBody(resp, &body))
	assert.Equal(t, 1, body.Limit)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "alice", body.Entries[0].Username)
}
