package domain

import "time"

// User is a Discord member participating in the points game. The ID is the
// Discord snowflake, opaque to this core.
type User struct {
	ID          string
	Username    string
	Points      int64
	LastClaimAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LeaderboardEntry is a single row of the points leaderboard.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Points   int64  `json:"points"`
}
