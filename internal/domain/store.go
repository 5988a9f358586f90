package domain

import (
	"context"
	"time"
)

// UserStore is the point ledger. Every balance mutation must be a single
// atomic statement against storage; the engines never read a balance and
// write it back.
type UserStore interface {
	GetOrCreate(ctx context.Context, id, username string) (User, error)
	Get(ctx context.Context, id string) (User, error)

	// Credit adds delta points (delta may be negative for administrative
	// corrections) and returns the committed balance.
	Credit(ctx context.Context, id string, delta int64) (int64, error)

	// Debit removes amount points only when the balance covers it. It returns
	// ErrInsufficientPoints, with no mutation, when it does not.
	Debit(ctx context.Context, id string, amount int64) (int64, error)

	// ClaimDaily credits amount points only when the previous claim is at
	// least claimInterval old. It returns ErrClaimNotReady otherwise.
	ClaimDaily(ctx context.Context, id string, amount int64, claimInterval time.Duration) (int64, error)

	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// PredictionStore persists prediction records.
type PredictionStore interface {
	Create(ctx context.Context, p Prediction) error
	GetByID(ctx context.Context, id string) (Prediction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Prediction, error)

	// MarkResolved sets priceAtEnd and isWon, flips isResolved, and credits
	// payout to the bettor, all in one atomic mutation conditional on the
	// record still being unresolved. It returns ErrAlreadyResolved when
	// another delivery got there first, which is what makes duplicate job
	// execution safe: the resolve flip and the payout land together or not
	// at all. payout is zero on a loss.
	MarkResolved(ctx context.Context, id string, priceAtEnd float64, isWon bool, payout int64) error

	// Delete removes the record. Used to unwind a creation whose resolve job
	// could not be scheduled; a record with no job would sit unresolved
	// forever.
	Delete(ctx context.Context, id string) error

	// ListResolvedBefore returns resolved predictions that expired strictly
	// before the cutoff, for cold-storage archival.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Prediction, error)
}

// BattleStore persists battle records.
type BattleStore interface {
	Create(ctx context.Context, b Battle) error
	GetByID(ctx context.Context, id string) (Battle, error)

	// Join atomically transitions an unjoined battle to joined, recording the
	// joiner and the price snapshot pair. The update is conditional on
	// joined = FALSE; it returns ErrAlreadyJoined when the condition fails and
	// ErrBattleNotFound when the record does not exist.
	Join(ctx context.Context, id, joinerID, joinerToken string, creatorPrice, joinerPrice float64) error

	// Settle transitions an open battle to settled and credits payout to
	// winnerID in one atomic mutation; an empty winnerID records a tie with
	// no payout. It returns ErrAlreadyResolved once the battle is terminal,
	// which gates the payout to exactly one caller and makes it impossible
	// for the transition to commit without the credit.
	Settle(ctx context.Context, id, winnerID string, payout int64) error

	// Refund transitions an open battle to refunded and credits each party's
	// stake back, all in one atomic mutation. ErrAlreadyResolved once the
	// battle is terminal.
	Refund(ctx context.Context, id string) error

	// DeleteUnjoined removes the battle only while it is still unjoined. It
	// reports whether a row was deleted, so an expire job racing a completed
	// join degrades to a no-op.
	DeleteUnjoined(ctx context.Context, id string) (bool, error)

	// ListSettledBefore returns terminal battles that ended strictly before
	// the cutoff, for cold-storage archival.
	ListSettledBefore(ctx context.Context, before time.Time) ([]Battle, error)
}
