package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrWagerTooHigh       = errors.New("wager exceeds timeframe maximum")
	ErrInvalidWager       = errors.New("invalid wager amount")
	ErrBattleNotFound     = errors.New("battle not found")
	ErrAlreadyJoined      = errors.New("battle already has a joiner")
	ErrSelfJoin           = errors.New("cannot join your own battle")
	ErrAlreadyResolved    = errors.New("already resolved")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrClaimNotReady      = errors.New("daily claim not ready")
	ErrLockHeld           = errors.New("lock already held")
)
