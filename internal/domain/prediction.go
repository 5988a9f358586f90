package domain

import "time"

// Direction is the side of a directional price bet.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Timeframe is the duration of a prediction or battle window.
type Timeframe string

const (
	Timeframe5m Timeframe = "5m"
	Timeframe1h Timeframe = "1h"
	Timeframe4h Timeframe = "4h"
	Timeframe1d Timeframe = "1d"
)

// Timeframes lists all supported timeframes in ascending order.
var Timeframes = []Timeframe{Timeframe5m, Timeframe1h, Timeframe4h, Timeframe1d}

// Duration returns the wall-clock span of the timeframe, or zero for an
// unknown value.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// MaxWager returns the per-timeframe wager cap. Short windows carry low caps
// so quick flips cannot drain the economy.
func (tf Timeframe) MaxWager() int64 {
	switch tf {
	case Timeframe5m:
		return 100
	case Timeframe1h:
		return 500
	case Timeframe4h:
		return 750
	case Timeframe1d:
		return 1000
	default:
		return 0
	}
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	return tf.Duration() > 0
}

// Prediction is a single user's directional bet on one token. PriceAtEnd and
// IsWon are set together, exactly once, when IsResolved flips true. The record
// is never deleted; settled predictions are archived to cold storage instead.
type Prediction struct {
	ID            string
	UserID        string
	TokenID       string
	TokenName     string
	Timeframe     Timeframe
	Direction     Direction
	PointsWagered int64
	PriceAtStart  float64
	PriceAtEnd    *float64
	ExpiresAt     time.Time
	IsResolved    bool
	IsWon         *bool
	CreatedAt     time.Time
}
