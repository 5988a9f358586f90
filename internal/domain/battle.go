package domain

import "time"

// BattleStatus is the lifecycle state of a battle record.
type BattleStatus string

const (
	// BattleStatusOpen covers both unjoined and joined battles awaiting
	// settlement; the Joined flag distinguishes the two.
	BattleStatusOpen BattleStatus = "open"
	// BattleStatusSettled means the result was computed and any payout applied.
	BattleStatusSettled BattleStatus = "settled"
	// BattleStatusRefunded means settlement could not complete (oracle failure)
	// and both stakes were returned.
	BattleStatusRefunded BattleStatus = "refunded"
)

// Battle is a two-party bet on two tokens' relative performance. Its ID equals
// the Discord message ID of the announcement, an external handle this core
// treats as opaque. The price snapshot pair is captured at join time, never at
// creation, and exists if and only if Joined is true.
type Battle struct {
	ID                string
	ChannelID         string
	CreatorID         string
	CreatorToken      string
	Joined            bool
	JoinerID          *string
	JoinerToken       *string
	Timeframe         Timeframe
	Points            int64
	StartTime         time.Time
	EndTime           time.Time
	CreatorTokenPrice *float64
	JoinerTokenPrice  *float64
	Status            BattleStatus
	CreatedAt         time.Time
}

// BattleResult is the settled outcome of a battle. Winner and Loser are empty
// on an exact performance tie, in which case no points move.
type BattleResult struct {
	BattleID    string
	Winner      string
	Loser       string
	Points      int64
	CreatorPerf float64
	JoinerPerf  float64
	Tie         bool
}

// PerformancePct returns the percentage change from start to end price.
// start must be positive; settlement refunds a battle whose snapshot is not
// rather than comparing against a zero base.
func PerformancePct(start, end float64) float64 {
	return (end - start) / start * 100
}
