package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rcldev/tokenarena/internal/domain"
)

// joinLockTTL bounds how long a crashed join attempt can hold a battle's lock.
const joinLockTTL = 15 * time.Second

// BattleService is the battle settlement engine. A battle is a two-party bet
// on relative token performance: the creator stakes at creation, the joiner at
// join time, and a delayed job settles the pair after the timeframe elapses.
// An unjoined battle is expired by a second delayed job after the join window.
type BattleService struct {
	users            domain.UserStore
	battles          domain.BattleStore
	oracle           domain.PriceOracle
	scheduler        domain.Scheduler
	presenter        domain.Presenter
	bus              domain.SignalBus
	locks            domain.LockManager
	payoutMultiplier int64
	joinWindow       time.Duration
	now              func() time.Time
	logger           *slog.Logger
}

// NewBattleService creates a BattleService with all required dependencies.
func NewBattleService(
	users domain.UserStore,
	battles domain.BattleStore,
	oracle domain.PriceOracle,
	scheduler domain.Scheduler,
	presenter domain.Presenter,
	bus domain.SignalBus,
	locks domain.LockManager,
	payoutMultiplier int64,
	joinWindow time.Duration,
	logger *slog.Logger,
) *BattleService {
	return &BattleService{
		users:            users,
		battles:          battles,
		oracle:           oracle,
		scheduler:        scheduler,
		presenter:        presenter,
		bus:              bus,
		locks:            locks,
		payoutMultiplier: payoutMultiplier,
		joinWindow:       joinWindow,
		now:              time.Now,
		logger:           logger,
	}
}

// Create opens a battle. battleID is the Discord message ID of the
// announcement, which doubles as the record's primary key. The creator's
// stake is debited up front; every later failure on the create path credits
// it back before returning.
func (s *BattleService) Create(
	ctx context.Context,
	battleID, channelID, creatorID, creatorToken string,
	timeframe domain.Timeframe,
	points int64,
) (domain.Battle, error) {
	if !timeframe.Valid() {
		return domain.Battle{}, fmt.Errorf("battle_service: timeframe %q: %w", timeframe, domain.ErrInvalidWager)
	}
	if points <= 0 {
		return domain.Battle{}, fmt.Errorf("battle_service: stake %d: %w", points, domain.ErrInvalidWager)
	}

	if _, err := s.users.Debit(ctx, creatorID, points); err != nil {
		return domain.Battle{}, fmt.Errorf("battle_service: debit creator stake: %w", err)
	}

	now := s.now()
	b := domain.Battle{
		ID:           battleID,
		ChannelID:    channelID,
		CreatorID:    creatorID,
		CreatorToken: creatorToken,
		Timeframe:    timeframe,
		Points:       points,
		StartTime:    now,
		EndTime:      now.Add(timeframe.Duration()),
		Status:       domain.BattleStatusOpen,
		CreatedAt:    now,
	}

	if err := s.battles.Create(ctx, b); err != nil {
		s.refund(ctx, creatorID, points, "battle persist failed")
		return domain.Battle{}, fmt.Errorf("battle_service: persist battle: %w", err)
	}

	payload := domain.JobPayload{Kind: domain.JobBattleExpire, BattleID: battleID}
	if err := s.scheduler.Schedule(ctx, "battle_expire:"+battleID, payload, s.joinWindow); err != nil {
		// An open battle with no expire job would hold the stake forever. The
		// record is still unjoined, so the conditional delete tears it down,
		// then the stake comes back.
		if _, delErr := s.battles.DeleteUnjoined(ctx, battleID); delErr != nil {
			s.logger.ErrorContext(ctx, "battle_service: unwind delete failed",
				slog.String("battle_id", battleID),
				slog.String("error", delErr.Error()),
			)
		}
		s.refund(ctx, creatorID, points, "schedule expire failed")
		return domain.Battle{}, fmt.Errorf("battle_service: schedule expire: %w", err)
	}

	s.logger.InfoContext(ctx, "battle_service: battle created",
		slog.String("battle_id", battleID),
		slog.String("creator_id", creatorID),
		slog.String("token", creatorToken),
		slog.String("timeframe", string(timeframe)),
		slog.Int64("points", points),
	)
	return b, nil
}

// Join enters an open battle as the second party. The whole transaction runs
// under a per-battle lock, and the joined transition itself is a conditional
// store update, so two concurrent joiners (or a joiner racing the expiry job)
// resolve deterministically: one wins, the other sees ErrAlreadyJoined. Any
// failure after the joiner's stake is debited credits it back before
// returning.
func (s *BattleService) Join(ctx context.Context, battleID, joinerID, joinerToken string) (domain.Battle, error) {
	unlock, err := s.locks.Acquire(ctx, "battle:join:"+battleID, joinLockTTL)
	if err != nil {
		return domain.Battle{}, fmt.Errorf("battle_service: lock battle %q: %w", battleID, err)
	}
	defer unlock()

	b, err := s.battles.GetByID(ctx, battleID)
	if err != nil {
		return domain.Battle{}, fmt.Errorf("battle_service: load battle %q: %w", battleID, err)
	}
	if b.Joined {
		return domain.Battle{}, fmt.Errorf("battle_service: battle %q: %w", battleID, domain.ErrAlreadyJoined)
	}
	if joinerID == b.CreatorID {
		return domain.Battle{}, fmt.Errorf("battle_service: battle %q: %w", battleID, domain.ErrSelfJoin)
	}

	if _, err := s.users.Debit(ctx, joinerID, b.Points); err != nil {
		return domain.Battle{}, fmt.Errorf("battle_service: debit joiner stake: %w", err)
	}

	// Snapshot both tokens at join time; the settlement compares against this
	// pair, not against creation-time prices.
	creatorPrice, err := s.oracle.GetPrice(ctx, b.CreatorToken)
	if err != nil {
		s.refund(ctx, joinerID, b.Points, "creator token price unavailable")
		return domain.Battle{}, fmt.Errorf("battle_service: snapshot %q: %w", b.CreatorToken, err)
	}
	joinerPrice, err := s.oracle.GetPrice(ctx, joinerToken)
	if err != nil {
		s.refund(ctx, joinerID, b.Points, "joiner token price unavailable")
		return domain.Battle{}, fmt.Errorf("battle_service: snapshot %q: %w", joinerToken, err)
	}

	// The check job goes in before the joined transition. If the transition
	// then loses its race the job fires against a battle that never joined
	// and degrades to a no-op, whereas the reverse order could commit a
	// joined battle that no job will ever settle.
	payload := domain.JobPayload{Kind: domain.JobBattleCheck, BattleID: battleID}
	if err := s.scheduler.Schedule(ctx, "battle_check:"+battleID, payload, b.EndTime.Sub(s.now())); err != nil {
		s.refund(ctx, joinerID, b.Points, "schedule check failed")
		return domain.Battle{}, fmt.Errorf("battle_service: schedule check: %w", err)
	}

	if err := s.battles.Join(ctx, battleID, joinerID, joinerToken, creatorPrice, joinerPrice); err != nil {
		// Lost the transition race (or the expiry job deleted the record
		// while we were fetching prices). The stake comes back either way;
		// the already-scheduled check job finds nothing joined and no-ops.
		s.refund(ctx, joinerID, b.Points, "join transition rejected")
		return domain.Battle{}, fmt.Errorf("battle_service: join battle %q: %w", battleID, err)
	}

	b.Joined = true
	b.JoinerID = &joinerID
	b.JoinerToken = &joinerToken
	b.CreatorTokenPrice = &creatorPrice
	b.JoinerTokenPrice = &joinerPrice

	s.logger.InfoContext(ctx, "battle_service: battle joined",
		slog.String("battle_id", battleID),
		slog.String("joiner_id", joinerID),
		slog.String("token", joinerToken),
		slog.Int64("points", b.Points),
	)
	return b, nil
}

// CheckResult settles a joined battle at its end time. Early or duplicate
// deliveries degrade to no-ops. When no fair outcome can be computed, an
// oracle failure at settlement or an unusable price snapshot, both stakes are
// credited back and the battle is marked refunded.
func (s *BattleService) CheckResult(ctx context.Context, battleID string) (domain.BattleResult, error) {
	b, err := s.battles.GetByID(ctx, battleID)
	if err != nil {
		if errors.Is(err, domain.ErrBattleNotFound) {
			// Expired and deleted before the check fired.
			s.logger.WarnContext(ctx, "battle_service: check on missing battle",
				slog.String("battle_id", battleID),
			)
			return domain.BattleResult{}, nil
		}
		return domain.BattleResult{}, fmt.Errorf("battle_service: load battle %q: %w", battleID, err)
	}
	if !b.Joined || b.Status != domain.BattleStatusOpen {
		return domain.BattleResult{}, nil
	}
	if now := s.now(); now.Before(b.EndTime) {
		// Fired early; reschedule for the remaining window. The fresh job ID
		// keeps the retry clear of the dedup guard while this delivery is
		// still in flight.
		payload := domain.JobPayload{Kind: domain.JobBattleCheck, BattleID: battleID}
		jobID := fmt.Sprintf("battle_check:%s:%d", battleID, now.UnixMilli())
		if err := s.scheduler.Schedule(ctx, jobID, payload, b.EndTime.Sub(now)); err != nil {
			return domain.BattleResult{}, fmt.Errorf("battle_service: reschedule check: %w", err)
		}
		return domain.BattleResult{}, nil
	}

	// A zero start snapshot would make the performance math divide by zero
	// and settle on garbage. No fair comparison exists, so the stakes come
	// back instead.
	if *b.CreatorTokenPrice <= 0 || *b.JoinerTokenPrice <= 0 {
		return s.refundBattle(ctx, b,
			fmt.Errorf("unusable start price snapshot: creator %v, joiner %v",
				*b.CreatorTokenPrice, *b.JoinerTokenPrice))
	}

	creatorEnd, errC := s.oracle.GetPrice(ctx, b.CreatorToken)
	var joinerEnd float64
	var errJ error
	if errC == nil {
		joinerEnd, errJ = s.oracle.GetPrice(ctx, *b.JoinerToken)
	}
	if errC != nil || errJ != nil {
		fetchErr := errC
		if fetchErr == nil {
			fetchErr = errJ
		}
		return s.refundBattle(ctx, b, fetchErr)
	}

	creatorPerf := domain.PerformancePct(*b.CreatorTokenPrice, creatorEnd)
	joinerPerf := domain.PerformancePct(*b.JoinerTokenPrice, joinerEnd)

	result := domain.BattleResult{
		BattleID:    battleID,
		Points:      b.Points,
		CreatorPerf: creatorPerf,
		JoinerPerf:  joinerPerf,
	}
	switch {
	case creatorPerf > joinerPerf:
		result.Winner, result.Loser = b.CreatorID, *b.JoinerID
	case joinerPerf > creatorPerf:
		result.Winner, result.Loser = *b.JoinerID, b.CreatorID
	default:
		// Exact tie: no winner and no payout. Stakes stay burned; this is a
		// deliberate policy, not an oversight.
		result.Tie = true
	}

	// The status transition is the settlement gate: only the delivery that
	// wins it settles, and the store applies the transition and the winner's
	// payout as one mutation, so a duplicate check job cannot double-credit
	// and a settled battle can never owe an unpaid winner.
	var payout int64
	if !result.Tie {
		payout = b.Points * s.payoutMultiplier
	}
	if err := s.battles.Settle(ctx, battleID, result.Winner, payout); err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			return domain.BattleResult{}, nil
		}
		return domain.BattleResult{}, fmt.Errorf("battle_service: settle battle %q: %w", battleID, err)
	}

	s.logger.InfoContext(ctx, "battle_service: battle settled",
		slog.String("battle_id", battleID),
		slog.String("winner", result.Winner),
		slog.Bool("tie", result.Tie),
		slog.Float64("creator_perf", creatorPerf),
		slog.Float64("joiner_perf", joinerPerf),
	)

	s.announceResult(ctx, b, result)
	return result, nil
}

// ExpireUnjoined tears down a battle nobody joined within the join window.
// A join that completed just before the job fired makes this a no-op; the
// conditional delete is what arbitrates that race.
func (s *BattleService) ExpireUnjoined(ctx context.Context, battleID string) error {
	b, err := s.battles.GetByID(ctx, battleID)
	if err != nil {
		if errors.Is(err, domain.ErrBattleNotFound) {
			return nil
		}
		return fmt.Errorf("battle_service: load battle %q: %w", battleID, err)
	}

	deleted, err := s.battles.DeleteUnjoined(ctx, battleID)
	if err != nil {
		return fmt.Errorf("battle_service: delete unjoined battle %q: %w", battleID, err)
	}
	if !deleted {
		// Joined in the meantime; the check job owns it now.
		return nil
	}

	s.refund(ctx, b.CreatorID, b.Points, "battle expired unjoined")

	// Take the stale announcement down; best-effort.
	if s.presenter != nil {
		if err := s.presenter.DeleteMessage(ctx, b.ChannelID, battleID); err != nil {
			s.logger.WarnContext(ctx, "battle_service: delete announcement failed",
				slog.String("battle_id", battleID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "battle_service: battle expired",
		slog.String("battle_id", battleID),
		slog.String("creator_id", b.CreatorID),
		slog.Int64("points", b.Points),
	)
	return nil
}

// refundBattle returns both stakes when settlement cannot produce a fair
// outcome and marks the battle refunded. The store applies the transition and
// both credits as one mutation.
func (s *BattleService) refundBattle(ctx context.Context, b domain.Battle, cause error) (domain.BattleResult, error) {
	if err := s.battles.Refund(ctx, b.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			return domain.BattleResult{}, nil
		}
		return domain.BattleResult{}, fmt.Errorf("battle_service: refund battle %q: %w", b.ID, err)
	}

	s.logger.ErrorContext(ctx, "battle_service: settlement failed, stakes refunded",
		slog.String("battle_id", b.ID),
		slog.String("error", cause.Error()),
	)

	if s.presenter != nil {
		notice := domain.SettlementNotice{
			Title: "Battle refunded",
			Lines: []string{
				"Price data was unavailable at settlement time.",
				fmt.Sprintf("Both stakes of %d points have been returned.", b.Points),
			},
		}
		if err := s.presenter.PostResult(ctx, b.ChannelID, notice); err != nil {
			s.logger.WarnContext(ctx, "battle_service: post refund notice failed",
				slog.String("battle_id", b.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return domain.BattleResult{BattleID: b.ID, Points: b.Points}, nil
}

// announceResult posts the settled outcome and publishes a settlement event,
// both best-effort.
func (s *BattleService) announceResult(ctx context.Context, b domain.Battle, result domain.BattleResult) {
	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":        "battle_settled",
			"battle_id":    b.ID,
			"winner":       result.Winner,
			"tie":          result.Tie,
			"points":       b.Points,
			"creator_perf": result.CreatorPerf,
			"joiner_perf":  result.JoinerPerf,
			"settled_at":   s.now().Format(time.RFC3339),
		})
		if err := s.bus.Publish(ctx, "settlements", evt); err != nil {
			s.logger.WarnContext(ctx, "battle_service: publish event failed",
				slog.String("battle_id", b.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.presenter == nil {
		return
	}

	notice := domain.SettlementNotice{
		Lines: []string{
			fmt.Sprintf("%s: %+.2f%%", b.CreatorToken, result.CreatorPerf),
			fmt.Sprintf("%s: %+.2f%%", *b.JoinerToken, result.JoinerPerf),
		},
	}
	if result.Tie {
		notice.Title = "Battle ended in a dead heat"
		notice.Lines = append(notice.Lines, "No payout on an exact tie.")
	} else {
		notice.Title = "Battle settled"
		notice.UserID = result.Winner
		notice.Lines = append(notice.Lines,
			fmt.Sprintf("Winner takes **%d points**.", b.Points*s.payoutMultiplier))
	}
	if err := s.presenter.PostResult(ctx, b.ChannelID, notice); err != nil {
		s.logger.WarnContext(ctx, "battle_service: post result failed",
			slog.String("battle_id", b.ID),
			slog.String("error", err.Error()),
		)
	}
}

// refund is the compensating credit shared by every failure path.
func (s *BattleService) refund(ctx context.Context, userID string, amount int64, reason string) {
	if _, err := s.users.Credit(ctx, userID, amount); err != nil {
		s.logger.ErrorContext(ctx, "battle_service: refund failed",
			slog.String("user_id", userID),
			slog.Int64("amount", amount),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "battle_service: stake refunded",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.String("reason", reason),
	)
}
