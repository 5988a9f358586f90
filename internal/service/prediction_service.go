package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rcldev/tokenarena/internal/domain"
)

// PredictionService is the prediction settlement engine. A prediction debits
// the wager up front, snapshots the token price, and schedules its own
// resolution; the resolve path is idempotent so a duplicate job delivery can
// never credit a payout twice.
type PredictionService struct {
	users            domain.UserStore
	predictions      domain.PredictionStore
	oracle           domain.PriceOracle
	scheduler        domain.Scheduler
	presenter        domain.Presenter
	bus              domain.SignalBus
	payoutMultiplier int64
	resultChannel    string
	now              func() time.Time
	logger           *slog.Logger
}

// NewPredictionService creates a PredictionService with all required
// dependencies. presenter and bus may be nil in worker-only setups that post
// results elsewhere.
func NewPredictionService(
	users domain.UserStore,
	predictions domain.PredictionStore,
	oracle domain.PriceOracle,
	scheduler domain.Scheduler,
	presenter domain.Presenter,
	bus domain.SignalBus,
	payoutMultiplier int64,
	resultChannel string,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		users:            users,
		predictions:      predictions,
		oracle:           oracle,
		scheduler:        scheduler,
		presenter:        presenter,
		bus:              bus,
		payoutMultiplier: payoutMultiplier,
		resultChannel:    resultChannel,
		now:              time.Now,
		logger:           logger,
	}
}

// Create places a directional bet. The wager is debited before anything else
// touches external systems; every later failure on the create path credits it
// back before returning, so a failed creation is never a silent point loss.
func (s *PredictionService) Create(
	ctx context.Context,
	userID, tokenID, tokenName string,
	timeframe domain.Timeframe,
	direction domain.Direction,
	pointsWagered int64,
) (domain.Prediction, error) {
	if !timeframe.Valid() {
		return domain.Prediction{}, fmt.Errorf("prediction_service: timeframe %q: %w", timeframe, domain.ErrInvalidWager)
	}
	if !direction.Valid() {
		return domain.Prediction{}, fmt.Errorf("prediction_service: direction %q: %w", direction, domain.ErrInvalidWager)
	}
	if pointsWagered <= 0 {
		return domain.Prediction{}, fmt.Errorf("prediction_service: wager %d: %w", pointsWagered, domain.ErrInvalidWager)
	}
	if max := timeframe.MaxWager(); pointsWagered > max {
		return domain.Prediction{}, fmt.Errorf("prediction_service: wager %d exceeds %d for %s: %w",
			pointsWagered, max, timeframe, domain.ErrWagerTooHigh)
	}

	// Pessimistic reservation: the stake is at risk from this point on.
	if _, err := s.users.Debit(ctx, userID, pointsWagered); err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: debit wager: %w", err)
	}

	priceAtStart, err := s.oracle.GetPrice(ctx, tokenID)
	if err != nil {
		s.refund(ctx, userID, pointsWagered, "start price unavailable")
		return domain.Prediction{}, fmt.Errorf("prediction_service: start price for %q: %w", tokenID, err)
	}

	now := s.now()
	p := domain.Prediction{
		ID:            uuid.NewString(),
		UserID:        userID,
		TokenID:       tokenID,
		TokenName:     tokenName,
		Timeframe:     timeframe,
		Direction:     direction,
		PointsWagered: pointsWagered,
		PriceAtStart:  priceAtStart,
		ExpiresAt:     now.Add(timeframe.Duration()),
		CreatedAt:     now,
	}

	if err := s.predictions.Create(ctx, p); err != nil {
		s.refund(ctx, userID, pointsWagered, "persist failed")
		return domain.Prediction{}, fmt.Errorf("prediction_service: persist prediction: %w", err)
	}

	payload := domain.JobPayload{Kind: domain.JobPredictionResolve, PredictionID: p.ID}
	if err := s.scheduler.Schedule(ctx, "prediction:"+p.ID, payload, p.ExpiresAt.Sub(now)); err != nil {
		// A record with no resolve job would hold the stake forever. Tear the
		// creation back down: drop the record, then credit the wager back.
		if delErr := s.predictions.Delete(ctx, p.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "prediction_service: unwind delete failed",
				slog.String("prediction_id", p.ID),
				slog.String("error", delErr.Error()),
			)
		}
		s.refund(ctx, userID, pointsWagered, "schedule resolve failed")
		return domain.Prediction{}, fmt.Errorf("prediction_service: schedule resolve: %w", err)
	}

	s.logger.InfoContext(ctx, "prediction_service: prediction created",
		slog.String("prediction_id", p.ID),
		slog.String("user_id", userID),
		slog.String("token", tokenName),
		slog.String("timeframe", string(timeframe)),
		slog.String("direction", string(direction)),
		slog.Int64("wager", pointsWagered),
	)
	return p, nil
}

// Resolve settles a prediction at its deadline. It is safe under duplicate
// delivery: the store's conditional resolve update admits exactly one caller,
// and only that caller credits the payout. Late duplicates observe the record
// already resolved and return it unchanged.
func (s *PredictionService) Resolve(ctx context.Context, predictionID string) (domain.Prediction, error) {
	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: load prediction %q: %w", predictionID, err)
	}
	if p.IsResolved {
		return p, nil
	}

	priceAtEnd, err := s.oracle.GetPrice(ctx, p.TokenID)
	if err != nil {
		// Let the scheduler retry; the record stays unresolved.
		return domain.Prediction{}, fmt.Errorf("prediction_service: end price for %q: %w", p.TokenID, err)
	}

	// Exact equality is a loss; UP must strictly rise, DOWN must strictly fall.
	var isWon bool
	if p.Direction == domain.DirectionUp {
		isWon = priceAtEnd > p.PriceAtStart
	} else {
		isWon = priceAtEnd < p.PriceAtStart
	}

	var payout int64
	if isWon {
		payout = p.PointsWagered * s.payoutMultiplier
	}

	// The store applies the resolve flip and the payout as one mutation, so a
	// failure here leaves the record unresolved for the scheduler to retry and
	// a success can never strand a won record with an uncredited payout.
	if err := s.predictions.MarkResolved(ctx, predictionID, priceAtEnd, isWon, payout); err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			// Lost the resolve race to a duplicate delivery.
			return s.predictions.GetByID(ctx, predictionID)
		}
		return domain.Prediction{}, fmt.Errorf("prediction_service: mark resolved %q: %w", predictionID, err)
	}

	p.IsResolved = true
	p.IsWon = &isWon
	p.PriceAtEnd = &priceAtEnd

	s.logger.InfoContext(ctx, "prediction_service: prediction resolved",
		slog.String("prediction_id", predictionID),
		slog.String("user_id", p.UserID),
		slog.Bool("won", isWon),
		slog.Int64("payout", payout),
	)

	s.announceResolution(ctx, p, payout)
	return p, nil
}

// ListByUser returns a user's recent predictions.
func (s *PredictionService) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Prediction, error) {
	if limit <= 0 {
		limit = 20
	}
	preds, err := s.predictions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: list for %q: %w", userID, err)
	}
	return preds, nil
}

// announceResolution posts the result and publishes a settlement event. Both
// are best-effort; the ledger mutation is already committed.
func (s *PredictionService) announceResolution(ctx context.Context, p domain.Prediction, payout int64) {
	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":         "prediction_resolved",
			"prediction_id": p.ID,
			"user_id":       p.UserID,
			"token":         p.TokenName,
			"won":           *p.IsWon,
			"payout":        payout,
			"resolved_at":   s.now().Format(time.RFC3339),
		})
		if err := s.bus.Publish(ctx, "settlements", evt); err != nil {
			s.logger.WarnContext(ctx, "prediction_service: publish event failed",
				slog.String("prediction_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.presenter == nil {
		return
	}

	verb := "lost"
	outcome := fmt.Sprintf("The wager of %d points is gone.", p.PointsWagered)
	if *p.IsWon {
		verb = "won"
		outcome = fmt.Sprintf("Payout: **%d points**.", payout)
	}
	notice := domain.SettlementNotice{
		Title:  fmt.Sprintf("Prediction %s: %s %s", verb, p.TokenName, strings.ToUpper(string(p.Direction))),
		UserID: p.UserID,
		Lines: []string{
			fmt.Sprintf("Start price: $%.6f", p.PriceAtStart),
			fmt.Sprintf("End price: $%.6f", *p.PriceAtEnd),
			outcome,
		},
	}
	if err := s.presenter.PostResult(ctx, s.resultChannel, notice); err != nil {
		s.logger.WarnContext(ctx, "prediction_service: post result failed",
			slog.String("prediction_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// refund is the compensating credit for a failed create path.
func (s *PredictionService) refund(ctx context.Context, userID string, amount int64, reason string) {
	if _, err := s.users.Credit(ctx, userID, amount); err != nil {
		s.logger.ErrorContext(ctx, "prediction_service: refund failed",
			slog.String("user_id", userID),
			slog.Int64("amount", amount),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "prediction_service: wager refunded",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.String("reason", reason),
	)
}
