package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcldev/tokenarena/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type predictionFixture struct {
	svc       *PredictionService
	users     *fakeUserStore
	preds     *fakePredictionStore
	oracle    *fakeOracle
	scheduler *fakeScheduler
	presenter *fakePresenter
	bus       *fakeBus
}

func newPredictionFixture(t *testing.T) *predictionFixture {
	t.Helper()
	users := newFakeUserStore()
	f := &predictionFixture{
		users:     users,
		preds:     newFakePredictionStore(users),
		oracle:    newFakeOracle(map[string]float64{"pepe": 1.0}),
		scheduler: &fakeScheduler{},
		presenter: &fakePresenter{},
		bus:       &fakeBus{},
	}
	f.svc = NewPredictionService(
		f.users, f.preds, f.oracle, f.scheduler, f.presenter, f.bus,
		2, "results-channel", discardLogger(),
	)
	return f
}

func (f *predictionFixture) fund(t *testing.T, userID string, points int64) {
	t.Helper()
	_, err := f.users.GetOrCreate(context.Background(), userID, userID)
	require.NoError(t, err)
	_, err = f.users.Credit(context.Background(), userID, points)
	require.NoError(t, err)
}

func TestPredictionCreate_DebitsAndSchedules(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)

	p, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	require.NoError(t, err)

	assert.Equal(t, int64(400), f.users.balance("alice"))
	assert.Equal(t, 1.0, p.PriceAtStart)
	assert.False(t, p.IsResolved)

	jobs := f.scheduler.scheduled()
	require.Len(t, jobs, 1)
	assert.Equal(t, "prediction:"+p.ID, jobs[0].ID)
	assert.Equal(t, domain.JobPredictionResolve, jobs[0].Payload.Kind)
	assert.Equal(t, p.ID, jobs[0].Payload.PredictionID)
	assert.InDelta(t, time.Hour, jobs[0].Delay, float64(time.Second))
}

func TestPredictionCreate_RejectsInvalidWagers(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 5000)

	_, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe5m, domain.DirectionUp, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidWager)

	_, err = f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe5m, domain.DirectionUp, 101)
	assert.ErrorIs(t, err, domain.ErrWagerTooHigh)

	_, err = f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe("2w"), domain.DirectionUp, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidWager)

	// Validation failures never touch the balance.
	assert.Equal(t, int64(5000), f.users.balance("alice"))
	assert.Empty(t, f.scheduler.scheduled())
}

func TestPredictionCreate_InsufficientPoints(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 50)

	_, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)
	assert.Equal(t, int64(50), f.users.balance("alice"))
}

func TestPredictionCreate_RefundsOnOracleFailure(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)
	f.oracle.setFail(true)

	_, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	// The debit was compensated, not silently lost.
	assert.Equal(t, int64(500), f.users.balance("alice"))
	assert.Empty(t, f.scheduler.scheduled())
}

func TestPredictionCreate_RefundsOnScheduleFailure(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)
	f.scheduler.failWith(errors.New("queue down"))

	_, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	require.Error(t, err)

	// The wager came back and no orphaned record survives without a job.
	assert.Equal(t, int64(500), f.users.balance("alice"))
	preds, err := f.preds.ListByUser(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestPredictionResolve_UpWinPaysDouble(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)

	p, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	require.NoError(t, err)

	f.oracle.setPrice("pepe", 1.5)
	resolved, err := f.svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)

	require.NotNil(t, resolved.IsWon)
	assert.True(t, *resolved.IsWon)
	assert.True(t, resolved.IsResolved)
	// 500 - 100 wager + 200 payout.
	assert.Equal(t, int64(600), f.users.balance("alice"))
}

func TestPredictionResolve_PayoutRidesResolveMutation(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)

	p, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	require.NoError(t, err)

	credits := f.users.creditCount()
	f.oracle.setPrice("pepe", 1.5)
	_, err = f.svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)

	// The payout lands through the store's resolve mutation, never as a
	// separate ledger call that could be lost after the resolve flip.
	assert.Equal(t, int64(600), f.users.balance("alice"))
	assert.Equal(t, credits, f.users.creditCount())
}

func TestPredictionResolve_DownWin(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)

	p, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionDown, 100)
	require.NoError(t, err)

	f.oracle.setPrice("pepe", 0.5)
	resolved, err := f.svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, *resolved.IsWon)
	assert.Equal(t, int64(600), f.users.balance("alice"))
}

func TestPredictionResolve_ExactTieIsALoss(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)

	p, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	require.NoError(t, err)

	// End price exactly equals start price.
	resolved, err := f.svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)

	require.NotNil(t, resolved.IsWon)
	assert.False(t, *resolved.IsWon)
	assert.Equal(t, int64(400), f.users.balance("alice"))
}

func TestPredictionResolve_DuplicateDeliveryCreditsOnce(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)

	p, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	require.NoError(t, err)

	f.oracle.setPrice("pepe", 2.0)
	_, err = f.svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)

	again, err := f.svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, again.IsResolved)

	// The payout landed exactly once.
	assert.Equal(t, int64(600), f.users.balance("alice"))
}

func TestPredictionResolve_OracleFailureLeavesUnresolved(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)

	p, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	require.NoError(t, err)

	f.oracle.setFail(true)
	_, err = f.svc.Resolve(context.Background(), p.ID)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	stored, err := f.preds.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsResolved)
	assert.Equal(t, int64(400), f.users.balance("alice"))
}

func TestPredictionResolve_AnnouncesResult(t *testing.T) {
	f := newPredictionFixture(t)
	f.fund(t, "alice", 500)

	p, err := f.svc.Create(context.Background(), "alice", "pepe", "PEPE",
		domain.Timeframe1h, domain.DirectionUp, 100)
	require.NoError(t, err)

	f.oracle.setPrice("pepe", 2.0)
	_, err = f.svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)

	require.Len(t, f.presenter.posts, 1)
	assert.Equal(t, "results-channel", f.presenter.posts[0].ChannelID)
	assert.Equal(t, "alice", f.presenter.posts[0].Notice.UserID)
	assert.Len(t, f.bus.events, 1)
}
