package service

import (
	"context"
	"sync"
	"time"

	"github.com/rcldev/tokenarena/internal/domain"
)

// In-memory fakes mirroring the atomicity contracts of the real adapters:
// conditional updates are performed under a single mutex so the tests exercise
// the same win-or-reject semantics the Postgres statements provide.

type fakeUserStore struct {
	mu          sync.Mutex
	balances    map[string]int64
	claims      map[string]time.Time
	now         func() time.Time
	creditCalls int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		balances: make(map[string]int64),
		claims:   make(map[string]time.Time),
		now:      time.Now,
	}
}

func (f *fakeUserStore) GetOrCreate(ctx context.Context, id, username string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[id]; !ok {
		f.balances[id] = 0
	}
	return domain.User{ID: id, Username: username, Points: f.balances[id]}, nil
}

func (f *fakeUserStore) Get(ctx context.Context, id string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return domain.User{ID: id, Points: bal}, nil
}

func (f *fakeUserStore) Credit(ctx context.Context, id string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creditCalls++
	if _, ok := f.balances[id]; !ok {
		return 0, domain.ErrNotFound
	}
	f.balances[id] += delta
	return f.balances[id], nil
}

// deposit applies a ledger mutation without going through the Credit entry
// point, the way the real stores fold payouts into their own statements.
func (f *fakeUserStore) deposit(id string, delta int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[id] += delta
}

func (f *fakeUserStore) creditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creditCalls
}

func (f *fakeUserStore) Debit(ctx context.Context, id string, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if bal < amount {
		return 0, domain.ErrInsufficientPoints
	}
	f.balances[id] = bal - amount
	return f.balances[id], nil
}

func (f *fakeUserStore) ClaimDaily(ctx context.Context, id string, amount int64, claimInterval time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[id]; !ok {
		return 0, domain.ErrNotFound
	}
	if last, ok := f.claims[id]; ok && f.now().Sub(last) < claimInterval {
		return 0, domain.ErrClaimNotReady
	}
	f.claims[id] = f.now()
	f.balances[id] += amount
	return f.balances[id], nil
}

func (f *fakeUserStore) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return nil, nil
}

func (f *fakeUserStore) balance(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[id]
}

type fakePredictionStore struct {
	mu    sync.Mutex
	preds map[string]domain.Prediction
	users *fakeUserStore
}

func newFakePredictionStore(users *fakeUserStore) *fakePredictionStore {
	return &fakePredictionStore{preds: make(map[string]domain.Prediction), users: users}
}

func (f *fakePredictionStore) Create(ctx context.Context, p domain.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.preds[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.preds[p.ID] = p
	return nil
}

func (f *fakePredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preds[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePredictionStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Prediction
	for _, p := range f.preds {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePredictionStore) MarkResolved(ctx context.Context, id string, priceAtEnd float64, isWon bool, payout int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.IsResolved {
		return domain.ErrAlreadyResolved
	}
	p.IsResolved = true
	p.PriceAtEnd = &priceAtEnd
	p.IsWon = &isWon
	f.preds[id] = p
	f.users.deposit(p.UserID, payout)
	return nil
}

func (f *fakePredictionStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.preds, id)
	return nil
}

func (f *fakePredictionStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Prediction
	for _, p := range f.preds {
		if p.IsResolved && p.ExpiresAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeBattleStore struct {
	mu      sync.Mutex
	battles map[string]domain.Battle
	users   *fakeUserStore
}

func newFakeBattleStore(users *fakeUserStore) *fakeBattleStore {
	return &fakeBattleStore{battles: make(map[string]domain.Battle), users: users}
}

func (f *fakeBattleStore) Create(ctx context.Context, b domain.Battle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.battles[b.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.battles[b.ID] = b
	return nil
}

func (f *fakeBattleStore) GetByID(ctx context.Context, id string) (domain.Battle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.battles[id]
	if !ok {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	return b, nil
}

func (f *fakeBattleStore) Join(ctx context.Context, id, joinerID, joinerToken string, creatorPrice, joinerPrice float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.battles[id]
	if !ok {
		return domain.ErrBattleNotFound
	}
	if b.Joined {
		return domain.ErrAlreadyJoined
	}
	b.Joined = true
	b.JoinerID = &joinerID
	b.JoinerToken = &joinerToken
	b.CreatorTokenPrice = &creatorPrice
	b.JoinerTokenPrice = &joinerPrice
	f.battles[id] = b
	return nil
}

func (f *fakeBattleStore) Settle(ctx context.Context, id, winnerID string, payout int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.battles[id]
	if !ok {
		return domain.ErrBattleNotFound
	}
	if b.Status != domain.BattleStatusOpen {
		return domain.ErrAlreadyResolved
	}
	b.Status = domain.BattleStatusSettled
	f.battles[id] = b
	if winnerID != "" {
		f.users.deposit(winnerID, payout)
	}
	return nil
}

func (f *fakeBattleStore) Refund(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.battles[id]
	if !ok {
		return domain.ErrBattleNotFound
	}
	if b.Status != domain.BattleStatusOpen {
		return domain.ErrAlreadyResolved
	}
	b.Status = domain.BattleStatusRefunded
	f.battles[id] = b
	f.users.deposit(b.CreatorID, b.Points)
	if b.JoinerID != nil {
		f.users.deposit(*b.JoinerID, b.Points)
	}
	return nil
}

func (f *fakeBattleStore) DeleteUnjoined(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.battles[id]
	if !ok || b.Joined {
		return false, nil
	}
	delete(f.battles, id)
	return true, nil
}

func (f *fakeBattleStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Battle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Battle
	for _, b := range f.battles {
		if b.Status != domain.BattleStatusOpen && b.EndTime.Before(before) {
			out = append(out, b)
		}
	}
	return out, nil
}

// fakeOracle serves prices from a map; unknown tokens and forced failures
// surface ErrPriceUnavailable like the real client.
type fakeOracle struct {
	mu     sync.Mutex
	prices map[string]float64
	fail   bool
	calls  int
}

func newFakeOracle(prices map[string]float64) *fakeOracle {
	return &fakeOracle{prices: prices}
}

func (f *fakeOracle) GetPrice(ctx context.Context, tokenID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return 0, domain.ErrPriceUnavailable
	}
	p, ok := f.prices[tokenID]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return p, nil
}

func (f *fakeOracle) setPrice(tokenID string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[tokenID] = price
}

func (f *fakeOracle) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

type scheduledJob struct {
	ID      string
	Payload domain.JobPayload
	Delay   time.Duration
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
	err  error
}

func (f *fakeScheduler) Schedule(ctx context.Context, jobID string, payload domain.JobPayload, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, scheduledJob{ID: jobID, Payload: payload, Delay: delay})
	return nil
}

func (f *fakeScheduler) Stats(ctx context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{}, nil
}

func (f *fakeScheduler) FailedJobs(ctx context.Context) ([]domain.Job, error) { return nil, nil }
func (f *fakeScheduler) RetryFailed(ctx context.Context, jobID string) error  { return nil }
func (f *fakeScheduler) PurgeAll(ctx context.Context) error                   { return nil }

func (f *fakeScheduler) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeScheduler) scheduled() []scheduledJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduledJob(nil), f.jobs...)
}

type postedNotice struct {
	ChannelID string
	Notice    domain.SettlementNotice
}

type fakePresenter struct {
	mu      sync.Mutex
	posts   []postedNotice
	deletes []string
}

func (f *fakePresenter) PostResult(ctx context.Context, channelID string, result domain.SettlementNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, postedNotice{ChannelID: channelID, Notice: result})
	return nil
}

func (f *fakePresenter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events [][]byte
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, payload)
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

// fakeLocks serialises per key with real mutexes so concurrent join tests
// exercise the lock path.
type fakeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{locks: make(map[string]*sync.Mutex)}
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	m, ok := f.locks[key]
	if !ok {
		m = &sync.Mutex{}
		f.locks[key] = m
	}
	f.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}
