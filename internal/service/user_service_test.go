package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcldev/tokenarena/internal/domain"
)

func newUserFixture(t *testing.T) (*UserService, *fakeUserStore) {
	t.Helper()
	users := newFakeUserStore()
	svc := NewUserService(users, 20, 24*time.Hour, discardLogger())
	return svc, users
}

func TestUserClaimDaily_GrantsOncePerInterval(t *testing.T) {
	svc, users := newUserFixture(t)
	_, err := users.GetOrCreate(context.Background(), "alice", "alice")
	require.NoError(t, err)

	balance, err := svc.ClaimDaily(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	// Second claim inside the cooldown is rejected without a grant.
	_, err = svc.ClaimDaily(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrClaimNotReady)
	assert.Equal(t, int64(20), users.balance("alice"))
}

func TestUserClaimDaily_AfterCooldown(t *testing.T) {
	svc, users := newUserFixture(t)
	_, err := users.GetOrCreate(context.Background(), "alice", "alice")
	require.NoError(t, err)

	_, err = svc.ClaimDaily(context.Background(), "alice")
	require.NoError(t, err)

	users.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	balance, err := svc.ClaimDaily(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestUserGrant_SupportsClawback(t *testing.T) {
	svc, users := newUserFixture(t)
	_, err := users.GetOrCreate(context.Background(), "alice", "alice")
	require.NoError(t, err)

	balance, err := svc.Grant(context.Background(), "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	balance, err = svc.Grant(context.Background(), "alice", -30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
}

func TestUserGet_Unknown(t *testing.T) {
	svc, _ := newUserFixture(t)
	_, err := svc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
