package auth

import (
	"testing"
	"time"

	"github.com/authgate/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutPolicy_FiveFailuresLock(t *testing.T) {
	t.Parallel()

	p := NewLockoutPolicy(0, 0)
	require.Equal(t, DefaultLockoutThreshold, p.Threshold)
	require.Equal(t, DefaultLockoutDuration, p.Duration)

	account := types.Account{ID: "a"}
	now := t0
	for i := 1; i <= 4; i++ {
		update, locked := p.Failure(account, now)
		require.False(t, locked, "attempt %d", i)
		account = update.Apply(account)
		assert.Equal(t, i, account.FailedAttempts)
		assert.Nil(t, account.LockedUntil)
		assert.False(t, p.State(account, now).Locked)
	}

	update, locked := p.Failure(account, now)
	require.True(t, locked)
	account = update.Apply(account)
	assert.Equal(t, 5, account.FailedAttempts)
	require.NotNil(t, account.LockedUntil)
	assert.True(t, account.LockedUntil.Equal(now.Add(3*time.Minute)))

	state := p.State(account, now.Add(2*time.Minute))
	assert.True(t, state.Locked)
	assert.True(t, state.Until.Equal(now.Add(3*time.Minute)))
}

func TestLockoutPolicy_SuccessResetsFromAnyState(t *testing.T) {
	t.Parallel()

	p := NewLockoutPolicy(5, 3*time.Minute)
	until := t0.Add(time.Minute)
	for _, account := range []types.Account{
		{FailedAttempts: 0},
		{FailedAttempts: 3},
		{FailedAttempts: 5, LockedUntil: &until},
	} {
		got := p.Success().Apply(account)
		assert.Zero(t, got.FailedAttempts)
		assert.Nil(t, got.LockedUntil)
		assert.False(t, p.State(got, t0).Locked)
	}
}

func TestLockoutPolicy_LapsedLock(t *testing.T) {
	t.Parallel()

	p := NewLockoutPolicy(5, 3*time.Minute)
	until := t0.Add(3 * time.Minute)
	account := types.Account{FailedAttempts: 5, LockedUntil: &until}

	assert.True(t, p.State(account, until.Add(-time.Second)).Locked)
	assert.False(t, p.State(account, until).Locked)
	assert.False(t, p.State(account, until.Add(time.Second)).Locked)

	// The counter continues from its stored value, so one more failure
	// re-locks immediately.
	later := until.Add(time.Minute)
	update, locked := p.Failure(account, later)
	assert.True(t, locked)
	account = update.Apply(account)
	assert.Equal(t, 6, account.FailedAttempts)
	assert.True(t, account.LockedUntil.Equal(later.Add(3*time.Minute)))
}

func TestLockoutPolicy_ZeroLockedUntilIsOpen(t *testing.T) {
	t.Parallel()

	zero := types.Instant{}
	assert.False(t, NewLockoutPolicy(5, time.Minute).State(types.Account{LockedUntil: &zero}, t0).Locked)
}

func TestErrorCategories(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ErrWeakPassword, ErrValidation)
	assert.ErrorIs(t, ErrChallengeFailed, ErrValidation)
	assert.ErrorIs(t, ErrDuplicateIdentity, ErrValidation)
	assert.ErrorIs(t, ErrInvalidCredentials, ErrAuthentication)
	assert.ErrorIs(t, ErrAccountLocked, ErrAuthentication)
	assert.ErrorIs(t, ErrTooManyAttempts, ErrAuthentication)
	assert.ErrorIs(t, ErrTooManyAttempts, ErrAccountLocked)
	assert.NotErrorIs(t, ErrAccountLocked, ErrTooManyAttempts)
	assert.ErrorIs(t, ErrTokenExpired, ErrToken)
	assert.ErrorIs(t, ErrForbidden, ErrAuthorization)
	assert.NotErrorIs(t, ErrInvalidCredentials, ErrValidation)
}
