package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/authgate/apiserver/internal/auth"
	"github.com/authgate/apiserver/internal/mq"
	"github.com/authgate/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongPassword = "Str0ng!Pwd"

func TestRegister_PasswordPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{
		Username: "weak", Email: "weak@example.com", Password: "Weak1",
		ChallengeAnswer: "5", ChallengeExpected: "5",
	})
	require.ErrorIs(t, err, auth.ErrWeakPassword)
	require.ErrorIs(t, err, auth.ErrValidation)
	assert.Equal(t, []auth.PasswordRule{auth.RuleMinLength, auth.RuleSymbol}, auth.PasswordViolations("Weak1"))
	assert.Zero(t, f.accounts.inserted)

	account, err := f.svc.Register(ctx, RegisterInput{
		Username: "strong", Email: "Strong@Example.com", Password: strongPassword,
		ChallengeAnswer: "5", ChallengeExpected: "5",
	})
	require.NoError(t, err)
	assert.Equal(t, "strong@example.com", account.Email)
	assert.Equal(t, types.RoleUser, account.Role)
	assert.Zero(t, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)
	assert.NotEqual(t, strongPassword, account.PasswordHash)
	assert.Equal(t, []string{EventAccountRegistered}, f.events.types())
}

func TestRegister_ChallengeAndDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{
		Username: "u", Email: "u@example.com", Password: strongPassword,
		ChallengeAnswer: "9", ChallengeExpected: "8",
	})
	require.ErrorIs(t, err, auth.ErrChallengeFailed)

	_, err = f.svc.Register(ctx, RegisterInput{Email: "u@example.com", Password: strongPassword})
	require.ErrorIs(t, err, auth.ErrMissingFields)

	f.register(t, "u@example.com", strongPassword)

	_, err = f.svc.Register(ctx, RegisterInput{
		Username: "u2", Email: "U@example.com ", Password: strongPassword,
		ChallengeAnswer: "1", ChallengeExpected: "1",
	})
	require.ErrorIs(t, err, auth.ErrDuplicateIdentity)
	assert.Equal(t, 1, f.accounts.inserted)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	account := f.register(t, "ann@example.com", strongPassword)

	result, err := f.login("ANN@example.com", strongPassword)
	require.NoError(t, err)
	assert.Equal(t, account.ID, result.Account.ID)

	claims, err := f.tokens.Verify(result.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.UserID)
	assert.Equal(t, types.RoleUser, claims.Role)
	assert.True(t, claims.ExpiresAtInstant().Equal(f.clock.Now().Add(time.Hour)))
}

func TestLogin_UnknownIdentityLooksLikeWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ann@example.com", strongPassword)

	_, errUnknown := f.login("nobody@example.com", strongPassword)
	_, errWrong := f.login("ann@example.com", "Wr0ng!Pass")

	require.ErrorIs(t, errUnknown, auth.ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, auth.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLogin_ChallengeCheckedFirst(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ann@example.com", strongPassword)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Email: "ann@example.com", Password: strongPassword,
		ChallengeAnswer: "3", ChallengeExpected: "4",
	})
	require.ErrorIs(t, err, auth.ErrChallengeFailed)
	assert.Zero(t, f.hasher.count())
	assert.Zero(t, f.accounts.get(t, "ann@example.com").FailedAttempts)
}

func TestLogin_LockoutScenario(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.com", strongPassword)

	for i := 1; i <= 4; i++ {
		_, err := f.login("bob@example.com", "Wr0ng!Pass")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials, "attempt %d", i)
		assert.Equal(t, i, f.accounts.get(t, "bob@example.com").FailedAttempts)
	}

	_, err := f.login("bob@example.com", "Wr0ng!Pass")
	require.ErrorIs(t, err, auth.ErrTooManyAttempts)
	require.ErrorIs(t, err, auth.ErrAccountLocked)
	locked := f.accounts.get(t, "bob@example.com")
	assert.Equal(t, 5, locked.FailedAttempts)
	require.NotNil(t, locked.LockedUntil)
	assert.True(t, locked.LockedUntil.Equal(f.clock.Now().Add(3*time.Minute)))

	verifies := f.hasher.count()
	_, err = f.login("bob@example.com", "Wr0ng!Pass")
	require.ErrorIs(t, err, auth.ErrAccountLocked)
	assert.NotErrorIs(t, err, auth.ErrTooManyAttempts)
	assert.Equal(t, verifies, f.hasher.count(), "hasher must not run while locked")

	assert.Equal(t, []string{
		EventAccountRegistered,
		EventLoginFailed, EventLoginFailed, EventLoginFailed, EventLoginFailed,
		EventAccountLocked,
		EventLoginWhileLocked,
	}, f.events.types())
}

func TestLogin_CorrectPasswordWhileLocked(t *testing.T) {
	f := newFixture(t)
	f.register(t, "cat@example.com", strongPassword)
	for i := 0; i < 5; i++ {
		_, _ = f.login("cat@example.com", "Wr0ng!Pass")
	}
	updates := len(f.accounts.updates)

	f.clock.Advance(2 * time.Minute)
	_, err := f.login("cat@example.com", strongPassword)
	require.ErrorIs(t, err, auth.ErrAccountLocked)

	account := f.accounts.get(t, "cat@example.com")
	assert.Equal(t, 5, account.FailedAttempts)
	assert.NotNil(t, account.LockedUntil)
	assert.Len(t, f.accounts.updates, updates, "a rejected attempt writes nothing")
}

func TestLogin_AfterLockLapses(t *testing.T) {
	t.Run("success resets", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "dan@example.com", strongPassword)
		for i := 0; i < 5; i++ {
			_, _ = f.login("dan@example.com", "Wr0ng!Pass")
		}

		f.clock.Advance(3 * time.Minute)
		_, err := f.login("dan@example.com", strongPassword)
		require.NoError(t, err)

		account := f.accounts.get(t, "dan@example.com")
		assert.Zero(t, account.FailedAttempts)
		assert.Nil(t, account.LockedUntil)
	})

	t.Run("failure keeps counting", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "eve@example.com", strongPassword)
		for i := 0; i < 5; i++ {
			_, _ = f.login("eve@example.com", "Wr0ng!Pass")
		}

		f.clock.Advance(4 * time.Minute)
		_, err := f.login("eve@example.com", "Wr0ng!Pass")
		require.ErrorIs(t, err, auth.ErrTooManyAttempts)

		account := f.accounts.get(t, "eve@example.com")
		assert.Equal(t, 6, account.FailedAttempts)
		assert.True(t, account.LockedUntil.Equal(f.clock.Now().Add(3*time.Minute)))
	})
}

func TestLogin_SuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	f.register(t, "fay@example.com", strongPassword)

	for i := 0; i < 3; i++ {
		_, _ = f.login("fay@example.com", "Wr0ng!Pass")
	}
	require.Equal(t, 3, f.accounts.get(t, "fay@example.com").FailedAttempts)

	_, err := f.login("fay@example.com", strongPassword)
	require.NoError(t, err)
	assert.Zero(t, f.accounts.get(t, "fay@example.com").FailedAttempts)

	for i := 0; i < 4; i++ {
		_, err := f.login("fay@example.com", "Wr0ng!Pass")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}
}

func TestLogin_StoreErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")

	f := newFixture(t)
	f.register(t, "gus@example.com", strongPassword)
	f.accounts.findErr = boom
	_, err := f.login("gus@example.com", strongPassword)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, auth.ErrAuthentication)

	f = newFixture(t)
	f.register(t, "gus@example.com", strongPassword)
	f.accounts.updErr = boom
	_, err = f.login("gus@example.com", "Wr0ng!Pass")
	require.ErrorIs(t, err, boom)
	_, err = f.login("gus@example.com", strongPassword)
	require.ErrorIs(t, err, boom)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := AdminSeed{Email: "admin@example.com", Username: "admin", Password: "Admin@123"}

	created, err := f.svc.EnsureAdmin(ctx, seed)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.svc.EnsureAdmin(ctx, seed)
	require.NoError(t, err)
	assert.False(t, created)

	admin := f.accounts.get(t, "admin@example.com")
	assert.Equal(t, types.RoleAdmin, admin.Role)

	result, err := f.login("admin@example.com", "Admin@123")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, result.Token.Claims.Role)

	_, err = f.svc.EnsureAdmin(ctx, AdminSeed{})
	require.ErrorIs(t, err, auth.ErrMissingFields)
}

func TestNewAuthService_RequiresDeps(t *testing.T) {
	_, err := NewAuthService(AuthDeps{})
	require.Error(t, err)
}

func TestMQEventPublisher(t *testing.T) {
	backend := &fakeBackend{}
	pub := NewMQEventPublisher(mq.New(backend), "", nil)

	until := types.At(time.Date(2026, 4, 1, 8, 3, 0, 0, time.UTC))
	pub.Publish(context.Background(), Event{
		Type:           EventAccountLocked,
		AccountID:      "id-1",
		Email:          "bob@example.com",
		FailedAttempts: 5,
		LockedUntil:    &until,
		At:             until.Add(-3 * time.Minute),
	})
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	require.Len(t, backend.published, 1)
	assert.Equal(t, DefaultEventsChannel, backend.channels[0])
	assert.Equal(t, EventAccountLocked, backend.published[0].Attributes["type"])

	event, err := DecodeEvent(backend.published[0])
	require.NoError(t, err)
	assert.Equal(t, "id-1", event.AccountID)
	assert.Equal(t, 5, event.FailedAttempts)
	require.NotNil(t, event.LockedUntil)
	assert.True(t, event.LockedUntil.Equal(until))

	// Publishing after Close is dropped.
	pub.Publish(context.Background(), Event{Type: EventLoginFailed})
	assert.Len(t, backend.published, 1)
}

func TestMQEventPublisher_BrokerDown(t *testing.T) {
	backend := &fakeBackend{err: errors.New("broker down")}
	pub := NewMQEventPublisher(mq.New(backend), "", nil)

	pub.Publish(context.Background(), Event{Type: EventLoginFailed})
	require.NoError(t, pub.Close())
	assert.Empty(t, backend.published)
}

func TestMQEventPublisher_DropsWhenBufferFull(t *testing.T) {
	backend := newSlowBackend()
	pub := newMQEventPublisher(mq.New(backend), "", nil, 1)

	for range 10 {
		pub.Publish(context.Background(), Event{Type: EventLoginFailed})
	}
	close(backend.release)
	require.NoError(t, pub.Close())

	// One event in flight plus at most one buffered.
	assert.LessOrEqual(t, backend.count(), 2)
	assert.GreaterOrEqual(t, backend.count(), 1)
}

func TestLogin_DoesNotWaitForEventBroker(t *testing.T) {
	backend := newSlowBackend()
	pub := NewMQEventPublisher(mq.New(backend), "", nil)
	t.Cleanup(func() {
		close(backend.release)
		_ = pub.Close()
	})

	f := newFixture(t)
	f.svc.events = pub
	f.register(t, "slow@example.com", "Secret@123")

	for range 3 {
		start := time.Now()
		_, err := f.login("slow@example.com", "Wrong@1234")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	}

	start := time.Now()
	_, err := f.login("slow@example.com", "Secret@123")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Eventually(t, func() bool { return backend.count() >= 1 }, time.Second, 10*time.Millisecond)
}
