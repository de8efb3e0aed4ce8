package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/authgate/apiserver/internal/auth"
	"github.com/authgate/apiserver/internal/mq"
	"github.com/authgate/apiserver/internal/store"
	"github.com/authgate/apiserver/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeAccounts struct {
	mu       sync.Mutex
	byID     map[string]types.Account
	updates  []types.AccountUpdate
	findErr  error
	updErr   error
	inserted int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byID: map[string]types.Account{}}
}

func (f *fakeAccounts) FindByIdentity(_ context.Context, email string) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return types.Account{}, f.findErr
	}
	for _, a := range f.byID {
		if a.Email == email {
			return a, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (f *fakeAccounts) FindByID(_ context.Context, id string) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccounts) Insert(_ context.Context, a types.Account) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == a.Email {
			return types.Account{}, store.ErrDuplicate
		}
	}
	a.ID = uuid.NewString()
	a.CreatedAt = types.Now()
	a.UpdatedAt = a.CreatedAt
	f.byID[a.ID] = a
	f.inserted++
	return a, nil
}

func (f *fakeAccounts) UpdateFields(_ context.Context, id string, u types.AccountUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updErr != nil {
		return f.updErr
	}
	a, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	f.byID[id] = u.Apply(a)
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeAccounts) List(context.Context) ([]types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Account, 0, len(f.byID))
	for _, a := range f.byID {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccounts) get(t *testing.T, email string) types.Account {
	t.Helper()
	a, err := f.FindByIdentity(context.Background(), email)
	require.NoError(t, err)
	return a
}

// countingHasher records how often Verify runs.
type countingHasher struct {
	auth.Hasher
	mu       sync.Mutex
	verifies int
}

func (h *countingHasher) Verify(plaintext, digest string) bool {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.Hasher.Verify(plaintext, digest)
}

func (h *countingHasher) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifies
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// testClock is a movable clock.
type testClock struct {
	mu  sync.Mutex
	now types.Instant
}

func (c *testClock) Now() types.Instant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *AuthService
	accounts *fakeAccounts
	hasher   *countingHasher
	events   *recordingPublisher
	clock    *testClock
	tokens   *auth.TokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: types.At(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))}
	tokens, err := auth.NewTokenService([]byte("test-secret"), time.Hour, clock.Now)
	require.NoError(t, err)

	f := &fixture{
		accounts: newFakeAccounts(),
		hasher:   &countingHasher{Hasher: auth.NewBcryptHasher(bcrypt.MinCost)},
		events:   &recordingPublisher{},
		clock:    clock,
		tokens:   tokens,
	}
	f.svc, err = NewAuthService(AuthDeps{
		Accounts: f.accounts,
		Hasher:   f.hasher,
		Tokens:   tokens,
		Lockout:  auth.NewLockoutPolicy(5, 3*time.Minute),
		Events:   f.events,
		Clock:    clock.Now,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) register(t *testing.T, email, password string) types.Account {
	t.Helper()
	account, err := f.svc.Register(context.Background(), RegisterInput{
		Username:          "someone",
		Email:             email,
		Password:          password,
		ChallengeAnswer:   "7",
		ChallengeExpected: "7",
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) login(email, password string) (LoginResult, error) {
	return f.svc.Login(context.Background(), LoginInput{
		Email:             email,
		Password:          password,
		ChallengeAnswer:   "4",
		ChallengeExpected: "4",
	})
}

// fakeBackend is an in-process mq.Backend.
type fakeBackend struct {
	mu        sync.Mutex
	published []mq.Message
	channels  []string
	err       error
}

func (b *fakeBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.channels = append(b.channels, channel)
	b.published = append(b.published, mq.Message{ID: uuid.NewString(), Data: data, Attributes: attrs})
	return b.published[len(b.published)-1].ID, nil
}

func (b *fakeBackend) Subscribe(context.Context, string, mq.Handler) error {
	return errors.New("not supported")
}

func (b *fakeBackend) Close() error { return nil }

// slowBackend blocks every Publish until release is closed or ctx ends.
type slowBackend struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func newSlowBackend() *slowBackend {
	return &slowBackend{release: make(chan struct{})}
}

func (b *slowBackend) Publish(ctx context.Context, _ string, _ []byte, _ map[string]string) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	select {
	case <-b.release:
		return uuid.NewString(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *slowBackend) Subscribe(context.Context, string, mq.Handler) error {
	return errors.New("not supported")
}

func (b *slowBackend) Close() error { return nil }

func (b *slowBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
