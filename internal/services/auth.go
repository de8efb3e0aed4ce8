package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/authgate/apiserver/internal/auth"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/store"
	"github.com/authgate/apiserver/types"
)

// RegisterInput is a registration attempt. ChallengeAnswer is what the user
// typed; ChallengeExpected is the value issued with the form.
type RegisterInput struct {
	Username          string
	Email             string
	Password          string
	ChallengeAnswer   string
	ChallengeExpected string
}

// LoginInput is a login attempt.
type LoginInput struct {
	Email             string
	Password          string
	ChallengeAnswer   string
	ChallengeExpected string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Account types.Account
	Token   auth.Token
}

// AdminSeed describes the default administrator created on first start.
type AdminSeed struct {
	Email    string
	Username string
	Password string
}

// AuthDeps are the collaborators of AuthService. Events, Log and Clock are
// optional.
type AuthDeps struct {
	Accounts AccountRepository
	Hasher   auth.Hasher
	Tokens   *auth.TokenService
	Lockout  auth.LockoutPolicy
	Events   EventPublisher
	Log      logging.Logger
	Clock    auth.Clock
}

// AuthService runs registration and login against the credential store.
type AuthService struct {
	accounts AccountRepository
	hasher   auth.Hasher
	tokens   *auth.TokenService
	lockout  auth.LockoutPolicy
	events   EventPublisher
	log      logging.Logger
	clock    auth.Clock
}

func NewAuthService(deps AuthDeps) (*AuthService, error) {
	if deps.Accounts == nil {
		return nil, errors.New("account repository is required")
	}
	if deps.Hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("token service is required")
	}

	s := &AuthService{
		accounts: deps.Accounts,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		lockout:  auth.NewLockoutPolicy(deps.Lockout.Threshold, deps.Lockout.Duration),
		events:   deps.Events,
		log:      deps.Log,
		clock:    deps.Clock,
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.log == nil {
		s.log = logging.Nop{}
	}
	if s.clock == nil {
		s.clock = types.Now
	}
	return s, nil
}

// Register creates a user account after the challenge, password policy and
// identity uniqueness checks pass.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.Account, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = store.NormalizeIdentity(in.Email)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return types.Account{}, auth.ErrMissingFields
	}

	if !auth.VerifyChallenge(in.ChallengeAnswer, in.ChallengeExpected) {
		return types.Account{}, auth.ErrChallengeFailed
	}
	if !auth.ValidatePassword(in.Password) {
		return types.Account{}, auth.ErrWeakPassword
	}

	if _, err := s.accounts.FindByIdentity(ctx, in.Email); err == nil {
		return types.Account{}, auth.ErrDuplicateIdentity
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Account{}, fmt.Errorf("check identity: %w", err)
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.Account{}, err
	}

	account, err := s.accounts.Insert(ctx, types.Account{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hashed,
		Role:         types.RoleUser,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.Account{}, auth.ErrDuplicateIdentity
		}
		return types.Account{}, fmt.Errorf("insert account: %w", err)
	}

	s.log.Info(ctx, "account registered", "user_id", account.ID)
	s.events.Publish(ctx, Event{Type: EventAccountRegistered, AccountID: account.ID, Email: account.Email, At: s.clock()})
	return account, nil
}

// Login authenticates a user and issues a session token.
//
// A locked account is rejected before the password is checked, and the
// rejection is not counted. An unknown email and a wrong password both
// return auth.ErrInvalidCredentials. The failure that reaches the lockout
// threshold returns auth.ErrTooManyAttempts.
//
// The lock check and the counter update are separate store round-trips, so
// concurrent attempts on one account may each read the same count.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	if !auth.VerifyChallenge(in.ChallengeAnswer, in.ChallengeExpected) {
		return LoginResult{}, auth.ErrChallengeFailed
	}

	account, err := s.accounts.FindByIdentity(ctx, store.NormalizeIdentity(in.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, auth.ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("find account: %w", err)
	}

	now := s.clock()
	log := s.log.With("user_id", account.ID)

	if state := s.lockout.State(account, now); state.Locked {
		log.Warn(ctx, "login rejected, account locked", "locked_until", state.Until.String())
		s.events.Publish(ctx, Event{Type: EventLoginWhileLocked, AccountID: account.ID, Email: account.Email, LockedUntil: &state.Until, At: now})
		return LoginResult{}, auth.ErrAccountLocked
	}

	if !s.hasher.Verify(in.Password, account.PasswordHash) {
		return LoginResult{}, s.recordFailure(ctx, log, account, now)
	}

	update := s.lockout.Success()
	if err := s.accounts.UpdateFields(ctx, account.ID, update); err != nil {
		return LoginResult{}, fmt.Errorf("reset lockout: %w", err)
	}
	account = update.Apply(account)

	token, err := s.tokens.Issue(account.ID, account.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	log.Info(ctx, "login succeeded")
	s.events.Publish(ctx, Event{Type: EventLoginSucceeded, AccountID: account.ID, Email: account.Email, At: now})
	return LoginResult{Account: account, Token: token}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, log logging.Logger, account types.Account, now types.Instant) error {
	update, locked := s.lockout.Failure(account, now)
	if err := s.accounts.UpdateFields(ctx, account.ID, update); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	account = update.Apply(account)

	if locked {
		log.Warn(ctx, "account locked", "failed_attempts", account.FailedAttempts, "locked_until", account.LockedUntil.String())
		s.events.Publish(ctx, Event{
			Type:           EventAccountLocked,
			AccountID:      account.ID,
			Email:          account.Email,
			FailedAttempts: account.FailedAttempts,
			LockedUntil:    account.LockedUntil,
			At:             now,
		})
		return auth.ErrTooManyAttempts
	}

	log.Info(ctx, "login failed", "failed_attempts", account.FailedAttempts)
	s.events.Publish(ctx, Event{Type: EventLoginFailed, AccountID: account.ID, Email: account.Email, FailedAttempts: account.FailedAttempts, At: now})
	return auth.ErrInvalidCredentials
}

// EnsureAdmin creates the default administrator unless the email is
// already registered. It reports whether an account was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	email := store.NormalizeIdentity(seed.Email)
	if email == "" || seed.Password == "" {
		return false, auth.ErrMissingFields
	}

	if _, err := s.accounts.FindByIdentity(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("check admin: %w", err)
	}

	if !auth.ValidatePassword(seed.Password) {
		s.log.Warn(ctx, "default admin password does not meet the password policy")
	}

	hashed, err := s.hasher.Hash(seed.Password)
	if err != nil {
		return false, err
	}

	username := strings.TrimSpace(seed.Username)
	if username == "" {
		username = "admin"
	}
	account, err := s.accounts.Insert(ctx, types.Account{
		Email:        email,
		Username:     username,
		PasswordHash: hashed,
		Role:         types.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("insert admin: %w", err)
	}

	s.log.Info(ctx, "default admin created", "user_id", account.ID)
	return true, nil
}
