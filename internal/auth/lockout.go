package auth

import (
	"time"

	"github.com/authgate/apiserver/types"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 3 * time.Minute
)

// LockState is the lockout state of an account at a given instant.
type LockState struct {
	Locked bool
	Until  types.Instant
}

// LockoutPolicy decides lock transitions from an account's stored counters.
// It never touches storage; callers persist the returned updates.
//
// The failure counter is not reset when a lock lapses on its own. It keeps
// accumulating until the next successful login, so the first failure after
// a lapsed lock locks the account again.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// NewLockoutPolicy applies the defaults to non-positive values.
func NewLockoutPolicy(threshold int, duration time.Duration) LockoutPolicy {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return LockoutPolicy{Threshold: threshold, Duration: duration}
}

// State reports whether account is locked at now.
func (p LockoutPolicy) State(account types.Account, now types.Instant) LockState {
	if account.LockedUntil == nil || account.LockedUntil.IsZero() {
		return LockState{}
	}
	until := *account.LockedUntil
	if now.Before(until) {
		return LockState{Locked: true, Until: until}
	}
	return LockState{}
}

// Failure returns the update for a failed password check and whether it
// engages the lock.
func (p LockoutPolicy) Failure(account types.Account, now types.Instant) (types.AccountUpdate, bool) {
	attempts := account.FailedAttempts + 1
	update := types.AccountUpdate{FailedAttempts: &attempts}
	if attempts >= p.Threshold {
		until := now.Add(p.Duration)
		update.LockedUntil = &until
		return update, true
	}
	update.ClearLock = true
	return update, false
}

// Success returns the update for a successful login.
func (p LockoutPolicy) Success() types.AccountUpdate {
	zero := 0
	return types.AccountUpdate{FailedAttempts: &zero, ClearLock: true}
}
