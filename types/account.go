package types

// Account is a registered user as persisted by the credential store.
type Account struct {
	// ID is the opaque, store-assigned identifier. It becomes the token subject.
	ID string `json:"id"`

	// Email is the unique login identity. It is stored lower-cased and
	// never changes after registration.
	Email string `json:"email"`

	// Username is the display name.
	Username string `json:"username"`

	// PasswordHash is the bcrypt digest. It is never exposed in responses.
	PasswordHash string `json:"-"`

	Role Role `json:"role"`

	// FailedAttempts counts consecutive failed logins since the last success.
	FailedAttempts int `json:"failed_attempts"`

	// LockedUntil is set when the account is locked. A value in the past
	// means the lock has lapsed.
	LockedUntil *Instant `json:"locked_until,omitempty"`

	CreatedAt Instant `json:"created_at"`
	UpdatedAt Instant `json:"updated_at"`
}

// AccountUpdate lists the lockout fields a login attempt writes back.
// Nil fields are left untouched.
type AccountUpdate struct {
	FailedAttempts *int
	LockedUntil    *Instant

	// ClearLock removes LockedUntil. It wins over LockedUntil.
	ClearLock bool
}

// Empty reports whether the update would write nothing.
func (u AccountUpdate) Empty() bool {
	return u.FailedAttempts == nil && u.LockedUntil == nil && !u.ClearLock
}

// Apply returns a copy of a with the update applied.
func (u AccountUpdate) Apply(a Account) Account {
	if u.FailedAttempts != nil {
		a.FailedAttempts = *u.FailedAttempts
	}
	if u.ClearLock {
		a.LockedUntil = nil
	} else if u.LockedUntil != nil {
		until := *u.LockedUntil
		a.LockedUntil = &until
	}
	return a
}
